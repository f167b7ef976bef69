// Package eligibility checks that a product builder is a registered
// Forecastathon participant.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Config holds the participant registry connection settings. The check is
// only enabled when every field is set.
type Config struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// Complete reports whether all connection settings are present.
func (c Config) Complete() bool {
	return len(c.Missing()) == 0
}

// Missing lists the environment variable names of the absent settings.
func (c Config) Missing() []string {
	var missing []string
	for _, f := range []struct{ key, value string }{
		{"DB_HOST", c.Host},
		{"DB_PORT", c.Port},
		{"DB_NAME", c.Name},
		{"DB_USERNAME", c.User},
		{"DB_PWD", c.Password},
	} {
		if f.value == "" {
			missing = append(missing, f.key)
		}
	}
	return missing
}

// DSN returns the connection string. TLS is always required.
func (c Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=require",
	}
	return u.String()
}

// Status is the outcome of an eligibility check.
type Status int

const (
	StatusDisabled Status = iota
	StatusRegistered
	StatusNotRegistered
)

func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusNotRegistered:
		return "not_registered"
	default:
		return "disabled"
	}
}

// LookupError is returned when the registry could not be queried. It never
// means the builder is ineligible and the check may be retried.
type LookupError struct {
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("could not verify builder registration: %v", e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Registry answers whether a wallet address belongs to a participant.
type Registry interface {
	IsRegistered(ctx context.Context, wallet common.Address) (bool, error)
}

// Guard runs the eligibility check when the registry is configured.
type Guard struct {
	registry Registry
	logger   *zap.Logger
}

// NewGuard returns a guard backed by registry. A nil registry yields a
// disabled guard.
func NewGuard(registry Registry, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{registry: registry, logger: logger}
}

// Enabled reports whether Check consults a registry.
func (g *Guard) Enabled() bool {
	return g != nil && g.registry != nil
}

// Check reports the registration status of builder. Registry failures are
// returned as *LookupError.
func (g *Guard) Check(ctx context.Context, builder common.Address) (Status, error) {
	if !g.Enabled() {
		return StatusDisabled, nil
	}

	ok, err := g.registry.IsRegistered(ctx, builder)
	if err != nil {
		g.logger.Warn("eligibility.lookup_failed", zap.String("builder", builder.Hex()), zap.Error(err))
		var lookupErr *LookupError
		if errors.As(err, &lookupErr) {
			return StatusDisabled, err
		}
		return StatusDisabled, &LookupError{Err: err}
	}
	if !ok {
		g.logger.Info("eligibility.not_registered", zap.String("builder", builder.Hex()))
		return StatusNotRegistered, nil
	}
	return StatusRegistered, nil
}

// Querier is the subset of pgxpool.Pool used by PGRegistry.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRegistry looks participants up in forecastathon.users.
type PGRegistry struct {
	db Querier
}

func NewPGRegistry(db Querier) *PGRegistry {
	return &PGRegistry{db: db}
}

const registeredQuery = `SELECT 1 FROM forecastathon.users WHERE LOWER(wallet_address) = LOWER($1)`

// IsRegistered matches wallet case-insensitively.
func (r *PGRegistry) IsRegistered(ctx context.Context, wallet common.Address) (bool, error) {
	var one int
	err := r.db.QueryRow(ctx, registeredQuery, wallet.Hex()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &LookupError{Err: err}
	}
	return true, nil
}

// Open builds a guard from cfg. An incomplete config returns a disabled guard
// and a nil pool. The pool connects lazily, so a reachable database is not
// required until the first check.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Guard, *pgxpool.Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Complete() {
		logger.Info("eligibility.disabled", zap.Strings("missing", cfg.Missing()))
		return NewGuard(nil, logger), nil, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("eligibility: open participant registry: %w", err)
	}
	logger.Info("eligibility.enabled", zap.String("host", cfg.Host), zap.String("database", cfg.Name))
	return NewGuard(NewPGRegistry(pool), logger), pool, nil
}
