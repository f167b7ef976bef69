// Package secrets overlays credentials from a secrets manager onto the
// environment-derived configuration.
package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/afp-onboarding/pkg/config"
	pkgsecrets "github.com/Checker-Finance/afp-onboarding/pkg/secrets"
	"github.com/Checker-Finance/afp-onboarding/pkg/utils"
)

// Keys read from the secret. Matching is case-insensitive.
const (
	KeyDBPassword       = "DB_PWD"
	KeyIPFSAPIKey       = "IPFS_API_KEY"
	KeyExchangeAPIToken = "EXCHANGE_API_TOKEN"
)

// Resolver fetches the service secret. Configuration is read once per
// process, so every Resolve goes to the provider.
type Resolver struct {
	logger   *zap.Logger
	name     string
	provider pkgsecrets.Provider
}

// NewResolver creates a resolver for the secret called name.
func NewResolver(logger *zap.Logger, name string, provider pkgsecrets.Provider) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger, name: name, provider: provider}
}

// Resolve returns the secret with upper-cased keys.
func (r *Resolver) Resolve(ctx context.Context) (map[string]string, error) {
	raw, err := r.provider.GetSecret(ctx, r.name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed", zap.String("name", r.name), zap.Error(err))
		return nil, fmt.Errorf("resolve secret %q: %w", r.name, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return values, nil
}

// Apply overwrites the credentials in cfg with the values present in the
// secret. Keys missing from the secret leave cfg untouched.
func (r *Resolver) Apply(ctx context.Context, cfg *config.Config) error {
	values, err := r.Resolve(ctx)
	if err != nil {
		return err
	}

	targets := map[string]*string{
		KeyDBPassword:       &cfg.DBPassword,
		KeyIPFSAPIKey:       &cfg.IPFSAPIKey,
		KeyExchangeAPIToken: &cfg.ExchangeAPIToken,
	}
	var applied []string
	for key, dst := range targets {
		if v, ok := values[key]; ok && v != "" {
			*dst = v
			applied = append(applied, key)
			r.logger.Debug("secrets.applied", zap.String("key", key), zap.String("value", utils.MaskSecret(v)))
		}
	}

	r.logger.Info("secrets.overlay_applied", zap.String("name", r.name), zap.Int("count", len(applied)))
	return nil
}

// Overlay applies the secret named by cfg.AWSSecretName, when set, using AWS
// Secrets Manager in cfg.AWSRegion.
func Overlay(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.AWSSecretName == "" {
		return nil
	}
	provider, err := pkgsecrets.NewAWSProvider(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}
	r := NewResolver(logger, cfg.AWSSecretName, provider)
	return r.Apply(ctx, cfg)
}
