// Package admission decides whether a product specification may be onboarded
// onto the exchange. It combines schema validation with the environment,
// timing, stake coverage and builder eligibility rules into one decision.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/afp-onboarding/internal/balance"
	"github.com/Checker-Finance/afp-onboarding/internal/calendar"
	"github.com/Checker-Finance/afp-onboarding/internal/eligibility"
	"github.com/Checker-Finance/afp-onboarding/internal/environment"
	"github.com/Checker-Finance/afp-onboarding/internal/metrics"
	"github.com/Checker-Finance/afp-onboarding/internal/spec"
)

// RegistrationMarker identifies deployment contexts whose products are
// registered and listed, which enables the automatic stake coverage check.
const RegistrationMarker = "product-registration-and-listing"

// StakeCheck selects how a declared stake is compared with the builder's
// holdings.
type StakeCheck int

const (
	// StakeCheckAuto checks the wallet balance for registration contexts only.
	StakeCheckAuto StakeCheck = iota
	StakeCheckOff
	StakeCheckWallet
	StakeCheckMargin
)

// ProductSource fetches the specification document of a registered product.
// Unknown products are reported with an error wrapping spec.ErrProductNotFound.
type ProductSource interface {
	FetchSpecification(ctx context.Context, id spec.ProductID) ([]byte, error)
}

// RegistrationReader reports the registry's product type; zero means the
// product is not registered.
type RegistrationReader interface {
	ProductType(ctx context.Context, id spec.ProductID) (uint8, error)
}

// Result is an accepted specification.
type Result struct {
	Specification *spec.Specification
	Stake         spec.Stake
	ProductID     spec.ProductID
	// Environment is empty when the deployment context did not resolve.
	Environment environment.Environment
	Eligibility eligibility.Status
	Balance     *balance.Result
	// AlreadyRegistered is set when the document's product was found on-chain
	// and the lead time rule was therefore not applied.
	AlreadyRegistered bool
	Warnings          []string
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Guard is the admission decision point. It holds no per-call state and is
// safe for concurrent use.
type Guard struct {
	now         func() time.Time
	balance     *balance.Guard
	stakeCheck  StakeCheck
	eligibility *eligibility.Guard
	products    ProductSource
	registry    RegistrationReader
	logger      *zap.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the time source used by the lead time rule.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithBalance enables stake coverage checks.
func WithBalance(b *balance.Guard, mode StakeCheck) Option {
	return func(g *Guard) {
		g.balance = b
		g.stakeCheck = mode
	}
}

func WithEligibility(e *eligibility.Guard) Option {
	return func(g *Guard) { g.eligibility = e }
}

func WithProductSource(src ProductSource) Option {
	return func(g *Guard) { g.products = src }
}

// WithRegistrationReader lets document validation recognise products that
// are already registered, so that re-running a registration after the lead
// time has passed resumes instead of failing the start time rule.
func WithRegistrationReader(r RegistrationReader) Option {
	return func(g *Guard) { g.registry = r }
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

func NewGuard(opts ...Option) *Guard {
	g := &Guard{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// ValidateDocument admits a raw specification document. deployContext is the
// location the document was submitted under (typically a repository path)
// and selects the environment rules.
func (g *Guard) ValidateDocument(ctx context.Context, raw []byte, deployContext string) (*Result, error) {
	stake, rest, err := spec.ExtractStake(raw)
	if err != nil {
		return nil, g.reject(malformed(err))
	}

	res := &Result{Stake: stake}
	if !stake.Declared {
		res.warn("%s not specified, defaulting to 0", spec.StakeField)
	}

	s, err := spec.Parse(rest)
	if err != nil {
		return nil, g.reject(schemaError(err, "Product specification validation failed", nil))
	}

	env, ok := environment.Resolve(deployContext)
	if !ok {
		res.warn("could not detect environment from deployment context %q", deployContext)
	}
	return g.admit(ctx, s, res, env, g.stakeMode(deployContext), true)
}

// ValidateSpecification admits an already parsed specification under env.
// An empty env skips the environment rules with a warning.
func (g *Guard) ValidateSpecification(ctx context.Context, s *spec.Specification, stake spec.Stake, env environment.Environment) (*Result, error) {
	res := &Result{Stake: stake}
	if env == "" {
		res.warn("environment not resolved, skipping oracle/collateral/startTime checks")
	}
	mode := g.stakeCheck
	if mode == StakeCheckAuto {
		mode = StakeCheckOff
	}
	return g.admit(ctx, s, res, env, mode, false)
}

// ValidateRegistered re-validates a registered product fetched back by id.
// envName selects the environment rules; an empty or unknown name skips them
// with a warning.
func (g *Guard) ValidateRegistered(ctx context.Context, productID, envName string) (*Result, error) {
	id, err := spec.ParseProductID(productID)
	if err != nil {
		e := newError(KindMalformedInput, "Invalid product_id format", err)
		e.Remediation = notFoundRemediation
		return nil, g.reject(e)
	}
	if g.products == nil {
		return nil, g.reject(newError(KindUpstreamFailure, "No product source configured", nil))
	}

	raw, err := g.products.FetchSpecification(ctx, id)
	if err != nil {
		if errors.Is(err, spec.ErrProductNotFound) {
			e := newError(KindNotFound, fmt.Sprintf("Product '%s' not found.", id.Hex()), err)
			e.Remediation = notFoundRemediation
			return nil, g.reject(e)
		}
		return nil, g.reject(newError(KindUpstreamFailure, "Failed to fetch product", err))
	}

	s, err := spec.Parse(raw)
	if err != nil {
		return nil, g.reject(schemaError(err, "Extended metadata schema validation failed.", invalidMetadataRemediation))
	}

	res := &Result{}
	env, ok := environment.Parse(envName)
	if !ok {
		env = ""
		res.warn("VALIDATE_ENVIRONMENT not set, skipping oracle/collateral/startTime checks")
	}

	admitted, err := g.admit(ctx, s, res, env, StakeCheckOff, false)
	if err != nil {
		return nil, err
	}
	if admitted.ProductID != id {
		admitted.warn("computed identifier %s differs from registered product id", admitted.ProductID.Hex())
		admitted.ProductID = id
	}
	return admitted, nil
}

func (g *Guard) stakeMode(deployContext string) StakeCheck {
	if g.stakeCheck != StakeCheckAuto {
		return g.stakeCheck
	}
	if strings.Contains(deployContext, RegistrationMarker) {
		return StakeCheckWallet
	}
	return StakeCheckOff
}

// admit runs the environment, timing, stake and eligibility rules in order,
// stopping at the first rejection. resumable enables the registered-product
// exemption from the lead time rule.
func (g *Guard) admit(ctx context.Context, s *spec.Specification, res *Result, env environment.Environment, mode StakeCheck, resumable bool) (*Result, error) {
	res.Specification = s
	res.Environment = env

	if env != "" {
		rules := env.Rules()
		if err := checkAddresses(s, env, rules); err != nil {
			return nil, g.reject(err)
		}
		if rules.MinWorkingDaysBeforeStart > 0 && !(resumable && g.alreadyRegistered(ctx, s, res)) {
			if err := checkLeadTime(s, g.now().UTC(), rules.MinWorkingDaysBeforeStart); err != nil {
				return nil, g.reject(err)
			}
		}
	}

	if err := g.checkStake(ctx, s, res, mode); err != nil {
		return nil, g.reject(err)
	}

	if err := g.checkEligibility(ctx, s, res); err != nil {
		return nil, g.reject(err)
	}

	id, err := spec.Identifier(s)
	if err != nil {
		return nil, g.reject(newError(KindSchemaViolation, "Could not compute product id", err))
	}
	res.ProductID = id

	for _, w := range res.Warnings {
		g.logger.Warn("admission.warning", zap.String("symbol", s.Symbol()), zap.String("warning", w))
	}
	g.logger.Info("admission.accepted",
		zap.String("product_id", id.Hex()),
		zap.String("symbol", s.Symbol()),
		zap.String("builder", s.Builder().Hex()),
		zap.String("environment", env.String()),
	)
	metrics.IncAdmission("accepted", "")
	return res, nil
}

func checkAddresses(s *spec.Specification, env environment.Environment, rules environment.Rules) *Error {
	checks := []struct {
		field    string
		label    string
		actual   string
		expected string
		match    bool
	}{
		{
			field:    "product.base.oracleSpec.oracleAddress",
			label:    "oracle address",
			actual:   s.Product.Base.OracleSpec.OracleAddress,
			expected: rules.OracleAddress.Hex(),
			match:    strings.EqualFold(s.Product.Base.OracleSpec.OracleAddress, rules.OracleAddress.Hex()),
		},
		{
			field:    "product.base.collateralAsset",
			label:    "collateral asset",
			actual:   s.Product.Base.CollateralAsset,
			expected: rules.CollateralAsset.Hex(),
			match:    strings.EqualFold(s.Product.Base.CollateralAsset, rules.CollateralAsset.Hex()),
		},
	}
	for _, c := range checks {
		if c.match {
			continue
		}
		return &Error{
			Kind:     KindAddressMismatch,
			Message:  fmt.Sprintf("Incorrect %s for %s", c.label, env),
			Field:    c.field,
			Expected: c.expected,
			Actual:   c.actual,
		}
	}
	return nil
}

func checkLeadTime(s *spec.Specification, now time.Time, minDays int) *Error {
	start := s.StartTime()
	days := calendar.WorkingDaysBetween(now, start)
	if days >= minDays {
		return nil
	}
	return &Error{
		Kind:     KindTimingViolation,
		Message:  fmt.Sprintf("startTime must be at least %d full working days in the future", minDays),
		Field:    "product.base.startTime",
		Expected: fmt.Sprintf(">= %d working days", minDays),
		Actual:   fmt.Sprintf("%d working days", days),
		Details: []string{
			"Start time: " + start.Format(time.RFC3339),
			"Current time: " + now.Format(time.RFC3339),
			fmt.Sprintf("Working days until start: %d (need at least %d)", days, minDays),
		},
		Remediation: []string{RemediationWorkingDays},
	}
}

// alreadyRegistered reports whether s is registered on-chain. Lookup failures
// are logged and count as not registered, so the lead time rule still runs.
func (g *Guard) alreadyRegistered(ctx context.Context, s *spec.Specification, res *Result) bool {
	if g.registry == nil {
		return false
	}
	id, err := spec.Identifier(s)
	if err != nil {
		return false
	}
	productType, err := g.registry.ProductType(ctx, id)
	if err != nil {
		g.logger.Warn("admission.registration_lookup_failed", zap.String("product_id", id.Hex()), zap.Error(err))
		return false
	}
	if productType == 0 {
		return false
	}
	res.AlreadyRegistered = true
	res.warn("product %s is already registered, start time lead check not applied", id.Hex())
	return true
}

func (g *Guard) checkStake(ctx context.Context, s *spec.Specification, res *Result, mode StakeCheck) *Error {
	if mode == StakeCheckOff || mode == StakeCheckAuto {
		return nil
	}
	if g.balance == nil {
		if res.Stake.Amount.IsPositive() {
			res.warn("stake coverage check skipped: no chain reader configured")
		}
		return nil
	}

	// A zero stake is always covered; the balance is still read and reported.

	var (
		bal    balance.Result
		err    error
		source = "wallet balance"
	)
	switch mode {
	case StakeCheckMargin:
		source = "margin account capital"
		bal, err = g.balance.CheckMarginCapital(ctx, s.CollateralAsset(), s.Builder(), res.Stake.Amount)
	default:
		bal, err = g.balance.CheckTokenBalance(ctx, s.CollateralAsset(), s.Builder(), res.Stake.Amount)
	}
	if err != nil {
		return newError(KindChainCallFailure, "Could not check collateral "+source, err)
	}
	res.Balance = &bal
	if bal.Sufficient {
		return nil
	}
	return &Error{
		Kind:     KindInsufficientCollateral,
		Message:  fmt.Sprintf("Builder %s has insufficient %s to cover %s", s.Builder().Hex(), source, spec.StakeField),
		Field:    spec.StakeField,
		Expected: res.Stake.Amount.String(),
		Actual:   bal.Actual.String(),
		Details:  []string{"Collateral asset: " + s.CollateralAsset().Hex()},
	}
}

func (g *Guard) checkEligibility(ctx context.Context, s *spec.Specification, res *Result) *Error {
	builder := s.Builder()
	status, err := g.eligibility.Check(ctx, builder)
	if err != nil {
		return newError(KindRegistryUnavailable, "Could not verify builder registration", err)
	}
	res.Eligibility = status

	switch status {
	case eligibility.StatusNotRegistered:
		return &Error{
			Kind:        KindIneligible,
			Message:     fmt.Sprintf("Builder %s is not a registered Forecastathon participant", builder.Hex()),
			Field:       "product.base.metadata.builder",
			Actual:      builder.Hex(),
			Remediation: []string{RemediationJoin},
		}
	case eligibility.StatusDisabled:
		res.warn("builder registration check skipped (DB_* env vars not set)")
	}
	return nil
}

func (g *Guard) reject(e *Error) error {
	g.logger.Warn("admission.rejected",
		zap.String("kind", string(e.Kind)),
		zap.String("message", e.Message),
		zap.String("field", e.Field),
		zap.Error(e.Err),
	)
	metrics.IncAdmission("rejected", string(e.Kind))
	return e
}

func malformed(err error) *Error {
	msg := "Invalid JSON format"
	if errors.Is(err, spec.ErrInvalidStake) {
		msg = "Invalid " + spec.StakeField + " value"
	}
	return newError(KindMalformedInput, msg, err)
}

func schemaError(err error, msg string, remediation []string) *Error {
	if errors.Is(err, spec.ErrMalformedJSON) {
		return malformed(err)
	}
	e := newError(KindSchemaViolation, msg, err)
	var verr *spec.ValidationError
	if errors.As(err, &verr) {
		for _, v := range verr.Violations {
			e.Details = append(e.Details, v.String())
		}
	}
	e.Remediation = remediation
	return e
}
