// Package registration drives an admitted product through its on-chain and
// exchange lifecycle: register, list, reveal.
package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
	"github.com/Checker-Finance/afp-onboarding/internal/balance"
	"github.com/Checker-Finance/afp-onboarding/internal/chain"
	"github.com/Checker-Finance/afp-onboarding/internal/metrics"
	"github.com/Checker-Finance/afp-onboarding/internal/spec"
)

// ProductReader reports the registry's product type; zero means unregistered.
type ProductReader interface {
	ProductType(ctx context.Context, id spec.ProductID) (uint8, error)
}

// DecimalsReader reads ERC20 decimals of a collateral asset.
type DecimalsReader interface {
	TokenDecimals(ctx context.Context, asset common.Address) (uint8, error)
}

// Pinner stores a JSON document in the metadata store and returns its
// content identifier.
type Pinner interface {
	PinJSON(ctx context.Context, name string, v any) (string, error)
}

// Submitter sends a registration transaction and waits for its receipt.
type Submitter interface {
	SubmitRegistration(ctx context.Context, id spec.ProductID, product *spec.OnChainProduct, stake string) (*chain.Receipt, error)
}

// ProductAdmin lists and reveals products on the exchange.
type ProductAdmin interface {
	ListProduct(ctx context.Context, id spec.ProductID) error
	RevealProduct(ctx context.Context, id spec.ProductID) error
}

// Notifier is told about every transition. Notification failures are logged
// and never change the outcome.
type Notifier interface {
	NotifyTransition(ctx context.Context, t Transition) error
}

// Deps are the collaborators of an Orchestrator. Register needs Products,
// Decimals, Pinner and Submitter; List and Reveal need Admin.
type Deps struct {
	Products  ProductReader
	Decimals  DecimalsReader
	Pinner    Pinner
	Submitter Submitter
	Admin     ProductAdmin
	Notifier  Notifier
}

// Orchestrator runs lifecycle transitions. Writes for one product are
// serialized across all steps. Concurrent calls for the same step and product
// share one in-flight write, executed with the context of the first caller.
// Nothing is retried.
type Orchestrator struct {
	deps   Deps
	flight singleflight.Group
	locks  productLocks
	logger *zap.Logger
}

// New creates an Orchestrator.
func New(deps Deps, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, logger: logger}
}

// Register records an admitted product on-chain.
func (o *Orchestrator) Register(ctx context.Context, res *admission.Result) Transition {
	return o.once(ctx, StepRegister, res.ProductID, func() Transition {
		return o.register(ctx, res)
	})
}

// List lists a registered product on the exchange.
func (o *Orchestrator) List(ctx context.Context, id spec.ProductID) Transition {
	return o.once(ctx, StepList, id, func() Transition {
		return o.admin(ctx, StepList, id)
	})
}

// Reveal makes a listed product visible on the exchange.
func (o *Orchestrator) Reveal(ctx context.Context, id spec.ProductID) Transition {
	return o.once(ctx, StepReveal, id, func() Transition {
		return o.admin(ctx, StepReveal, id)
	})
}

// ListAndReveal lists then reveals id. Reveal is not attempted when listing
// failed.
func (o *Orchestrator) ListAndReveal(ctx context.Context, id spec.ProductID) []Transition {
	list := o.List(ctx, id)
	if !list.Succeeded() {
		return []Transition{list}
	}
	return []Transition{list, o.Reveal(ctx, id)}
}

// Onboard registers, lists and reveals an admitted product, stopping at the
// first failed step.
func (o *Orchestrator) Onboard(ctx context.Context, res *admission.Result) []Transition {
	reg := o.Register(ctx, res)
	if !reg.Succeeded() {
		return []Transition{reg}
	}
	return append([]Transition{reg}, o.ListAndReveal(ctx, res.ProductID)...)
}

func (o *Orchestrator) once(ctx context.Context, step Step, id spec.ProductID, fn func() Transition) Transition {
	key := string(step) + ":" + id.Hex()
	v, _, shared := o.flight.Do(key, func() (any, error) {
		unlock, err := o.locks.acquire(ctx, id)
		if err != nil {
			t := failed(Transition{Step: step, ProductID: id}, stepFailureKind(step),
				fmt.Sprintf("Interrupted while waiting to %s product", step), err)
			o.record(ctx, t)
			return t, nil
		}
		defer unlock()

		t := fn()
		o.record(ctx, t)
		return t, nil
	})
	if shared {
		o.logger.Debug("registration.shared_inflight", zap.String("step", string(step)), zap.String("product_id", id.Hex()))
	}
	return v.(Transition)
}

func (o *Orchestrator) register(ctx context.Context, res *admission.Result) Transition {
	id := res.ProductID
	t := Transition{Step: StepRegister, ProductID: id}
	d := o.deps
	if d.Products == nil || d.Decimals == nil || d.Pinner == nil || d.Submitter == nil {
		return failed(t, admission.KindChainCallFailure, "Registration is not configured", errors.New("chain reader, decimals reader, pinner and submitter are required"))
	}
	s := res.Specification

	productType, err := d.Products.ProductType(ctx, id)
	if err != nil {
		return failed(t, admission.KindChainCallFailure, "Could not check whether the product is registered", err)
	}
	if productType > 0 {
		t.Outcome = AlreadyInState
		t.Reason = ReasonAlreadyRegistered
		return t
	}

	// --- Pin extended metadata ---
	cid, err := d.Pinner.PinJSON(ctx, id.Hex()+".json", s.Extended())
	if err != nil {
		return failed(t, admission.KindMetadataPinFailure, "Failed to pin metadata to IPFS", err)
	}
	t.CID = cid

	// --- Convert to on-chain form ---
	decimals, err := d.Decimals.TokenDecimals(ctx, s.CollateralAsset())
	if err != nil {
		return failed(t, admission.KindChainCallFailure, "Could not read collateral asset decimals", err)
	}
	stake, exact := balance.ToBaseUnits(res.Stake.Amount, int32(decimals))
	if !exact {
		o.logger.Warn("registration.stake_rounded",
			zap.String("product_id", id.Hex()),
			zap.String("stake", res.Stake.Amount.String()),
			zap.String("base_units", stake.String()),
			zap.Uint8("decimals", decimals))
	}

	pinned := *s
	pinned.Product.Base.ExtendedMetadata = cid
	product, err := pinned.OnChain(int32(decimals))
	if err != nil {
		return failed(t, admission.KindSchemaViolation, "Product cannot be represented on-chain", err)
	}

	// --- Submit ---
	receipt, err := d.Submitter.SubmitRegistration(ctx, id, product, stake.String())
	if receipt != nil {
		t.TxHash = receipt.TxHash
	}
	if err != nil {
		if alreadyInState(err, ReasonAlreadyRegistered, "already registered") {
			t.Outcome = AlreadyInState
			t.Reason = ReasonAlreadyRegistered
			return t
		}
		return failed(t, admission.KindChainCallFailure, "Product registration failed", err)
	}
	t.Outcome = Applied
	return t
}

func (o *Orchestrator) admin(ctx context.Context, step Step, id spec.ProductID) Transition {
	t := Transition{Step: step, ProductID: id}
	if o.deps.Admin == nil {
		return failed(t, admission.KindUpstreamFailure, "Exchange client is not configured", errors.New("exchange admin client is required"))
	}

	var (
		err    error
		code   string
		phrase string
	)
	switch step {
	case StepList:
		err = o.deps.Admin.ListProduct(ctx, id)
		code, phrase = ReasonAlreadyListed, "already listed"
	case StepReveal:
		err = o.deps.Admin.RevealProduct(ctx, id)
		code, phrase = ReasonAlreadyRevealed, "already revealed"
	default:
		return failed(t, admission.KindUpstreamFailure, "Unknown exchange step", fmt.Errorf("step %q", step))
	}

	switch {
	case err == nil:
		t.Outcome = Applied
	case alreadyInState(err, code, phrase):
		t.Outcome = AlreadyInState
		t.Reason = code
	default:
		return failed(t, admission.KindUpstreamFailure, fmt.Sprintf("Error %s product", gerund(step)), err)
	}
	return t
}

func (o *Orchestrator) record(ctx context.Context, t Transition) {
	metrics.IncTransition(string(t.Step), string(t.Outcome))

	fields := []zap.Field{
		zap.String("step", string(t.Step)),
		zap.String("product_id", t.ProductID.Hex()),
		zap.String("outcome", string(t.Outcome)),
	}
	if t.TxHash != "" {
		fields = append(fields, zap.String("tx_hash", t.TxHash))
	}
	if t.CID != "" {
		fields = append(fields, zap.String("cid", t.CID))
	}
	if t.Reason != "" {
		fields = append(fields, zap.String("reason", t.Reason))
	}
	switch t.Outcome {
	case Failed:
		o.logger.Warn("registration.transition_failed", append(fields, zap.Error(t.Err))...)
	case AlreadyInState:
		o.logger.Info("registration.already_in_state", fields...)
	default:
		o.logger.Info("registration.transition_applied", fields...)
	}

	if o.deps.Notifier != nil {
		if err := o.deps.Notifier.NotifyTransition(ctx, t); err != nil {
			o.logger.Warn("registration.notify_failed", append(fields, zap.Error(err))...)
		}
	}
}

func failed(t Transition, kind admission.Kind, msg string, err error) Transition {
	t.Outcome = Failed
	var rc ReasonCoder
	if errors.As(err, &rc) {
		t.Reason = rc.ReasonCode()
	}
	t.Err = &admission.Error{Kind: kind, Message: msg, Err: err}
	return t
}

func gerund(step Step) string {
	switch step {
	case StepList:
		return "listing"
	case StepReveal:
		return "revealing"
	}
	return "registering"
}

func stepFailureKind(step Step) admission.Kind {
	if step == StepRegister {
		return admission.KindChainCallFailure
	}
	return admission.KindUpstreamFailure
}

// productLocks hands out one lock per product id. Entries are dropped once
// nobody holds or waits for them.
type productLocks struct {
	mu    sync.Mutex
	locks map[spec.ProductID]*productLock
}

type productLock struct {
	sem  chan struct{}
	refs int
}

// acquire blocks until id is free or ctx is done.
func (l *productLocks) acquire(ctx context.Context, id spec.ProductID) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[spec.ProductID]*productLock)
	}
	pl, ok := l.locks[id]
	if !ok {
		pl = &productLock{sem: make(chan struct{}, 1)}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.sem <- struct{}{}:
		return func() {
			<-pl.sem
			l.release(id, pl)
		}, nil
	case <-ctx.Done():
		l.release(id, pl)
		return nil, ctx.Err()
	}
}

func (l *productLocks) release(id spec.ProductID, pl *productLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, id)
	}
}
