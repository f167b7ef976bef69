package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
	"github.com/Checker-Finance/afp-onboarding/internal/balance"
	"github.com/Checker-Finance/afp-onboarding/internal/chain"
	"github.com/Checker-Finance/afp-onboarding/internal/eligibility"
	"github.com/Checker-Finance/afp-onboarding/internal/exchange"
	"github.com/Checker-Finance/afp-onboarding/internal/ipfs"
	"github.com/Checker-Finance/afp-onboarding/internal/publisher"
	"github.com/Checker-Finance/afp-onboarding/internal/rate"
	"github.com/Checker-Finance/afp-onboarding/internal/registration"
	"github.com/Checker-Finance/afp-onboarding/internal/store"
	"github.com/Checker-Finance/afp-onboarding/pkg/config"
	"github.com/Checker-Finance/afp-onboarding/pkg/utils"
)

// services builds the adapters a command needs on first use and closes them
// in reverse order.
type services struct {
	cfg     *config.Config
	log     *zap.Logger
	rateMgr *rate.Manager

	chain    *chain.Client
	cache    *store.RedisCache
	exchange *exchange.Client
	nc       *nats.Conn
	pub      *publisher.Publisher
	pool     *pgxpool.Pool

	closers []func()
}

func newServices(cfg *config.Config, log *zap.Logger) *services {
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: 10,
		Burst:             20,
		Cooldown:          1 * time.Second,
	})
	rateMgr.Configure(rate.KeyRPC, rate.Config{
		RequestsPerSecond: cfg.RPCRequestsPerSecond,
		Burst:             cfg.RPCBurst,
	})
	return &services{cfg: cfg, log: log, rateMgr: rateMgr}
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// --- Chain reader ---

func (s *services) Chain(ctx context.Context) (*chain.Client, error) {
	if s.chain != nil {
		return s.chain, nil
	}
	if s.cfg.RPCURL == "" {
		return nil, fmt.Errorf("%w: [AUTONITY_RPC_URL]", config.ErrMissingEnv)
	}
	registry, err := optionalAddress("PRODUCT_REGISTRY_ADDRESS", s.cfg.ProductRegistryAddress)
	if err != nil {
		return nil, err
	}
	margin, err := optionalAddress("MARGIN_ACCOUNT_REGISTRY_ADDRESS", s.cfg.MarginAccountRegistryAddress)
	if err != nil {
		return nil, err
	}

	eth, err := chain.Dial(ctx, s.cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, eth.Close)

	var cache chain.DecimalsCache
	if rc := s.decimalsCache(); rc != nil {
		cache = rc
	}

	s.chain = chain.NewClient(eth, chain.Config{
		ProductRegistry:       registry,
		MarginAccountRegistry: margin,
		CallTimeout:           s.cfg.RPCTimeout,
	}, s.rateMgr, cache, s.log)
	s.log.Info("chain.connected", zap.String("rpc", utils.MaskDSN(s.cfg.RPCURL)), zap.String("network", s.cfg.Network))
	return s.chain, nil
}

// decimalsCache connects the Redis decimals cache. An unreachable Redis
// leaves the chain reader uncached.
func (s *services) decimalsCache() *store.RedisCache {
	if s.cache != nil || s.cfg.RedisAddr == "" {
		return s.cache
	}
	rc, err := store.NewRedis(s.cfg.RedisAddr, s.cfg.RedisDB, s.cfg.RedisPass, s.cfg.Network, s.cfg.DecimalsCacheTTL, s.log)
	if err != nil {
		s.log.Warn("store.unavailable", zap.String("addr", s.cfg.RedisAddr), zap.Error(err))
		return nil
	}
	s.closers = append(s.closers, func() {
		if err := rc.Close(); err != nil {
			s.log.Warn("store.close_failed", zap.Error(err))
		}
	})
	s.cache = rc
	return rc
}

// --- Exchange ---

func (s *services) Exchange() (*exchange.Client, error) {
	if s.exchange != nil {
		return s.exchange, nil
	}
	if err := s.cfg.RequireExchange(); err != nil {
		return nil, err
	}
	s.exchange = exchange.NewClient(s.cfg.ExchangeURL, s.cfg.ExchangeAPIToken, s.cfg.HTTPRetryMax, s.log, s.rateMgr)
	return s.exchange, nil
}

// --- NATS ---

func (s *services) NATS() (*nats.Conn, error) {
	if s.nc != nil {
		return s.nc, nil
	}
	if s.cfg.NATSURL == "" {
		return nil, fmt.Errorf("%w: [NATS_URL]", config.ErrMissingEnv)
	}
	nc, err := nats.Connect(s.cfg.NATSURL, nats.Name(s.cfg.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	s.closers = append(s.closers, func() {
		if err := nc.Drain(); err != nil {
			s.log.Warn("nats.drain_failed", zap.Error(err))
		}
	})
	s.nc = nc
	return nc, nil
}

// Publisher returns the transition event publisher, or nil when NATS or
// JetStream is unavailable. Events are best effort.
func (s *services) Publisher() *publisher.Publisher {
	if s.pub != nil {
		return s.pub
	}
	nc, err := s.NATS()
	if err != nil {
		s.log.Warn("publisher.disabled", zap.Error(err))
		return nil
	}
	pub, err := publisher.New(nc, s.cfg.EventsSubject, s.cfg.ServiceName, s.log)
	if err != nil {
		s.log.Warn("publisher.disabled", zap.Error(err))
		return nil
	}
	if js, err := nc.JetStream(); err == nil {
		if err := publisher.EnsureStream(js, s.cfg.EventsStream, s.cfg.EventsSubject, s.log); err != nil {
			s.log.Warn("publisher.stream_unavailable", zap.String("stream", s.cfg.EventsStream), zap.Error(err))
		}
	}
	s.pub = pub
	return pub
}

// --- Admission ---

// Guard builds the admission guard. The stake check is wired when an RPC
// endpoint is configured, the already-registered lookup when the product
// registry is too, the eligibility check when all DB_* settings are, and
// registered-product fetches when the exchange is.
func (s *services) Guard(ctx context.Context, mode admission.StakeCheck) (*admission.Guard, error) {
	opts := []admission.Option{admission.WithLogger(s.log)}

	if s.cfg.RPCURL != "" {
		client, err := s.Chain(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, admission.WithBalance(balance.NewGuard(client, client, s.log), mode))
		if s.cfg.ProductRegistryAddress != "" {
			opts = append(opts, admission.WithRegistrationReader(client))
		}
	}

	elig, pool, err := eligibility.Open(ctx, eligibility.Config{
		Host:     s.cfg.DBHost,
		Port:     s.cfg.DBPort,
		Name:     s.cfg.DBName,
		User:     s.cfg.DBUser,
		Password: s.cfg.DBPassword,
	}, s.log)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		s.pool = pool
		s.closers = append(s.closers, pool.Close)
	}
	opts = append(opts, admission.WithEligibility(elig))

	if ex, err := s.Exchange(); err == nil {
		opts = append(opts, admission.WithProductSource(ex))
	}
	return admission.NewGuard(opts...), nil
}

// --- Registration ---

// Registrar builds an orchestrator able to register products.
func (s *services) Registrar(ctx context.Context) (*registration.Orchestrator, error) {
	if err := s.cfg.RequireRegistration(); err != nil {
		return nil, err
	}
	client, err := s.Chain(ctx)
	if err != nil {
		return nil, err
	}
	nc, err := s.NATS()
	if err != nil {
		return nil, err
	}

	deps := registration.Deps{
		Products:  client,
		Decimals:  client,
		Pinner:    ipfs.NewClient(s.cfg.IPFSAPIURL, s.cfg.IPFSAPIKey, s.cfg.HTTPRetryMax, s.log, s.rateMgr),
		Submitter: chain.NewSigner(nc, s.cfg.SignerSubject, s.cfg.Network, common.HexToAddress(s.cfg.ProductRegistryAddress), s.cfg.SignerTimeout, s.log),
	}
	if ex, err := s.Exchange(); err == nil {
		deps.Admin = ex
	}
	if pub := s.Publisher(); pub != nil {
		deps.Notifier = pub
	}
	return registration.New(deps, s.log), nil
}

// Lister builds an orchestrator that only lists and reveals.
func (s *services) Lister() (*registration.Orchestrator, error) {
	ex, err := s.Exchange()
	if err != nil {
		return nil, err
	}
	deps := registration.Deps{Admin: ex}
	if s.cfg.NATSURL != "" {
		if pub := s.Publisher(); pub != nil {
			deps.Notifier = pub
		}
	}
	return registration.New(deps, s.log), nil
}

func optionalAddress(key, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", key, value)
	}
	return common.HexToAddress(value), nil
}
