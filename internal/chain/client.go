// Package chain reads AFP contract state over JSON-RPC and submits
// registrations to the signing service.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/Checker-Finance/afp-onboarding/internal/metrics"
	"github.com/Checker-Finance/afp-onboarding/internal/rate"
	"github.com/Checker-Finance/afp-onboarding/internal/spec"
)

// DecimalsCache stores token decimals, which never change for a deployed token.
type DecimalsCache interface {
	GetDecimals(ctx context.Context, asset common.Address) (uint8, bool, error)
	SetDecimals(ctx context.Context, asset common.Address, decimals uint8) error
}

// Config holds the contract addresses read by Client.
type Config struct {
	ProductRegistry       common.Address
	MarginAccountRegistry common.Address
	CallTimeout           time.Duration
}

// Client performs read-only contract calls.
type Client struct {
	caller  ethereum.ContractCaller
	cfg     Config
	rateMgr *rate.Manager
	cache   DecimalsCache
	logger  *zap.Logger
}

// NewClient wraps caller. rateMgr and cache may be nil.
func NewClient(caller ethereum.ContractCaller, cfg Config, rateMgr *rate.Manager, cache DecimalsCache, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{caller: caller, cfg: cfg, rateMgr: rateMgr, cache: cache, logger: logger}
}

// Dial connects to an Autonity JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return c, nil
}

// ProductType returns the registry's product type for id; zero means the
// product is not registered.
func (c *Client) ProductType(ctx context.Context, id spec.ProductID) (uint8, error) {
	data, err := productRegistryABI.Pack("products", [32]byte(id))
	if err != nil {
		return 0, &CallError{Op: "products", Contract: c.cfg.ProductRegistry, Err: err}
	}
	out, err := c.call(ctx, "products", c.cfg.ProductRegistry, data)
	if err != nil {
		return 0, err
	}
	if len(out) < 32 {
		return 0, &CallError{Op: "products", Contract: c.cfg.ProductRegistry, Err: fmt.Errorf("short result of %d bytes", len(out))}
	}
	word := new(big.Int).SetBytes(out[:32])
	if !word.IsUint64() || word.Uint64() > 255 {
		return 0, &CallError{Op: "products", Contract: c.cfg.ProductRegistry, Err: fmt.Errorf("product type %s out of range", word)}
	}
	return uint8(word.Uint64()), nil
}

// TokenDecimals returns the ERC20 decimals of asset, consulting the cache first.
func (c *Client) TokenDecimals(ctx context.Context, asset common.Address) (uint8, error) {
	if c.cache != nil {
		d, ok, err := c.cache.GetDecimals(ctx, asset)
		switch {
		case err != nil:
			c.logger.Warn("chain.decimals_cache_failed", zap.String("asset", asset.Hex()), zap.Error(err))
		case ok:
			return d, nil
		}
	}

	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, &CallError{Op: "decimals", Contract: asset, Err: err}
	}
	out, err := c.call(ctx, "decimals", asset, data)
	if err != nil {
		return 0, err
	}
	var d uint8
	if err := erc20ABI.UnpackIntoInterface(&d, "decimals", out); err != nil {
		return 0, &CallError{Op: "decimals", Contract: asset, Err: err}
	}

	if c.cache != nil {
		if err := c.cache.SetDecimals(ctx, asset, d); err != nil {
			c.logger.Warn("chain.decimals_cache_failed", zap.String("asset", asset.Hex()), zap.Error(err))
		}
	}
	return d, nil
}

// TokenBalance returns the ERC20 balance of owner in base units.
func (c *Client) TokenBalance(ctx context.Context, asset, owner common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, &CallError{Op: "balanceOf", Contract: asset, Err: err}
	}
	out, err := c.call(ctx, "balanceOf", asset, data)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&balance, "balanceOf", out); err != nil {
		return nil, &CallError{Op: "balanceOf", Contract: asset, Err: err}
	}
	return balance, nil
}

// MarginCapital returns the capital owner holds in the margin account of
// asset, in base units.
func (c *Client) MarginCapital(ctx context.Context, asset, owner common.Address) (*big.Int, error) {
	registry := c.cfg.MarginAccountRegistry
	if registry == (common.Address{}) {
		return nil, &CallError{Op: "getMarginAccount", Err: fmt.Errorf("margin account registry address not configured")}
	}

	data, err := marginRegistryABI.Pack("getMarginAccount", asset)
	if err != nil {
		return nil, &CallError{Op: "getMarginAccount", Contract: registry, Err: err}
	}
	out, err := c.call(ctx, "getMarginAccount", registry, data)
	if err != nil {
		return nil, err
	}
	var account common.Address
	if err := marginRegistryABI.UnpackIntoInterface(&account, "getMarginAccount", out); err != nil {
		return nil, &CallError{Op: "getMarginAccount", Contract: registry, Err: err}
	}
	if account == (common.Address{}) {
		return nil, &CallError{Op: "getMarginAccount", Contract: registry, Err: fmt.Errorf("%w %s", ErrNoMarginAccount, asset.Hex())}
	}

	data, err = marginAccountABI.Pack("capital", owner)
	if err != nil {
		return nil, &CallError{Op: "capital", Contract: account, Err: err}
	}
	out, err = c.call(ctx, "capital", account, data)
	if err != nil {
		return nil, err
	}
	var capital *big.Int
	if err := marginAccountABI.UnpackIntoInterface(&capital, "capital", out); err != nil {
		return nil, &CallError{Op: "capital", Contract: account, Err: err}
	}
	return capital, nil
}

func (c *Client) call(ctx context.Context, op string, to common.Address, data []byte) ([]byte, error) {
	if err := c.rateMgr.Wait(ctx, rate.KeyRPC); err != nil {
		return nil, &CallError{Op: op, Contract: to, Err: err}
	}
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	metrics.ObserveCall("rpc", op, start, err)
	if err != nil {
		c.logger.Warn("chain.call_failed", zap.String("op", op), zap.String("contract", to.Hex()), zap.Error(err))
		return nil, &CallError{Op: op, Contract: to, Err: err}
	}
	if len(out) == 0 {
		return nil, &CallError{Op: op, Contract: to, Err: ErrEmptyResult}
	}
	c.logger.Debug("chain.call", zap.String("op", op), zap.String("contract", to.Hex()), zap.Duration("elapsed", time.Since(start)))
	return out, nil
}
