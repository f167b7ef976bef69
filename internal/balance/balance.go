// Package balance checks whether a builder holds enough collateral to cover a
// declared stake, either in their wallet or in their margin account.
package balance

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TokenReader reads ERC20 state.
type TokenReader interface {
	TokenDecimals(ctx context.Context, asset common.Address) (uint8, error)
	TokenBalance(ctx context.Context, asset, owner common.Address) (*big.Int, error)
}

// MarginReader reads the capital an owner holds in the margin account of a
// collateral asset.
type MarginReader interface {
	TokenDecimals(ctx context.Context, asset common.Address) (uint8, error)
	MarginCapital(ctx context.Context, asset, owner common.Address) (*big.Int, error)
}

// Result is the outcome of a sufficiency check.
type Result struct {
	Sufficient bool
	Actual     decimal.Decimal
	Decimals   int32
}

// Guard compares on-chain holdings against a required amount. Errors from the
// readers are returned unchanged.
type Guard struct {
	tokens TokenReader
	margin MarginReader
	logger *zap.Logger
}

func NewGuard(tokens TokenReader, margin MarginReader, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{tokens: tokens, margin: margin, logger: logger}
}

// CheckTokenBalance reports whether owner's wallet balance of asset covers
// required. A zero requirement is always sufficient, but the balance is
// still read and reported.
func (g *Guard) CheckTokenBalance(ctx context.Context, asset, owner common.Address, required decimal.Decimal) (Result, error) {
	decimals, err := g.tokens.TokenDecimals(ctx, asset)
	if err != nil {
		return Result{}, err
	}
	raw, err := g.tokens.TokenBalance(ctx, asset, owner)
	if err != nil {
		return Result{}, err
	}
	return g.result("wallet", asset, owner, raw, decimals, required), nil
}

// CheckMarginCapital is CheckTokenBalance against the margin account capital.
func (g *Guard) CheckMarginCapital(ctx context.Context, asset, owner common.Address, required decimal.Decimal) (Result, error) {
	decimals, err := g.margin.TokenDecimals(ctx, asset)
	if err != nil {
		return Result{}, err
	}
	raw, err := g.margin.MarginCapital(ctx, asset, owner)
	if err != nil {
		return Result{}, err
	}
	return g.result("margin", asset, owner, raw, decimals, required), nil
}

func (g *Guard) result(source string, asset, owner common.Address, raw *big.Int, decimals uint8, required decimal.Decimal) Result {
	actual := ToDecimal(raw, int32(decimals))
	res := Result{
		Sufficient: !required.IsPositive() || actual.GreaterThanOrEqual(required),
		Actual:     actual,
		Decimals:   int32(decimals),
	}
	g.logger.Debug("balance.checked",
		zap.String("source", source),
		zap.String("asset", asset.Hex()),
		zap.String("owner", owner.Hex()),
		zap.String("actual", actual.String()),
		zap.String("required", required.String()),
		zap.Bool("sufficient", res.Sufficient),
	)
	return res
}

// ToDecimal converts a base-unit amount into its human amount raw / 10^d.
func ToDecimal(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// ToBaseUnits converts a human amount into base units, rounding half away
// from zero. exact is false when rounding discarded precision.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (units *big.Int, exact bool) {
	shifted := amount.Shift(decimals)
	rounded := shifted.Round(0)
	return rounded.BigInt(), rounded.Equal(shifted)
}
