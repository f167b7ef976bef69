package balance

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	collateral = common.HexToAddress("0xDEfAaC81a079533Bf2fb004c613cc2870cF0A5b5")
	builder    = common.HexToAddress("0x799aF677770d436b265Af0b851Ad38f04F2b167a")
)

type mockReader struct {
	DecimalsFn func(ctx context.Context, asset common.Address) (uint8, error)
	BalanceFn  func(ctx context.Context, asset, owner common.Address) (*big.Int, error)
	CapitalFn  func(ctx context.Context, asset, owner common.Address) (*big.Int, error)

	balanceCalls int
}

func (m *mockReader) TokenDecimals(ctx context.Context, asset common.Address) (uint8, error) {
	return m.DecimalsFn(ctx, asset)
}

func (m *mockReader) TokenBalance(ctx context.Context, asset, owner common.Address) (*big.Int, error) {
	m.balanceCalls++
	return m.BalanceFn(ctx, asset, owner)
}

func (m *mockReader) MarginCapital(ctx context.Context, asset, owner common.Address) (*big.Int, error) {
	return m.CapitalFn(ctx, asset, owner)
}

func fixedReader(decimals uint8, raw *big.Int) *mockReader {
	return &mockReader{
		DecimalsFn: func(context.Context, common.Address) (uint8, error) { return decimals, nil },
		BalanceFn:  func(context.Context, common.Address, common.Address) (*big.Int, error) { return raw, nil },
		CapitalFn:  func(context.Context, common.Address, common.Address) (*big.Int, error) { return raw, nil },
	}
}

func TestCheckTokenBalance(t *testing.T) {
	e18 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	tests := []struct {
		name       string
		decimals   uint8
		raw        *big.Int
		required   string
		sufficient bool
		actual     string
	}{
		{"sufficient", 6, big.NewInt(100_000_000), "50", true, "100"},
		{"insufficient", 6, big.NewInt(10_000_000), "100", false, "10"},
		{"exact", 6, big.NewInt(50_000_000), "50", true, "50"},
		{"zero required", 6, big.NewInt(0), "0", true, "0"},
		{"zero balance", 6, big.NewInt(0), "100", false, "0"},
		{"eighteen decimals", 18, new(big.Int).Mul(big.NewInt(100), e18), "50", true, "100"},
		{"fractional balance", 6, big.NewInt(49_999_999), "50", false, "49.999999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := fixedReader(tt.decimals, tt.raw)
			g := NewGuard(reader, reader, nil)

			res, err := g.CheckTokenBalance(context.Background(), collateral, builder, decimal.RequireFromString(tt.required))
			require.NoError(t, err)

			assert.Equal(t, tt.sufficient, res.Sufficient)
			assert.True(t, res.Actual.Equal(decimal.RequireFromString(tt.actual)), "actual %s", res.Actual)
			assert.Equal(t, int32(tt.decimals), res.Decimals)
			assert.Equal(t, 1, reader.balanceCalls)
		})
	}
}

func TestCheckTokenBalance_PassesAddresses(t *testing.T) {
	reader := fixedReader(6, big.NewInt(1))
	reader.BalanceFn = func(_ context.Context, asset, owner common.Address) (*big.Int, error) {
		assert.Equal(t, collateral, asset)
		assert.Equal(t, builder, owner)
		return big.NewInt(1), nil
	}

	_, err := NewGuard(reader, reader, nil).CheckTokenBalance(context.Background(), collateral, builder, decimal.Zero)
	require.NoError(t, err)
}

func TestCheckTokenBalance_ErrorsPropagate(t *testing.T) {
	boom := errors.New("rpc unavailable")

	decimalsFail := fixedReader(6, big.NewInt(0))
	decimalsFail.DecimalsFn = func(context.Context, common.Address) (uint8, error) { return 0, boom }
	_, err := NewGuard(decimalsFail, decimalsFail, nil).CheckTokenBalance(context.Background(), collateral, builder, decimal.Zero)
	assert.Same(t, boom, err)
	assert.Zero(t, decimalsFail.balanceCalls)

	balanceFail := fixedReader(6, nil)
	balanceFail.BalanceFn = func(context.Context, common.Address, common.Address) (*big.Int, error) { return nil, boom }
	_, err = NewGuard(balanceFail, balanceFail, nil).CheckTokenBalance(context.Background(), collateral, builder, decimal.Zero)
	assert.Same(t, boom, err)
}

func TestCheckMarginCapital(t *testing.T) {
	reader := fixedReader(6, big.NewInt(75_500_000))
	g := NewGuard(nil, reader, nil)

	res, err := g.CheckMarginCapital(context.Background(), collateral, builder, decimal.RequireFromString("75.5"))
	require.NoError(t, err)
	assert.True(t, res.Sufficient)
	assert.Equal(t, "75.5", res.Actual.String())

	res, err = g.CheckMarginCapital(context.Background(), collateral, builder, decimal.RequireFromString("75.51"))
	require.NoError(t, err)
	assert.False(t, res.Sufficient)
}

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int32
		want     string
		exact    bool
	}{
		{"100", 6, "100000000", true},
		{"0.000001", 6, "1", true},
		{"1.5", 18, "1500000000000000000", true},
		{"0", 6, "0", true},
		{"0.0000015", 6, "2", false},
		{"0.0000014", 6, "1", false},
	}

	for _, tt := range tests {
		units, exact := ToBaseUnits(decimal.RequireFromString(tt.amount), tt.decimals)
		assert.Equal(t, tt.want, units.String(), tt.amount)
		assert.Equal(t, tt.exact, exact, tt.amount)
	}
}

func TestToDecimal_RoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("1234.567891")
	units, exact := ToBaseUnits(amount, 6)
	require.True(t, exact)
	assert.True(t, ToDecimal(units, 6).Equal(amount))
	assert.True(t, ToDecimal(nil, 6).IsZero())
}
