package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/afp-onboarding/internal/balance"
	"github.com/Checker-Finance/afp-onboarding/internal/eligibility"
	"github.com/Checker-Finance/afp-onboarding/internal/environment"
	"github.com/Checker-Finance/afp-onboarding/internal/spec"
)

const (
	bakerlooContext = "product-registration-and-listing/bakerloo/testprod.json"
	mainnetContext  = "product-registration-and-listing/mainnet/testprod.json"
)

// monday is 2026-01-05 09:00 UTC.
var monday = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return monday }

func loadFixture(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile("../spec/testdata/bakerloo_product.json")
	require.NoError(t, err)
	return raw
}

func edit(t *testing.T, raw []byte, fn func(doc map[string]any)) []byte {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	fn(doc)
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	return out
}

func base(doc map[string]any) map[string]any {
	return doc["product"].(map[string]any)["base"].(map[string]any)
}

func oracleSpec(doc map[string]any) map[string]any {
	return base(doc)["oracleSpec"].(map[string]any)
}

// mainnetDoc rewrites the fixture for mainnet with the given start time.
func mainnetDoc(t *testing.T, start time.Time) []byte {
	rules := environment.Mainnet.Rules()
	return edit(t, loadFixture(t), func(doc map[string]any) {
		oracleSpec(doc)["oracleAddress"] = rules.OracleAddress.Hex()
		base(doc)["collateralAsset"] = rules.CollateralAsset.Hex()
		base(doc)["startTime"] = start.Format(time.RFC3339)
	})
}

type chainReader struct {
	decimals uint8
	balance  *big.Int
	capital  *big.Int
	err      error
	calls    int
}

func (c *chainReader) TokenDecimals(context.Context, common.Address) (uint8, error) {
	return c.decimals, c.err
}

func (c *chainReader) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	c.calls++
	return c.balance, c.err
}

func (c *chainReader) MarginCapital(context.Context, common.Address, common.Address) (*big.Int, error) {
	c.calls++
	return c.capital, c.err
}

type registryFunc func(ctx context.Context, wallet common.Address) (bool, error)

func (f registryFunc) IsRegistered(ctx context.Context, wallet common.Address) (bool, error) {
	return f(ctx, wallet)
}

type sourceFunc func(ctx context.Context, id spec.ProductID) ([]byte, error)

func (f sourceFunc) FetchSpecification(ctx context.Context, id spec.ProductID) ([]byte, error) {
	return f(ctx, id)
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.True(t, errors.As(err, &e), "expected *admission.Error, got %T: %v", err, err)
	require.Equal(t, kind, e.Kind, "error: %v", err)
	return e
}

func TestValidateDocument_Bakerloo(t *testing.T) {
	g := NewGuard(WithClock(fixedClock))

	res, err := g.ValidateDocument(context.Background(), loadFixture(t), bakerlooContext)
	require.NoError(t, err)

	assert.Equal(t, environment.Bakerloo, res.Environment)
	assert.Equal(t, "TESTPROD", res.Specification.Symbol())
	assert.True(t, res.Stake.Declared)
	assert.True(t, res.Stake.Amount.IsZero())
	assert.False(t, res.ProductID.IsZero())
	assert.Equal(t, eligibility.StatusDisabled, res.Eligibility)

	want, err := spec.Identifier(res.Specification)
	require.NoError(t, err)
	assert.Equal(t, want, res.ProductID)
}

func TestValidateDocument_MissingStakeWarns(t *testing.T) {
	raw := edit(t, loadFixture(t), func(doc map[string]any) { delete(doc, spec.StakeField) })

	res, err := NewGuard().ValidateDocument(context.Background(), raw, bakerlooContext)
	require.NoError(t, err)
	assert.False(t, res.Stake.Declared)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "initial_builder_stake not specified")
}

func TestValidateDocument_UnresolvedEnvironmentWarns(t *testing.T) {
	raw := edit(t, loadFixture(t), func(doc map[string]any) {
		oracleSpec(doc)["oracleAddress"] = "0x0000000000000000000000000000000000000001"
	})

	res, err := NewGuard().ValidateDocument(context.Background(), raw, "drafts/testprod.json")
	require.NoError(t, err, "address rules only apply to a resolved environment")
	assert.Empty(t, res.Environment)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "could not detect environment")
}

func TestValidateDocument_MalformedInput(t *testing.T) {
	tests := map[string][]byte{
		"bad json":  []byte(`{"product": `),
		"bad stake": edit(t, loadFixture(t), func(doc map[string]any) { doc[spec.StakeField] = "ten" }),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			reader := &chainReader{decimals: 6, balance: big.NewInt(0)}
			g := NewGuard(WithBalance(balance.NewGuard(reader, reader, nil), StakeCheckWallet))

			_, err := g.ValidateDocument(context.Background(), raw, bakerlooContext)
			requireKind(t, err, KindMalformedInput)
			assert.Zero(t, reader.calls, "no external calls for malformed input")
		})
	}
}

func TestValidateDocument_SchemaViolation(t *testing.T) {
	raw := edit(t, loadFixture(t), func(doc map[string]any) {
		doc["outcome_point"].(map[string]any)["fsp_type"] = "binary"
	})

	_, err := NewGuard().ValidateDocument(context.Background(), raw, bakerlooContext)
	e := requireKind(t, err, KindSchemaViolation)
	require.NotEmpty(t, e.Details)
	assert.Contains(t, e.Details[0], "outcome_point.fsp_type")

	var verr *spec.ValidationError
	assert.True(t, errors.As(err, &verr), "violation detail is propagated")
}

func TestValidateDocument_AddressMismatch(t *testing.T) {
	bakerloo := environment.Bakerloo.Rules()
	mainnet := environment.Mainnet.Rules()

	tests := []struct {
		name     string
		edit     func(doc map[string]any)
		field    string
		expected string
	}{
		{
			name:     "oracle",
			edit:     func(doc map[string]any) { oracleSpec(doc)["oracleAddress"] = mainnet.OracleAddress.Hex() },
			field:    "product.base.oracleSpec.oracleAddress",
			expected: bakerloo.OracleAddress.Hex(),
		},
		{
			name:     "collateral",
			edit:     func(doc map[string]any) { base(doc)["collateralAsset"] = mainnet.CollateralAsset.Hex() },
			field:    "product.base.collateralAsset",
			expected: bakerloo.CollateralAsset.Hex(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGuard().ValidateDocument(context.Background(), edit(t, loadFixture(t), tt.edit), bakerlooContext)
			e := requireKind(t, err, KindAddressMismatch)
			assert.Equal(t, tt.field, e.Field)
			assert.Equal(t, tt.expected, e.Expected)
			assert.Contains(t, e.Message, "bakerloo")
		})
	}
}

func TestValidateDocument_AddressCaseInsensitive(t *testing.T) {
	raw := edit(t, loadFixture(t), func(doc map[string]any) {
		oracleSpec(doc)["oracleAddress"] = strings.ToLower(oracleSpec(doc)["oracleAddress"].(string))
	})
	_, err := NewGuard().ValidateDocument(context.Background(), raw, bakerlooContext)
	assert.NoError(t, err)
}

func TestValidateDocument_MainnetLeadTime(t *testing.T) {
	g := NewGuard(WithClock(fixedClock))

	_, err := g.ValidateDocument(context.Background(), mainnetDoc(t, monday.AddDate(0, 0, 1)), mainnetContext)
	e := requireKind(t, err, KindTimingViolation)
	assert.Equal(t, "1 working days", e.Actual)
	detail := strings.Join(e.Details, "\n")
	assert.Contains(t, detail, "2026-01-06T09:00:00Z")
	assert.Contains(t, detail, "2026-01-05T09:00:00Z")
	assert.Contains(t, detail, "Working days until start: 1 (need at least 2)")
	assert.Equal(t, []string{RemediationWorkingDays}, e.Remediation)

	res, err := g.ValidateDocument(context.Background(), mainnetDoc(t, monday.AddDate(0, 0, 10)), mainnetContext)
	require.NoError(t, err)
	assert.Equal(t, environment.Mainnet, res.Environment)
}

func TestValidateDocument_MainnetWeekendDoesNotCount(t *testing.T) {
	friday := time.Date(2026, 1, 9, 17, 0, 0, 0, time.UTC)
	g := NewGuard(WithClock(func() time.Time { return friday }))

	// Sat, Sun, Mon: one working day.
	_, err := g.ValidateDocument(context.Background(), mainnetDoc(t, friday.AddDate(0, 0, 3)), mainnetContext)
	requireKind(t, err, KindTimingViolation)

	// through Tue: two working days.
	_, err = g.ValidateDocument(context.Background(), mainnetDoc(t, friday.AddDate(0, 0, 4)), mainnetContext)
	assert.NoError(t, err)
}

type productTypeFunc func(ctx context.Context, id spec.ProductID) (uint8, error)

func (f productTypeFunc) ProductType(ctx context.Context, id spec.ProductID) (uint8, error) {
	return f(ctx, id)
}

func TestValidateDocument_RegisteredProductSkipsLeadTime(t *testing.T) {
	raw := mainnetDoc(t, monday.AddDate(0, 0, 1))

	t.Run("registered", func(t *testing.T) {
		var looked spec.ProductID
		reader := productTypeFunc(func(_ context.Context, id spec.ProductID) (uint8, error) {
			looked = id
			return 1, nil
		})
		res, err := NewGuard(WithClock(fixedClock), WithRegistrationReader(reader)).
			ValidateDocument(context.Background(), raw, mainnetContext)
		require.NoError(t, err)
		assert.True(t, res.AlreadyRegistered)
		assert.Equal(t, res.ProductID, looked)
		assert.Contains(t, strings.Join(res.Warnings, "\n"), "already registered")
	})

	t.Run("not registered", func(t *testing.T) {
		reader := productTypeFunc(func(context.Context, spec.ProductID) (uint8, error) { return 0, nil })
		_, err := NewGuard(WithClock(fixedClock), WithRegistrationReader(reader)).
			ValidateDocument(context.Background(), raw, mainnetContext)
		requireKind(t, err, KindTimingViolation)
	})

	t.Run("lookup failure keeps the rule", func(t *testing.T) {
		reader := productTypeFunc(func(context.Context, spec.ProductID) (uint8, error) {
			return 0, errors.New("dial tcp: connection refused")
		})
		_, err := NewGuard(WithClock(fixedClock), WithRegistrationReader(reader)).
			ValidateDocument(context.Background(), raw, mainnetContext)
		requireKind(t, err, KindTimingViolation)
	})

	t.Run("address rules still apply", func(t *testing.T) {
		reader := productTypeFunc(func(context.Context, spec.ProductID) (uint8, error) { return 1, nil })
		wrongOracle := edit(t, raw, func(doc map[string]any) {
			oracleSpec(doc)["oracleAddress"] = environment.Bakerloo.Rules().OracleAddress.Hex()
		})
		_, err := NewGuard(WithClock(fixedClock), WithRegistrationReader(reader)).
			ValidateDocument(context.Background(), wrongOracle, mainnetContext)
		requireKind(t, err, KindAddressMismatch)
	})
}

func TestValidateDocument_BakerlooAllowsImmediateStart(t *testing.T) {
	raw := edit(t, loadFixture(t), func(doc map[string]any) {
		base(doc)["startTime"] = monday.Add(time.Minute).Format(time.RFC3339)
	})
	_, err := NewGuard(WithClock(fixedClock)).ValidateDocument(context.Background(), raw, bakerlooContext)
	assert.NoError(t, err)
}

func stakedDoc(t *testing.T, stake string) []byte {
	return edit(t, loadFixture(t), func(doc map[string]any) { doc[spec.StakeField] = stake })
}

func TestValidateDocument_StakeCoverage(t *testing.T) {
	t.Run("sufficient wallet", func(t *testing.T) {
		reader := &chainReader{decimals: 6, balance: big.NewInt(100_000_000)}
		g := NewGuard(WithBalance(balance.NewGuard(reader, reader, nil), StakeCheckAuto))

		res, err := g.ValidateDocument(context.Background(), stakedDoc(t, "50"), bakerlooContext)
		require.NoError(t, err)
		require.NotNil(t, res.Balance)
		assert.True(t, res.Balance.Sufficient)
		assert.Equal(t, 1, reader.calls)
	})

	t.Run("insufficient wallet", func(t *testing.T) {
		reader := &chainReader{decimals: 6, balance: big.NewInt(10_000_000)}
		g := NewGuard(WithBalance(balance.NewGuard(reader, reader, nil), StakeCheckAuto))

		_, err := g.ValidateDocument(context.Background(), stakedDoc(t, "100"), bakerlooContext)
		e := requireKind(t, err, KindInsufficientCollateral)
		assert.Equal(t, "100", e.Expected)
		assert.Equal(t, "10", e.Actual)
	})

	t.Run("margin capital", func(t *testing.T) {
		reader := &chainReader{decimals: 6, balance: big.NewInt(1_000_000_000), capital: big.NewInt(1)}
		g := NewGuard(WithBalance(balance.NewGuard(reader, reader, nil), StakeCheckMargin))

		_, err := g.ValidateDocument(context.Background(), stakedDoc(t, "1"), "listing-only/bakerloo/testprod.json")
		requireKind(t, err, KindInsufficientCollateral)
	})

	t.Run("auto skips listing-only contexts", func(t *testing.T) {
		reader := &chainReader{decimals: 6, balance: big.NewInt(0)}
		g := NewGuard(WithBalance(balance.NewGuard(reader, reader, nil), StakeCheckAuto))

		_, err := g.ValidateDocument(context.Background(), stakedDoc(t, "100"), "listing-only/bakerloo/testprod.json")
		require.NoError(t, err)
		assert.Zero(t, reader.calls)
	})

	t.Run("zero stake is covered and still reports the balance", func(t *testing.T) {
		reader := &chainReader{decimals: 6, balance: big.NewInt(0)}
		g := NewGuard(WithBalance(balance.NewGuard(reader, reader, nil), StakeCheckWallet))

		res, err := g.ValidateDocument(context.Background(), stakedDoc(t, "0"), bakerlooContext)
		require.NoError(t, err)
		require.NotNil(t, res.Balance)
		assert.True(t, res.Balance.Sufficient)
		assert.True(t, res.Balance.Actual.IsZero())
		assert.Equal(t, 1, reader.calls)
	})

	t.Run("undeclared stake reports margin capital", func(t *testing.T) {
		reader := &chainReader{decimals: 6, capital: big.NewInt(2_500_000)}
		g := NewGuard(WithBalance(balance.NewGuard(reader, reader, nil), StakeCheckMargin))

		raw := edit(t, loadFixture(t), func(doc map[string]any) { delete(doc, spec.StakeField) })
		res, err := g.ValidateDocument(context.Background(), raw, bakerlooContext)
		require.NoError(t, err)
		require.NotNil(t, res.Balance)
		assert.True(t, res.Balance.Sufficient)
		assert.Equal(t, "2.5", res.Balance.Actual.String())
	})

	t.Run("chain failure", func(t *testing.T) {
		reader := &chainReader{err: errors.New("execution reverted")}
		g := NewGuard(WithBalance(balance.NewGuard(reader, reader, nil), StakeCheckWallet))

		_, err := g.ValidateDocument(context.Background(), stakedDoc(t, "5"), bakerlooContext)
		e := requireKind(t, err, KindChainCallFailure)
		assert.True(t, e.Kind.Operational())
	})
}

func TestValidateDocument_Eligibility(t *testing.T) {
	builder := common.HexToAddress("0x799aF677770d436b265Af0b851Ad38f04F2b167a")

	t.Run("registered", func(t *testing.T) {
		var got common.Address
		reg := registryFunc(func(_ context.Context, wallet common.Address) (bool, error) {
			got = wallet
			return true, nil
		})
		res, err := NewGuard(WithEligibility(eligibility.NewGuard(reg, nil))).
			ValidateDocument(context.Background(), loadFixture(t), bakerlooContext)
		require.NoError(t, err)
		assert.Equal(t, builder, got)
		assert.Equal(t, eligibility.StatusRegistered, res.Eligibility)
	})

	t.Run("not registered", func(t *testing.T) {
		reg := registryFunc(func(context.Context, common.Address) (bool, error) { return false, nil })
		_, err := NewGuard(WithEligibility(eligibility.NewGuard(reg, nil))).
			ValidateDocument(context.Background(), loadFixture(t), bakerlooContext)
		e := requireKind(t, err, KindIneligible)
		assert.Contains(t, e.Message, builder.Hex())
		assert.Equal(t, []string{RemediationJoin}, e.Remediation)
		assert.False(t, e.Kind.Operational())
	})

	t.Run("lookup failure", func(t *testing.T) {
		reg := registryFunc(func(context.Context, common.Address) (bool, error) {
			return false, errors.New("connection refused")
		})
		_, err := NewGuard(WithEligibility(eligibility.NewGuard(reg, nil))).
			ValidateDocument(context.Background(), loadFixture(t), bakerlooContext)
		e := requireKind(t, err, KindRegistryUnavailable)
		assert.True(t, e.Kind.Operational())

		var lookupErr *eligibility.LookupError
		assert.True(t, errors.As(err, &lookupErr))
	})
}

func TestValidateRegistered(t *testing.T) {
	raw := edit(t, loadFixture(t), func(doc map[string]any) { delete(doc, spec.StakeField) })
	s, err := spec.Parse(raw)
	require.NoError(t, err)
	id, err := spec.Identifier(s)
	require.NoError(t, err)

	source := sourceFunc(func(_ context.Context, got spec.ProductID) ([]byte, error) {
		if got != id {
			return nil, fmt.Errorf("exchange: %w", spec.ErrProductNotFound)
		}
		return raw, nil
	})
	g := NewGuard(WithProductSource(source), WithClock(fixedClock))

	t.Run("found", func(t *testing.T) {
		res, err := g.ValidateRegistered(context.Background(), id.Hex(), "bakerloo")
		require.NoError(t, err)
		assert.Equal(t, id, res.ProductID)
		assert.Equal(t, environment.Bakerloo, res.Environment)
	})

	t.Run("environment not set", func(t *testing.T) {
		res, err := g.ValidateRegistered(context.Background(), id.Hex(), "")
		require.NoError(t, err)
		assert.Contains(t, strings.Join(res.Warnings, "\n"), "VALIDATE_ENVIRONMENT not set")
	})

	t.Run("wrong environment", func(t *testing.T) {
		_, err := g.ValidateRegistered(context.Background(), id.Hex(), "mainnet")
		requireKind(t, err, KindAddressMismatch)
	})

	t.Run("not found", func(t *testing.T) {
		other := "0x" + strings.Repeat("0", 63) + "1"
		_, err := g.ValidateRegistered(context.Background(), other, "bakerloo")
		e := requireKind(t, err, KindNotFound)
		assert.Contains(t, e.Message, other)
		assert.Contains(t, e.Report(), "0x followed by 64 hex characters")
	})

	t.Run("malformed id", func(t *testing.T) {
		_, err := g.ValidateRegistered(context.Background(), "0x1234", "bakerloo")
		requireKind(t, err, KindMalformedInput)
	})

	t.Run("invalid metadata", func(t *testing.T) {
		bad := sourceFunc(func(context.Context, spec.ProductID) ([]byte, error) { return []byte(`{"product": {}}`), nil })
		_, err := NewGuard(WithProductSource(bad)).ValidateRegistered(context.Background(), id.Hex(), "bakerloo")
		e := requireKind(t, err, KindSchemaViolation)
		assert.Contains(t, e.Report(), "extended metadata is invalid")
	})

	t.Run("upstream failure", func(t *testing.T) {
		down := sourceFunc(func(context.Context, spec.ProductID) ([]byte, error) { return nil, errors.New("502 bad gateway") })
		_, err := NewGuard(WithProductSource(down)).ValidateRegistered(context.Background(), id.Hex(), "bakerloo")
		requireKind(t, err, KindUpstreamFailure)
	})
}

func TestValidateSpecification_SymmetricWithDocument(t *testing.T) {
	g := NewGuard(WithClock(fixedClock))
	fromDoc, err := g.ValidateDocument(context.Background(), loadFixture(t), bakerlooContext)
	require.NoError(t, err)

	fromSpec, err := g.ValidateSpecification(context.Background(), fromDoc.Specification, fromDoc.Stake, environment.Bakerloo)
	require.NoError(t, err)
	assert.Equal(t, fromDoc.ProductID, fromSpec.ProductID)
}

func TestError_Report(t *testing.T) {
	e := &Error{
		Kind:        KindAddressMismatch,
		Message:     "Incorrect oracle address for mainnet",
		Expected:    "0xA",
		Actual:      "0xB",
		Remediation: []string{"fix it"},
	}
	report := e.Report()
	assert.True(t, strings.HasPrefix(report, "Error: Incorrect oracle address for mainnet\n"))
	assert.Contains(t, report, "  Expected: 0xA\n  Got: 0xB\n")
	assert.True(t, strings.HasSuffix(report, "\nfix it\n"))

	assert.Equal(t, KindAddressMismatch, KindOf(fmt.Errorf("wrapped: %w", e)))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
