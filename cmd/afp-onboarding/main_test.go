package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
	"github.com/Checker-Finance/afp-onboarding/internal/registration"
	"github.com/Checker-Finance/afp-onboarding/internal/spec"
	"github.com/Checker-Finance/afp-onboarding/pkg/config"
)

const (
	fixturePath     = "../../internal/spec/testdata/bakerloo_product.json"
	bakerlooContext = "product-registration-and-listing/bakerloo/testprod.json"
	validID         = "0x3f2a9be3c1d04e5f6a7b8c9d0e1f2a3b4c5d6e7f8091a2b3c4d5e6f708192a3b"
)

// isolateEnv clears every setting that would make a command reach a real
// dependency.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AUTONITY_RPC_URL", "PRODUCT_REGISTRY_ADDRESS", "MARGIN_ACCOUNT_REGISTRY_ADDRESS",
		"IPFS_API_URL", "IPFS_API_KEY", "EXCHANGE_URL", "EXCHANGE_API_TOKEN",
		"DB_HOST", "DB_PORT", "DB_NAME", "DB_USERNAME", "DB_PWD",
		"NATS_URL", "REDIS_ADDR", "AWS_SECRET_NAME", "VALIDATE_ENVIRONMENT",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("ENV", "test")
	t.Setenv("LOG_LEVEL", "error")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	isolateEnv(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())

	if svc != nil {
		svc.Close()
	}
	validateContext, registerContext, onboardContext = "", "", ""
	validateStakeCheck = "auto"
	return out.String(), err
}

// ─── Input detection ───

func TestDetectInput(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "spec")
	require.NoError(t, os.WriteFile(plain, []byte("{}"), 0o600))

	tests := []struct {
		name string
		arg  string
		want inputKind
	}{
		{"json suffix", "missing/product.json", inputSpecFile},
		{"product id", validID, inputProductID},
		{"id shaped but not hex", "0x" + strings.Repeat("z", 64), inputProductID},
		{"existing file", plain, inputSpecFile},
		{"directory", dir, inputUnknown},
		{"short hex", "0x1234", inputUnknown},
		{"nothing", "", inputUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectInput(tt.arg))
		})
	}
}

func TestParseStakeCheck(t *testing.T) {
	for in, want := range map[string]admission.StakeCheck{
		"":       admission.StakeCheckAuto,
		"auto":   admission.StakeCheckAuto,
		"off":    admission.StakeCheckOff,
		"wallet": admission.StakeCheckWallet,
		"margin": admission.StakeCheckMargin,
	} {
		got, err := parseStakeCheck(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseStakeCheck("both")
	assert.Error(t, err)
}

// ─── Output ───

func TestPrintError(t *testing.T) {
	t.Run("rejection report", func(t *testing.T) {
		var buf bytes.Buffer
		printError(&buf, &admission.Error{
			Kind:        admission.KindIneligible,
			Message:     "Builder is not a registered Forecastathon participant",
			Remediation: []string{admission.RemediationJoin},
		})
		assert.Contains(t, buf.String(), "Error: Builder is not a registered Forecastathon participant")
		assert.Contains(t, buf.String(), admission.RemediationJoin)
	})

	t.Run("plain error", func(t *testing.T) {
		var buf bytes.Buffer
		printError(&buf, errors.New("boom"))
		assert.Equal(t, "Error: boom\n", buf.String())
	})
}

func TestPrintTransitions(t *testing.T) {
	failure := &admission.Error{Kind: admission.KindUpstreamFailure, Message: "Error revealing product"}
	var buf bytes.Buffer

	err := printTransitions(&buf,
		registration.Transition{Step: registration.StepRegister, Outcome: registration.Applied, TxHash: "0xfeed", CID: "bafkreiabc"},
		registration.Transition{Step: registration.StepList, Outcome: registration.AlreadyInState, Reason: registration.ReasonAlreadyListed},
		registration.Transition{Step: registration.StepReveal, Outcome: registration.Failed, Err: failure},
	)

	assert.Same(t, failure, err)
	out := buf.String()
	assert.Contains(t, out, "register: done")
	assert.Contains(t, out, "Transaction hash: 0xfeed")
	assert.Contains(t, out, "Extended metadata CID: bafkreiabc")
	assert.Contains(t, out, "list: already in state (PRODUCT_ALREADY_LISTED), skipping")
	assert.Contains(t, out, "reveal: failed")
}

// ─── Commands ───

func TestCheckID(t *testing.T) {
	out, err := runCLI(t, "check-id", "0x"+strings.ToUpper(validID[2:]))
	require.NoError(t, err)
	assert.Equal(t, "PRODUCT_ID="+validID+"\n", out)

	_, err = runCLI(t, "check-id", "0x1234")
	assert.Equal(t, admission.KindMalformedInput, admission.KindOf(err))
	assert.ErrorIs(t, err, spec.ErrInvalidProductID)
}

func TestValidate_SpecFile(t *testing.T) {
	out, err := runCLI(t, "validate", fixturePath, "--context", bakerlooContext)
	require.NoError(t, err)

	assert.Contains(t, out, "Validation successful!")
	assert.Contains(t, out, "Product symbol: TESTPROD")
	assert.Contains(t, out, "Environment: bakerloo")
	assert.Contains(t, out, "Builder registration: disabled")
	assert.Contains(t, out, "Computed product ID: 0x")
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := runCLI(t, "validate", filepath.Join(t.TempDir(), "absent.json"))
	assert.Equal(t, admission.KindMalformedInput, admission.KindOf(err))
}

func TestValidate_UnknownInput(t *testing.T) {
	_, err := runCLI(t, "validate", "not-a-product")
	require.Error(t, err)
	assert.Equal(t, admission.KindMalformedInput, admission.KindOf(err))
	assert.Contains(t, err.Error(), "Could not determine input type")
}

func TestValidate_ProductIDNeedsExchange(t *testing.T) {
	_, err := runCLI(t, "validate", validID)
	assert.ErrorIs(t, err, config.ErrMissingEnv)
}

func TestValidate_BadStakeCheck(t *testing.T) {
	_, err := runCLI(t, "validate", fixturePath, "--stake-check", "sometimes")
	assert.Error(t, err)
}

func TestRegister_MissingSettings(t *testing.T) {
	out, err := runCLI(t, "register", fixturePath)
	assert.ErrorIs(t, err, config.ErrMissingEnv)
	assert.NotContains(t, out, "PRODUCT_ID=")
}

func TestList_InvalidID(t *testing.T) {
	_, err := runCLI(t, "list", "0xnothex")
	assert.Equal(t, admission.KindMalformedInput, admission.KindOf(err))
}

func TestList_MissingExchange(t *testing.T) {
	_, err := runCLI(t, "list", validID)
	assert.ErrorIs(t, err, config.ErrMissingEnv)
}
