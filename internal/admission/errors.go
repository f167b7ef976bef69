package admission

import (
	"errors"
	"strings"
)

// Kind classifies why a specification or product was rejected.
type Kind string

const (
	KindMalformedInput         Kind = "malformed_input"
	KindSchemaViolation        Kind = "schema_violation"
	KindAddressMismatch        Kind = "address_mismatch"
	KindTimingViolation        Kind = "timing_violation"
	KindInsufficientCollateral Kind = "insufficient_collateral"
	KindIneligible             Kind = "ineligible"
	KindRegistryUnavailable    Kind = "registry_unavailable"
	KindMetadataPinFailure     Kind = "metadata_pin_failure"
	KindChainCallFailure       Kind = "chain_call_failure"
	KindUpstreamFailure        Kind = "upstream_failure"
	KindNotFound               Kind = "not_found"
)

// Operational reports whether the kind signals an infrastructure problem
// rather than a business rejection of the product.
func (k Kind) Operational() bool {
	switch k {
	case KindRegistryUnavailable, KindMetadataPinFailure, KindChainCallFailure, KindUpstreamFailure:
		return true
	}
	return false
}

// Remediation texts shown alongside rejections.
const (
	RemediationJoin        = "Please register at https://forecastathon.ai/join-now"
	RemediationWorkingDays = "Working days are Monday through Friday. Weekends do not count."
)

var notFoundRemediation = []string{
	"Please verify:",
	"  1. The product_id is correct (should be 0x followed by 64 hex characters)",
	"  2. The product has been registered on the AFP contract",
	"  3. You are submitting to the correct environment (bakerloo vs mainnet)",
}

var invalidMetadataRemediation = []string{
	"The product exists on-chain but its extended metadata is invalid.",
	"Please verify:",
	"  1. The extended metadata conforms to the expected schema",
	"  2. All required fields are present and have correct types",
	"  3. The schema CID matches a supported schema version",
}

// Error is a typed rejection.
type Error struct {
	Kind     Kind
	Message  string
	Field    string
	Expected string
	Actual   string
	// Details are supporting facts (timestamps, counts, violations).
	Details     []string
	Remediation []string
	Err         error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Report renders the multi-line human explanation: message, details and
// remediation steps.
func (e *Error) Report() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.Message)
	b.WriteByte('\n')
	if e.Expected != "" || e.Actual != "" {
		b.WriteString("  Expected: " + e.Expected + "\n")
		b.WriteString("  Got: " + e.Actual + "\n")
	}
	for _, d := range e.Details {
		b.WriteString("  " + d + "\n")
	}
	if e.Err != nil {
		b.WriteString("Details: " + e.Err.Error() + "\n")
	}
	if len(e.Remediation) > 0 {
		b.WriteByte('\n')
		for _, r := range e.Remediation {
			b.WriteString(r + "\n")
		}
	}
	return b.String()
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
