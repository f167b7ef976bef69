package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
	"github.com/Checker-Finance/afp-onboarding/internal/registration"
)

type inputKind int

const (
	inputUnknown inputKind = iota
	inputSpecFile
	inputProductID
)

// detectInput classifies a command argument as a specification file or a
// product id. Ids are recognised by shape only, so a malformed id is still
// reported as an invalid id rather than a missing file.
func detectInput(arg string) inputKind {
	switch {
	case strings.HasSuffix(arg, ".json"):
		return inputSpecFile
	case strings.HasPrefix(arg, "0x") && len(arg) == 66:
		return inputProductID
	}
	if fi, err := os.Stat(arg); err == nil && !fi.IsDir() {
		return inputSpecFile
	}
	return inputUnknown
}

func errUnknownInput(arg string) error {
	return &admission.Error{
		Kind:    admission.KindMalformedInput,
		Message: fmt.Sprintf("Could not determine input type for '%s'", arg),
		Remediation: []string{
			"Expected one of:",
			"  - Path to a .json file (pre-registration validation)",
			"  - Product ID starting with 0x (post-registration validation)",
		},
	}
}

func printAdmission(w io.Writer, res *admission.Result) {
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
	fmt.Fprintln(w, "Validation successful!")
	fmt.Fprintf(w, "  Product symbol: %s\n", res.Specification.Symbol())
	fmt.Fprintf(w, "  Builder: %s\n", res.Specification.Builder().Hex())
	if res.Environment != "" {
		fmt.Fprintf(w, "  Environment: %s\n", res.Environment)
	}
	if res.Stake.Declared {
		fmt.Fprintf(w, "  Initial builder stake: %s\n", res.Stake.Amount.String())
	}
	if res.Balance != nil {
		fmt.Fprintf(w, "  Collateral balance: %s\n", res.Balance.Actual.String())
	}
	fmt.Fprintf(w, "  Builder registration: %s\n", res.Eligibility)
	if res.AlreadyRegistered {
		fmt.Fprintln(w, "  Already registered on-chain")
	}
	fmt.Fprintf(w, "  Computed product ID: %s\n", res.ProductID.Hex())
}

// printTransitions reports each step and returns the error of the first
// failed one.
func printTransitions(w io.Writer, ts ...registration.Transition) error {
	for _, t := range ts {
		switch t.Outcome {
		case registration.Applied:
			fmt.Fprintf(w, "%s: done\n", t.Step)
		case registration.AlreadyInState:
			fmt.Fprintf(w, "%s: already in state (%s), skipping\n", t.Step, t.Reason)
		case registration.Failed:
			fmt.Fprintf(w, "%s: failed\n", t.Step)
		}
		if t.CID != "" {
			fmt.Fprintf(w, "  Extended metadata CID: %s\n", t.CID)
		}
		if t.TxHash != "" {
			fmt.Fprintf(w, "  Transaction hash: %s\n", t.TxHash)
		}
	}
	return registration.FirstError(ts...)
}

func readSpecFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &admission.Error{
			Kind:    admission.KindMalformedInput,
			Message: fmt.Sprintf("Could not read specification file '%s'", path),
			Err:     err,
		}
	}
	return raw, nil
}
