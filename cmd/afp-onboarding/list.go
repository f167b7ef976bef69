package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
	"github.com/Checker-Finance/afp-onboarding/internal/spec"
)

var listCmd = &cobra.Command{
	Use:   "list <product-id>",
	Short: "List and reveal a registered product on the exchange",
	Long: `List a registered product on the exchange and then reveal it.

Products that are already listed or revealed are skipped, so the command is
safe to re-run. Reveal is not attempted when listing fails.

Example:
  afp-onboarding list 0x3f2a...c9d1`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	id, err := parseProductID(args[0])
	if err != nil {
		return err
	}
	orch, err := svc.Lister()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := printTransitions(out, orch.ListAndReveal(cmd.Context(), id)...); err != nil {
		return err
	}
	fmt.Fprintf(out, "Product %s listing complete\n", id.Hex())
	return nil
}

func parseProductID(s string) (spec.ProductID, error) {
	id, err := spec.ParseProductID(s)
	if err != nil {
		return spec.ProductID{}, &admission.Error{
			Kind:    admission.KindMalformedInput,
			Message: "Invalid product_id format",
			Actual:  s,
			Err:     err,
			Remediation: []string{
				"The product_id should be 0x followed by 64 hex characters.",
			},
		}
	}
	return id, nil
}
