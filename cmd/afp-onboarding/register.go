package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
)

var registerContext string

var registerCmd = &cobra.Command{
	Use:   "register <spec.json>",
	Short: "Admit a specification and register it on-chain",
	Long: `Admit a product specification, pin its extended metadata to IPFS and
register it through the signing service.

A product that is already registered is skipped, and the mainnet start time
lead rule is not re-applied to it, so a failed run can simply be repeated.
On success the last line on stdout is PRODUCT_ID=<id> so that pipelines can
capture it.

Example:
  afp-onboarding register products/product-registration-and-listing/bakerloo/btc.json`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().StringVar(&registerContext, "context", "",
		"deployment context used to detect the environment (default: the file path)")
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	raw, err := readSpecFile(args[0])
	if err != nil {
		return err
	}
	orch, err := svc.Registrar(ctx)
	if err != nil {
		return err
	}
	guard, err := svc.Guard(ctx, admission.StakeCheckAuto)
	if err != nil {
		return err
	}

	res, err := guard.ValidateDocument(ctx, raw, deployContext(args[0], registerContext))
	if err != nil {
		return err
	}
	printAdmission(out, res)

	if err := printTransitions(out, orch.Register(ctx, res)); err != nil {
		return err
	}
	fmt.Fprintf(out, "PRODUCT_ID=%s\n", res.ProductID.Hex())
	return nil
}
