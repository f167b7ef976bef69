package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
)

var onboardContext string

var onboardCmd = &cobra.Command{
	Use:   "onboard <spec.json>",
	Short: "Admit, register, list and reveal a product",
	Long: `Run the full onboarding pipeline for one specification: admission,
registration, listing and reveal. Steps whose target state already holds are
skipped, and the pipeline stops at the first failed step. Re-running resumes
where the previous run stopped: an already registered product is exempt from
the mainnet start time lead rule. "list <product-id>" resumes listing alone.

Example:
  afp-onboarding onboard products/product-registration-and-listing/mainnet/eth.json`,
	Args: cobra.ExactArgs(1),
	RunE: runOnboard,
}

func init() {
	onboardCmd.Flags().StringVar(&onboardContext, "context", "",
		"deployment context used to detect the environment (default: the file path)")
}

func runOnboard(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if err := cfg.RequireExchange(); err != nil {
		return err
	}
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

	res, err := guard.ValidateDocument(ctx, raw, deployContext(args[0], onboardContext))
	if err != nil {
		return err
	}
	printAdmission(out, res)

	if err := printTransitions(out, orch.Onboard(ctx, res)...); err != nil {
		return err
	}
	fmt.Fprintf(out, "PRODUCT_ID=%s\n", res.ProductID.Hex())
	return nil
}
