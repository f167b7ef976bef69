package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
)

var (
	validateContext    string
	validateStakeCheck string
)

var validateCmd = &cobra.Command{
	Use:   "validate <spec.json | product-id>",
	Short: "Validate a product specification or a registered product",
	Long: `Validate a product before or after registration.

A path to a JSON file is validated as a specification. The deployment context
(by default the file path) selects the environment rules: paths containing
"bakerloo" or "mainnet" pin the oracle and collateral addresses, and mainnet
requires the start time to be at least two working days away.

A product id (0x followed by 64 hex characters) is fetched back from the
exchange and re-validated under VALIDATE_ENVIRONMENT.

Examples:
  afp-onboarding validate products/bakerloo/btc-weekly.json
  afp-onboarding validate draft.json --context products/mainnet/draft.json
  afp-onboarding validate 0x3f2a...c9d1`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateContext, "context", "",
		"deployment context used to detect the environment (default: the file path)")
	validateCmd.Flags().StringVar(&validateStakeCheck, "stake-check", "auto",
		"stake coverage check: auto, off, wallet or margin")
}

func runValidate(cmd *cobra.Command, args []string) error {
	arg := args[0]
	mode, err := parseStakeCheck(validateStakeCheck)
	if err != nil {
		return err
	}

	switch detectInput(arg) {
	case inputSpecFile:
		raw, err := readSpecFile(arg)
		if err != nil {
			return err
		}
		guard, err := svc.Guard(cmd.Context(), mode)
		if err != nil {
			return err
		}
		res, err := guard.ValidateDocument(cmd.Context(), raw, deployContext(arg, validateContext))
		if err != nil {
			return err
		}
		printAdmission(cmd.OutOrStdout(), res)
		return nil

	case inputProductID:
		if err := cfg.RequireExchange(); err != nil {
			return err
		}
		guard, err := svc.Guard(cmd.Context(), admission.StakeCheckOff)
		if err != nil {
			return err
		}
		res, err := guard.ValidateRegistered(cmd.Context(), arg, cfg.ValidateEnvironment)
		if err != nil {
			return err
		}
		printAdmission(cmd.OutOrStdout(), res)
		return nil
	}
	return errUnknownInput(arg)
}

func deployContext(path, override string) string {
	if override != "" {
		return override
	}
	return path
}

func parseStakeCheck(s string) (admission.StakeCheck, error) {
	switch s {
	case "", "auto":
		return admission.StakeCheckAuto, nil
	case "off":
		return admission.StakeCheckOff, nil
	case "wallet":
		return admission.StakeCheckWallet, nil
	case "margin":
		return admission.StakeCheckMargin, nil
	}
	return 0, fmt.Errorf("invalid --stake-check %q: want auto, off, wallet or margin", s)
}
