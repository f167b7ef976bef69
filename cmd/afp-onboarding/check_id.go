package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkIDCmd = &cobra.Command{
	Use:   "check-id <product-id>",
	Short: "Check the format of a product id",
	Long: `Check that a product id is 0x followed by 64 hex characters. No network
access is needed.

Example:
  afp-onboarding check-id 0x3f2a...c9d1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProductID(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "PRODUCT_ID=%s\n", id.Hex())
		return nil
	},
}
