package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Checker-Finance/afp-onboarding/internal/secrets"
	"github.com/Checker-Finance/afp-onboarding/pkg/config"
	"github.com/Checker-Finance/afp-onboarding/pkg/logger"
)

var (
	version = "dev"
	cfg     *config.Config
	svc     *services
)

var rootCmd = &cobra.Command{
	Use:   "afp-onboarding",
	Short: "Admit, register and list AFP prediction products",
	Long: `afp-onboarding checks prediction product specifications against the
AFP onboarding rules and drives admitted products through registration,
listing and reveal.

Configuration is read from the environment and an optional .env file.
Secrets may be overlaid from AWS Secrets Manager by setting AWS_SECRET_NAME.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.AddCommand(validateCmd, registerCmd, listCmd, onboardCmd, checkIDCmd, serveCmd)
}

// setup loads configuration and the logger before any command runs. Only
// serve logs to stdout.
func setup(cmd *cobra.Command, _ []string) error {
	cfg = config.Load()
	if cmd == serveCmd {
		logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	} else {
		logger.InitCLI(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	}

	if err := secrets.Overlay(cmd.Context(), cfg, logger.L()); err != nil {
		return fmt.Errorf("load secrets: %w", err)
	}
	svc = newServices(cfg, logger.L())
	return nil
}
