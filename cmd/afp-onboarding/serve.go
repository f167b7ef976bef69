package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
	"github.com/Checker-Finance/afp-onboarding/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the onboarding HTTP API",
	Long: `Serve admission and lifecycle operations over HTTP on PORT, together
with /health and Prometheus /metrics.

Registration endpoints answer 503 when the chain, IPFS or NATS settings are
missing. Listing still works when only the exchange is configured.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := svc.log

	// --- Admission ---
	guard, err := svc.Guard(ctx, admission.StakeCheckAuto)
	if err != nil {
		return err
	}

	// --- Lifecycle ---
	var lifecycle api.Lifecycle
	if orch, err := svc.Registrar(ctx); err == nil {
		lifecycle = orch
	} else if orch, lerr := svc.Lister(); lerr == nil {
		log.Warn("serve.registration_disabled", zap.Error(err))
		lifecycle = orch
	} else {
		log.Warn("serve.lifecycle_disabled", zap.Error(err), zap.NamedError("exchange", lerr))
	}

	// --- Health checks ---
	checks := map[string]api.HealthChecker{}
	if svc.cache != nil {
		checks["redis"] = svc.cache
	}
	if svc.nc != nil {
		nc := svc.nc
		checks["nats"] = api.HealthFunc(func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		})
	}
	if svc.pool != nil {
		checks["participant_registry"] = api.HealthFunc(svc.pool.Ping)
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.HTTPReadTimeout,
		WriteTimeout:          cfg.HTTPWriteTimeout,
		IdleTimeout:           cfg.HTTPIdleTimeout,
		BodyLimit:             cfg.HTTPBodyLimit,
		DisableStartupMessage: true,
	})
	api.RegisterRoutes(app, api.NewHandler(log, guard, lifecycle, cfg.ValidateEnvironment), checks)

	listenErr := make(chan error, 1)
	go func() {
		log.Info("serve.listening", zap.Int("port", cfg.Port))
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.Port))
	}()

	log.Info("serve.running",
		zap.String("env", cfg.Env),
		zap.String("network", cfg.Network),
		zap.Bool("lifecycle", lifecycle != nil),
		zap.Int("health_checks", len(checks)),
	)

	select {
	case err := <-listenErr:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	log.Info("serve.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("fiber.shutdown_failed", zap.Error(err))
	}
	return nil
}
