package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
	"github.com/deeplifeai/swarmweaver-sub001/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator",
		Long: `Run the coordinator: consume chat messages from NATS, route them to
agents, execute requested functions and publish replies. The admin API and
/metrics are served over HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

// serve starts the coordinator and blocks until ctx is cancelled.
//
// Startup order:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Builds the components (see buildApp)
//  4. Runs until a signal arrives, then shuts down in reverse order
func serve(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting swarmweaver",
		zap.String("version", version),
		zap.String("provider", cfg.LLM.Provider),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Int("http_port", cfg.Server.Port),
	)

	a, err := buildApp(ctx, cfg, appOptions{telemetry: tel, logger: logger})
	if err != nil {
		shutdownTelemetry(ctx, tel, logger)
		return err
	}
	if err := a.run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info(context.Background(), "shutdown complete")
	return nil
}

func shutdownTelemetry(ctx context.Context, tel *telemetry.Telemetry, logger *logging.Logger) {
	if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
}
