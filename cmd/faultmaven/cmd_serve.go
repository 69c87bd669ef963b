package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/audit"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/config"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics and watch the config file until interrupted",
	Long: `Serve starts the metrics listener and blocks until SIGINT or SIGTERM.

Edits to the config file are validated and logged. Orchestrator thresholds
are read once at startup; restart to apply them.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		_ = srv.Close()
		return fmt.Errorf("start server: %w", err)
	}
	logger := srv.Logger()

	if addr := srv.MetricsAddr(); addr != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "serving metrics on http://%s/metrics\n", addr)
	}

	changes := mgr.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
			if err := srv.Stop(); err != nil {
				return fmt.Errorf("stop server: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shutdown complete")
			return nil
		case next := <-changes:
			recordConfigChange(ctx, logger, srv.Audit(), &next)
		}
	}
}

func recordConfigChange(ctx context.Context, logger *zap.Logger, auditLog audit.Logger, next *config.Config) {
	if errs := next.Validate(); len(errs) > 0 {
		logger.Warn("ignoring invalid config change", zap.Errors("errors", errs))
		return
	}
	logger.Info("config file changed; orchestrator settings apply after restart",
		zap.String("llm_provider", next.LLM.Provider),
		zap.Int("max_loop_iterations", next.Orchestrator.MaxLoopIterations),
	)
	ev := audit.NewEvent(audit.EventConfigChanged).
		WithDescription("config file changed")
	if err := auditLog.Log(ctx, ev); err != nil {
		logger.Warn("audit config change", zap.Error(err))
	}
}
