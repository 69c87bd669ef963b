// Command faultmaven drives troubleshooting investigations from the terminal.
//
// Commands:
//   - serve     run the metrics listener and watch the config file
//   - chat      interactive session against one investigation
//   - turn      process a single message and print the result
//   - show      print the stored investigation state
//   - list      list stored investigations
//   - handoffs  list escalation handoffs for an investigation
//
// Configuration comes from faultmaven.yaml (or --config), overridden by
// FAULTMAVEN_* environment variables and then by flags.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/config"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/server"
)

var rootFlags struct {
	configPath string
	dbPath     string
	provider   string
	logLevel   string
}

var rootCmd = &cobra.Command{
	Use:   "faultmaven",
	Short: "Troubleshooting investigation engine",
	Long: `faultmaven runs troubleshooting investigations as a phase-driven state machine.

Each message is one turn: it is classified, routed to a reasoning strategy,
answered by the configured language model, and folded back into the stored
investigation state. Investigations escalate to a human team when they stall.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "faultmaven.yaml", "path to the config file")
	pf.StringVar(&rootFlags.dbPath, "db", "", "SQLite database path (overrides database.sqlite_path)")
	pf.StringVar(&rootFlags.provider, "provider", "", "LLM provider (overrides llm.provider)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "log level (overrides logging.level)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(turnCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(handoffsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig(ctx context.Context) (config.ConfigManager, *config.Config, error) {
	mgr, err := config.NewConfigManager(rootFlags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get(ctx)
	applyFlags(cfg)
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, cfg, nil
}

func applyFlags(cfg *config.Config) {
	if rootFlags.dbPath != "" {
		cfg.Database.Type = "sqlite"
		cfg.Database.SQLitePath = rootFlags.dbPath
	}
	config.SwitchProvider(cfg, rootFlags.provider)
	if rootFlags.logLevel != "" {
		cfg.Logging.Level = rootFlags.logLevel
	}
}

// startRuntime loads configuration and starts a server for one command.
// The caller must Stop it.
func startRuntime(ctx context.Context) (*server.Server, error) {
	_, cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	srv, err := server.NewServer(cfg)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		_ = srv.Close()
		return nil, err
	}
	return srv, nil
}
