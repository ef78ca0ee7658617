package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cablex/internal/config"
	"github.com/nvandessel/cablex/internal/logging"
	"github.com/nvandessel/cablex/internal/store"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cablex",
		Short: "Cable expansion for neuron dendrite models",
		Long: `cablex replaces soma-attached dendritic subtrees of a compartmental
neuron model with a trunk and identical branches whose transfer impedance
matches the original, and moves synapses and ion-channel densities to the
electrotonically equivalent positions.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Workspace root directory")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.cablex/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug, or trace")

	rootCmd.AddCommand(
		newVersionCmd(),
		newExpandCmd(),
		newInspectCmd(),
		newGraphCmd(),
		newRunsCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

// loadConfig loads --config when given, else the default locations, and
// applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.CablexConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.CablexConfig
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// workspaceRoot returns the absolute --root directory.
func workspaceRoot(cmd *cobra.Command) (string, error) {
	root, _ := cmd.Flags().GetString("root")
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}
	return abs, nil
}

// newLoggers builds the stderr logger and, at debug level or below, the
// decision trace in <root>/.cablex.
func newLoggers(cmd *cobra.Command, cfg *config.CablexConfig, root string) (*slog.Logger, *logging.DecisionLogger) {
	logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
	decisions := logging.NewDecisionLogger(store.LocalPath(root), cfg.Logging.Level)
	return logger, decisions
}

// openLedger opens the SQLite run ledger configured in cfg, or returns nil
// when recording is disabled.
func openLedger(cmd *cobra.Command, cfg *config.CablexConfig, root string) (*store.SQLiteLedger, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	path := cfg.Store.Path
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(root); err != nil {
			return nil, err
		}
	}
	ledger, err := store.OpenSQLite(cmd.Context(), path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger: %w", err)
	}
	return ledger, nil
}

// valueOrDefault returns the value if non-empty, otherwise the default.
func valueOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}
