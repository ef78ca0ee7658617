package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/cablex/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cablex configuration",
		Long: `View and modify cablex configuration settings.

Configuration is stored in ~/.cablex/config.yaml.

Examples:
  cablex config list                          # Show all settings
  cablex config get expansion.frequency       # Get a specific setting
  cablex config set expansion.frequency 100   # Set a setting
  cablex config set logging.level debug`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

// configKeys lists the settable keys in display order.
var configKeys = []string{
	"expansion.frequency",
	"expansion.total_segments",
	"expansion.mapping",
	"expansion.seed",
	"expansion.report",
	"logging.level",
	"store.enabled",
	"store.path",
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration (~/.cablex/config.yaml):")
			fmt.Fprintln(out)
			for _, key := range configKeys {
				v, _ := getConfigValue(cfg, key)
				s := fmt.Sprintf("%v", v)
				fmt.Fprintf(out, "  %-26s %s\n", key+":", valueOrDefault(s, "(default)"))
			}
			if len(cfg.Subtrees) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Subtrees:")
				for _, st := range cfg.Subtrees {
					fmt.Fprintf(out, "  %s  furcation %g  %g branches\n", st.Section, st.Furcation, st.Branches)
				}
			}
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			value, found := getConfigValue(cfg, key)
			if !found {
				return fmt.Errorf("unknown configuration key: %s", key)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"key":   key,
					"value": value,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key, value := args[0], args[1]

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"status": "updated",
					"key":    key,
					"value":  value,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.CablexConfig, key string) (interface{}, bool) {
	switch key {
	case "expansion.frequency":
		return cfg.Expansion.Frequency, true
	case "expansion.total_segments":
		return cfg.Expansion.TotalSegments, true
	case "expansion.mapping":
		return cfg.Expansion.Mapping, true
	case "expansion.seed":
		return cfg.Expansion.Seed, true
	case "expansion.report":
		return cfg.Expansion.Report, true
	case "logging.level":
		return cfg.Logging.Level, true
	case "store.enabled":
		return cfg.Store.Enabled, true
	case "store.path":
		return cfg.Store.Path, true
	default:
		return nil, false
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.CablexConfig, key, value string) error {
	parseFloat := func() (float64, error) {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %s", key, value)
		}
		return f, nil
	}

	switch key {
	case "expansion.frequency":
		f, err := parseFloat()
		if err != nil {
			return err
		}
		cfg.Expansion.Frequency = f
	case "expansion.total_segments":
		f, err := parseFloat()
		if err != nil {
			return err
		}
		cfg.Expansion.TotalSegments = f
	case "expansion.mapping":
		cfg.Expansion.Mapping = value
	case "expansion.seed":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seed: %s", value)
		}
		cfg.Expansion.Seed = n
	case "expansion.report":
		cfg.Expansion.Report = value == "true" || value == "1"
	case "logging.level":
		cfg.Logging.Level = value
	case "store.enabled":
		cfg.Store.Enabled = value == "true" || value == "1"
	case "store.path":
		cfg.Store.Path = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

// saveConfig writes the configuration to ~/.cablex/config.yaml.
func saveConfig(cfg *config.CablexConfig) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	dir := filepath.Join(homeDir, config.DirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", config.DirName, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
