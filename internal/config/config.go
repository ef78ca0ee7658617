// Package config provides unified configuration loading for cablex.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/cablex/internal/cable"
	"github.com/nvandessel/cablex/internal/expander"
	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/segmap"
	"github.com/nvandessel/cablex/internal/synapse"
)

// DirName is the per-user and per-workspace configuration directory.
const DirName = ".cablex"

// CablexConfig contains all cablex configuration settings.
type CablexConfig struct {
	// Expansion contains the transformation parameters.
	Expansion ExpansionConfig `json:"expansion" yaml:"expansion"`

	// Subtrees is the expansion plan: which soma children to expand and how.
	Subtrees []SubtreeConfig `json:"subtrees,omitempty" yaml:"subtrees,omitempty"`

	// Synapses contains point-process settings.
	Synapses SynapseConfig `json:"synapses" yaml:"synapses"`

	// Logging contains settings for operational and decision logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Store configures the run ledger.
	Store StoreConfig `json:"store" yaml:"store"`
}

// ExpansionConfig holds the numeric parameters of one transformation.
type ExpansionConfig struct {
	// Frequency in Hz at which transfer impedances are matched.
	Frequency float64 `json:"frequency" yaml:"frequency"`

	// TotalSegments is -1 for the lambda rule, a fraction in (0,1) for a
	// minimum share of the original segment count, or an integer total.
	TotalSegments float64 `json:"total_segments" yaml:"total_segments"`

	// Mapping selects the segment mapping mode. Only "impedance" is supported.
	Mapping string `json:"mapping" yaml:"mapping"`

	// Seed seeds branch synapse distribution.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Report requests the textual segment map.
	Report bool `json:"report" yaml:"report"`
}

// SubtreeConfig names one soma child to expand.
type SubtreeConfig struct {
	// Section is a section name such as "apic[0]" or "dend[2]".
	Section string `json:"section" yaml:"section"`

	// Furcation is the fraction of the cable kept as trunk, in (0,1).
	Furcation float64 `json:"furcation" yaml:"furcation"`

	// Branches is decoded as a number so that non-integral counts are
	// rejected by Validate instead of by the YAML decoder.
	Branches float64 `json:"branches" yaml:"branches"`
}

// SynapseConfig configures synapse merging.
type SynapseConfig struct {
	// Params pre-populates the point-process parameter dictionary,
	// kind -> parameter names compared when merging.
	Params map[string][]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// LoggingConfig configures cablex's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables decision logging to .cablex/decisions.jsonl.
	// "trace" additionally logs every segment mapping.
	Level string `json:"level" yaml:"level"`
}

// StoreConfig configures the SQLite run ledger.
type StoreConfig struct {
	// Enabled records every transformation run by the CLI or MCP server.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path overrides the database location. Defaults to .cablex/runs.db
	// in the workspace.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Default returns a CablexConfig with sensible defaults.
func Default() *CablexConfig {
	return &CablexConfig{
		Expansion: ExpansionConfig{
			Frequency:     0,
			TotalSegments: cable.AutoSegments,
			Mapping:       string(segmap.Impedance),
			Seed:          synapse.DefaultSeed,
			Report:        false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Store: StoreConfig{
			Enabled: true,
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.cablex/config.yaml -> environment variables
func Load() (*CablexConfig, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, DirName, "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*CablexConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Store.Path = expandEnvVars(config.Store.Path)

	return config, nil
}

// MergePlan copies the subtree plan and synapse parameters of a plan file
// over c. Expansion settings in the plan replace c's only when present.
func (c *CablexConfig) MergePlan(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading plan: %w", err)
	}
	plan := &CablexConfig{Expansion: c.Expansion}
	if err := yaml.Unmarshal(data, plan); err != nil {
		return fmt.Errorf("parsing plan: %w", err)
	}
	c.Expansion = plan.Expansion
	if len(plan.Subtrees) > 0 {
		c.Subtrees = plan.Subtrees
	}
	if len(plan.Synapses.Params) > 0 {
		c.Synapses.Params = plan.Synapses.Params
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *CablexConfig) Validate() error {
	if c.Expansion.Frequency < 0 {
		return fmt.Errorf("frequency must be non-negative, got %g", c.Expansion.Frequency)
	}
	if _, err := cable.Policy(c.Expansion.TotalSegments, 1); err != nil {
		return fmt.Errorf("total_segments: %w", err)
	}
	if _, err := segmap.ParseMode(c.Expansion.Mapping); err != nil {
		return fmt.Errorf("mapping: %w", err)
	}

	for i, st := range c.Subtrees {
		if strings.TrimSpace(st.Section) == "" {
			return fmt.Errorf("subtrees[%d]: section is required", i)
		}
		if !(st.Furcation > 0 && st.Furcation < 1) {
			return fmt.Errorf("subtrees[%d]: %w: %g", i, cable.ErrInvalidFurcation, st.Furcation)
		}
		if _, err := cable.BranchCount(st.Branches); err != nil {
			return fmt.Errorf("subtrees[%d]: %w", i, err)
		}
	}

	for kind, params := range c.Synapses.Params {
		if len(params) == 0 {
			return fmt.Errorf("synapses.params.%s: at least one parameter is required", kind)
		}
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// Request resolves the subtree plan against cell and returns a request
// without synapses or connections.
func (c *CablexConfig) Request(cell *morph.Cell) (expander.Request, error) {
	if err := c.Validate(); err != nil {
		return expander.Request{}, err
	}
	if len(c.Subtrees) == 0 {
		return expander.Request{}, fmt.Errorf("%w: no subtrees configured", expander.ErrRequestMismatch)
	}
	req := expander.Request{
		Cell:          cell,
		Frequency:     c.Expansion.Frequency,
		TotalSegments: c.Expansion.TotalSegments,
		Mapping:       segmap.Mode(c.Expansion.Mapping),
		Report:        c.Expansion.Report,
	}
	if len(c.Synapses.Params) > 0 {
		req.Params = synapse.ParamDict(c.Synapses.Params).Clone()
	}
	for i, st := range c.Subtrees {
		id, err := cell.Lookup(st.Section)
		if err != nil {
			return expander.Request{}, fmt.Errorf("subtrees[%d]: %w", i, err)
		}
		n, _ := cable.BranchCount(st.Branches)
		req.Sections = append(req.Sections, id)
		req.Furcations = append(req.Furcations, st.Furcation)
		req.Branches = append(req.Branches, n)
	}
	return req, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *CablexConfig) {
	if v := os.Getenv("CABLEX_FREQUENCY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Expansion.Frequency = f
		}
	}

	if v := os.Getenv("CABLEX_TOTAL_SEGMENTS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Expansion.TotalSegments = f
		}
	}

	if v := os.Getenv("CABLEX_MAPPING"); v != "" {
		config.Expansion.Mapping = v
	}

	if v := os.Getenv("CABLEX_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Expansion.Seed = n
		}
	}

	if v := os.Getenv("CABLEX_STORE"); v != "" {
		config.Store.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("CABLEX_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
