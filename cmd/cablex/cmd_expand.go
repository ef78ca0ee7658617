package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cablex/internal/config"
	"github.com/nvandessel/cablex/internal/pipeline"
)

func newExpandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand <cell-file>",
		Short: "Expand dendritic subtrees into trunk-and-branch cables",
		Long: `Replace each planned soma-attached subtree with a trunk and N identical
branches, then relocate synapses, copy channel densities and write the new
cell document. The input file is never modified.

The plan comes from the config file, a --plan file, or --subtree flags
(section:furcation:branches). The apical subtree, if any, must come first.

Examples:
  cablex expand cell.json --subtree apic[0]:0.5:3 --subtree dend[0]:0.3:2
  cablex expand cell.json --plan plan.yaml -o expanded.json.gz --compress
  cablex expand cell.json --plan plan.yaml --report --json`,
		Args: cobra.ExactArgs(1),
		RunE: runExpand,
	}

	cmd.Flags().StringP("out", "o", "", "Output path (default <input>.expanded.json)")
	cmd.Flags().String("plan", "", "YAML plan file with subtrees and expansion settings")
	cmd.Flags().StringArray("subtree", nil, "Subtree to expand as section:furcation:branches (repeatable)")
	cmd.Flags().Float64("frequency", 0, "Frequency in Hz at which transfer impedances are matched")
	cmd.Flags().Float64("total-segments", -1, "Segment policy: -1 lambda rule, (0,1) minimum fraction, integer >= 1 total")
	cmd.Flags().Uint64("seed", 0, "Seed for branch synapse distribution")
	cmd.Flags().Bool("compress", false, "Write a checksummed gzip document")
	cmd.Flags().Bool("report", false, "Print the segment map")
	cmd.Flags().Bool("no-record", false, "Do not record the run in the ledger")

	return cmd
}

func runExpand(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	input := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyExpandFlags(cmd, cfg); err != nil {
		return err
	}

	root, err := workspaceRoot(cmd)
	if err != nil {
		return err
	}
	if noRecord, _ := cmd.Flags().GetBool("no-record"); noRecord {
		cfg.Store.Enabled = false
	}

	compress, _ := cmd.Flags().GetBool("compress")
	output, _ := cmd.Flags().GetString("out")
	if output == "" {
		output = defaultOutputPath(input, compress)
	}
	if same, _ := samePath(input, output); same {
		return fmt.Errorf("output path must differ from input path")
	}

	logger, decisions := newLoggers(cmd, cfg, root)
	defer decisions.Close()

	runner := pipeline.NewRunner(nil)
	ledger, err := openLedger(cmd, cfg, root)
	if err != nil {
		return err
	}
	if ledger != nil {
		defer ledger.Close()
		runner = pipeline.NewRunner(ledger)
	}
	runner.SetLogger(logger, decisions)

	outcome, err := runner.Run(cmd.Context(), pipeline.Job{
		InputPath:  input,
		OutputPath: output,
		Compress:   compress,
		Config:     cfg,
	})
	if err != nil {
		return fmt.Errorf("expansion failed: %w", err)
	}

	res, run := outcome.Result, outcome.Run
	newSections := make([]string, 0, len(res.Tree.Sections()))
	for _, id := range res.Tree.Sections() {
		newSections = append(newSections, res.Cell.Name(id))
	}

	var orphans, compensated, unresolved int
	if rep := res.Mechanisms; rep != nil {
		orphans, compensated, unresolved = len(rep.Orphans), rep.Compensated, len(rep.Unresolved)
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"run_id":       outcome.RunID,
			"output_path":  output,
			"subtrees":     run.Subtrees,
			"new_sections": newSections,
			"synapses_in":  run.SynapsesIn,
			"synapses_out": run.SynapsesOut,
			"merged":       run.Merged,
			"clamped":      run.Clamped,
			"warnings":     run.Warnings,
			"orphans":      orphans,
			"compensated":  compensated,
			"unresolved":   unresolved,
			"report":       res.Report,
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Expanded %d subtree(s) of %s:\n", len(run.Subtrees), valueOrDefault(run.Cell, input))
	for _, st := range run.Subtrees {
		fmt.Fprintf(out, "  %s  furcation %g  %d branches\n", st.Section, st.Furcation, st.Branches)
	}
	fmt.Fprintf(out, "New sections: %s\n", strings.Join(newSections, ", "))
	fmt.Fprintf(out, "Synapses: %d in, %d out, %d merged, %d clamped\n",
		run.SynapsesIn, run.SynapsesOut, run.Merged, run.Clamped)
	if orphans > 0 {
		fmt.Fprintf(out, "Orphan segments: %d, %d compensated from neighbors, %d unresolved\n",
			orphans, compensated, unresolved)
	}
	if len(res.Report) > 0 {
		fmt.Fprintln(out, "\nSegment map:")
		for _, line := range res.Report {
			fmt.Fprintf(out, "  %s\n", line)
		}
		fmt.Fprintln(out)
	}
	if outcome.RunID != "" {
		fmt.Fprintf(out, "Run: %s\n", outcome.RunID)
	}
	fmt.Fprintf(out, "Written to %s\n", output)
	return nil
}

// applyExpandFlags layers --plan, --subtree and the numeric flags over cfg.
func applyExpandFlags(cmd *cobra.Command, cfg *config.CablexConfig) error {
	if plan, _ := cmd.Flags().GetString("plan"); plan != "" {
		if err := cfg.MergePlan(plan); err != nil {
			return err
		}
	}
	if specs, _ := cmd.Flags().GetStringArray("subtree"); len(specs) > 0 {
		cfg.Subtrees = cfg.Subtrees[:0]
		for _, s := range specs {
			st, err := parseSubtree(s)
			if err != nil {
				return err
			}
			cfg.Subtrees = append(cfg.Subtrees, st)
		}
	}
	if cmd.Flags().Changed("frequency") {
		cfg.Expansion.Frequency, _ = cmd.Flags().GetFloat64("frequency")
	}
	if cmd.Flags().Changed("total-segments") {
		cfg.Expansion.TotalSegments, _ = cmd.Flags().GetFloat64("total-segments")
	}
	if cmd.Flags().Changed("seed") {
		cfg.Expansion.Seed, _ = cmd.Flags().GetUint64("seed")
	}
	if report, _ := cmd.Flags().GetBool("report"); report {
		cfg.Expansion.Report = true
	}
	return nil
}

// parseSubtree parses "section:furcation:branches", e.g. "apic[0]:0.5:3".
func parseSubtree(s string) (config.SubtreeConfig, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return config.SubtreeConfig{}, fmt.Errorf("invalid subtree %q (want section:furcation:branches)", s)
	}
	furcation, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return config.SubtreeConfig{}, fmt.Errorf("invalid furcation in %q: %w", s, err)
	}
	branches, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return config.SubtreeConfig{}, fmt.Errorf("invalid branch count in %q: %w", s, err)
	}
	return config.SubtreeConfig{
		Section:   strings.TrimSpace(parts[0]),
		Furcation: furcation,
		Branches:  branches,
	}, nil
}

// defaultOutputPath turns cell.json into cell.expanded.json (or .json.gz).
func defaultOutputPath(input string, compress bool) string {
	base := strings.TrimSuffix(input, ".gz")
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if compress {
		return base + ".expanded.json.gz"
	}
	return base + ".expanded.json"
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
