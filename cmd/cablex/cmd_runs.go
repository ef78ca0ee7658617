package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cablex/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the ledger of recorded expansions",
		Long: `Every expand records its parameters, segment map and synapse moves in
.cablex/runs.db under the workspace root.

Examples:
  cablex runs list
  cablex runs show 6f1c...
  cablex runs export -o runs.jsonl
  cablex runs import runs.jsonl`,
	}

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsDeleteCmd(),
		newRunsExportCmd(),
		newRunsImportCmd(),
	)
	return cmd
}

// withLedger opens the configured ledger for the duration of fn.
func withLedger(cmd *cobra.Command, fn func(store.Ledger) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	root, err := workspaceRoot(cmd)
	if err != nil {
		return err
	}
	if !cfg.Store.Enabled {
		return fmt.Errorf("run ledger is disabled (store.enabled: false)")
	}
	ledger, err := openLedger(cmd, cfg, root)
	if err != nil {
		return err
	}
	defer ledger.Close()
	return fn(ledger)
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			return withLedger(cmd, func(l store.Ledger) error {
				runs, err := l.List(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("failed to list runs: %w", err)
				}

				if jsonOut {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
						"runs":        runs,
						"total_count": len(runs),
					})
				}

				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded.")
					return nil
				}
				for _, r := range runs {
					sections := make([]string, 0, len(r.Subtrees))
					for _, st := range r.Subtrees {
						sections = append(sections, fmt.Sprintf("%s×%d", st.Section, st.Branches))
					}
					fmt.Fprintf(out, "  %s  %s  %-12s  %-24s  %d→%d synapses  %s\n",
						r.CreatedAt.Local().Format("2006-01-02 15:04"),
						shortID(r.ID),
						valueOrDefault(r.Cell, "-"),
						strings.Join(sections, ","),
						r.SynapsesIn, r.SynapsesOut,
						valueOrDefault(r.OutputPath, "(not written)"),
					)
				}
				fmt.Fprintf(out, "Total: %d runs\n", len(runs))
				return nil
			})
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum runs to list (-1 for all)")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run with its segment map and synapse moves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			return withLedger(cmd, func(l store.Ledger) error {
				run, err := findRun(cmd, l, args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(run)
				}
				printRun(cmd.OutOrStdout(), run)
				return nil
			})
		},
	}
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(l store.Ledger) error {
				run, err := findRun(cmd, l, args[0])
				if err != nil {
					return err
				}
				if err := l.Delete(cmd.Context(), run.ID); err != nil {
					return fmt.Errorf("failed to delete run: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", run.ID)
				return nil
			})
		},
	}
}

func newRunsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all runs as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")

			return withLedger(cmd, func(l store.Ledger) error {
				var w io.Writer = cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", output, err)
					}
					defer f.Close()
					w = f
				}
				n, err := store.ExportJSONL(cmd.Context(), l, w)
				if err != nil {
					return err
				}
				if output != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Exported %d runs to %s\n", n, output)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	return cmd
}

func newRunsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import runs from a JSON lines export; existing IDs are skipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			return withLedger(cmd, func(l store.Ledger) error {
				n, err := store.ImportJSONL(cmd.Context(), l, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d runs\n", n)
				return nil
			})
		},
	}
}

// findRun resolves a full ID or a unique prefix of at least four characters.
func findRun(cmd *cobra.Command, l store.Ledger, id string) (*store.Run, error) {
	run, err := l.Get(cmd.Context(), id)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, store.ErrRunNotFound) || len(id) < 4 {
		return nil, err
	}

	runs, lerr := l.List(cmd.Context(), -1)
	if lerr != nil {
		return nil, fmt.Errorf("failed to list runs: %w", lerr)
	}
	var match string
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			if match != "" {
				return nil, fmt.Errorf("ambiguous run prefix %q", id)
			}
			match = r.ID
		}
	}
	if match == "" {
		return nil, err
	}
	return l.Get(cmd.Context(), match)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printRun(w io.Writer, run *store.Run) {
	fmt.Fprintf(w, "Run %s\n", run.ID)
	fmt.Fprintf(w, "  created:        %s\n", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  cell:           %s\n", valueOrDefault(run.Cell, "-"))
	fmt.Fprintf(w, "  input:          %s\n", valueOrDefault(run.InputPath, "-"))
	fmt.Fprintf(w, "  output:         %s\n", valueOrDefault(run.OutputPath, "(not written)"))
	fmt.Fprintf(w, "  frequency:      %g Hz\n", run.Frequency)
	fmt.Fprintf(w, "  total_segments: %g\n", run.TotalSegments)
	fmt.Fprintf(w, "  mapping:        %s\n", run.Mapping)
	fmt.Fprintf(w, "  seed:           %d\n", run.Seed)
	fmt.Fprintf(w, "  synapses:       %d in, %d out, %d merged, %d clamped\n",
		run.SynapsesIn, run.SynapsesOut, run.Merged, run.Clamped)
	fmt.Fprintf(w, "  new sections:   %d\n", run.NewSections)
	if run.Warnings > 0 {
		fmt.Fprintf(w, "  warnings:       %d\n", run.Warnings)
	}

	fmt.Fprintln(w, "\nSubtrees:")
	for _, st := range run.Subtrees {
		fmt.Fprintf(w, "  %s  furcation %g  %d branches\n", st.Section, st.Furcation, st.Branches)
	}
	if len(run.Map) > 0 {
		fmt.Fprintln(w, "\nSegment map:")
		for _, e := range run.Map {
			fmt.Fprintf(w, "  %s -> %s\n", e.Original, strings.Join(e.Images, ", "))
		}
	}
	if len(run.Moves) > 0 {
		fmt.Fprintln(w, "\nSynapse moves:")
		for _, mv := range run.Moves {
			line := fmt.Sprintf("  %d -> %s", mv.Synapse, mv.Destination)
			if mv.MergedInto != nil {
				line += fmt.Sprintf(" (merged into %d)", *mv.MergedInto)
			}
			if mv.Clamped {
				line += " (clamped)"
			}
			fmt.Fprintln(w, line)
		}
	}
}
