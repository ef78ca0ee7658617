package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cablex/internal/cable"
	"github.com/nvandessel/cablex/internal/classify"
	"github.com/nvandessel/cablex/internal/config"
	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/pipeline"
)

// sectionInfo is one row of the inspect table.
type sectionInfo struct {
	Name         string   `json:"name"`
	Parent       string   `json:"parent,omitempty"`
	ParentX      float64  `json:"parent_x,omitempty"`
	L            float64  `json:"L"`
	Diam         float64  `json:"diam"`
	Nseg         int      `json:"nseg"`
	Electrotonic float64  `json:"electrotonic_length,omitempty"`
	Mechanisms   []string `json:"mechanisms,omitempty"`
	Points       int      `json:"point_processes"`
	Subtree      string   `json:"subtree,omitempty"`
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <cell-file>",
		Short: "Show the sections of a cell and what a plan would replace",
		Long: `List every section of a cell document with its geometry, DC electrotonic
length, mechanisms and point processes.

With --plan or --subtree the plan is checked against the cell and each
section is tagged with the subtree that would replace it.

Examples:
  cablex inspect cell.json
  cablex inspect cell.json --subtree apic[0]:0.5:3 --json`,
		Args: cobra.ExactArgs(1),
		RunE: runInspect,
	}
	cmd.Flags().String("plan", "", "YAML plan file to preview")
	cmd.Flags().StringArray("subtree", nil, "Subtree to preview as section:furcation:branches (repeatable)")
	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	loaded, err := pipeline.Load(args[0])
	if err != nil {
		return err
	}
	c := loaded.Cell

	ix, err := previewPlan(cmd, c)
	if err != nil {
		return err
	}

	rows := describeSections(c, ix)
	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"cell":          c.Label,
			"sections":      rows,
			"segment_count": c.SegmentCount(c.Sections()...),
			"synapses":      len(loaded.Synapses),
			"connections":   len(loaded.Connections),
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cell %s: %d sections, %d segments, %d synapses, %d connections\n\n",
		valueOrDefault(c.Label, "(unnamed)"), len(rows), c.SegmentCount(c.Sections()...), len(loaded.Synapses), len(loaded.Connections))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SECTION\tPARENT\tL\tDIAM\tNSEG\tL/λ\tMECHANISMS\tPP\tSUBTREE")
	for _, r := range rows {
		parent := "-"
		if r.Parent != "" {
			parent = fmt.Sprintf("%s(%g)", r.Parent, r.ParentX)
		}
		el := "-"
		if r.Electrotonic > 0 {
			el = fmt.Sprintf("%.3f", r.Electrotonic)
		}
		fmt.Fprintf(w, "%s\t%s\t%g\t%g\t%d\t%s\t%s\t%d\t%s\n",
			r.Name, parent, r.L, r.Diam, r.Nseg, el,
			valueOrDefault(strings.Join(r.Mechanisms, ","), "-"), r.Points, valueOrDefault(r.Subtree, "-"))
	}
	return w.Flush()
}

// previewPlan resolves --plan/--subtree against c. It returns nil when no
// plan was given.
func previewPlan(cmd *cobra.Command, c *morph.Cell) (*classify.Index, error) {
	plan, _ := cmd.Flags().GetString("plan")
	specs, _ := cmd.Flags().GetStringArray("subtree")
	if plan == "" && len(specs) == 0 {
		return nil, nil
	}

	cfg := config.Default()
	if plan != "" {
		if err := cfg.MergePlan(plan); err != nil {
			return nil, err
		}
	}
	if len(specs) > 0 {
		cfg.Subtrees = nil
	}
	for _, s := range specs {
		st, err := parseSubtree(s)
		if err != nil {
			return nil, err
		}
		cfg.Subtrees = append(cfg.Subtrees, st)
	}

	req, err := cfg.Request(c)
	if err != nil {
		return nil, err
	}
	ix, err := classify.Classify(c, req.Sections)
	if err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return ix, nil
}

func describeSections(c *morph.Cell, ix *classify.Index) []sectionInfo {
	var rows []sectionInfo
	for _, t := range morph.AllSectionTypes {
		for _, id := range c.List(t) {
			sec, err := c.Section(id)
			if err != nil {
				continue
			}
			r := sectionInfo{
				Name:       c.Name(id),
				L:          sec.L,
				Diam:       sec.Diam,
				Nseg:       sec.Nseg,
				Mechanisms: c.Mechanisms(id),
				Points:     len(c.PointProcessesOn(id)),
			}
			if parent, x, ok := c.Parent(id); ok {
				r.Parent, r.ParentX = c.Name(parent), x
			}
			if sec.GPas > 0 && sec.Ra > 0 {
				r.Electrotonic = sec.L / cable.SpaceConst(sec.Diam, sec.Rm(), sec.Ra)
			}
			if ix != nil {
				if i, ok := ix.Subtree(id); ok {
					r.Subtree = c.Name(ix.Root(i))
				}
			}
			rows = append(rows, r)
		}
	}
	return rows
}
