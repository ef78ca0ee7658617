package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/cablex/internal/config"
	"github.com/nvandessel/cablex/internal/pathutil"
	"github.com/nvandessel/cablex/internal/pipeline"
	"github.com/nvandessel/cablex/internal/ratelimit"
	"github.com/nvandessel/cablex/internal/store"
	"github.com/nvandessel/cablex/internal/visualization"
)

const runURIPrefix = "cablex://runs/"

// registerTools registers all cablex MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cablex_expand",
		Description: "Replace soma-attached dendritic subtrees of a cell with a trunk and identical branches, relocating synapses and mechanisms to electrotonically equivalent positions",
	}, s.handleExpand)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cablex_inspect",
		Description: "Render the section tree of a cell document as DOT (Graphviz), JSON, or HTML",
	}, s.handleInspect)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cablex_runs",
		Description: "List recorded expansion runs, or show one run with its segment map and synapse moves",
	}, s.handleRuns)
}

// registerResources registers the run detail resource template.
func (s *Server) registerResources() {
	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: runURIPrefix + "{id}",
		Name:        "cablex-run",
		Description: "Full record of one expansion run: parameters, segment map and synapse moves.",
		MIMEType:    "text/markdown",
	}, s.handleRunResource)
}

// resolve confines a client-supplied path to the workspace and ~/.cablex.
func (s *Server) resolve(path string) (string, error) {
	allowed, err := pathutil.AllowedDirs(s.root)
	if err != nil {
		return "", err
	}
	return pathutil.Resolve(path, allowed)
}

// plan derives the configuration for one expansion from the server
// defaults and the tool arguments.
func (s *Server) plan(args ExpandInput) *config.CablexConfig {
	cfg := *s.defaults
	cfg.Subtrees = append([]config.SubtreeConfig(nil), s.defaults.Subtrees...)
	if len(args.Subtrees) > 0 {
		cfg.Subtrees = cfg.Subtrees[:0]
		for _, st := range args.Subtrees {
			cfg.Subtrees = append(cfg.Subtrees, config.SubtreeConfig{
				Section:   st.Section,
				Furcation: st.Furcation,
				Branches:  float64(st.Branches),
			})
		}
	}
	if args.Frequency != nil {
		cfg.Expansion.Frequency = *args.Frequency
	}
	if args.TotalSegments != nil {
		cfg.Expansion.TotalSegments = *args.TotalSegments
	}
	if args.Seed != nil {
		cfg.Expansion.Seed = *args.Seed
	}
	cfg.Expansion.Report = args.Report
	return &cfg
}

// handleExpand implements the cablex_expand tool.
func (s *Server) handleExpand(ctx context.Context, req *sdk.CallToolRequest, args ExpandInput) (_ *sdk.CallToolResult, _ ExpandOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cablex_expand", start, retErr, sanitizeToolParams(map[string]any{
			"input_path":  args.InputPath,
			"output_path": args.OutputPath,
			"subtrees":    len(args.Subtrees),
			"compress":    args.Compress,
			"report":      args.Report,
		}), ScopeLocal)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "cablex_expand"); err != nil {
		return nil, ExpandOutput{}, err
	}

	in, err := s.resolve(args.InputPath)
	if err != nil {
		return nil, ExpandOutput{}, fmt.Errorf("input path rejected: %w", err)
	}
	var out string
	if args.OutputPath != "" {
		if out, err = s.resolve(args.OutputPath); err != nil {
			return nil, ExpandOutput{}, fmt.Errorf("output path rejected: %w", err)
		}
		if out == in {
			return nil, ExpandOutput{}, fmt.Errorf("output path must differ from input path")
		}
	}

	outcome, err := s.runner.Run(ctx, pipeline.Job{
		InputPath:  in,
		OutputPath: out,
		Compress:   args.Compress,
		Config:     s.plan(args),
	})
	if err != nil {
		return nil, ExpandOutput{}, fmt.Errorf("expansion failed: %w", err)
	}

	res := outcome.Result
	newSections := make([]string, 0, len(res.Tree.Sections()))
	for _, id := range res.Tree.Sections() {
		newSections = append(newSections, res.Cell.Name(id))
	}
	run := outcome.Run

	msg := fmt.Sprintf("Expanded %d subtree(s) into %d sections; %d of %d synapses kept, %d merged",
		len(run.Subtrees), len(newSections), run.SynapsesOut, run.SynapsesIn, run.Merged)
	if out != "" {
		msg += " → " + out
	}
	if run.Warnings > 0 {
		msg += fmt.Sprintf(" (%d warning(s))", run.Warnings)
	}

	return nil, ExpandOutput{
		RunID:       outcome.RunID,
		OutputPath:  out,
		NewSections: newSections,
		SynapsesIn:  run.SynapsesIn,
		SynapsesOut: run.SynapsesOut,
		Merged:      run.Merged,
		Clamped:     run.Clamped,
		Warnings:    run.Warnings,
		Report:      res.Report,
		Message:     msg,
	}, nil
}

// handleInspect implements the cablex_inspect tool.
func (s *Server) handleInspect(ctx context.Context, req *sdk.CallToolRequest, args InspectInput) (_ *sdk.CallToolResult, _ InspectOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cablex_inspect", start, retErr, sanitizeToolParams(map[string]any{
			"input_path": args.InputPath,
			"format":     args.Format,
		}), ScopeLocal)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "cablex_inspect"); err != nil {
		return nil, InspectOutput{}, err
	}

	format := visualization.FormatJSON
	if args.Format != "" {
		f, err := visualization.ParseFormat(args.Format)
		if err != nil {
			return nil, InspectOutput{}, err
		}
		format = f
	}

	in, err := s.resolve(args.InputPath)
	if err != nil {
		return nil, InspectOutput{}, fmt.Errorf("input path rejected: %w", err)
	}
	loaded, err := pipeline.Load(in)
	if err != nil {
		return nil, InspectOutput{}, err
	}

	opts := visualization.Options{Synapses: loaded.Synapses}
	summary := visualization.RenderJSON(loaded.Cell, opts)
	output := InspectOutput{
		Format:       string(format),
		SectionCount: summary.SectionCount,
		SegmentCount: summary.SegmentCount,
		SynapseCount: len(loaded.Synapses),
	}
	switch format {
	case visualization.FormatJSON:
		output.Graph = summary
	default:
		body, err := visualization.Render(loaded.Cell, opts, format)
		if err != nil {
			return nil, InspectOutput{}, err
		}
		output.Graph = string(body)
	}
	return nil, output, nil
}

// handleRuns implements the cablex_runs tool.
func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (_ *sdk.CallToolResult, _ RunsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cablex_runs", start, retErr, sanitizeToolParams(map[string]any{
			"id":    args.ID,
			"limit": args.Limit,
		}), ScopeLocal)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "cablex_runs"); err != nil {
		return nil, RunsOutput{}, err
	}

	if args.ID != "" {
		run, err := s.ledger.Get(ctx, args.ID)
		if err != nil {
			return nil, RunsOutput{}, err
		}
		return nil, RunsOutput{Run: run, Count: 1}, nil
	}

	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.ledger.List(ctx, limit)
	if err != nil {
		return nil, RunsOutput{}, fmt.Errorf("failed to list runs: %w", err)
	}
	out := RunsOutput{Runs: make([]RunSummary, 0, len(runs)), Count: len(runs)}
	for _, r := range runs {
		out.Runs = append(out.Runs, RunSummary{
			ID:          r.ID,
			CreatedAt:   r.CreatedAt,
			Cell:        r.Cell,
			InputPath:   r.InputPath,
			OutputPath:  r.OutputPath,
			Subtrees:    len(r.Subtrees),
			SynapsesIn:  r.SynapsesIn,
			SynapsesOut: r.SynapsesOut,
			Warnings:    r.Warnings,
		})
	}
	return nil, out, nil
}

// handleRunResource renders one run as markdown.
func (s *Server) handleRunResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	uri := req.Params.URI
	id, ok := strings.CutPrefix(uri, runURIPrefix)
	if !ok {
		return nil, fmt.Errorf("invalid URI format: %s", uri)
	}
	if id == "" {
		return nil, fmt.Errorf("run ID is required")
	}
	run, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     formatRun(run),
		}},
	}, nil
}

func formatRun(run *store.Run) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Run %s\n\n", run.ID))
	sb.WriteString(fmt.Sprintf("**Cell:** %s\n", run.Cell))
	sb.WriteString(fmt.Sprintf("**Created:** %s\n", run.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("**Frequency:** %g Hz\n", run.Frequency))
	sb.WriteString(fmt.Sprintf("**Segments:** %g\n", run.TotalSegments))
	sb.WriteString(fmt.Sprintf("**Synapses:** %d in, %d out, %d merged, %d clamped\n\n",
		run.SynapsesIn, run.SynapsesOut, run.Merged, run.Clamped))

	sb.WriteString("## Subtrees\n\n")
	for _, st := range run.Subtrees {
		sb.WriteString(fmt.Sprintf("- %s: furcation %g, %d branches\n", st.Section, st.Furcation, st.Branches))
	}

	if len(run.Map) > 0 {
		sb.WriteString("\n## Segment map\n\n")
		for _, e := range run.Map {
			sb.WriteString(fmt.Sprintf("- %s -> %s\n", e.Original, strings.Join(e.Images, ", ")))
		}
	}
	if len(run.Moves) > 0 {
		sb.WriteString("\n## Synapse moves\n\n")
		for _, mv := range run.Moves {
			line := fmt.Sprintf("- %d -> %s", mv.Synapse, mv.Destination)
			if mv.MergedInto != nil {
				line += fmt.Sprintf(" (merged into %d)", *mv.MergedInto)
			}
			if mv.Clamped {
				line += " (clamped)"
			}
			sb.WriteString(line + "\n")
		}
	}
	return sb.String()
}
