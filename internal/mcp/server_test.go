package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/cablex/internal/cellfile"
	"github.com/nvandessel/cablex/internal/config"
	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/morph/morphtest"
	"github.com/nvandessel/cablex/internal/ratelimit"
	"github.com/nvandessel/cablex/internal/store"
	"github.com/nvandessel/cablex/internal/visualization"
)

// isolateHome points HOME at a temp directory so tests never touch ~/.cablex.
func isolateHome(t *testing.T, dir string) {
	t.Helper()
	home := filepath.Join(dir, "home")
	if err := os.MkdirAll(home, 0755); err != nil {
		t.Fatalf("create temp home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
}

func setupTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	isolateHome(t, t.TempDir())

	defaults := config.Default()
	defaults.Subtrees = []config.SubtreeConfig{{Section: "apic[0]", Furcation: 0.5, Branches: 2}}

	server, err := NewServer(&Config{
		Name:     "test-server",
		Version:  "v1.0.0",
		Root:     root,
		Defaults: defaults,
		Ledger:   store.NewMemoryLedger(),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server, root
}

// writeCell writes the neuron fixture with two synapses into dir.
func writeCell(t *testing.T, dir string) string {
	t.Helper()
	n := morphtest.NewNeuron(t)
	a := morphtest.MustSynapse(t, n.Cell, n.Apic, 0.1, 0, 0.5, 2)
	b := morphtest.MustSynapse(t, n.Cell, n.Soma, 0.5, -80, 1, 10)
	conns := []morph.Connection{{Source: "pre", Target: a, Weight: 0.001, Delay: 1}}
	path := filepath.Join(dir, "cell.json")
	if err := cellfile.Write(path, cellfile.FromCell(n.Cell, []morph.PPID{a, b}, conns), false); err != nil {
		t.Fatalf("write cell: %v", err)
	}
	return path
}

func TestNewServer(t *testing.T) {
	server, root := setupTestServer(t)
	if server.server == nil {
		t.Error("Server.server is nil")
	}
	if server.root != root {
		t.Errorf("Server.root = %q, want %q", server.root, root)
	}
	if server.audit == nil {
		t.Error("expected audit logger to be initialized")
	}
}

func TestNewServer_OpensSQLiteLedger(t *testing.T) {
	root := t.TempDir()
	isolateHome(t, t.TempDir())

	server, err := NewServer(&Config{Name: "test", Version: "v0", Root: root})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	if _, ok := server.ledger.(*store.SQLiteLedger); !ok {
		t.Errorf("expected SQLite ledger, got %T", server.ledger)
	}
	if _, err := os.Stat(filepath.Join(root, ".cablex", store.DBName)); err != nil {
		t.Errorf("expected runs.db under the workspace: %v", err)
	}
}

func TestHandleExpand(t *testing.T) {
	server, root := setupTestServer(t)
	ctx := context.Background()
	in := writeCell(t, root)
	out := filepath.Join(root, "out", "expanded.json")

	_, got, err := server.handleExpand(ctx, nil, ExpandInput{InputPath: in, OutputPath: out, Report: true})
	if err != nil {
		t.Fatalf("handleExpand: %v", err)
	}
	if got.RunID == "" {
		t.Error("expected run ID")
	}
	if len(got.NewSections) != 3 || got.NewSections[0] != "apic[0]" {
		t.Errorf("expected trunk and two branches, got %v", got.NewSections)
	}
	if got.SynapsesIn != 2 || got.SynapsesOut != 2 {
		t.Errorf("expected 2 synapses in and out, got %d/%d", got.SynapsesIn, got.SynapsesOut)
	}
	if len(got.Report) == 0 || !strings.Contains(got.Message, "→") {
		t.Errorf("unexpected report or message: %v %q", got.Report, got.Message)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected output file: %v", err)
	}

	_, runs, err := server.handleRuns(ctx, nil, RunsInput{})
	if err != nil {
		t.Fatalf("handleRuns: %v", err)
	}
	if runs.Count != 1 || runs.Runs[0].ID != got.RunID || runs.Runs[0].Subtrees != 1 {
		t.Errorf("unexpected runs %+v", runs)
	}

	_, one, err := server.handleRuns(ctx, nil, RunsInput{ID: got.RunID})
	if err != nil {
		t.Fatalf("handleRuns(id): %v", err)
	}
	if run, ok := one.Run.(*store.Run); !ok || len(run.Map) == 0 {
		t.Errorf("expected full run, got %+v", one.Run)
	}
}

func TestHandleExpand_Overrides(t *testing.T) {
	server, root := setupTestServer(t)
	in := writeCell(t, root)
	total := 30.0

	_, got, err := server.handleExpand(context.Background(), nil, ExpandInput{
		InputPath:     in,
		Subtrees:      []SubtreeInput{{Section: "dend[0]", Furcation: 0.3, Branches: 4}},
		TotalSegments: &total,
	})
	if err != nil {
		t.Fatalf("handleExpand: %v", err)
	}
	if len(got.NewSections) != 5 || got.OutputPath != "" {
		t.Errorf("expected 5 new sections and no output, got %v %q", got.NewSections, got.OutputPath)
	}
	if len(server.defaults.Subtrees) != 1 || server.defaults.Subtrees[0].Section != "apic[0]" {
		t.Errorf("defaults were modified: %+v", server.defaults.Subtrees)
	}
}

func TestHandleExpand_Rejections(t *testing.T) {
	server, root := setupTestServer(t)
	in := writeCell(t, root)
	outside := filepath.Join(t.TempDir(), "cell.json")

	tests := []struct {
		name string
		args ExpandInput
	}{
		{"input outside workspace", ExpandInput{InputPath: outside}},
		{"output outside workspace", ExpandInput{InputPath: in, OutputPath: outside}},
		{"output overwrites input", ExpandInput{InputPath: in, OutputPath: in}},
		{"missing section", ExpandInput{InputPath: in, Subtrees: []SubtreeInput{{Section: "apic[9]", Furcation: 0.5, Branches: 2}}}},
		{"bad furcation", ExpandInput{InputPath: in, Subtrees: []SubtreeInput{{Section: "apic[0]", Furcation: 1, Branches: 2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server.toolLimiters = ratelimit.ToolLimiters{}
			if _, _, err := server.handleExpand(context.Background(), nil, tt.args); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHandleExpand_RateLimited(t *testing.T) {
	server, root := setupTestServer(t)
	server.toolLimiters = ratelimit.ToolLimiters{"cablex_expand": ratelimit.NewLimiter(0, 1)}
	in := writeCell(t, root)

	if _, _, err := server.handleExpand(context.Background(), nil, ExpandInput{InputPath: in}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, _, err := server.handleExpand(context.Background(), nil, ExpandInput{InputPath: in}); !errors.Is(err, ratelimit.ErrLimited) {
		t.Errorf("expected ErrLimited, got %v", err)
	}
}

func TestHandleInspect(t *testing.T) {
	server, root := setupTestServer(t)
	in := writeCell(t, root)

	_, got, err := server.handleInspect(context.Background(), nil, InspectInput{InputPath: in})
	if err != nil {
		t.Fatalf("handleInspect: %v", err)
	}
	if got.Format != "json" || got.SectionCount != 6 || got.SynapseCount != 2 {
		t.Errorf("unexpected output %+v", got)
	}
	if _, ok := got.Graph.(*visualization.Graph); !ok {
		t.Errorf("expected *visualization.Graph, got %T", got.Graph)
	}

	_, dot, err := server.handleInspect(context.Background(), nil, InspectInput{InputPath: in, Format: "dot"})
	if err != nil {
		t.Fatalf("handleInspect(dot): %v", err)
	}
	if s, _ := dot.Graph.(string); !strings.HasPrefix(s, "digraph cell") {
		t.Errorf("expected DOT text, got %v", dot.Graph)
	}

	if _, _, err := server.handleInspect(context.Background(), nil, InspectInput{InputPath: in, Format: "svg"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestHandleRuns_NotFound(t *testing.T) {
	server, _ := setupTestServer(t)
	if _, _, err := server.handleRuns(context.Background(), nil, RunsInput{ID: "nope"}); !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestHandleRunResource(t *testing.T) {
	server, root := setupTestServer(t)
	in := writeCell(t, root)
	_, out, err := server.handleExpand(context.Background(), nil, ExpandInput{InputPath: in})
	if err != nil {
		t.Fatalf("handleExpand: %v", err)
	}

	res, err := server.handleRunResource(context.Background(), &sdk.ReadResourceRequest{
		Params: &sdk.ReadResourceParams{URI: runURIPrefix + out.RunID},
	})
	if err != nil {
		t.Fatalf("handleRunResource: %v", err)
	}
	text := res.Contents[0].Text
	for _, want := range []string{"# Run " + out.RunID, "apic[0]: furcation 0.5, 2 branches", "## Segment map", "## Synapse moves"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in\n%s", want, text)
		}
	}

	if _, err := server.handleRunResource(context.Background(), &sdk.ReadResourceRequest{
		Params: &sdk.ReadResourceParams{URI: "other://runs/x"},
	}); err == nil {
		t.Error("expected error for foreign URI")
	}
}
