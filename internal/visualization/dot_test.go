package visualization

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/morph/morphtest"
)

func TestRenderDOT(t *testing.T) {
	n := morphtest.NewNeuron(t)
	syn := morphtest.MustSynapse(t, n.Cell, n.Apic, 0.25, 0, 0.5, 2)

	dot := RenderDOT(n.Cell, Options{
		Highlight: map[morph.SectionID]bool{n.Apic: true},
		Synapses:  []morph.PPID{syn},
	})

	if !strings.HasPrefix(dot, "digraph cell {") {
		t.Errorf("expected digraph header, got %q", dot[:20])
	}
	for _, want := range []string{
		`"apic[0]" [label="apic[0]", fillcolor="steelblue", style="filled,bold"`,
		`"dend[0]" [label="dend[0]", fillcolor="mediumseagreen", style=filled`,
		`"apic[0]" -> "apic[1]" [label="1"];`,
		`"dend[1]" [label="dend[1]"`,
		`"soma[0]" -> "dend[1]" [label="0.5"];`,
		`"apic[0]" -> "pp`,
		`style=dotted, arrowhead=none`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("expected DOT to contain %q\n%s", want, dot)
		}
	}
	// one edge per non-root section plus one for the synapse
	if got := strings.Count(dot, " -> "); got != len(n.Cell.Sections()) {
		t.Errorf("expected %d edges, got %d", len(n.Cell.Sections()), got)
	}
}

func TestRenderJSON(t *testing.T) {
	n := morphtest.NewNeuron(t)
	g := RenderJSON(n.Cell, Options{Highlight: map[morph.SectionID]bool{n.Dend: true}})

	if g.SectionCount != len(n.Cell.Sections()) {
		t.Errorf("expected %d sections, got %d", len(n.Cell.Sections()), g.SectionCount)
	}
	if g.Sections[0].Type != "soma" {
		t.Errorf("expected soma first, got %s", g.Sections[0].Type)
	}
	var dend *SectionNode
	for i := range g.Sections {
		if g.Sections[i].Name == "dend[0]" {
			dend = &g.Sections[i]
		}
	}
	if dend == nil || !dend.Highlight || dend.Parent != "soma[0]" {
		t.Errorf("unexpected dend[0] node %+v", dend)
	}

	total := 0
	for _, id := range n.Cell.Sections() {
		sec, _ := n.Cell.Section(id)
		total += sec.Nseg
	}
	if g.SegmentCount != total {
		t.Errorf("expected %d segments, got %d", total, g.SegmentCount)
	}

	data, err := Render(n.Cell, Options{}, FormatJSON)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	var back Graph
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
}

func TestRenderHTML_EscapesNames(t *testing.T) {
	n := morphtest.NewNeuron(t)
	n.Cell.Label = "</script><b>x"
	html, err := RenderHTML(n.Cell, Options{})
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	s := string(html)
	if strings.Contains(s, "</script><b>") {
		t.Error("cell label was not escaped")
	}
	if !strings.Contains(s, "apic[1]") {
		t.Error("expected section table in HTML")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatDOT, false},
		{"DOT", FormatDOT, false},
		{" json ", FormatJSON, false},
		{"html", FormatHTML, false},
		{"svg", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
