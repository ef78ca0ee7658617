// Package visualization renders cell morphologies in various output formats.
package visualization

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/nvandessel/cablex/internal/morph"
)

// Format specifies the output format for cell rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// ParseFormat accepts dot, json or html, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatDOT, FormatJSON, FormatHTML:
		return f, nil
	case "":
		return FormatDOT, nil
	default:
		return "", fmt.Errorf("unknown format %q (want dot, json or html)", s)
	}
}

// sectionColors maps section types to DOT colors.
var sectionColors = map[morph.SectionType]string{
	morph.Soma:   "gold",
	morph.Apical: "steelblue",
	morph.Basal:  "mediumseagreen",
	morph.Axonal: "tomato",
}

// Options control what gets drawn.
type Options struct {
	// Highlight marks sections drawn with a bold outline, e.g. the
	// sections created by an expansion.
	Highlight map[morph.SectionID]bool
	// Synapses are drawn as small nodes attached to their sections.
	Synapses []morph.PPID
}

// RenderDOT produces a Graphviz DOT representation of the section tree.
func RenderDOT(c *morph.Cell, opts Options) string {
	var b strings.Builder
	b.WriteString("digraph cell {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=filled, fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n\n")

	ids := orderedSections(c)
	for _, id := range ids {
		sec, err := c.Section(id)
		if err != nil {
			continue
		}
		color := sectionColors[sec.Type]
		if color == "" {
			color = "lightgray"
		}
		style := "filled"
		if opts.Highlight[id] {
			style = "\"filled,bold\""
		}
		name := c.Name(id)
		b.WriteString(fmt.Sprintf("  %q [label=%q, fillcolor=%q, style=%s, tooltip=\"L=%.4g diam=%.4g nseg=%d\"];\n",
			name, name, color, style, sec.L, sec.Diam, sec.Nseg))
	}
	b.WriteString("\n")

	for _, id := range ids {
		parent, x, ok := c.Parent(id)
		if !ok {
			continue
		}
		b.WriteString(fmt.Sprintf("  %q -> %q [label=\"%.4g\"];\n", c.Name(parent), c.Name(id), x))
	}

	if len(opts.Synapses) > 0 {
		b.WriteString("\n  node [shape=ellipse, style=filled, fillcolor=white, fontsize=9];\n")
		for _, pid := range opts.Synapses {
			pp, err := c.PointProcess(pid)
			if err != nil {
				continue
			}
			node := fmt.Sprintf("pp%d", pp.ID)
			b.WriteString(fmt.Sprintf("  %q [label=\"%s %d\"];\n", node, pp.Kind, pp.ID))
			b.WriteString(fmt.Sprintf("  %q -> %q [label=\"%.4g\", style=dotted, arrowhead=none];\n",
				c.Name(pp.Section), node, pp.X))
		}
	}

	b.WriteString("}\n")
	return b.String()
}

// SectionNode is one section in the JSON rendering.
type SectionNode struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Parent     string   `json:"parent,omitempty"`
	ParentX    float64  `json:"parent_x,omitempty"`
	L          float64  `json:"L"`
	Diam       float64  `json:"diam"`
	Nseg       int      `json:"nseg"`
	Mechanisms []string `json:"mechanisms,omitempty"`
	Highlight  bool     `json:"highlight,omitempty"`
}

// SynapseNode is one synapse in the JSON rendering.
type SynapseNode struct {
	ID      morph.PPID `json:"id"`
	Kind    string     `json:"kind"`
	Section string     `json:"section"`
	X       float64    `json:"x"`
}

// Graph is the JSON rendering of a cell.
type Graph struct {
	Cell         string        `json:"cell"`
	Sections     []SectionNode `json:"sections"`
	Synapses     []SynapseNode `json:"synapses,omitempty"`
	SectionCount int           `json:"section_count"`
	SegmentCount int           `json:"segment_count"`
}

// RenderJSON produces the section tree as a Graph.
func RenderJSON(c *morph.Cell, opts Options) *Graph {
	g := &Graph{Cell: c.Label, Sections: []SectionNode{}}
	for _, id := range orderedSections(c) {
		sec, err := c.Section(id)
		if err != nil {
			continue
		}
		node := SectionNode{
			Name:       c.Name(id),
			Type:       sec.Type.String(),
			L:          sec.L,
			Diam:       sec.Diam,
			Nseg:       sec.Nseg,
			Mechanisms: c.Mechanisms(id),
			Highlight:  opts.Highlight[id],
		}
		if parent, x, ok := c.Parent(id); ok {
			node.Parent = c.Name(parent)
			node.ParentX = x
		}
		g.Sections = append(g.Sections, node)
		g.SegmentCount += sec.Nseg
	}
	g.SectionCount = len(g.Sections)

	for _, pid := range opts.Synapses {
		pp, err := c.PointProcess(pid)
		if err != nil {
			continue
		}
		g.Synapses = append(g.Synapses, SynapseNode{ID: pp.ID, Kind: pp.Kind, Section: c.Name(pp.Section), X: pp.X})
	}
	return g
}

// htmlTemplateData holds data passed to the HTML template.
// GraphJSON is pre-sanitized JSON (via json.HTMLEscape) safe for inline <script>.
type htmlTemplateData struct {
	Graph     *Graph
	Colors    map[string]string
	GraphJSON template.JS
}

// RenderHTML produces a self-contained HTML page listing the section tree.
func RenderHTML(c *morph.Cell, opts Options) ([]byte, error) {
	g := RenderJSON(c, opts)
	graphJSON, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal graph data: %w", err)
	}

	tmplBytes, err := templates.ReadFile("templates/cell.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read HTML template: %w", err)
	}
	tmpl, err := template.New("cell").Parse(string(tmplBytes))
	if err != nil {
		return nil, fmt.Errorf("parse HTML template: %w", err)
	}

	// json.HTMLEscape converts <, >, & to unicode escapes, preventing
	// </script> breakout from section or mechanism names.
	var escaped bytes.Buffer
	json.HTMLEscape(&escaped, graphJSON)

	colors := make(map[string]string, len(sectionColors))
	for t, col := range sectionColors {
		colors[t.String()] = col
	}

	var buf bytes.Buffer
	data := htmlTemplateData{
		Graph:     g,
		Colors:    colors,
		GraphJSON: template.JS(escaped.String()), // #nosec G203
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute HTML template: %w", err)
	}
	return buf.Bytes(), nil
}

// Render dispatches on f.
func Render(c *morph.Cell, opts Options, f Format) ([]byte, error) {
	switch f {
	case FormatDOT, "":
		return []byte(RenderDOT(c, opts)), nil
	case FormatJSON:
		data, err := json.MarshalIndent(RenderJSON(c, opts), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal graph: %w", err)
		}
		return append(data, '\n'), nil
	case FormatHTML:
		return RenderHTML(c, opts)
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
}

// orderedSections lists live sections by type, then by list position.
func orderedSections(c *morph.Cell) []morph.SectionID {
	var ids []morph.SectionID
	seen := make(map[morph.SectionID]bool)
	for _, t := range morph.AllSectionTypes {
		for _, id := range c.List(t) {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	var rest []morph.SectionID
	for _, id := range c.Sections() {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(ids, rest...)
}
