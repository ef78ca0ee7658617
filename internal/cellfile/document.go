// Package cellfile reads and writes model documents: a cell's sections,
// mechanisms and point processes plus the connections targeting them.
package cellfile

import (
	"fmt"
	"time"

	"github.com/nvandessel/cablex/internal/morph"
)

// Document is the serialized form of a cell and its synaptic inputs.
type Document struct {
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	Name        string            `json:"name"`
	Sections    []SectionDoc      `json:"sections"`
	Points      []PointDoc        `json:"point_processes,omitempty"`
	Synapses    []morph.PPID      `json:"synapses,omitempty"`
	Connections []ConnectionDoc   `json:"connections,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SectionDoc is one section. Parent refers to another section by name.
type SectionDoc struct {
	Name       string             `json:"name"`
	Type       morph.SectionType  `json:"type"`
	Parent     string             `json:"parent,omitempty"`
	ParentX    float64            `json:"parent_x,omitempty"`
	Properties morph.Properties   `json:"properties"`
	Mechanisms []string           `json:"mechanisms,omitempty"`
	Segments   []morph.MechValues `json:"segments,omitempty"`
}

// PointDoc is one point process, located by section name.
type PointDoc struct {
	ID      morph.PPID         `json:"id"`
	Kind    string             `json:"kind"`
	Section string             `json:"section"`
	X       float64            `json:"x"`
	Params  map[string]float64 `json:"params,omitempty"`
}

// ConnectionDoc targets a point process by document ID.
type ConnectionDoc struct {
	Source string     `json:"source"`
	Target morph.PPID `json:"target"`
	Weight float64    `json:"weight"`
	Delay  float64    `json:"delay"`
}

// FromCell captures c with the given synapse list and connections.
// Sections are written in section-list order so that reading the document
// back reproduces their names.
func FromCell(c *morph.Cell, synapses []morph.PPID, conns []morph.Connection) *Document {
	doc := &Document{
		Version:   FormatV1,
		CreatedAt: time.Now(),
		Name:      c.Label,
		Synapses:  append([]morph.PPID(nil), synapses...),
	}
	for _, t := range morph.AllSectionTypes {
		for _, id := range c.List(t) {
			sec, err := c.Section(id)
			if err != nil {
				continue
			}
			sd := SectionDoc{
				Name:       c.Name(id),
				Type:       sec.Type,
				Properties: sec.Properties,
				Mechanisms: c.Mechanisms(id),
			}
			if parent, x, ok := c.Parent(id); ok {
				sd.Parent = c.Name(parent)
				sd.ParentX = x
			}
			if len(sd.Mechanisms) > 0 {
				for _, seg := range c.Segments(id) {
					sd.Segments = append(sd.Segments, c.Values(seg))
				}
			}
			doc.Sections = append(doc.Sections, sd)
		}
	}
	for _, id := range c.PointProcesses() {
		pp, err := c.PointProcess(id)
		if err != nil {
			continue
		}
		doc.Points = append(doc.Points, PointDoc{
			ID:      pp.ID,
			Kind:    pp.Kind,
			Section: c.Name(pp.Section),
			X:       pp.X,
			Params:  pp.Params,
		})
	}
	for _, cn := range conns {
		doc.Connections = append(doc.Connections, ConnectionDoc(cn))
	}
	return doc
}

// Cell rebuilds the cell. Point-process IDs are reassigned; the returned
// synapse list and connections use the new IDs. An empty synapse list in
// the document selects every point process.
func (d *Document) Cell() (*morph.Cell, []morph.PPID, []morph.Connection, error) {
	c := morph.NewCell(d.Name)
	byName := make(map[string]morph.SectionID, len(d.Sections))
	for _, sd := range d.Sections {
		if _, dup := byName[sd.Name]; dup {
			return nil, nil, nil, fmt.Errorf("section %s listed twice", sd.Name)
		}
		id, err := c.AddSection(sd.Type, sd.Properties)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("section %s: %w", sd.Name, err)
		}
		byName[sd.Name] = id
	}

	for _, sd := range d.Sections {
		id := byName[sd.Name]
		if sd.Parent != "" {
			parent, ok := byName[sd.Parent]
			if !ok {
				return nil, nil, nil, fmt.Errorf("section %s: parent %s: %w", sd.Name, sd.Parent, morph.ErrSectionNotFound)
			}
			if err := c.Connect(id, parent, sd.ParentX); err != nil {
				return nil, nil, nil, fmt.Errorf("section %s: %w", sd.Name, err)
			}
		}
		for _, mech := range sd.Mechanisms {
			if err := c.Insert(id, mech); err != nil {
				return nil, nil, nil, err
			}
		}
		if len(sd.Segments) > 0 && len(sd.Segments) != sd.Properties.Nseg {
			return nil, nil, nil, fmt.Errorf("section %s: %d segment entries for nseg %d: %w",
				sd.Name, len(sd.Segments), sd.Properties.Nseg, morph.ErrInvalidGeometry)
		}
		for i, vals := range sd.Segments {
			ref := morph.SegmentRef{Section: id, Index: i}
			for mech, params := range vals {
				if err := c.Insert(id, mech); err != nil {
					return nil, nil, nil, err
				}
				for p, v := range params {
					if err := c.SetParam(ref, mech, p, v); err != nil {
						return nil, nil, nil, err
					}
				}
			}
		}
	}

	ids := make(map[morph.PPID]morph.PPID, len(d.Points))
	var all []morph.PPID
	for _, pd := range d.Points {
		sec, ok := byName[pd.Section]
		if !ok {
			return nil, nil, nil, fmt.Errorf("point process %d: section %s: %w", pd.ID, pd.Section, morph.ErrSectionNotFound)
		}
		id, err := c.AddPointProcess(pd.Kind, sec, pd.X, pd.Params)
		if err != nil {
			return nil, nil, nil, err
		}
		ids[pd.ID] = id
		all = append(all, id)
	}

	synapses := all
	if len(d.Synapses) > 0 {
		synapses = make([]morph.PPID, 0, len(d.Synapses))
		for _, old := range d.Synapses {
			id, ok := ids[old]
			if !ok {
				return nil, nil, nil, fmt.Errorf("synapse %d: %w", old, morph.ErrPointProcessNotFound)
			}
			synapses = append(synapses, id)
		}
	}

	conns := make([]morph.Connection, 0, len(d.Connections))
	for _, cd := range d.Connections {
		id, ok := ids[cd.Target]
		if !ok {
			return nil, nil, nil, fmt.Errorf("connection %s: target %d: %w", cd.Source, cd.Target, morph.ErrPointProcessNotFound)
		}
		cd.Target = id
		conns = append(conns, morph.Connection(cd))
	}
	return c, synapses, conns, nil
}
