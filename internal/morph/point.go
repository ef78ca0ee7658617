package morph

import (
	"fmt"
	"sort"
)

// PPID addresses a point process inside one Cell.
type PPID int

// PointProcess is a synapse or other localized mechanism. Like a simulator
// node-based point process, its X always sits at the center of the segment
// it was located in.
type PointProcess struct {
	ID      PPID               `json:"id"`
	Kind    string             `json:"kind"`
	Section SectionID          `json:"section"`
	X       float64            `json:"x"`
	Params  map[string]float64 `json:"params"`
}

func (p PointProcess) clone() PointProcess {
	cp := p
	cp.Params = make(map[string]float64, len(p.Params))
	for k, v := range p.Params {
		cp.Params[k] = v
	}
	return cp
}

// pointSegment returns the segment the point process is located in.
func (c *Cell) pointSegment(p *PointProcess) SegmentRef {
	s := c.sections[p.Section]
	return SegmentRef{Section: p.Section, Index: SegmentIndex(s.Nseg, p.X)}
}

// AddPointProcess creates a point process of the given kind at sec(x).
func (c *Cell) AddPointProcess(kind string, sec SectionID, x float64, params map[string]float64) (PPID, error) {
	s, err := c.Section(sec)
	if err != nil {
		return 0, fmt.Errorf("add %s: %w", kind, err)
	}
	id := c.nextPoint
	c.nextPoint++
	pp := PointProcess{
		ID:      id,
		Kind:    kind,
		Section: sec,
		X:       SegmentCenter(s.Nseg, SegmentIndex(s.Nseg, x)),
		Params:  params,
	}
	pp = pp.clone()
	c.points[id] = &pp
	return id, nil
}

// PointProcess returns a copy of the point process with the given ID.
func (c *Cell) PointProcess(id PPID) (PointProcess, error) {
	pp, ok := c.points[id]
	if !ok {
		return PointProcess{}, fmt.Errorf("%w: %d", ErrPointProcessNotFound, id)
	}
	return pp.clone(), nil
}

// PointSegment returns the segment a point process is located in.
func (c *Cell) PointSegment(id PPID) (SegmentRef, error) {
	pp, ok := c.points[id]
	if !ok {
		return SegmentRef{}, fmt.Errorf("%w: %d", ErrPointProcessNotFound, id)
	}
	return c.pointSegment(pp), nil
}

// Locate moves a point process to sec(x).
func (c *Cell) Locate(id PPID, sec SectionID, x float64) error {
	pp, ok := c.points[id]
	if !ok {
		return fmt.Errorf("locate: %w: %d", ErrPointProcessNotFound, id)
	}
	s, err := c.Section(sec)
	if err != nil {
		return fmt.Errorf("locate %d: %w", id, err)
	}
	pp.Section = sec
	pp.X = SegmentCenter(s.Nseg, SegmentIndex(s.Nseg, x))
	return nil
}

// Duplicate creates a new point process of the same kind and parameters at sec(x).
func (c *Cell) Duplicate(id PPID, sec SectionID, x float64) (PPID, error) {
	pp, ok := c.points[id]
	if !ok {
		return 0, fmt.Errorf("duplicate: %w: %d", ErrPointProcessNotFound, id)
	}
	return c.AddPointProcess(pp.Kind, sec, x, pp.Params)
}

// SetPointParam writes one parameter of a point process.
func (c *Cell) SetPointParam(id PPID, param string, v float64) error {
	pp, ok := c.points[id]
	if !ok {
		return fmt.Errorf("set %s: %w: %d", param, ErrPointProcessNotFound, id)
	}
	pp.Params[param] = v
	return nil
}

// RemovePointProcess deletes a point process. Unknown IDs are ignored.
func (c *Cell) RemovePointProcess(id PPID) {
	delete(c.points, id)
}

// PointProcessesAt lists the point processes in one segment, in ID order.
func (c *Cell) PointProcessesAt(ref SegmentRef) []PPID {
	var out []PPID
	for id, pp := range c.points {
		if pp.Section == ref.Section && c.pointSegment(pp).Index == ref.Index {
			out = append(out, id)
		}
	}
	sortPoints(out)
	return out
}

// PointProcessesOn lists the point processes on a section, in ID order.
func (c *Cell) PointProcessesOn(sec SectionID) []PPID {
	var out []PPID
	for id, pp := range c.points {
		if pp.Section == sec {
			out = append(out, id)
		}
	}
	sortPoints(out)
	return out
}

// PointProcesses lists every point process, in ID order.
func (c *Cell) PointProcesses() []PPID {
	out := make([]PPID, 0, len(c.points))
	for id := range c.points {
		out = append(out, id)
	}
	sortPoints(out)
	return out
}

func sortPoints(ids []PPID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
