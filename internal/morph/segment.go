package morph

import (
	"fmt"
	"sort"
)

// SegmentRef addresses one segment: the Index-th of its section's Nseg
// equal-length pieces. It is comparable and usable as a map key.
type SegmentRef struct {
	Section SectionID `json:"section"`
	Index   int       `json:"index"`
}

// SegmentIndex returns the index of the segment containing fraction x.
// x = 1 belongs to the last segment.
func SegmentIndex(nseg int, x float64) int {
	if nseg < 1 {
		return 0
	}
	i := int(x * float64(nseg))
	if i < 0 {
		return 0
	}
	if i >= nseg {
		return nseg - 1
	}
	return i
}

// SegmentCenter returns the fraction at the middle of segment i.
func SegmentCenter(nseg, i int) float64 {
	return (float64(i) + 0.5) / float64(nseg)
}

// Segment returns the segment of sec that contains x.
func (c *Cell) Segment(sec SectionID, x float64) (SegmentRef, error) {
	s, err := c.Section(sec)
	if err != nil {
		return SegmentRef{}, err
	}
	return SegmentRef{Section: sec, Index: SegmentIndex(s.Nseg, x)}, nil
}

// Segments lists every segment of sec from the 0 end to the 1 end.
func (c *Cell) Segments(sec SectionID) []SegmentRef {
	s, err := c.Section(sec)
	if err != nil {
		return nil
	}
	out := make([]SegmentRef, s.Nseg)
	for i := range out {
		out[i] = SegmentRef{Section: sec, Index: i}
	}
	return out
}

// SegmentX returns the center fraction of a segment.
func (c *Cell) SegmentX(ref SegmentRef) float64 {
	s, err := c.Section(ref.Section)
	if err != nil {
		return 0
	}
	return SegmentCenter(s.Nseg, ref.Index)
}

// SegmentName formats a segment the way a simulator prints it, e.g. "apic[0](0.25)".
func (c *Cell) SegmentName(ref SegmentRef) string {
	return fmt.Sprintf("%s(%.4g)", c.Name(ref.Section), c.SegmentX(ref))
}

// SegmentCount sums Nseg over the given sections.
func (c *Cell) SegmentCount(ids ...SectionID) int {
	n := 0
	for _, id := range ids {
		if s, err := c.Section(id); err == nil {
			n += s.Nseg
		}
	}
	return n
}

// SortSegments orders refs by section then index.
func SortSegments(refs []SegmentRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Section != refs[j].Section {
			return refs[i].Section < refs[j].Section
		}
		return refs[i].Index < refs[j].Index
	})
}

func (c *Cell) segment(ref SegmentRef) (*Section, error) {
	s, err := c.Section(ref.Section)
	if err != nil {
		return nil, err
	}
	if ref.Index < 0 || ref.Index >= s.Nseg {
		return nil, fmt.Errorf("segment %d of %s: %w", ref.Index, c.Name(ref.Section), ErrInvalidGeometry)
	}
	return s, nil
}

// Insert adds a distributed mechanism to every segment of sec. Inserting a
// mechanism that is already present leaves its values alone.
func (c *Cell) Insert(sec SectionID, mech string) error {
	s, err := c.Section(sec)
	if err != nil {
		return fmt.Errorf("insert %s: %w", mech, err)
	}
	for _, m := range s.mechs {
		if m == mech {
			return nil
		}
	}
	s.mechs = append(s.mechs, mech)
	for _, v := range s.values {
		if _, ok := v[mech]; !ok {
			v[mech] = map[string]float64{}
		}
	}
	return nil
}

// Uninsert removes a mechanism and its values from sec.
func (c *Cell) Uninsert(sec SectionID, mech string) error {
	s, err := c.Section(sec)
	if err != nil {
		return fmt.Errorf("uninsert %s: %w", mech, err)
	}
	kept := s.mechs[:0]
	for _, m := range s.mechs {
		if m != mech {
			kept = append(kept, m)
		}
	}
	s.mechs = kept
	for _, v := range s.values {
		delete(v, mech)
	}
	return nil
}

// Mechanisms returns the mechanisms inserted in sec, in insertion order.
func (c *Cell) Mechanisms(sec SectionID) []string {
	s, err := c.Section(sec)
	if err != nil {
		return nil
	}
	return append([]string(nil), s.mechs...)
}

// SetParam writes one mechanism parameter on one segment.
func (c *Cell) SetParam(ref SegmentRef, mech, param string, v float64) error {
	s, err := c.segment(ref)
	if err != nil {
		return err
	}
	params, ok := s.values[ref.Index][mech]
	if !ok {
		return fmt.Errorf("set %s_%s on %s: %w", param, mech, c.SegmentName(ref), ErrMechanismNotInserted)
	}
	params[param] = v
	return nil
}

// Param reads one mechanism parameter on one segment.
func (c *Cell) Param(ref SegmentRef, mech, param string) (float64, bool) {
	s, err := c.segment(ref)
	if err != nil {
		return 0, false
	}
	v, ok := s.values[ref.Index][mech][param]
	return v, ok
}

// Values returns a copy of all mechanism values on one segment.
func (c *Cell) Values(ref SegmentRef) MechValues {
	s, err := c.segment(ref)
	if err != nil {
		return MechValues{}
	}
	return s.values[ref.Index].Clone()
}
