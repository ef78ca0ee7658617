package morph

import (
	"fmt"
	"regexp"
	"strconv"
)

// Section is one cylindrical compartment. Geometry and passive properties
// are exported for direct get/set; topology changes go through Cell.
type Section struct {
	ID   SectionID
	Type SectionType
	Num  int // position in the section list of its type, e.g. apic[Num]
	Properties

	parent   SectionID
	parentX  float64
	children []SectionID
	mechs    []string
	values   []MechValues // one entry per segment
}

// Cell is an arena of sections plus the point processes located on them.
type Cell struct {
	// Label names the model as a whole.
	Label string

	sections  []*Section
	soma      SectionID
	points    map[PPID]*PointProcess
	nextPoint PPID
	lists     map[SectionType][]SectionID
	consumed  bool
}

// NewCell creates an empty cell. The first Soma section added becomes the soma.
func NewCell(name string) *Cell {
	return &Cell{
		Label:  name,
		soma:   NoSection,
		points: make(map[PPID]*PointProcess),
		lists:  make(map[SectionType][]SectionID),
	}
}

// AddSection appends a new, unconnected section of type t.
func (c *Cell) AddSection(t SectionType, p Properties) (SectionID, error) {
	if !t.Valid() {
		return NoSection, fmt.Errorf("%w: %d", ErrUnsupportedSectionType, int(t))
	}
	if err := p.validate(); err != nil {
		return NoSection, err
	}

	num := 0
	for _, other := range c.lists[t] {
		if n := c.sections[other].Num; n >= num {
			num = n + 1
		}
	}

	id := SectionID(len(c.sections))
	sec := &Section{
		ID:         id,
		Type:       t,
		Num:        num,
		Properties: p,
		parent:     NoSection,
		values:     make([]MechValues, p.Nseg),
	}
	for i := range sec.values {
		sec.values[i] = MechValues{}
	}
	c.sections = append(c.sections, sec)
	c.lists[t] = append(c.lists[t], id)

	if t == Soma && c.soma == NoSection {
		c.soma = id
	}
	return id, nil
}

// Allocate creates blank sections in bulk, count per type, the way a model
// template materializes its section arrays. New sections have unit geometry
// and a single segment; callers set real values afterwards.
func (c *Cell) Allocate(counts map[SectionType]int) (map[SectionType][]SectionID, error) {
	for t := range counts {
		if !t.Valid() {
			return nil, fmt.Errorf("allocate: %w: %d", ErrUnsupportedSectionType, int(t))
		}
	}
	out := make(map[SectionType][]SectionID, len(counts))
	for _, t := range AllSectionTypes {
		n := counts[t]
		for i := 0; i < n; i++ {
			id, err := c.AddSection(t, Properties{L: 1, Diam: 1, Nseg: 1})
			if err != nil {
				return nil, err
			}
			out[t] = append(out[t], id)
		}
	}
	return out, nil
}

// Soma returns the soma section, or NoSection.
func (c *Cell) Soma() SectionID { return c.soma }

// Section returns the live section with the given ID.
func (c *Cell) Section(id SectionID) (*Section, error) {
	if id < 0 || int(id) >= len(c.sections) || c.sections[id] == nil {
		return nil, fmt.Errorf("%w: %d", ErrSectionNotFound, id)
	}
	return c.sections[id], nil
}

// Has reports whether id is a live section.
func (c *Cell) Has(id SectionID) bool {
	_, err := c.Section(id)
	return err == nil
}

// Sections returns all live section IDs in ascending order.
func (c *Cell) Sections() []SectionID {
	ids := make([]SectionID, 0, len(c.sections))
	for _, s := range c.sections {
		if s != nil {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Parent returns the parent section and the attachment fraction on it.
// ok is false for roots.
func (c *Cell) Parent(id SectionID) (parent SectionID, x float64, ok bool) {
	sec, err := c.Section(id)
	if err != nil || sec.parent == NoSection {
		return NoSection, 0, false
	}
	return sec.parent, sec.parentX, true
}

// Children returns a copy of the child list, in connection order.
func (c *Cell) Children(id SectionID) []SectionID {
	sec, err := c.Section(id)
	if err != nil {
		return nil
	}
	out := make([]SectionID, len(sec.children))
	copy(out, sec.children)
	return out
}

// Connect attaches the 0 end of child to parent at fraction x.
// An already-attached child is moved.
func (c *Cell) Connect(child, parent SectionID, x float64) error {
	csec, err := c.Section(child)
	if err != nil {
		return fmt.Errorf("connect child: %w", err)
	}
	psec, err := c.Section(parent)
	if err != nil {
		return fmt.Errorf("connect parent: %w", err)
	}
	if x < 0 || x > 1 {
		return fmt.Errorf("connect %s: attachment fraction %g outside [0,1]", c.Name(child), x)
	}
	for p := parent; p != NoSection; p = c.sections[p].parent {
		if p == child {
			return fmt.Errorf("connect %s to %s: %w", c.Name(child), c.Name(parent), ErrCycle)
		}
	}

	if csec.parent != NoSection {
		c.detach(csec)
	}
	csec.parent = parent
	csec.parentX = x
	psec.children = append(psec.children, child)
	return nil
}

// Disconnect detaches id from its parent and returns the fraction it was
// attached at. Disconnecting a root is a no-op that returns 0.
func (c *Cell) Disconnect(id SectionID) (float64, error) {
	sec, err := c.Section(id)
	if err != nil {
		return 0, fmt.Errorf("disconnect: %w", err)
	}
	if sec.parent == NoSection {
		return 0, nil
	}
	x := sec.parentX
	c.detach(sec)
	return x, nil
}

func (c *Cell) detach(sec *Section) {
	parent := c.sections[sec.parent]
	kept := parent.children[:0]
	for _, ch := range parent.children {
		if ch != sec.ID {
			kept = append(kept, ch)
		}
	}
	parent.children = kept
	sec.parent = NoSection
	sec.parentX = 0
}

// Subtree returns root and all of its descendants in pre-order.
func (c *Cell) Subtree(root SectionID) []SectionID {
	if !c.Has(root) {
		return nil
	}
	var out []SectionID
	var walk func(id SectionID)
	walk = func(id SectionID) {
		out = append(out, id)
		for _, ch := range c.sections[id].children {
			walk(ch)
		}
	}
	walk(root)
	return out
}

// Delete removes a section. Its children become unattached roots and the
// point processes located on it are removed.
func (c *Cell) Delete(id SectionID) error {
	sec, err := c.Section(id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if sec.parent != NoSection {
		c.detach(sec)
	}
	for _, ch := range sec.children {
		c.sections[ch].parent = NoSection
		c.sections[ch].parentX = 0
	}
	sec.children = nil

	for pid, pp := range c.points {
		if pp.Section == id {
			delete(c.points, pid)
		}
	}

	list := c.lists[sec.Type]
	kept := list[:0]
	for _, s := range list {
		if s != id {
			kept = append(kept, s)
		}
	}
	c.lists[sec.Type] = kept

	if c.soma == id {
		c.soma = NoSection
	}
	c.sections[id] = nil
	return nil
}

// DeleteSubtree removes root and every descendant.
func (c *Cell) DeleteSubtree(root SectionID) error {
	ids := c.Subtree(root)
	if len(ids) == 0 {
		return fmt.Errorf("delete subtree: %w: %d", ErrSectionNotFound, root)
	}
	for i := len(ids) - 1; i >= 0; i-- {
		if err := c.Delete(ids[i]); err != nil {
			return err
		}
	}
	return nil
}

// List returns the section list of type t.
func (c *Cell) List(t SectionType) []SectionID {
	out := make([]SectionID, len(c.lists[t]))
	copy(out, c.lists[t])
	return out
}

// SetLists rebuilds the section lists. Each given list keeps its order;
// live sections not mentioned are appended to their type's list in ID order.
// Section numbers are reassigned from list positions.
func (c *Cell) SetLists(order map[SectionType][]SectionID) error {
	seen := make(map[SectionID]bool)
	lists := make(map[SectionType][]SectionID, len(AllSectionTypes))
	for _, t := range AllSectionTypes {
		for _, id := range order[t] {
			sec, err := c.Section(id)
			if err != nil {
				return fmt.Errorf("set lists: %w", err)
			}
			if sec.Type != t {
				return fmt.Errorf("set lists: %s listed as %s: %w", c.Name(id), t.ListName(), ErrUnsupportedSectionType)
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			lists[t] = append(lists[t], id)
		}
	}
	for _, id := range c.Sections() {
		if !seen[id] {
			t := c.sections[id].Type
			lists[t] = append(lists[t], id)
		}
	}
	for _, ids := range lists {
		for i, id := range ids {
			c.sections[id].Num = i
		}
	}
	c.lists = lists
	return nil
}

// Name returns the conventional section name, e.g. "dend[3]".
func (c *Cell) Name(id SectionID) string {
	sec, err := c.Section(id)
	if err != nil {
		return fmt.Sprintf("<deleted %d>", id)
	}
	return fmt.Sprintf("%s[%d]", sec.Type, sec.Num)
}

var sectionNameRe = regexp.MustCompile(`^([a-z]+)(?:\[(\d+)\])?$`)

// Lookup resolves a name such as "apic[0]" or "soma".
func (c *Cell) Lookup(name string) (SectionID, error) {
	m := sectionNameRe.FindStringSubmatch(name)
	if m == nil {
		return NoSection, fmt.Errorf("lookup %q: %w", name, ErrSectionNotFound)
	}
	t, err := ParseSectionType(m[1])
	if err != nil {
		return NoSection, fmt.Errorf("lookup %q: %w", name, err)
	}
	num := 0
	if m[2] != "" {
		num, _ = strconv.Atoi(m[2])
	}
	for _, id := range c.lists[t] {
		if c.sections[id].Num == num {
			return id, nil
		}
	}
	return NoSection, fmt.Errorf("lookup %q: %w", name, ErrSectionNotFound)
}

// SetNseg changes the segment count. Mechanism values are reset to the
// values of the first segment.
func (c *Cell) SetNseg(id SectionID, nseg int) error {
	sec, err := c.Section(id)
	if err != nil {
		return err
	}
	if nseg < 1 {
		return fmt.Errorf("%w: nseg=%d", ErrInvalidGeometry, nseg)
	}
	first := sec.values[0]
	values := make([]MechValues, nseg)
	for i := range values {
		values[i] = first.Clone()
	}
	sec.values = values
	sec.Nseg = nseg

	for _, pp := range c.points {
		if pp.Section == id {
			pp.X = SegmentCenter(nseg, SegmentIndex(nseg, pp.X))
		}
	}
	return nil
}

// Consume marks the cell as handed over to a transformation.
func (c *Cell) Consume() { c.consumed = true }

// Consumed reports whether Consume was called.
func (c *Cell) Consumed() bool { return c.consumed }

// Clone returns a deep copy with identical section and point-process IDs.
// The clone is never consumed.
func (c *Cell) Clone() *Cell {
	out := &Cell{
		Label:     c.Label,
		sections:  make([]*Section, len(c.sections)),
		soma:      c.soma,
		points:    make(map[PPID]*PointProcess, len(c.points)),
		nextPoint: c.nextPoint,
		lists:     make(map[SectionType][]SectionID, len(c.lists)),
	}
	for i, s := range c.sections {
		if s == nil {
			continue
		}
		cp := *s
		cp.children = append([]SectionID(nil), s.children...)
		cp.mechs = append([]string(nil), s.mechs...)
		cp.values = make([]MechValues, len(s.values))
		for j, v := range s.values {
			cp.values[j] = v.Clone()
		}
		out.sections[i] = &cp
	}
	for id, pp := range c.points {
		cp := pp.clone()
		out.points[id] = &cp
	}
	for t, ids := range c.lists {
		out.lists[t] = append([]SectionID(nil), ids...)
	}
	return out
}

// SetProperties replaces the geometry and passive properties of a section.
// A changed segment count goes through SetNseg.
func (c *Cell) SetProperties(id SectionID, p Properties) error {
	sec, err := c.Section(id)
	if err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return fmt.Errorf("%s: %w", c.Name(id), err)
	}
	if p.Nseg != sec.Nseg {
		if err := c.SetNseg(id, p.Nseg); err != nil {
			return err
		}
	}
	sec.Properties = p
	return nil
}
