// Package classify assigns every section of the subtrees chosen for
// expansion to the index of the subtree it belongs to.
package classify

import (
	"errors"
	"fmt"

	"github.com/nvandessel/cablex/internal/morph"
)

// ErrApicalNotFirst indicates an apical subtree root listed after another root.
var ErrApicalNotFirst = errors.New("apical subtree must be the first subtree")

// SomaSubtree is the subtree index reported for locations outside every
// classified subtree (soma, axon and kept sections).
const SomaSubtree = -1

// Key identifies a section by type and number, e.g. (Apical, 3) for apic[3].
type Key struct {
	Type morph.SectionType
	Num  int
}

// String formats the key as a section name.
func (k Key) String() string { return fmt.Sprintf("%s[%d]", k.Type, k.Num) }

// Index is the subtree index map. It is read-only after Classify returns.
type Index struct {
	roots     []morph.SectionID
	sections  [][]morph.SectionID
	bySection map[morph.SectionID]int
	byKey     map[Key]int
}

// Classify walks each root in order and labels every descendant with the
// root's position. An apical root must come first; soma and axonal roots
// are rejected.
func Classify(c *morph.Cell, roots []morph.SectionID) (*Index, error) {
	ix := &Index{
		roots:     append([]morph.SectionID(nil), roots...),
		sections:  make([][]morph.SectionID, len(roots)),
		bySection: make(map[morph.SectionID]int),
		byKey:     make(map[Key]int),
	}
	for i, root := range roots {
		sec, err := c.Section(root)
		if err != nil {
			return nil, fmt.Errorf("classify: %w", err)
		}
		switch sec.Type {
		case morph.Apical:
			if i != 0 {
				return nil, fmt.Errorf("classify %s at position %d: %w", c.Name(root), i, ErrApicalNotFirst)
			}
		case morph.Basal:
		default:
			return nil, fmt.Errorf("classify %s: %w", c.Name(root), morph.ErrUnsupportedSectionType)
		}

		for _, id := range c.Subtree(root) {
			if prev, ok := ix.bySection[id]; ok {
				return nil, fmt.Errorf("classify: %s belongs to subtrees %d and %d", c.Name(id), prev, i)
			}
			s, _ := c.Section(id)
			ix.bySection[id] = i
			ix.byKey[Key{Type: s.Type, Num: s.Num}] = i
			ix.sections[i] = append(ix.sections[i], id)
		}
	}
	return ix, nil
}

// Len returns the number of subtrees.
func (ix *Index) Len() int { return len(ix.roots) }

// Root returns the root section of subtree i.
func (ix *Index) Root(i int) morph.SectionID { return ix.roots[i] }

// Sections returns the sections of subtree i in pre-order.
func (ix *Index) Sections(i int) []morph.SectionID {
	return append([]morph.SectionID(nil), ix.sections[i]...)
}

// Doomed returns every classified section: the originals that are
// destroyed once the new tree is in place.
func (ix *Index) Doomed() []morph.SectionID {
	var out []morph.SectionID
	for _, secs := range ix.sections {
		out = append(out, secs...)
	}
	return out
}

// Subtree returns the subtree index of a section.
func (ix *Index) Subtree(id morph.SectionID) (int, bool) {
	i, ok := ix.bySection[id]
	return i, ok
}

// Lookup returns the subtree index of a section by type and number.
func (ix *Index) Lookup(k Key) (int, bool) {
	i, ok := ix.byKey[k]
	return i, ok
}

// Location is where a synapse or segment center sits relative to the
// classified subtrees.
type Location struct {
	Subtree    int               `json:"subtree"`
	SectionNum int               `json:"section_num"`
	X          float64           `json:"x"`
	Type       morph.SectionType `json:"section_type"`
}

// Somatic reports whether the location lies outside every classified subtree.
func (l Location) Somatic() bool { return l.Subtree == SomaSubtree }

// Locate returns the location of sec(x). Locations outside the classified
// subtrees report SomaSubtree with section number 0 and x 0.
func (ix *Index) Locate(c *morph.Cell, sec morph.SectionID, x float64) (Location, error) {
	s, err := c.Section(sec)
	if err != nil {
		return Location{}, fmt.Errorf("locate: %w", err)
	}
	i, ok := ix.bySection[sec]
	if !ok {
		return Location{Subtree: SomaSubtree, Type: s.Type}, nil
	}
	return Location{Subtree: i, SectionNum: s.Num, X: x, Type: s.Type}, nil
}
