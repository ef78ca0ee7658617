// Package surgery detaches the subtrees chosen for expansion from the soma,
// sets aside the sibling subtrees that stay unchanged, and puts the kept
// ones back once the new tree exists.
package surgery

import (
	"errors"
	"fmt"

	"github.com/nvandessel/cablex/internal/morph"
)

// ErrNotSomaChild indicates a section chosen for expansion that is not
// attached directly to the soma.
var ErrNotSomaChild = errors.New("section is not a child of the soma")

// Kept records a section that is reattached unchanged.
type Kept struct {
	Section morph.SectionID `json:"section"`
	// SomaParent marks the soma's own parent (typically the axon). For it,
	// X is the fraction on Section where the soma was attached; otherwise X
	// is the fraction on the soma where Section was attached.
	SomaParent bool    `json:"soma_parent"`
	X          float64 `json:"x"`
}

// Plan is the outcome of Detach.
type Plan struct {
	Soma morph.SectionID
	Keep []Kept
	// Expand lists the detached subtree roots in request order; ExpandX holds
	// the fraction on the soma each was attached at.
	Expand  []morph.SectionID
	ExpandX []float64
}

// Validate checks that every section in expand is a distinct soma child.
// It does not mutate c.
func Validate(c *morph.Cell, expand []morph.SectionID) error {
	soma := c.Soma()
	if soma == morph.NoSection {
		return fmt.Errorf("detach: soma: %w", morph.ErrSectionNotFound)
	}
	seen := make(map[morph.SectionID]bool, len(expand))
	for _, id := range expand {
		if !c.Has(id) {
			return fmt.Errorf("detach: %w: %d", morph.ErrSectionNotFound, id)
		}
		parent, _, ok := c.Parent(id)
		if !ok || parent != soma {
			return fmt.Errorf("detach %s: %w", c.Name(id), ErrNotSomaChild)
		}
		if seen[id] {
			return fmt.Errorf("detach %s: listed twice", c.Name(id))
		}
		seen[id] = true
	}
	return nil
}

// Detach disconnects every soma child not in expand, the soma's parent if
// it has one, and every section in expand. The soma is left as a root.
func Detach(c *morph.Cell, expand []morph.SectionID) (*Plan, error) {
	if err := Validate(c, expand); err != nil {
		return nil, err
	}
	soma := c.Soma()
	expanded := make(map[morph.SectionID]bool, len(expand))
	for _, id := range expand {
		expanded[id] = true
	}

	plan := &Plan{Soma: soma}
	for _, ch := range c.Children(soma) {
		if expanded[ch] {
			continue
		}
		x, err := c.Disconnect(ch)
		if err != nil {
			return nil, err
		}
		plan.Keep = append(plan.Keep, Kept{Section: ch, X: x})
	}
	if parent, _, ok := c.Parent(soma); ok {
		x, err := c.Disconnect(soma)
		if err != nil {
			return nil, err
		}
		plan.Keep = append(plan.Keep, Kept{Section: parent, SomaParent: true, X: x})
	}

	for _, id := range expand {
		x, err := c.Disconnect(id)
		if err != nil {
			return nil, err
		}
		plan.Expand = append(plan.Expand, id)
		plan.ExpandX = append(plan.ExpandX, x)
	}
	return plan, nil
}

// Reattach connects every kept section back to the soma at its recorded fraction.
func Reattach(c *morph.Cell, plan *Plan) error {
	for _, k := range plan.Keep {
		var err error
		if k.SomaParent {
			err = c.Connect(plan.Soma, k.Section, k.X)
		} else {
			err = c.Connect(k.Section, plan.Soma, k.X)
		}
		if err != nil {
			return fmt.Errorf("reattach %s: %w", c.Name(k.Section), err)
		}
	}
	return nil
}

// Destroy deletes the detached subtrees listed in plan.Expand.
func Destroy(c *morph.Cell, plan *Plan) error {
	for _, root := range plan.Expand {
		if err := c.DeleteSubtree(root); err != nil {
			return fmt.Errorf("destroy %d: %w", root, err)
		}
	}
	return nil
}

// KeptSections lists the kept sections and all of their descendants, in
// keep order then pre-order. The walk never descends through the soma, so
// the result is the same before and after Reattach.
func (p *Plan) KeptSections(c *morph.Cell) []morph.SectionID {
	var out []morph.SectionID
	var walk func(id morph.SectionID)
	walk = func(id morph.SectionID) {
		if id == p.Soma {
			return
		}
		out = append(out, id)
		for _, ch := range c.Children(id) {
			walk(ch)
		}
	}
	for _, k := range p.Keep {
		walk(k.Section)
	}
	return out
}
