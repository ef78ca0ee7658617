// Package builder materializes expanded cables as new trunk and branch
// sections and wires them to the soma.
package builder

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nvandessel/cablex/internal/cable"
	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/surgery"
)

// ErrBatchMismatch indicates expansions, segment counts and detached roots
// of different lengths.
var ErrBatchMismatch = errors.New("expansion batch lengths differ")

// Tree lists the sections created for each expansion, in request order.
type Tree struct {
	Trunks   []morph.SectionID
	Branches [][]morph.SectionID
}

// Sections returns every new section: each trunk followed by its branches.
func (t *Tree) Sections() []morph.SectionID {
	var out []morph.SectionID
	for i, trunk := range t.Trunks {
		out = append(out, trunk)
		out = append(out, t.Branches[i]...)
	}
	return out
}

// Builder creates the expanded tree in a cell.
type Builder struct {
	logger *slog.Logger
}

// New returns a Builder. logger may be nil.
func New(logger *slog.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build allocates one trunk plus exps[i].Branches branches per expansion,
// applies geometry and passive properties, connects each trunk to the soma
// at plan.ExpandX[i] and each branch to the distal end of its trunk.
func (b *Builder) Build(c *morph.Cell, plan *surgery.Plan, exps []cable.Expansion, counts []cable.SegmentCount) (*Tree, error) {
	if len(exps) != len(counts) || len(exps) != len(plan.Expand) {
		return nil, fmt.Errorf("%w: %d expansions, %d segment counts, %d roots",
			ErrBatchMismatch, len(exps), len(counts), len(plan.Expand))
	}

	need := make(map[morph.SectionType]int)
	for _, e := range exps {
		switch e.Type {
		case morph.Apical, morph.Basal, morph.Axonal:
		default:
			return nil, fmt.Errorf("build %s cable: %w", e.Type, morph.ErrUnsupportedSectionType)
		}
		need[e.Type] += 1 + e.Branches
	}
	allocated, err := c.Allocate(need)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	next := make(map[morph.SectionType]int)
	take := func(t morph.SectionType) morph.SectionID {
		id := allocated[t][next[t]]
		next[t]++
		return id
	}

	tree := &Tree{}
	for i, e := range exps {
		trunk := take(e.Type)
		if err := c.SetProperties(trunk, e.Trunk.Properties(counts[i].Trunk)); err != nil {
			return nil, fmt.Errorf("build trunk %d: %w", i, err)
		}
		if err := c.Connect(trunk, plan.Soma, plan.ExpandX[i]); err != nil {
			return nil, fmt.Errorf("build trunk %d: %w", i, err)
		}

		branches := make([]morph.SectionID, e.Branches)
		for j := range branches {
			br := take(e.Type)
			if err := c.SetProperties(br, e.Branch.Properties(counts[i].Branch)); err != nil {
				return nil, fmt.Errorf("build branch %d of trunk %d: %w", j, i, err)
			}
			if err := c.Connect(br, trunk, 1); err != nil {
				return nil, fmt.Errorf("build branch %d of trunk %d: %w", j, i, err)
			}
			branches[j] = br
		}
		tree.Trunks = append(tree.Trunks, trunk)
		tree.Branches = append(tree.Branches, branches)

		if b.logger != nil {
			b.logger.Debug("built expanded cable",
				"trunk", c.Name(trunk),
				"trunk_L", e.Trunk.Length,
				"trunk_nseg", counts[i].Trunk,
				"branches", e.Branches,
				"branch_L", e.Branch.Length,
				"branch_diam", e.Branch.Diam,
				"branch_nseg", counts[i].Branch)
		}
	}
	return tree, nil
}

// SectionLists returns the list order for the transformed cell: the new
// trunks and branches first, then kept sections, per type.
func SectionLists(c *morph.Cell, tree *Tree, kept []morph.SectionID) map[morph.SectionType][]morph.SectionID {
	out := make(map[morph.SectionType][]morph.SectionID)
	add := func(id morph.SectionID) {
		if sec, err := c.Section(id); err == nil {
			out[sec.Type] = append(out[sec.Type], id)
		}
	}
	if soma := c.Soma(); soma != morph.NoSection {
		add(soma)
	}
	for _, id := range tree.Sections() {
		add(id)
	}
	for _, id := range kept {
		add(id)
	}
	return out
}
