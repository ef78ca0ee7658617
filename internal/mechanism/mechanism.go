// Package mechanism carries distributed-mechanism values from the original
// segments onto the segments that replace them.
package mechanism

import (
	"log/slog"
	"sort"

	"github.com/nvandessel/cablex/internal/logging"
	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/segmap"
)

// Excluded lists mechanisms never recorded or copied: the passive leak and
// ion bookkeeping entries the host maintains itself.
var Excluded = []string{"pas", "na_ion", "k_ion", "ca_ion", "h_ion", "ttx_ion"}

func excluded(mech string) bool {
	for _, m := range Excluded {
		if m == mech {
			return true
		}
	}
	return false
}

// Snapshot holds mechanism values per original segment.
type Snapshot map[morph.SegmentRef]morph.MechValues

// Take records the values of every segment of sections, skipping Excluded.
// It must run before the original sections are modified.
func Take(c *morph.Cell, sections []morph.SectionID) Snapshot {
	snap := make(Snapshot)
	for _, sec := range sections {
		for _, ref := range c.Segments(sec) {
			vals := c.Values(ref)
			for mech := range vals {
				if excluded(mech) {
					delete(vals, mech)
				}
			}
			snap[ref] = vals
		}
	}
	return snap
}

// Report summarizes one Copy.
type Report struct {
	// Copied counts new segments that received values from their preimages.
	Copied int
	// Orphans are new segments with no preimage.
	Orphans []morph.SegmentRef
	// Compensated counts orphans filled in from neighbors.
	Compensated int
	// Unresolved are orphans with no mapped segment anywhere in the new tree.
	Unresolved []morph.SegmentRef
}

// Warnings is the number of warnings Copy emitted: one for the orphans as a
// whole plus one per unresolved orphan. It is not an orphan count.
func (r *Report) Warnings() int {
	if len(r.Orphans) == 0 {
		return 0
	}
	return 1 + len(r.Unresolved)
}

// Copier writes averaged mechanism values onto new segments.
type Copier struct {
	logger    *slog.Logger
	decisions *logging.DecisionLogger
}

// NewCopier returns a Copier with no logging.
func NewCopier() *Copier { return &Copier{} }

// SetLogger sets the operational logger and decision trace. Either may be nil.
func (cp *Copier) SetLogger(logger *slog.Logger, decisions *logging.DecisionLogger) {
	cp.logger = logger
	cp.decisions = decisions
}

// Copy inserts into each new segment every mechanism found on its
// preimages and sets each parameter to the mean over the preimages that
// carry it. Segments that received no preimage are compensated from their
// nearest mapped neighbors toward each end of the new tree, which is made
// of sections.
func (cp *Copier) Copy(c *morph.Cell, snap Snapshot, m *segmap.Map, sections []morph.SectionID) (*Report, error) {
	rep := &Report{}
	copied := make(map[morph.SegmentRef]morph.MechValues)

	for _, seg := range m.Mapped() {
		var sources []morph.MechValues
		for _, orig := range m.Preimage(seg) {
			sources = append(sources, snap[orig])
		}
		vals := mean(sources)
		if err := apply(c, seg, vals); err != nil {
			return nil, err
		}
		copied[seg] = vals
		rep.Copied++
	}

	for _, sec := range sections {
		for _, seg := range c.Segments(sec) {
			if _, ok := copied[seg]; !ok {
				rep.Orphans = append(rep.Orphans, seg)
			}
		}
	}
	if len(rep.Orphans) == 0 {
		return rep, nil
	}

	if cp.logger != nil {
		cp.logger.Warn("some new segments received no mechanisms from the original cell; compensating from neighbors",
			"orphans", len(rep.Orphans))
	}
	tree := make(map[morph.SectionID]bool, len(sections))
	for _, sec := range sections {
		tree[sec] = true
	}
	for _, seg := range rep.Orphans {
		prox, hasProx := nearest(c, copied, tree, seg, -1)
		dist, hasDist := nearest(c, copied, tree, seg, +1)

		var vals morph.MechValues
		switch {
		case hasProx && hasDist:
			vals = meanOfPair(copied[prox], copied[dist])
		case hasProx:
			vals = copied[prox].Clone()
		case hasDist:
			vals = copied[dist].Clone()
		default:
			rep.Unresolved = append(rep.Unresolved, seg)
			if cp.logger != nil {
				cp.logger.Warn("orphan segment has no mapped neighbor", "segment", c.SegmentName(seg))
			}
			continue
		}
		if err := apply(c, seg, vals); err != nil {
			return nil, err
		}
		rep.Compensated++
		if cp.decisions != nil {
			fields := map[string]any{
				"segment":    c.SegmentName(seg),
				"mechanisms": names(vals),
			}
			if hasProx {
				fields["proximal"] = c.SegmentName(prox)
			}
			if hasDist {
				fields["distal"] = c.SegmentName(dist)
			}
			cp.decisions.Log("orphan_compensated", fields)
		}
	}
	return rep, nil
}

// nearest walks from seg toward the proximal (step -1) or distal (step +1)
// end of the new tree and returns the closest segment that received values.
// The walk leaves a section through its parent or its children as long as
// they belong to tree, so a trunk reaches its branches and a branch its
// trunk. Sibling branches at the same distance are visited in child order.
func nearest(c *morph.Cell, copied map[morph.SegmentRef]morph.MechValues, tree map[morph.SectionID]bool, seg morph.SegmentRef, step int) (morph.SegmentRef, bool) {
	seen := map[morph.SegmentRef]bool{seg: true}
	frontier := []morph.SegmentRef{seg}
	for len(frontier) > 0 {
		var next []morph.SegmentRef
		for _, ref := range frontier {
			for _, nb := range adjacent(c, tree, ref, step) {
				if seen[nb] {
					continue
				}
				seen[nb] = true
				if _, ok := copied[nb]; ok {
					return nb, true
				}
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return morph.SegmentRef{}, false
}

// adjacent returns the segments one step from ref toward the proximal or
// distal end, crossing section boundaries within tree.
func adjacent(c *morph.Cell, tree map[morph.SectionID]bool, ref morph.SegmentRef, step int) []morph.SegmentRef {
	n := c.SegmentCount(ref.Section)
	if i := ref.Index + step; i >= 0 && i < n {
		return []morph.SegmentRef{{Section: ref.Section, Index: i}}
	}
	if step < 0 {
		parent, x, ok := c.Parent(ref.Section)
		if !ok || !tree[parent] {
			return nil
		}
		at, err := c.Segment(parent, x)
		if err != nil {
			return nil
		}
		return []morph.SegmentRef{at}
	}
	var out []morph.SegmentRef
	for _, child := range c.Children(ref.Section) {
		if !tree[child] {
			continue
		}
		_, x, _ := c.Parent(child)
		if at, err := c.Segment(ref.Section, x); err != nil || at != ref {
			continue
		}
		out = append(out, morph.SegmentRef{Section: child, Index: 0})
	}
	return out
}

// mean averages each parameter over the sources that carry it. A mechanism
// present on any source is present in the result.
func mean(sources []morph.MechValues) morph.MechValues {
	sums := make(morph.MechValues)
	counts := make(map[string]map[string]int)
	for _, src := range sources {
		for mech, params := range src {
			if _, ok := sums[mech]; !ok {
				sums[mech] = map[string]float64{}
				counts[mech] = map[string]int{}
			}
			for p, v := range params {
				sums[mech][p] += v
				counts[mech][p]++
			}
		}
	}
	for mech, params := range sums {
		for p := range params {
			params[p] /= float64(counts[mech][p])
		}
	}
	return sums
}

// meanOfPair keeps mechanisms and parameters present on both a and b.
func meanOfPair(a, b morph.MechValues) morph.MechValues {
	out := make(morph.MechValues)
	for mech, pa := range a {
		pb, ok := b[mech]
		if !ok {
			continue
		}
		out[mech] = map[string]float64{}
		for p, va := range pa {
			if vb, ok := pb[p]; ok {
				out[mech][p] = (va + vb) / 2
			}
		}
	}
	return out
}

func apply(c *morph.Cell, seg morph.SegmentRef, vals morph.MechValues) error {
	for _, mech := range names(vals) {
		if err := c.Insert(seg.Section, mech); err != nil {
			return err
		}
		for p, v := range vals[mech] {
			if err := c.SetParam(seg, mech, p, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func names(vals morph.MechValues) []string {
	out := make([]string, 0, len(vals))
	for mech := range vals {
		out = append(out, mech)
	}
	sort.Strings(out)
	return out
}
