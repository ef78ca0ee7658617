// Package segmap builds the many-to-many relation between segments of the
// expanded subtrees and segments of the new trunk and branch sections.
package segmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nvandessel/cablex/internal/electrotonic"
	"github.com/nvandessel/cablex/internal/logging"
	"github.com/nvandessel/cablex/internal/morph"
)

var (
	// ErrMappingNotImplemented indicates the declared but unsupported "distance" mode.
	ErrMappingNotImplemented = errors.New("segment mapping mode not implemented")

	// ErrUnknownMapping indicates a mapping mode name that is not recognized.
	ErrUnknownMapping = errors.New("unknown segment mapping mode")
)

// Mode selects how original segments find their images.
type Mode string

const (
	// Impedance matches transfer impedance to the subtree root, the same
	// rule used for synapses.
	Impedance Mode = "impedance"
	// Distance is accepted by name but not implemented.
	Distance Mode = "distance"
)

// ParseMode parses a mode name. The empty string selects Impedance.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		m = Impedance
	}
	return m, m.Validate()
}

// Validate returns nil only for supported modes.
func (m Mode) Validate() error {
	switch m {
	case Impedance:
		return nil
	case Distance:
		return fmt.Errorf("%w: %q", ErrMappingNotImplemented, string(m))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMapping, string(m))
	}
}

// Subtree describes one expanded subtree: its original sections and the
// new sections that replace them.
type Subtree struct {
	Sections []morph.SectionID
	Placer   electrotonic.Placer
	Trunk    morph.SectionID
	Branches []morph.SectionID
}

// Map is the segment equivalence relation. It is immutable once built.
type Map struct {
	forward   map[morph.SegmentRef][]morph.SegmentRef
	reverse   map[morph.SegmentRef][]morph.SegmentRef
	originals []morph.SegmentRef
}

// Image returns the new segments an original segment maps to.
func (m *Map) Image(orig morph.SegmentRef) []morph.SegmentRef {
	return append([]morph.SegmentRef(nil), m.forward[orig]...)
}

// Preimage returns the original segments mapped onto a new segment.
func (m *Map) Preimage(seg morph.SegmentRef) []morph.SegmentRef {
	return append([]morph.SegmentRef(nil), m.reverse[seg]...)
}

// Originals lists every mapped original segment in mapping order.
func (m *Map) Originals() []morph.SegmentRef {
	return append([]morph.SegmentRef(nil), m.originals...)
}

// Mapped lists every new segment with at least one original, sorted.
func (m *Map) Mapped() []morph.SegmentRef {
	out := make([]morph.SegmentRef, 0, len(m.reverse))
	for ref := range m.reverse {
		out = append(out, ref)
	}
	morph.SortSegments(out)
	return out
}

// Mapper builds segment maps.
type Mapper struct {
	logger    *slog.Logger
	decisions *logging.DecisionLogger
}

// NewMapper returns a Mapper with no logging.
func NewMapper() *Mapper { return &Mapper{} }

// SetLogger sets the operational logger and decision trace. Either may be nil.
func (mp *Mapper) SetLogger(logger *slog.Logger, decisions *logging.DecisionLogger) {
	mp.logger = logger
	mp.decisions = decisions
}

// Build maps the center of every segment of every original section to the
// trunk segment, or to the same segment of every branch, at its
// impedance-equivalent position.
func (mp *Mapper) Build(c *morph.Cell, mode Mode, subtrees []Subtree) (*Map, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	m := &Map{
		forward: make(map[morph.SegmentRef][]morph.SegmentRef),
		reverse: make(map[morph.SegmentRef][]morph.SegmentRef),
	}
	for i, st := range subtrees {
		for _, sec := range st.Sections {
			for _, orig := range c.Segments(sec) {
				pl, err := st.Placer.Place(sec, c.SegmentX(orig))
				if err != nil {
					return nil, fmt.Errorf("map %s: %w", c.SegmentName(orig), err)
				}
				hosts := st.Branches
				if pl.OnTrunk {
					hosts = []morph.SectionID{st.Trunk}
				}
				for _, h := range hosts {
					img, err := c.Segment(h, pl.X)
					if err != nil {
						return nil, fmt.Errorf("map %s: %w", c.SegmentName(orig), err)
					}
					m.forward[orig] = append(m.forward[orig], img)
					m.reverse[img] = append(m.reverse[img], orig)
				}
				m.originals = append(m.originals, orig)

				if mp.logger != nil && mp.logger.Enabled(context.Background(), logging.LevelTrace) {
					mp.logger.Log(context.Background(), logging.LevelTrace, "mapped segment",
						"subtree", i,
						"segment", c.SegmentName(orig),
						"on_trunk", pl.OnTrunk,
						"x", pl.X,
						"images", len(hosts))
				}
			}
		}
	}
	if mp.decisions != nil {
		mp.decisions.Log("segments_mapped", map[string]any{
			"originals": len(m.forward),
			"images":    len(m.reverse),
		})
	}
	return m, nil
}

// Report renders one line per original segment, "orig -> new1, new2",
// naming originals from before and images from after the transformation.
func (m *Map) Report(before, after *morph.Cell) []string {
	lines := make([]string, 0, len(m.originals))
	for _, orig := range m.originals {
		imgs := m.forward[orig]
		names := make([]string, len(imgs))
		for i, img := range imgs {
			names[i] = after.SegmentName(img)
		}
		sort.Strings(names)
		lines = append(lines, fmt.Sprintf("%s -> %s", before.SegmentName(orig), strings.Join(names, ", ")))
	}
	return lines
}
