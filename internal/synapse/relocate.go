package synapse

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nvandessel/cablex/internal/classify"
	"github.com/nvandessel/cablex/internal/electrotonic"
	"github.com/nvandessel/cablex/internal/logging"
	"github.com/nvandessel/cablex/internal/morph"
)

// ErrSubtreeMismatch indicates a classified subtree with no matching target.
var ErrSubtreeMismatch = errors.New("no relocation target for subtree")

// Target is where synapses of one classified subtree go.
type Target struct {
	Placer      electrotonic.Placer
	Trunk       morph.SectionID
	FirstBranch morph.SectionID
}

// Move records what happened to one relocated or bucketed synapse.
type Move struct {
	Synapse morph.PPID        `json:"synapse"`
	From    classify.Location `json:"from"`
	To      morph.SegmentRef  `json:"to"`
	// Into is the point process that now receives the synapse's
	// connections; it equals Synapse unless the synapse was merged.
	Into    morph.PPID `json:"into"`
	Clamped bool       `json:"clamped,omitempty"`
}

// Merged reports whether the synapse was folded into another point process.
func (m Move) Merged() bool { return m.Into != m.Synapse }

// Result is the output of Relocate.
type Result struct {
	// Synapses lists the surviving point processes: untouched ones first,
	// then relocated, then somatic and axonal.
	Synapses    []morph.PPID
	Connections []morph.Connection
	Moves       []Move
	Clamped     int
}

// Relocator places synapses of expanded subtrees on the new tree.
type Relocator struct {
	params    ParamDict
	logger    *slog.Logger
	decisions *logging.DecisionLogger
}

// NewRelocator returns a Relocator that compares point processes with
// params, filling it in as new kinds are seen.
func NewRelocator(params ParamDict) *Relocator {
	if params == nil {
		params = ParamDict{}
	}
	return &Relocator{params: params}
}

// SetLogger sets the operational logger and decision trace. Either may be nil.
func (r *Relocator) SetLogger(logger *slog.Logger, decisions *logging.DecisionLogger) {
	r.logger = logger
	r.decisions = decisions
}

// Params returns the dictionary used for merging.
func (r *Relocator) Params() ParamDict { return r.params }

type pending struct {
	pp  morph.PointProcess
	loc classify.Location
}

// Relocate moves every synapse on a classified subtree to the segment of
// targets[subtree] with the same transfer impedance to the subtree root,
// merging it into an existing point process there when their parameters
// match. Synapses on the soma or an axon are merged with matching ones on
// the same segment but never moved. Synapses on other sections pass
// through. Connections are copied; merged synapses' connections are
// retargeted in the copy.
func (r *Relocator) Relocate(c *morph.Cell, ix *classify.Index, targets []Target, synapses []morph.PPID, conns []morph.Connection) (*Result, error) {
	if len(targets) != ix.Len() {
		return nil, fmt.Errorf("%w: %d subtrees, %d targets", ErrSubtreeMismatch, ix.Len(), len(targets))
	}
	res := &Result{Connections: append([]morph.Connection(nil), conns...)}

	baskets := make([][]pending, ix.Len())
	var bucket []pending
	for _, id := range synapses {
		pp, err := c.PointProcess(id)
		if err != nil {
			return nil, fmt.Errorf("relocate: %w", err)
		}
		loc, err := ix.Locate(c, pp.Section, pp.X)
		if err != nil {
			return nil, fmt.Errorf("relocate %d: %w", id, err)
		}
		switch {
		case !loc.Somatic():
			baskets[loc.Subtree] = append(baskets[loc.Subtree], pending{pp: pp, loc: loc})
		case loc.Type == morph.Soma || loc.Type == morph.Axonal:
			bucket = append(bucket, pending{pp: pp, loc: loc})
		default:
			res.Synapses = append(res.Synapses, id)
		}
	}

	for i, basket := range baskets {
		tgt := targets[i]
		for _, p := range basket {
			pl, err := tgt.Placer.Place(p.pp.Section, p.pp.X)
			if err != nil {
				return nil, fmt.Errorf("relocate synapse %d: %w", p.pp.ID, err)
			}
			sec := tgt.Trunk
			if !pl.OnTrunk {
				sec = tgt.FirstBranch
			}
			ref, err := c.Segment(sec, pl.X)
			if err != nil {
				return nil, fmt.Errorf("relocate synapse %d: %w", p.pp.ID, err)
			}
			if pl.Clamped {
				res.Clamped++
			}
			mv := Move{Synapse: p.pp.ID, From: p.loc, To: ref, Into: p.pp.ID, Clamped: pl.Clamped}

			if into, ok := r.findMatch(c, p.pp, c.PointProcessesAt(ref)); ok {
				mv.Into = into
				r.merge(c, res, p.pp.ID, into)
			} else {
				if err := c.Locate(p.pp.ID, sec, pl.X); err != nil {
					return nil, fmt.Errorf("relocate synapse %d: %w", p.pp.ID, err)
				}
				res.Synapses = append(res.Synapses, p.pp.ID)
			}
			res.Moves = append(res.Moves, mv)
			r.logMove(c, "synapse_placed", mv, pl)
		}
	}

	perSeg := make(map[morph.SegmentRef][]morph.PPID)
	for _, p := range bucket {
		ref, err := c.PointSegment(p.pp.ID)
		if err != nil {
			return nil, fmt.Errorf("relocate: %w", err)
		}
		mv := Move{Synapse: p.pp.ID, From: p.loc, To: ref, Into: p.pp.ID}
		if into, ok := r.findMatch(c, p.pp, perSeg[ref]); ok {
			mv.Into = into
			r.merge(c, res, p.pp.ID, into)
		} else {
			perSeg[ref] = append(perSeg[ref], p.pp.ID)
			res.Synapses = append(res.Synapses, p.pp.ID)
		}
		res.Moves = append(res.Moves, mv)
		r.logMove(c, "synapse_bucketed", mv, electrotonic.Placement{})
	}

	if r.logger != nil {
		merged := 0
		for _, mv := range res.Moves {
			if mv.Merged() {
				merged++
			}
		}
		r.logger.Debug("relocated synapses",
			"moved", len(res.Moves),
			"merged", merged,
			"surviving", len(res.Synapses),
			"clamped", res.Clamped)
	}
	return res, nil
}

func (r *Relocator) findMatch(c *morph.Cell, pp morph.PointProcess, candidates []morph.PPID) (morph.PPID, bool) {
	for _, id := range candidates {
		if id == pp.ID {
			continue
		}
		other, err := c.PointProcess(id)
		if err != nil {
			continue
		}
		if r.params.Match(pp, other) {
			return id, true
		}
	}
	return 0, false
}

func (r *Relocator) merge(c *morph.Cell, res *Result, from, into morph.PPID) {
	for i := range res.Connections {
		if res.Connections[i].Target == from {
			res.Connections[i].Target = into
		}
	}
	c.RemovePointProcess(from)
}

func (r *Relocator) logMove(c *morph.Cell, event string, mv Move, pl electrotonic.Placement) {
	if r.decisions == nil {
		return
	}
	fields := map[string]any{
		"synapse":  int(mv.Synapse),
		"subtree":  mv.From.Subtree,
		"from":     fmt.Sprintf("%s[%d](%g)", mv.From.Type, mv.From.SectionNum, mv.From.X),
		"to":       c.SegmentName(mv.To),
		"merged":   mv.Merged(),
		"into":     int(mv.Into),
		"clamped":  mv.Clamped,
		"on_trunk": pl.OnTrunk,
	}
	if event == "synapse_placed" {
		fields["electrotonic"] = pl.Electrotonic
	}
	r.decisions.Log(event, fields)
}
