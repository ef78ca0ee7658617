// Package expander runs the full cable-expansion transformation: it replaces
// chosen soma-attached subtrees of a cell with one trunk plus identical
// branches each, and carries synapses, connections and distributed
// mechanisms over to electrotonically equivalent positions.
package expander

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nvandessel/cablex/internal/builder"
	"github.com/nvandessel/cablex/internal/cable"
	"github.com/nvandessel/cablex/internal/classify"
	"github.com/nvandessel/cablex/internal/electrotonic"
	"github.com/nvandessel/cablex/internal/impedance"
	"github.com/nvandessel/cablex/internal/logging"
	"github.com/nvandessel/cablex/internal/mechanism"
	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/segmap"
	"github.com/nvandessel/cablex/internal/surgery"
	"github.com/nvandessel/cablex/internal/synapse"
)

var (
	// ErrCellConsumed indicates a cell already handed to a successful Expand.
	ErrCellConsumed = errors.New("cell was consumed by a previous expansion")

	// ErrRequestMismatch indicates an inconsistent request: missing cell,
	// per-subtree lists of different lengths, or unknown synapses.
	ErrRequestMismatch = errors.New("invalid expansion request")

	// ErrNotSomaChild indicates a section to expand that is not attached
	// directly to the soma.
	ErrNotSomaChild = surgery.ErrNotSomaChild
)

// AutoSegments selects the lambda rule for segment counts.
const AutoSegments = cable.AutoSegments

const tracerName = "cablex/expander"

// Request describes one transformation.
type Request struct {
	Cell *morph.Cell
	// Sections are the soma children to expand; an apical root must come first.
	Sections []morph.SectionID
	// Furcations and Branches give the furcation fraction and branch count
	// for each entry of Sections.
	Furcations []float64
	Branches   []int
	// Synapses and Connections are the point processes to carry over and the
	// connections targeting them.
	Synapses    []morph.PPID
	Connections []morph.Connection
	// Frequency in Hz at which impedances are matched.
	Frequency float64
	// TotalSegments is the manual segment-count override: negative
	// (AutoSegments) for the lambda rule, a fraction in (0,1) for a minimum
	// share of the original segment count, or an integer total. Zero is
	// rejected.
	TotalSegments float64
	// Params is the point-process parameter dictionary; nil starts empty.
	// It is filled in place and returned in Result.Params.
	Params synapse.ParamDict
	// Mapping selects the segment mapping mode; empty means impedance.
	Mapping segmap.Mode
	// Report requests the textual segment map.
	Report bool
}

// Options are collaborators and observability hooks. The zero value is usable.
type Options struct {
	Logger    *slog.Logger
	Decisions *logging.DecisionLogger
	// Rand drives branch synapse distribution; nil seeds synapse.DefaultSeed.
	Rand *rand.Rand
	// Calculator measures subtree impedances; nil uses impedance.Passive.
	Calculator impedance.Calculator
	// Solver finds electrotonic positions; nil uses impedance.FindBestRealX.
	Solver impedance.Solver
	// Nseg overrides Request.TotalSegments when set.
	Nseg cable.NsegPolicy
}

// Result is the transformed cell and the bindings that go with it. Section
// and point-process IDs of kept sections and surviving synapses are those
// of the input cell.
type Result struct {
	Cell        *morph.Cell
	Synapses    []morph.PPID
	Connections []morph.Connection
	Params      synapse.ParamDict
	Map         *segmap.Map
	Report      []string
	Tree        *builder.Tree
	Expansions  []cable.Expansion
	Counts      []cable.SegmentCount
	Moves       []synapse.Move
	Mechanisms  *mechanism.Report
	// Clamped counts placements that overshot the distal end.
	Clamped int
	// Warnings counts recoverable conditions, such as orphan segments.
	Warnings int
}

// validate checks everything that can be checked without touching the cell.
func validate(req Request, opts Options) (segmap.Mode, error) {
	if req.Cell == nil {
		return "", fmt.Errorf("%w: no cell", ErrRequestMismatch)
	}
	if req.Cell.Consumed() {
		return "", ErrCellConsumed
	}
	if len(req.Sections) == 0 {
		return "", fmt.Errorf("%w: no sections to expand", ErrRequestMismatch)
	}
	if len(req.Furcations) != len(req.Sections) || len(req.Branches) != len(req.Sections) {
		return "", fmt.Errorf("%w: %d sections, %d furcations, %d branch counts",
			ErrRequestMismatch, len(req.Sections), len(req.Furcations), len(req.Branches))
	}
	for i := range req.Sections {
		if req.Branches[i] < 1 {
			return "", fmt.Errorf("subtree %d: %w: %d", i, cable.ErrInvalidBranchCount, req.Branches[i])
		}
		if f := req.Furcations[i]; !(f > 0 && f < 1) {
			return "", fmt.Errorf("subtree %d: %w: %g", i, cable.ErrInvalidFurcation, f)
		}
	}
	if req.Frequency < 0 {
		return "", fmt.Errorf("%w: frequency %g", ErrRequestMismatch, req.Frequency)
	}
	if opts.Nseg == nil {
		if _, err := cable.Policy(req.TotalSegments, 0); err != nil {
			return "", err
		}
	}
	mode, err := segmap.ParseMode(string(req.Mapping))
	if err != nil {
		return "", err
	}
	if err := surgery.Validate(req.Cell, req.Sections); err != nil {
		return "", err
	}
	for _, id := range req.Synapses {
		if _, err := req.Cell.PointProcess(id); err != nil {
			return "", fmt.Errorf("%w: synapse %d: %v", ErrRequestMismatch, id, err)
		}
	}
	return mode, nil
}

// Expand runs the transformation on a working copy of req.Cell. On success
// req.Cell is marked consumed and the copy is returned in Result.Cell; on
// failure req.Cell is unchanged. req.Synapses and req.Connections are never
// modified.
func Expand(ctx context.Context, req Request, opts Options) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "expander.Expand")
	defer span.End()

	mode, err := validate(req, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("cell", req.Cell.Label),
		attribute.Int("subtrees", len(req.Sections)),
		attribute.Int("synapses", len(req.Synapses)),
		attribute.Float64("frequency", req.Frequency),
	)

	p := &pipeline{req: req, opts: opts, mode: mode, work: req.Cell.Clone()}
	if p.opts.Calculator == nil {
		p.opts.Calculator = impedance.Passive{}
	}
	if p.req.Params == nil {
		p.req.Params = synapse.ParamDict{}
	}

	for _, st := range []struct {
		name string
		run  func() error
	}{
		{"detach", p.detach},
		{"classify", p.classify},
		{"expand", p.expand},
		{"build", p.build},
		{"relocate", p.relocate},
		{"map", p.mapSegments},
		{"mechanisms", p.copyMechanisms},
		{"distribute", p.distribute},
		{"finalize", p.finalize},
	} {
		if err := p.stage(ctx, st.name, st.run); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, st.name+" failed")
			return nil, err
		}
	}

	req.Cell.Consume()
	span.SetAttributes(
		attribute.Int("surviving_synapses", len(p.res.Synapses)),
		attribute.Int("warnings", p.res.Warnings),
	)
	span.SetStatus(codes.Ok, "expansion complete")

	if opts.Logger != nil {
		opts.Logger.Info("expanded cell",
			"cell", req.Cell.Label,
			"subtrees", len(req.Sections),
			"new_sections", len(p.res.Tree.Sections()),
			"synapses_in", len(req.Synapses),
			"synapses_out", len(p.res.Synapses),
			"clamped", p.res.Clamped,
			"warnings", p.res.Warnings)
	}
	return p.res, nil
}

// pipeline carries intermediate state between stages.
type pipeline struct {
	req  Request
	opts Options
	mode segmap.Mode
	work *morph.Cell

	plan    *surgery.Plan
	ix      *classify.Index
	snap    mechanism.Snapshot
	placers []electrotonic.Placer
	segmap  *segmap.Map
	res     *Result
}

func (p *pipeline) stage(ctx context.Context, name string, run func() error) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "expander."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("stage", name)))
	defer span.End()
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return err
	}
	if p.opts.Logger != nil {
		p.opts.Logger.Log(ctx, logging.LevelTrace, "stage", "name", name)
	}
	if err := run(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *pipeline) detach() error {
	plan, err := surgery.Detach(p.work, p.req.Sections)
	if err != nil {
		return err
	}
	p.plan = plan
	if p.opts.Logger != nil {
		p.opts.Logger.Debug("detached subtrees", "expand", len(plan.Expand), "keep", len(plan.Keep))
	}
	return nil
}

func (p *pipeline) classify() error {
	ix, err := classify.Classify(p.work, p.plan.Expand)
	if err != nil {
		return err
	}
	p.ix = ix
	p.snap = mechanism.Take(p.work, ix.Doomed())
	return nil
}

func (p *pipeline) expand() error {
	p.res = &Result{Params: p.req.Params}
	for i, root := range p.plan.Expand {
		exp, err := cable.ExpandSection(p.work, root, p.req.Frequency, p.req.Furcations[i], p.req.Branches[i])
		if err != nil {
			return fmt.Errorf("subtree %d: %w", i, err)
		}
		prof, err := p.opts.Calculator.Profile(p.work, root, p.req.Frequency)
		if err != nil {
			return fmt.Errorf("subtree %d: impedance: %w", i, err)
		}
		p.res.Expansions = append(p.res.Expansions, exp)
		p.placers = append(p.placers, electrotonic.NewPlacer(prof, exp, p.opts.Solver))
		if p.opts.Logger != nil {
			p.opts.Logger.Debug("expanded cable",
				"subtree", i,
				"root", p.work.Name(root),
				"electrotonic_length", exp.ElectrotonicLength(),
				"trunk_L", exp.Trunk.Length,
				"branch_L", exp.Branch.Length,
				"branch_diam", exp.Branch.Diam)
		}
	}
	return nil
}

func (p *pipeline) build() error {
	policy := p.opts.Nseg
	if policy == nil {
		var err error
		policy, err = cable.Policy(p.req.TotalSegments, p.work.SegmentCount(p.ix.Doomed()...))
		if err != nil {
			return err
		}
	}
	counts, err := policy.Counts(p.res.Expansions)
	if err != nil {
		return err
	}
	tree, err := builder.New(p.opts.Logger).Build(p.work, p.plan, p.res.Expansions, counts)
	if err != nil {
		return err
	}
	p.res.Counts = counts
	p.res.Tree = tree
	return nil
}

func (p *pipeline) relocate() error {
	targets := make([]synapse.Target, len(p.placers))
	for i, pl := range p.placers {
		targets[i] = synapse.Target{
			Placer:      pl,
			Trunk:       p.res.Tree.Trunks[i],
			FirstBranch: p.res.Tree.Branches[i][0],
		}
	}
	rel := synapse.NewRelocator(p.req.Params)
	rel.SetLogger(p.opts.Logger, p.opts.Decisions)
	out, err := rel.Relocate(p.work, p.ix, targets, p.req.Synapses, p.req.Connections)
	if err != nil {
		return err
	}
	p.res.Synapses = out.Synapses
	p.res.Connections = out.Connections
	p.res.Moves = out.Moves
	p.res.Clamped = out.Clamped
	return nil
}

func (p *pipeline) mapSegments() error {
	subtrees := make([]segmap.Subtree, len(p.placers))
	for i, pl := range p.placers {
		subtrees[i] = segmap.Subtree{
			Sections: p.ix.Sections(i),
			Placer:   pl,
			Trunk:    p.res.Tree.Trunks[i],
			Branches: p.res.Tree.Branches[i],
		}
	}
	mp := segmap.NewMapper()
	mp.SetLogger(p.opts.Logger, p.opts.Decisions)
	m, err := mp.Build(p.work, p.mode, subtrees)
	if err != nil {
		return err
	}
	p.segmap = m
	p.res.Map = m
	return nil
}

func (p *pipeline) copyMechanisms() error {
	cp := mechanism.NewCopier()
	cp.SetLogger(p.opts.Logger, p.opts.Decisions)
	rep, err := cp.Copy(p.work, p.snap, p.segmap, p.res.Tree.Sections())
	if err != nil {
		return err
	}
	p.res.Mechanisms = rep
	p.res.Warnings += rep.Warnings()
	return nil
}

func (p *pipeline) distribute() error {
	d := synapse.NewDistributor(p.opts.Rand)
	d.SetLogger(p.opts.Logger, p.opts.Decisions)
	syns, conns, err := d.Distribute(p.work, p.res.Tree.Branches, p.res.Synapses, p.res.Connections)
	if err != nil {
		return err
	}
	p.res.Synapses = syns
	p.res.Connections = conns
	return nil
}

func (p *pipeline) finalize() error {
	if err := surgery.Reattach(p.work, p.plan); err != nil {
		return err
	}
	if err := surgery.Destroy(p.work, p.plan); err != nil {
		return err
	}
	lists := builder.SectionLists(p.work, p.res.Tree, p.plan.KeptSections(p.work))
	if err := p.work.SetLists(lists); err != nil {
		return err
	}
	p.res.Cell = p.work
	if p.req.Report {
		p.res.Report = p.segmap.Report(p.req.Cell, p.work)
	}
	return nil
}
