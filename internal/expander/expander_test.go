package expander

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/nvandessel/cablex/internal/cable"
	"github.com/nvandessel/cablex/internal/classify"
	"github.com/nvandessel/cablex/internal/logging"
	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/morph/morphtest"
	"github.com/nvandessel/cablex/internal/segmap"
	"github.com/nvandessel/cablex/internal/synapse"
)

type fixture struct {
	n   morphtest.Neuron
	req Request
	// named synapses
	apicNear, apicFar, child, dend, soma1, soma2, kept morph.PPID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	n := morphtest.NewNeuron(t)
	f := &fixture{n: n}
	c := n.Cell
	f.apicNear = morphtest.MustSynapse(t, c, n.Apic, 0.05, 0, 0.5, 2)
	f.apicFar = morphtest.MustSynapse(t, c, n.Apic, 0.95, 0, 0.5, 2)
	f.child = morphtest.MustSynapse(t, c, n.ApicChild, 0.5, 0, 0.5, 2)
	f.dend = morphtest.MustSynapse(t, c, n.Dend, 0.5, -80, 1, 10)
	f.soma1 = morphtest.MustSynapse(t, c, n.Soma, 0.5, -80, 1, 10)
	f.soma2 = morphtest.MustSynapse(t, c, n.Soma, 0.5, -80, 1, 10)
	f.kept = morphtest.MustSynapse(t, c, n.KeptDend, 0.5, 0, 0.5, 2)

	syns := []morph.PPID{f.apicNear, f.apicFar, f.child, f.dend, f.soma1, f.soma2, f.kept}
	var conns []morph.Connection
	for i, s := range syns {
		for j := 0; j < 3; j++ {
			conns = append(conns, morph.Connection{Source: string(rune('a'+i)) + string(rune('0'+j)), Target: s, Weight: 0.001, Delay: 1})
		}
	}
	f.req = Request{
		Cell:          c,
		Sections:      []morph.SectionID{n.Apic, n.Dend},
		Furcations:    []float64{0.5, 0.5},
		Branches:      []int{2, 3},
		Synapses:      syns,
		Connections:   conns,
		Frequency:     0,
		TotalSegments: AutoSegments,
		Report:        true,
	}
	return f
}

func TestExpand_Topology(t *testing.T) {
	f := newFixture(t)
	res, err := Expand(context.Background(), f.req, Options{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	out := res.Cell
	n := f.n

	for _, gone := range []morph.SectionID{n.Apic, n.ApicChild, n.Dend} {
		if out.Has(gone) {
			t.Errorf("expected original section %d to be destroyed", gone)
		}
	}
	for _, kept := range []morph.SectionID{n.Soma, n.KeptDend, n.Axon} {
		if !out.Has(kept) {
			t.Errorf("expected section %d to survive", kept)
		}
	}

	if parent, x, _ := out.Parent(n.KeptDend); parent != n.Soma || x != 0.5 {
		t.Errorf("expected kept dendrite at soma(0.5), got %d(%g)", parent, x)
	}
	if parent, x, _ := out.Parent(n.Soma); parent != n.Axon || x != 1 {
		t.Errorf("expected soma attached to axon(1), got %d(%g)", parent, x)
	}

	apicTrunk, dendTrunk := res.Tree.Trunks[0], res.Tree.Trunks[1]
	if parent, x, _ := out.Parent(apicTrunk); parent != n.Soma || x != 1 {
		t.Errorf("expected apical trunk at soma(1), got %d(%g)", parent, x)
	}
	if parent, x, _ := out.Parent(dendTrunk); parent != n.Soma || x != 0 {
		t.Errorf("expected basal trunk at soma(0), got %d(%g)", parent, x)
	}
	if got := len(out.Children(dendTrunk)); got != 3 {
		t.Errorf("expected 3 basal branches, got %d", got)
	}

	if got := out.Name(apicTrunk); got != "apic[0]" {
		t.Errorf("expected apical trunk named apic[0], got %s", got)
	}
	if got := out.Name(dendTrunk); got != "dend[0]" {
		t.Errorf("expected basal trunk named dend[0], got %s", got)
	}
	if got := out.Name(n.KeptDend); got != "dend[4]" {
		t.Errorf("expected kept dendrite after the new ones as dend[4], got %s", got)
	}

	if !f.req.Cell.Consumed() {
		t.Error("expected the input cell to be marked consumed")
	}
	if !f.req.Cell.Has(n.Apic) {
		t.Error("expected the input cell's sections to be left in place")
	}
	if res.Cell.Consumed() {
		t.Error("expected the result cell to be usable")
	}
}

func TestExpand_Synapses(t *testing.T) {
	f := newFixture(t)
	res, err := Expand(context.Background(), f.req, Options{Rand: synapse.NewRand(3)})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	out := res.Cell

	alive := map[morph.PPID]bool{}
	for _, id := range res.Synapses {
		if _, err := out.PointProcess(id); err != nil {
			t.Errorf("surviving synapse %d missing from result cell: %v", id, err)
		}
		alive[id] = true
	}
	if len(res.Connections) != len(f.req.Connections) {
		t.Fatalf("expected %d connections, got %d", len(f.req.Connections), len(res.Connections))
	}
	for _, c := range res.Connections {
		if !alive[c.Target] {
			t.Errorf("connection %s targets dead synapse %d", c.Source, c.Target)
		}
	}
	if f.req.Connections[3].Target != f.apicFar {
		t.Error("caller's connections were modified")
	}

	if alive[f.soma2] {
		t.Error("expected identical somatic synapses to merge")
	}
	pk, _ := out.PointProcess(f.kept)
	if pk.Section != f.n.KeptDend {
		t.Error("expected the kept dendrite's synapse to stay")
	}

	near, _ := out.PointProcess(f.apicNear)
	if near.Section != res.Tree.Trunks[0] {
		t.Errorf("expected proximal apical synapse on the trunk, got %s", out.Name(near.Section))
	}

	// The distal apical synapse sits on the first branch and has one copy
	// on the second branch.
	far, _ := out.PointProcess(f.apicFar)
	branches := res.Tree.Branches[0]
	if far.Section != branches[0] {
		t.Fatalf("expected distal apical synapse on the first branch, got %s", out.Name(far.Section))
	}
	copies := 0
	for _, id := range out.PointProcessesOn(branches[1]) {
		if pp, _ := out.PointProcess(id); pp.X == far.X && pp.Params["tau2"] == 2 {
			copies++
		}
	}
	if copies == 0 {
		t.Error("expected a duplicate on the second apical branch")
	}
}

func TestExpand_MapAndMechanisms(t *testing.T) {
	f := newFixture(t)
	var trace bytes.Buffer
	res, err := Expand(context.Background(), f.req, Options{Decisions: logging.NewDecisionWriter(&trace)})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if got := len(res.Map.Originals()); got != 9+3+5 {
		t.Errorf("expected every original segment mapped, got %d", got)
	}
	if len(res.Report) != 17 || !strings.HasPrefix(res.Report[0], "apic[0](0.05556) -> apic[0](") {
		t.Errorf("unexpected report head %q", res.Report[0])
	}

	for _, sec := range res.Tree.Sections() {
		for _, mech := range res.Cell.Mechanisms(sec) {
			if mech == "na_ion" {
				t.Errorf("expected na_ion not to be copied onto %s", res.Cell.Name(sec))
			}
		}
		for _, seg := range res.Cell.Segments(sec) {
			v, ok := res.Cell.Param(seg, "kdr", "gbar")
			if !ok || math.Abs(v-0.005) > 1e-12 {
				t.Errorf("%s: expected kdr gbar 0.005, got %g (%v)", res.Cell.SegmentName(seg), v, ok)
			}
		}
	}
	if !strings.Contains(trace.String(), "synapse_placed") {
		t.Error("expected placement decisions to be traced")
	}
	if res.Params["Exp2Syn"] == nil {
		t.Error("expected the parameter dictionary to be returned filled")
	}
}

func TestExpand_Reproducible(t *testing.T) {
	run := func() []morph.Connection {
		f := newFixture(t)
		res, err := Expand(context.Background(), f.req, Options{Rand: synapse.NewRand(11)})
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		return res.Connections
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("connection %d differs between runs with the same seed: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestExpand_ConsumedCell(t *testing.T) {
	f := newFixture(t)
	if _, err := Expand(context.Background(), f.req, Options{}); err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if _, err := Expand(context.Background(), f.req, Options{}); !errors.Is(err, ErrCellConsumed) {
		t.Errorf("expected ErrCellConsumed, got %v", err)
	}
}

func TestExpand_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture)
		want   error
	}{
		{"zero branches", func(f *fixture) { f.req.Branches[1] = 0 }, cable.ErrInvalidBranchCount},
		{"furcation at 1", func(f *fixture) { f.req.Furcations[0] = 1 }, cable.ErrInvalidFurcation},
		{"short lists", func(f *fixture) { f.req.Branches = f.req.Branches[:1] }, ErrRequestMismatch},
		{"no cell", func(f *fixture) { f.req.Cell = nil }, ErrRequestMismatch},
		{"not a soma child", func(f *fixture) { f.req.Sections[0] = f.n.ApicChild }, ErrNotSomaChild},
		{"distance mapping", func(f *fixture) { f.req.Mapping = segmap.Distance }, segmap.ErrMappingNotImplemented},
		{"unknown mapping", func(f *fixture) { f.req.Mapping = "nearest" }, segmap.ErrUnknownMapping},
		{"apical second", func(f *fixture) {
			f.req.Sections = []morph.SectionID{f.n.Dend, f.n.Apic}
		}, classify.ErrApicalNotFirst},
		{"unknown synapse", func(f *fixture) { f.req.Synapses = append(f.req.Synapses, 999) }, ErrRequestMismatch},
		{"fractional total", func(f *fixture) { f.req.TotalSegments = 12.5 }, cable.ErrInvalidSegmentCount},
		{"zero total", func(f *fixture) { f.req.TotalSegments = 0 }, cable.ErrInvalidSegmentCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.mutate(f)
			_, err := Expand(context.Background(), f.req, Options{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			c := f.n.Cell
			if c.Consumed() {
				t.Error("expected the input cell not to be consumed")
			}
			if parent, _, _ := c.Parent(f.n.Apic); parent != f.n.Soma {
				t.Error("expected the input cell to be left connected")
			}
		})
	}
}

func TestExpand_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Expand(ctx, f.req, Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if f.n.Cell.Consumed() {
		t.Error("expected the input cell not to be consumed")
	}
}

func TestExpand_FixedTotal(t *testing.T) {
	f := newFixture(t)
	f.req.TotalSegments = 40
	res, err := Expand(context.Background(), f.req, Options{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	total := 0
	for i, c := range res.Counts {
		total += c.Total(res.Expansions[i].Branches)
	}
	if total < 35 || total > 45 {
		t.Errorf("expected about 40 new segments, got %d", total)
	}
}

func TestExpand_SingleSegmentCableKeepsMechanisms(t *testing.T) {
	cyl := morphtest.NewCylinder(t, morph.Basal, 1)
	c := cyl.Cell
	if err := c.Insert(cyl.Cable, "na"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.SetParam(morph.SegmentRef{Section: cyl.Cable}, "na", "gbar", 0.3); err != nil {
		t.Fatalf("SetParam: %v", err)
	}
	res, err := Expand(context.Background(), Request{
		Cell:          c,
		Sections:      []morph.SectionID{cyl.Cable},
		Furcations:    []float64{0.5},
		Branches:      []int{2},
		TotalSegments: 40,
	}, Options{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	rep := res.Mechanisms
	if len(rep.Orphans) == 0 {
		t.Fatal("expected orphan segments with a single original segment")
	}
	if len(rep.Unresolved) != 0 || rep.Compensated != len(rep.Orphans) {
		t.Errorf("expected every orphan compensated, got %d of %d (%d unresolved)",
			rep.Compensated, len(rep.Orphans), len(rep.Unresolved))
	}
	out := res.Cell
	for _, sec := range res.Tree.Sections() {
		for _, seg := range out.Segments(sec) {
			v, ok := out.Param(seg, "na", "gbar")
			if !ok || math.Abs(v-0.3) > 1e-9 {
				t.Errorf("%s: expected na gbar 0.3, got %g (present %v)", out.SegmentName(seg), v, ok)
			}
		}
	}
}
