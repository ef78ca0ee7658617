package synapse

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/nvandessel/cablex/internal/logging"
	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/morph/morphtest"
)

func distributedRig(t *testing.T) (*rig, morph.PPID, []morph.Connection) {
	t.Helper()
	cyl := morphtest.NewCylinder(t, morph.Basal, 10)
	syn := morphtest.MustSynapse(t, cyl.Cell, cyl.Cable, 0.95, 0, 0.5, 2)
	r := newRig(t, cyl.Cell, []morph.SectionID{cyl.Cable}, 0.5, 4)

	var conns []morph.Connection
	for i := 0; i < 40; i++ {
		conns = append(conns, conn(fmt.Sprintf("stim%d", i), syn))
	}
	res, err := NewRelocator(nil).Relocate(r.cell, r.ix, r.targets, []morph.PPID{syn}, conns)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	return r, syn, res.Connections
}

func TestDistribute_DuplicatesOntoSiblings(t *testing.T) {
	r, syn, conns := distributedRig(t)
	orig, _ := r.cell.PointProcess(syn)
	if orig.Section != r.tree.Branches[0][0] {
		t.Fatalf("expected synapse on first branch, got %s", r.cell.Name(orig.Section))
	}

	var trace bytes.Buffer
	d := NewDistributor(NewRand(7))
	d.SetLogger(nil, logging.NewDecisionWriter(&trace))
	synapses, out, err := d.Distribute(r.cell, r.tree.Branches, []morph.PPID{syn}, conns)
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}

	if len(synapses) != 4 {
		t.Fatalf("expected original plus 3 duplicates, got %v", synapses)
	}
	hosts := map[morph.SectionID]morph.PPID{}
	for _, id := range synapses {
		pp, err := r.cell.PointProcess(id)
		if err != nil {
			t.Fatalf("PointProcess: %v", err)
		}
		if pp.X != orig.X || pp.Kind != orig.Kind || pp.Params["tau2"] != 2 {
			t.Errorf("duplicate %d differs from original: %+v", id, pp)
		}
		hosts[pp.Section] = id
	}
	for _, br := range r.tree.Branches[0] {
		if _, ok := hosts[br]; !ok {
			t.Errorf("expected an instance on %s", r.cell.Name(br))
		}
	}

	valid := map[morph.PPID]bool{}
	for _, id := range synapses {
		valid[id] = true
	}
	used := map[morph.PPID]int{}
	for _, c := range out {
		if !valid[c.Target] {
			t.Errorf("connection %s targets unknown %d", c.Source, c.Target)
		}
		used[c.Target]++
	}
	if len(used) < 2 {
		t.Errorf("expected 40 connections to spread over several branches, got %v", used)
	}
	if conns[0].Target != syn {
		t.Error("caller's connections were modified")
	}
	if got := strings.Count(trace.String(), "connection_distributed"); got != 40 {
		t.Errorf("expected 40 decision events, got %d", got)
	}
}

func TestDistribute_Reproducible(t *testing.T) {
	run := func() []morph.Connection {
		r, syn, conns := distributedRig(t)
		_, out, err := NewDistributor(NewRand(42)).Distribute(r.cell, r.tree.Branches, []morph.PPID{syn}, conns)
		if err != nil {
			t.Fatalf("Distribute: %v", err)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i].Target != b[i].Target {
			t.Fatalf("connection %d: expected same target with the same seed, got %d and %d", i, a[i].Target, b[i].Target)
		}
	}
}

func TestDistribute_SingleBranchIsNoop(t *testing.T) {
	cyl := morphtest.NewCylinder(t, morph.Basal, 10)
	syn := morphtest.MustSynapse(t, cyl.Cell, cyl.Cable, 0.95, 0, 0.5, 2)
	r := newRig(t, cyl.Cell, []morph.SectionID{cyl.Cable}, 0.5, 1)
	res, err := NewRelocator(nil).Relocate(r.cell, r.ix, r.targets, []morph.PPID{syn}, []morph.Connection{conn("s", syn)})
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	synapses, out, err := NewDistributor(nil).Distribute(r.cell, r.tree.Branches, res.Synapses, res.Connections)
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	if len(synapses) != 1 || out[0].Target != syn {
		t.Errorf("expected no change with one branch, got %v %v", synapses, out)
	}
}
