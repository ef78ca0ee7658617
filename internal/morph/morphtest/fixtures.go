// Package morphtest builds small cells for tests across packages.
package morphtest

import (
	"testing"

	"github.com/nvandessel/cablex/internal/morph"
)

// Passive returns properties with Rm = 10000 ohm*cm2, Ra = 100 ohm*cm,
// Cm = 1 uF/cm2 and e_pas = -70 mV; a 1 um cylinder has a 500 um length constant.
func Passive(l, diam float64, nseg int) morph.Properties {
	return morph.Properties{
		L:    l,
		Diam: diam,
		Nseg: nseg,
		Cm:   1,
		Ra:   100,
		GPas: 1e-4,
		EPas: -70,
	}
}

// MustAdd adds a section and fails the test on error.
func MustAdd(t *testing.T, c *morph.Cell, typ morph.SectionType, p morph.Properties) morph.SectionID {
	t.Helper()
	id, err := c.AddSection(typ, p)
	if err != nil {
		t.Fatalf("AddSection(%s): %v", typ, err)
	}
	return id
}

// MustConnect connects child to parent(x) and fails the test on error.
func MustConnect(t *testing.T, c *morph.Cell, child, parent morph.SectionID, x float64) {
	t.Helper()
	if err := c.Connect(child, parent, x); err != nil {
		t.Fatalf("Connect(%s, %s, %g): %v", c.Name(child), c.Name(parent), x, err)
	}
}

// MustSynapse adds an Exp2Syn-like point process and fails the test on error.
func MustSynapse(t *testing.T, c *morph.Cell, sec morph.SectionID, x, e, tau1, tau2 float64) morph.PPID {
	t.Helper()
	id, err := c.AddPointProcess("Exp2Syn", sec, x, map[string]float64{
		"e":    e,
		"tau1": tau1,
		"tau2": tau2,
	})
	if err != nil {
		t.Fatalf("AddPointProcess: %v", err)
	}
	return id
}

// Cylinder is a soma with one unbranched dendrite attached at soma(1).
type Cylinder struct {
	Cell  *morph.Cell
	Soma  morph.SectionID
	Cable morph.SectionID
}

// NewCylinder builds a soma plus a single 500 um x 1 um cable of type typ
// with nseg segments (electrotonic length 1 at 0 Hz).
func NewCylinder(t *testing.T, typ morph.SectionType, nseg int) Cylinder {
	t.Helper()
	c := morph.NewCell("cylinder")
	soma := MustAdd(t, c, morph.Soma, Passive(20, 20, 1))
	cable := MustAdd(t, c, typ, Passive(500, 1, nseg))
	MustConnect(t, c, cable, soma, 1)
	return Cylinder{Cell: c, Soma: soma, Cable: cable}
}

// Neuron is a small cell with every kind of attachment the expander handles:
//
//	axon[0] -(1)- soma -(1)- apic[0] -(1)- apic[1]
//	               |-(0)- dend[0]
//	               |-(0.5)- dend[1]
//
// apic[0] and dend[0] carry "na" and "kdr" mechanisms whose values vary by
// segment, plus a "na_ion" entry that must never be copied.
type Neuron struct {
	Cell      *morph.Cell
	Soma      morph.SectionID
	Apic      morph.SectionID
	ApicChild morph.SectionID
	Dend      morph.SectionID
	KeptDend  morph.SectionID
	Axon      morph.SectionID
}

// NewNeuron builds the Neuron fixture.
func NewNeuron(t *testing.T) Neuron {
	t.Helper()
	c := morph.NewCell("neuron")
	n := Neuron{Cell: c}
	n.Soma = MustAdd(t, c, morph.Soma, Passive(20, 20, 1))
	n.Apic = MustAdd(t, c, morph.Apical, Passive(400, 2, 9))
	n.ApicChild = MustAdd(t, c, morph.Apical, Passive(100, 1, 3))
	n.Dend = MustAdd(t, c, morph.Basal, Passive(200, 1.5, 5))
	n.KeptDend = MustAdd(t, c, morph.Basal, Passive(150, 1, 3))
	n.Axon = MustAdd(t, c, morph.Axonal, Passive(300, 0.8, 3))

	MustConnect(t, c, n.Apic, n.Soma, 1)
	MustConnect(t, c, n.ApicChild, n.Apic, 1)
	MustConnect(t, c, n.Dend, n.Soma, 0)
	MustConnect(t, c, n.KeptDend, n.Soma, 0.5)
	MustConnect(t, c, n.Soma, n.Axon, 1)

	for _, sec := range []morph.SectionID{n.Apic, n.ApicChild, n.Dend} {
		for _, mech := range []string{"na", "kdr", "na_ion"} {
			if err := c.Insert(sec, mech); err != nil {
				t.Fatalf("Insert(%s): %v", mech, err)
			}
		}
		for i, seg := range c.Segments(sec) {
			set := func(mech, param string, v float64) {
				if err := c.SetParam(seg, mech, param, v); err != nil {
					t.Fatalf("SetParam: %v", err)
				}
			}
			set("na", "gbar", 0.01*float64(i+1))
			set("kdr", "gbar", 0.005)
			set("na_ion", "ena", 50)
		}
	}
	return n
}
