package impedance

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"github.com/nvandessel/cablex/internal/morph"
)

// Passive is a Calculator for trees of uniform passive cylinders. Every
// section is solved exactly between the points where its children attach.
type Passive struct{}

// node is one attachment point on a section.
type node struct {
	x float64
	// y is the admittance looking distally from this point, including every
	// child attached here.
	y complex128
	v complex128
}

type sectionSolution struct {
	lengthCM float64
	gamma    complex128
	yc       complex128
	nodes    []node
}

type passiveProfile struct {
	root morph.SectionID
	zin  complex128
	secs map[morph.SectionID]*sectionSolution
}

// Profile implements Calculator. The subtree must be detached: root's
// parent, if any, is ignored.
func (Passive) Profile(c *morph.Cell, root morph.SectionID, frequency float64) (Profile, error) {
	if !c.Has(root) {
		return nil, fmt.Errorf("impedance profile: %w: %d", morph.ErrSectionNotFound, root)
	}
	omega := 2 * math.Pi * frequency
	p := &passiveProfile{root: root, secs: make(map[morph.SectionID]*sectionSolution)}

	var solve func(id morph.SectionID) (complex128, error)
	solve = func(id morph.SectionID) (complex128, error) {
		sec, err := c.Section(id)
		if err != nil {
			return 0, err
		}
		sol, err := newSectionSolution(sec, omega)
		if err != nil {
			return 0, fmt.Errorf("impedance of %s: %w", c.Name(id), err)
		}

		attach := map[float64]complex128{0: 0, 1: 0}
		for _, ch := range c.Children(id) {
			y, err := solve(ch)
			if err != nil {
				return 0, err
			}
			_, x, _ := c.Parent(ch)
			attach[x] += y
		}
		xs := make([]float64, 0, len(attach))
		for x := range attach {
			xs = append(xs, x)
		}
		sort.Float64s(xs)

		sol.nodes = make([]node, len(xs))
		last := len(xs) - 1
		sol.nodes[last] = node{x: 1, y: attach[1]}
		for j := last - 1; j >= 0; j-- {
			l := (xs[j+1] - xs[j]) * sol.lengthCM
			sol.nodes[j] = node{x: xs[j], y: sol.inputAdmittance(sol.nodes[j+1].y, l) + attach[xs[j]]}
		}
		p.secs[id] = sol
		return sol.nodes[0].y, nil
	}

	yin, err := solve(root)
	if err != nil {
		return nil, err
	}
	if yin == 0 {
		return nil, fmt.Errorf("impedance of %s: zero input admittance", c.Name(root))
	}
	p.zin = 1 / yin

	var propagate func(id morph.SectionID, v0 complex128)
	propagate = func(id morph.SectionID, v0 complex128) {
		sol := p.secs[id]
		sol.nodes[0].v = v0
		for j := 1; j < len(sol.nodes); j++ {
			l := (sol.nodes[j].x - sol.nodes[j-1].x) * sol.lengthCM
			sol.nodes[j].v = sol.nodes[j-1].v * sol.voltageRatio(sol.nodes[j].y, l, l)
		}
		for _, ch := range c.Children(id) {
			_, x, _ := c.Parent(ch)
			propagate(ch, sol.voltageAt(x))
		}
	}
	propagate(root, 1)
	return p, nil
}

func newSectionSolution(sec *morph.Section, omega float64) (*sectionSolution, error) {
	if sec.Diam <= 0 || sec.L <= 0 || sec.Ra <= 0 {
		return nil, fmt.Errorf("%w: L=%g diam=%g Ra=%g", morph.ErrInvalidGeometry, sec.L, sec.Diam, sec.Ra)
	}
	d := sec.Diam * 1e-4
	ra := 4 * sec.Ra / (math.Pi * d * d)
	ym := complex(sec.GPas, omega*sec.Cm*1e-6) * complex(math.Pi*d, 0)
	if ym == 0 {
		return nil, fmt.Errorf("%w: membrane admittance is zero", morph.ErrInvalidGeometry)
	}
	za := complex(ra, 0)
	return &sectionSolution{
		lengthCM: sec.L * 1e-4,
		gamma:    cmplx.Sqrt(za * ym),
		yc:       1 / cmplx.Sqrt(za/ym),
	}, nil
}

// inputAdmittance transforms a load admittance yl through a cylinder piece of length l cm.
func (s *sectionSolution) inputAdmittance(yl complex128, l float64) complex128 {
	th := cmplx.Tanh(s.gamma * complex(l, 0))
	return s.yc * (yl + s.yc*th) / (s.yc + yl*th)
}

// voltageRatio returns V(dist)/V(0) on a piece of length piece cm
// terminated by yl, with dist measured in cm from the proximal end.
func (s *sectionSolution) voltageRatio(yl complex128, piece, dist float64) complex128 {
	r := yl / s.yc
	gp := s.gamma * complex(piece, 0)
	gr := s.gamma * complex(piece-dist, 0)
	num := cmplx.Cosh(gr) + r*cmplx.Sinh(gr)
	den := cmplx.Cosh(gp) + r*cmplx.Sinh(gp)
	return num / den
}

// voltageAt returns the normalized voltage at fraction x of the section.
func (s *sectionSolution) voltageAt(x float64) complex128 {
	if x <= s.nodes[0].x {
		return s.nodes[0].v
	}
	last := len(s.nodes) - 1
	if x >= s.nodes[last].x {
		return s.nodes[last].v
	}
	j := sort.Search(len(s.nodes), func(i int) bool { return s.nodes[i].x > x }) - 1
	piece := (s.nodes[j+1].x - s.nodes[j].x) * s.lengthCM
	dist := (x - s.nodes[j].x) * s.lengthCM
	return s.nodes[j].v * s.voltageRatio(s.nodes[j+1].y, piece, dist)
}

func (p *passiveProfile) Input() complex128 { return p.zin }

func (p *passiveProfile) Transfer(sec morph.SectionID, x float64) (float64, float64, error) {
	sol, ok := p.secs[sec]
	if !ok {
		return 0, 0, fmt.Errorf("transfer to %d: %w", sec, ErrNotInSubtree)
	}
	z := p.zin * sol.voltageAt(x)
	return cmplx.Abs(z), cmplx.Phase(z), nil
}
