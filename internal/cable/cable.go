// Package cable models the passive properties of cylindrical compartments
// and expands one cylinder into a trunk plus N identical branches that keep
// the cylinder's electrotonic length.
package cable

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/nvandessel/cablex/internal/morph"
)

var (
	// ErrInvalidBranchCount indicates a branch count that is non-integral or < 1.
	ErrInvalidBranchCount = errors.New("branch count must be a positive integer")

	// ErrInvalidFurcation indicates a furcation fraction outside (0,1).
	ErrInvalidFurcation = errors.New("furcation fraction must be in (0,1)")

	// ErrInvalidCable indicates passive properties that cannot define a cable
	// (non-positive geometry, resistivity or leak conductance).
	ErrInvalidCable = errors.New("invalid cable properties")
)

// Units used throughout: micrometers for lengths and diameters, ohm*cm2 for
// Rm, ohm*cm for Ra, uF/cm2 for Cm, mV for EPas.
const umPerCM = 1e4

// Params describes the passive electrical properties of one cylinder.
// SpaceConst, ElectrotonicLength and FurcationX are zero for the soma.
type Params struct {
	Length             float64           `json:"length"`
	Diam               float64           `json:"diam"`
	SpaceConst         float64           `json:"space_const,omitempty"`
	Cm                 float64           `json:"cm"`
	Rm                 float64           `json:"rm"`
	Ra                 float64           `json:"ra"`
	EPas               float64           `json:"e_pas"`
	ElectrotonicLength float64           `json:"electrotonic_length,omitempty"`
	Type               morph.SectionType `json:"type"`
	FurcationX         float64           `json:"furcation_x,omitempty"`
}

// Validate checks the invariants of a cable description.
func (p Params) Validate() error {
	if p.Length <= 0 || p.Diam <= 0 {
		return fmt.Errorf("%w: length=%g diam=%g", ErrInvalidCable, p.Length, p.Diam)
	}
	if p.SpaceConst != 0 && p.ElectrotonicLength != 0 {
		want := p.Length / p.SpaceConst
		if math.Abs(want-p.ElectrotonicLength) > 1e-9*math.Max(1, want) {
			return fmt.Errorf("%w: electrotonic length %g != length/space_const %g",
				ErrInvalidCable, p.ElectrotonicLength, want)
		}
	}
	return nil
}

// Properties converts p into host section properties with the given segment count.
func (p Params) Properties(nseg int) morph.Properties {
	g := 0.0
	if p.Rm > 0 {
		g = 1.0 / p.Rm
	}
	return morph.Properties{
		L:    p.Length,
		Diam: p.Diam,
		Nseg: nseg,
		Cm:   p.Cm,
		Ra:   p.Ra,
		GPas: g,
		EPas: p.EPas,
	}
}

// SpaceConstCM returns the DC length constant sqrt(rm*d/(4*ra)) in cm for a
// diameter given in cm.
func SpaceConstCM(diamCM, rm, ra float64) float64 {
	return math.Sqrt(rm * diamCM / (4 * ra))
}

// SpaceConst returns the DC length constant in micrometers for a diameter in micrometers.
func SpaceConst(diam, rm, ra float64) float64 {
	return SpaceConstCM(diam/umPerCM, rm, ra) * umPerCM
}

// PropagationConstant returns q = sqrt(1 + i*2*pi*f*tau) with tau = rm*cm in
// seconds, the factor that scales electrotonic length at frequency f (Hz).
func PropagationConstant(frequency, rm, cm float64) complex128 {
	tau := rm * cm * 1e-6
	return cmplx.Sqrt(complex(1, 2*math.Pi*frequency*tau))
}

// Biophysics are the passive properties of one cable measured at a frequency.
type Biophysics struct {
	Cm   float64
	Rm   float64
	Ra   float64
	EPas float64
	Q    complex128
}

// Measure reads the passive properties of a section and computes q at frequency.
func Measure(p morph.Properties, frequency float64) (Biophysics, error) {
	if p.GPas <= 0 || p.Ra <= 0 || p.Cm < 0 {
		return Biophysics{}, fmt.Errorf("%w: g_pas=%g Ra=%g cm=%g", ErrInvalidCable, p.GPas, p.Ra, p.Cm)
	}
	rm := p.Rm()
	return Biophysics{
		Cm:   p.Cm,
		Rm:   rm,
		Ra:   p.Ra,
		EPas: p.EPas,
		Q:    PropagationConstant(frequency, rm, p.Cm),
	}, nil
}

// SomaParams describes the soma. Its space constant and electrotonic length
// are left undefined.
func SomaParams(c *morph.Cell) (Params, error) {
	sec, err := c.Section(c.Soma())
	if err != nil {
		return Params{}, fmt.Errorf("soma: %w", err)
	}
	if sec.GPas <= 0 {
		return Params{}, fmt.Errorf("soma: %w: g_pas=%g", ErrInvalidCable, sec.GPas)
	}
	return Params{
		Length: sec.L,
		Diam:   sec.Diam,
		Cm:     sec.Cm,
		Rm:     sec.Rm(),
		Ra:     sec.Ra,
		EPas:   sec.EPas,
		Type:   morph.Soma,
	}, nil
}

// BranchCount converts a decoded number into a branch count, rejecting
// non-integral and non-positive values.
func BranchCount(v float64) (int, error) {
	if v < 1 || v != math.Trunc(v) || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidBranchCount, v)
	}
	return int(v), nil
}

// Expansion is the result of expanding one cable.
type Expansion struct {
	Trunk    Params            `json:"trunk"`
	Branch   Params            `json:"branch"`
	Type     morph.SectionType `json:"type"`
	Branches int               `json:"branches"`
	Q        complex128        `json:"-"`
}

// ElectrotonicLength is the length of the trunk plus one branch, which
// equals the electrotonic length of the expanded cable.
func (e Expansion) ElectrotonicLength() float64 {
	return e.Trunk.ElectrotonicLength + e.Branch.ElectrotonicLength
}

// BranchDiam returns the diameter of each of n branches whose summed d^(3/2)
// equals the trunk's.
func BranchDiam(trunkDiam float64, n int) float64 {
	return math.Pow(math.Pow(trunkDiam, 1.5)/float64(n), 2.0/3.0)
}

// Expand splits the cylinder p of type typ into a trunk of length L*furcation
// with the same diameter and n branches sized by the 3/2 power rule. The
// branch length is chosen so that trunk plus branch electrotonic length
// equals the cylinder's.
func Expand(p morph.Properties, typ morph.SectionType, frequency, furcation float64, n int) (Expansion, error) {
	if n < 1 {
		return Expansion{}, fmt.Errorf("%w: %d", ErrInvalidBranchCount, n)
	}
	if !(furcation > 0 && furcation < 1) {
		return Expansion{}, fmt.Errorf("%w: %g", ErrInvalidFurcation, furcation)
	}
	if typ == morph.Soma || !typ.Valid() {
		return Expansion{}, fmt.Errorf("expand %s: %w", typ, morph.ErrUnsupportedSectionType)
	}
	if p.L <= 0 || p.Diam <= 0 {
		return Expansion{}, fmt.Errorf("%w: L=%g diam=%g", ErrInvalidCable, p.L, p.Diam)
	}
	bio, err := Measure(p, frequency)
	if err != nil {
		return Expansion{}, err
	}

	cableLambda := SpaceConst(p.Diam, bio.Rm, bio.Ra)
	cableE := p.L / cableLambda

	trunkL := p.L * furcation
	trunkE := trunkL * cableE / p.L
	branchE := cableE - trunkE

	branchDiam := BranchDiam(p.Diam, n)
	branchLambda := SpaceConst(branchDiam, bio.Rm, bio.Ra)
	branchL := branchE * branchLambda

	base := Params{
		Cm:         bio.Cm,
		Rm:         bio.Rm,
		Ra:         bio.Ra,
		EPas:       bio.EPas,
		Type:       typ,
		FurcationX: furcation,
	}
	trunk := base
	trunk.Length = trunkL
	trunk.Diam = p.Diam
	trunk.SpaceConst = cableLambda
	trunk.ElectrotonicLength = trunkE

	branch := base
	branch.Length = branchL
	branch.Diam = branchDiam
	branch.SpaceConst = branchLambda
	branch.ElectrotonicLength = branchE

	return Expansion{
		Trunk:    trunk,
		Branch:   branch,
		Type:     typ,
		Branches: n,
		Q:        bio.Q,
	}, nil
}

// ExpandSection expands a section of c.
func ExpandSection(c *morph.Cell, id morph.SectionID, frequency, furcation float64, n int) (Expansion, error) {
	sec, err := c.Section(id)
	if err != nil {
		return Expansion{}, err
	}
	exp, err := Expand(sec.Properties, sec.Type, frequency, furcation, n)
	if err != nil {
		return Expansion{}, fmt.Errorf("expand %s: %w", c.Name(id), err)
	}
	return exp, nil
}
