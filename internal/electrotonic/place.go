// Package electrotonic maps a location on an original subtree to the
// location on its expanded trunk/branch cable with the same transfer
// impedance to the subtree root.
package electrotonic

import (
	"fmt"

	"github.com/nvandessel/cablex/internal/cable"
	"github.com/nvandessel/cablex/internal/impedance"
	"github.com/nvandessel/cablex/internal/morph"
)

// OvershootX replaces any computed fraction above 1. The solver can land a
// hair past the distal end; the clamp is a known imprecision and is reported
// through Placement.Clamped only.
const OvershootX = 0.999999

// Placement is the image of one original location on the expanded cable.
type Placement struct {
	// OnTrunk is false when the location falls distal to the furcation point;
	// X is then a fraction along the first branch.
	OnTrunk bool
	X       float64
	// Electrotonic is the solved position along trunk plus branch.
	Electrotonic float64
	Clamped      bool
}

// Placer places locations of one subtree.
type Placer struct {
	Profile   impedance.Profile
	Expansion cable.Expansion
	Solver    impedance.Solver
}

// NewPlacer returns a Placer that uses FindBestRealX when solve is nil.
func NewPlacer(prof impedance.Profile, exp cable.Expansion, solve impedance.Solver) Placer {
	if solve == nil {
		solve = impedance.FindBestRealX
	}
	return Placer{Profile: prof, Expansion: exp, Solver: solve}
}

// Place maps sec(x) of the original subtree onto the expanded cable.
func (p Placer) Place(sec morph.SectionID, x float64) (Placement, error) {
	zx, err := impedance.TransferComplex(p.Profile, sec, x)
	if err != nil {
		return Placement{}, fmt.Errorf("place %d(%g): %w", sec, x, err)
	}
	total := p.Expansion.ElectrotonicLength()
	if total <= 0 {
		return Placement{}, fmt.Errorf("place %d(%g): %w: electrotonic length %g",
			sec, x, cable.ErrInvalidCable, total)
	}
	pos := p.Solver(p.Profile.Input(), zx, p.Expansion.Q, total)
	return p.FromElectrotonic(pos), nil
}

// FromElectrotonic converts a position along trunk plus branch into a
// trunk or branch fraction.
func (p Placer) FromElectrotonic(pos float64) Placement {
	exp := p.Expansion
	furcation := exp.Trunk.FurcationX
	out := Placement{Electrotonic: pos}

	rel := pos / exp.ElectrotonicLength()
	if rel < furcation {
		out.OnTrunk = true
		out.X = rel / furcation
	} else {
		branchE := pos - exp.Trunk.ElectrotonicLength
		out.X = branchE * exp.Branch.SpaceConst / exp.Branch.Length
		if out.X < 0 {
			out.X = 0
		}
	}
	if out.X > 1 {
		out.X = OvershootX
		out.Clamped = true
	}
	return out
}
