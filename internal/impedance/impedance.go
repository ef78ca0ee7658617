// Package impedance computes frequency-domain input and transfer impedances
// of passive dendritic subtrees and locates the electrotonic position on an
// equivalent cylinder whose transfer impedance matches a target.
package impedance

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/nvandessel/cablex/internal/morph"
)

// ErrNotInSubtree indicates a transfer query for a section outside the
// subtree a Profile was computed for.
var ErrNotInSubtree = errors.New("section is not part of the measured subtree")

// Calculator measures a detached subtree at one frequency.
type Calculator interface {
	Profile(c *morph.Cell, root morph.SectionID, frequency float64) (Profile, error)
}

// Profile holds the impedances of one subtree measured at the 0 end of its root.
// All impedances are in ohms; phases in radians.
type Profile interface {
	// Input returns the complex input impedance at root(0).
	Input() complex128
	// Transfer returns the magnitude and phase of the transfer impedance
	// between root(0) and sec(x).
	Transfer(sec morph.SectionID, x float64) (mag, phase float64, err error)
}

// TransferComplex converts a Profile transfer measurement to a complex number.
func TransferComplex(p Profile, sec morph.SectionID, x float64) (complex128, error) {
	mag, phase, err := p.Transfer(sec, x)
	if err != nil {
		return 0, err
	}
	return cmplx.Rect(mag, phase), nil
}

// Solver returns the real electrotonic coordinate X in [0, length] on a
// sealed cylinder with root impedance z0 and propagation constant q whose
// transfer impedance to the root best matches zx.
type Solver func(z0, zx, q complex128, length float64) float64

// Bisection defaults used by FindBestRealX.
const (
	MaxDepth  = 50
	Tolerance = 0.001
)

// CylinderTransfer returns Z0 * cosh(q(L-X)) / cosh(qL), the transfer
// impedance between X and the root of a sealed cylinder.
func CylinderTransfer(z0, q complex128, length, x float64) complex128 {
	return z0 * cmplx.Cosh(q*complex(length-x, 0)) / cmplx.Cosh(q*complex(length, 0))
}

// FindBestRealX bisects [0, length] for the X whose transfer-impedance
// modulus equals |zx|. It stops after MaxDepth halvings or once the moduli
// agree within Tolerance ohms.
func FindBestRealX(z0, zx, q complex128, length float64) float64 {
	lo, hi := 0.0, length
	x := (lo + hi) / 2
	goal := cmplx.Abs(zx)
	for i := 0; i < MaxDepth; i++ {
		cur := cmplx.Abs(CylinderTransfer(z0, q, length, x))
		if math.Abs(goal-cur) <= Tolerance {
			break
		}
		if goal > cur {
			hi = x
		} else {
			lo = x
		}
		x = (lo + hi) / 2
	}
	return x
}
