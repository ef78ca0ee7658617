package electrotonic

import (
	"math"
	"testing"

	"github.com/nvandessel/cablex/internal/cable"
	"github.com/nvandessel/cablex/internal/impedance"
	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/morph/morphtest"
)

func cylinderPlacer(t *testing.T, freq, furcation float64) (Placer, morphtest.Cylinder) {
	t.Helper()
	cyl := morphtest.NewCylinder(t, morph.Apical, 10)
	exp, err := cable.ExpandSection(cyl.Cell, cyl.Cable, freq, furcation, 2)
	if err != nil {
		t.Fatalf("ExpandSection: %v", err)
	}
	prof, err := impedance.Passive{}.Profile(cyl.Cell, cyl.Cable, freq)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	return NewPlacer(prof, exp, nil), cyl
}

func TestPlace_TrunkAndBranch(t *testing.T) {
	p, cyl := cylinderPlacer(t, 0, 0.5)
	tests := []struct {
		x       float64
		onTrunk bool
		want    float64
	}{
		{0.1, true, 0.2},
		{0.4, true, 0.8},
		{0.6, false, 0.2},
		{0.9, false, 0.8},
	}
	for _, tt := range tests {
		got, err := p.Place(cyl.Cable, tt.x)
		if err != nil {
			t.Fatalf("Place: %v", err)
		}
		if got.OnTrunk != tt.onTrunk {
			t.Errorf("x=%g: expected onTrunk=%v, got %v", tt.x, tt.onTrunk, got.OnTrunk)
		}
		if math.Abs(got.X-tt.want) > 1e-6 {
			t.Errorf("x=%g: expected %g, got %g", tt.x, tt.want, got.X)
		}
	}
}

func TestPlace_Endpoints(t *testing.T) {
	for _, f := range []float64{0.2, 0.5, 0.8} {
		p, cyl := cylinderPlacer(t, 100, f)

		near, err := p.Place(cyl.Cable, 1e-6)
		if err != nil {
			t.Fatalf("Place: %v", err)
		}
		if !near.OnTrunk || near.X > 1e-3 {
			t.Errorf("f=%g: expected proximal end on trunk near 0, got %+v", f, near)
		}

		far, err := p.Place(cyl.Cable, 1)
		if err != nil {
			t.Fatalf("Place: %v", err)
		}
		if far.OnTrunk {
			t.Errorf("f=%g: expected distal end on a branch, got trunk", f)
		}
		if far.X <= 0 || far.X > 1 {
			t.Errorf("f=%g: expected 0 < x <= 1, got %g", f, far.X)
		}
	}
}

func TestFromElectrotonic_Clamp(t *testing.T) {
	p, _ := cylinderPlacer(t, 0, 0.5)
	got := p.FromElectrotonic(1.2)
	if got.OnTrunk {
		t.Fatal("expected branch placement")
	}
	if !got.Clamped || got.X != OvershootX {
		t.Errorf("expected clamp to %g, got %+v", OvershootX, got)
	}
}
