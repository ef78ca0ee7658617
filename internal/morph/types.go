// Package morph is the in-memory compartment host used by the cable
// expander. A Cell owns an arena of sections addressed by SectionID;
// parent/child relations are stored as IDs, so detach, reattach and delete
// are index rewrites.
package morph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSectionNotFound indicates a SectionID that is out of range or deleted.
	ErrSectionNotFound = errors.New("section not found")

	// ErrPointProcessNotFound indicates an unknown or removed point process.
	ErrPointProcessNotFound = errors.New("point process not found")

	// ErrUnsupportedSectionType indicates a section type that the requested
	// operation cannot handle (for example a soma where a dendrite is required).
	ErrUnsupportedSectionType = errors.New("unsupported section type")

	// ErrInvalidGeometry indicates a non-positive length, diameter or segment count.
	ErrInvalidGeometry = errors.New("invalid section geometry")

	// ErrMechanismNotInserted indicates a parameter write for a mechanism that
	// is not present on the section.
	ErrMechanismNotInserted = errors.New("mechanism not inserted")

	// ErrCycle indicates a connection that would make a section its own ancestor.
	ErrCycle = errors.New("connection would create a cycle")
)

// SectionType is the closed set of compartment kinds.
type SectionType int

const (
	Soma SectionType = iota
	Apical
	Basal
	Axonal
)

// AllSectionTypes lists every section type in section-list order.
var AllSectionTypes = []SectionType{Soma, Apical, Basal, Axonal}

// String returns the short section name prefix ("soma", "apic", "dend", "axon").
func (t SectionType) String() string {
	switch t {
	case Soma:
		return "soma"
	case Apical:
		return "apic"
	case Basal:
		return "dend"
	case Axonal:
		return "axon"
	default:
		return fmt.Sprintf("SectionType(%d)", int(t))
	}
}

// ListName returns the name of the section list a type belongs to.
func (t SectionType) ListName() string {
	switch t {
	case Soma:
		return "somatic"
	case Apical:
		return "apical"
	case Basal:
		return "basal"
	case Axonal:
		return "axonal"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the four known types.
func (t SectionType) Valid() bool {
	return t >= Soma && t <= Axonal
}

// ParseSectionType accepts both the short prefixes and the list names.
func ParseSectionType(s string) (SectionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "soma", "somatic":
		return Soma, nil
	case "apic", "apical":
		return Apical, nil
	case "dend", "basal":
		return Basal, nil
	case "axon", "axonal":
		return Axonal, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedSectionType, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t SectionType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSectionType, int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SectionType) UnmarshalText(b []byte) error {
	parsed, err := ParseSectionType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// SectionID addresses a section inside one Cell's arena.
type SectionID int

// NoSection is the null SectionID (no parent).
const NoSection SectionID = -1

// Properties are the passive cable attributes of one section.
// Lengths and diameters are in micrometers, Cm in uF/cm2, Ra in ohm*cm,
// GPas in S/cm2 and EPas in mV.
type Properties struct {
	L    float64 `json:"L"`
	Diam float64 `json:"diam"`
	Nseg int     `json:"nseg"`
	Cm   float64 `json:"cm"`
	Ra   float64 `json:"Ra"`
	GPas float64 `json:"g_pas"`
	EPas float64 `json:"e_pas"`
}

// Rm returns the specific membrane resistance (ohm*cm2), the inverse of GPas.
func (p Properties) Rm() float64 {
	if p.GPas == 0 {
		return 0
	}
	return 1.0 / p.GPas
}

func (p Properties) validate() error {
	if p.L <= 0 || p.Diam <= 0 || p.Nseg < 1 {
		return fmt.Errorf("%w: L=%g diam=%g nseg=%d", ErrInvalidGeometry, p.L, p.Diam, p.Nseg)
	}
	return nil
}

// MechValues holds distributed mechanism parameters for one segment,
// keyed by mechanism name then parameter name.
type MechValues map[string]map[string]float64

// Clone returns a deep copy.
func (m MechValues) Clone() MechValues {
	out := make(MechValues, len(m))
	for mech, params := range m {
		cp := make(map[string]float64, len(params))
		for k, v := range params {
			cp[k] = v
		}
		out[mech] = cp
	}
	return out
}

// Connection binds a presynaptic source to a point process, the way a
// NetCon targets a synapse. Connections are owned by the caller, not the Cell.
type Connection struct {
	Source string  `json:"source"`
	Target PPID    `json:"target"`
	Weight float64 `json:"weight"`
	Delay  float64 `json:"delay"`
}
