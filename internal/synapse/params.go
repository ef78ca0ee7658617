// Package synapse moves synapses from expanded subtrees onto the new trunk
// and branch sections, merges kinetically identical ones, and spreads
// branch synapses across sibling branches.
package synapse

import (
	"sort"

	"github.com/nvandessel/cablex/internal/morph"
)

// stateParams are never compared when deciding whether two point processes
// can be merged.
var stateParams = map[string]bool{
	"g":   true,
	"i":   true,
	"rng": true,
}

// ParamDict maps a point-process kind to the parameter names compared when
// merging. Entries are learned from the first instance of each kind seen;
// a dictionary can be pre-populated and reused across transformations.
type ParamDict map[string][]string

// Learn records the comparable parameters of pp's kind if the kind is new.
func (d ParamDict) Learn(pp morph.PointProcess) {
	if _, ok := d[pp.Kind]; ok {
		return
	}
	names := make([]string, 0, len(pp.Params))
	for name := range pp.Params {
		if !stateParams[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	d[pp.Kind] = names
}

// Match reports whether a and b are the same kind and agree on every
// parameter the dictionary lists for that kind. The kind of b is learned
// first if unknown.
func (d ParamDict) Match(a, b morph.PointProcess) bool {
	if a.Kind != b.Kind {
		return false
	}
	d.Learn(b)
	for _, name := range d[b.Kind] {
		av, aok := a.Params[name]
		bv, bok := b.Params[name]
		if aok != bok || av != bv {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (d ParamDict) Clone() ParamDict {
	out := make(ParamDict, len(d))
	for k, v := range d {
		out[k] = append([]string(nil), v...)
	}
	return out
}
