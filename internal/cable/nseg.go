package cable

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSegmentCount indicates a manual segment total that is zero or a
// non-integral absolute count.
var ErrInvalidSegmentCount = errors.New("invalid segment count")

// AutoSegments requests one segment per tenth of a length constant.
const AutoSegments = -1

// DefaultLambdaFraction is the electrotonic length covered by one segment
// under the automatic rule.
const DefaultLambdaFraction = 0.1

// SegmentCount is the number of segments assigned to the trunk and to each
// branch of one expansion.
type SegmentCount struct {
	Trunk  int `json:"trunk"`
	Branch int `json:"branch"`
}

// Total counts segments over the trunk and all n branches.
func (s SegmentCount) Total(n int) int { return s.Trunk + n*s.Branch }

// NsegPolicy assigns segment counts to a whole batch of expansions at once.
type NsegPolicy interface {
	Counts(exps []Expansion) ([]SegmentCount, error)
}

// LambdaRule gives every cable ceil(E/Fraction) segments, at least one.
type LambdaRule struct {
	Fraction float64
}

// Counts implements NsegPolicy.
func (r LambdaRule) Counts(exps []Expansion) ([]SegmentCount, error) {
	frac := r.Fraction
	if frac <= 0 {
		frac = DefaultLambdaFraction
	}
	out := make([]SegmentCount, len(exps))
	for i, e := range exps {
		out[i] = SegmentCount{
			Trunk:  lambdaSegments(e.Trunk.ElectrotonicLength, frac),
			Branch: lambdaSegments(e.Branch.ElectrotonicLength, frac),
		}
	}
	return out, nil
}

func lambdaSegments(e, frac float64) int {
	n := int(math.Ceil(e/frac - 1e-9))
	if n < 1 {
		return 1
	}
	return n
}

// FixedTotal distributes Total segments over all new cables in proportion
// to their electrotonic length. Every branch counts separately.
type FixedTotal struct {
	Total int
}

// Counts implements NsegPolicy.
func (f FixedTotal) Counts(exps []Expansion) ([]SegmentCount, error) {
	if f.Total < 1 {
		return nil, fmt.Errorf("%w: total %d", ErrInvalidSegmentCount, f.Total)
	}
	sum := 0.0
	for _, e := range exps {
		sum += e.Trunk.ElectrotonicLength + float64(e.Branches)*e.Branch.ElectrotonicLength
	}
	out := make([]SegmentCount, len(exps))
	for i, e := range exps {
		out[i] = SegmentCount{
			Trunk:  shareOf(e.Trunk.ElectrotonicLength, sum, f.Total),
			Branch: shareOf(e.Branch.ElectrotonicLength, sum, f.Total),
		}
	}
	return out, nil
}

func shareOf(e, sum float64, total int) int {
	if sum <= 0 {
		return 1
	}
	n := int(math.Round(e / sum * float64(total)))
	if n < 1 {
		return 1
	}
	return n
}

// MinimumTotal applies the lambda rule, then falls back to a FixedTotal of
// Min when the lambda rule would produce fewer segments in total.
type MinimumTotal struct {
	Rule LambdaRule
	Min  int
}

// Counts implements NsegPolicy.
func (m MinimumTotal) Counts(exps []Expansion) ([]SegmentCount, error) {
	counts, err := m.Rule.Counts(exps)
	if err != nil {
		return nil, err
	}
	total := 0
	for i, c := range counts {
		total += c.Total(exps[i].Branches)
	}
	if total >= m.Min {
		return counts, nil
	}
	return FixedTotal{Total: m.Min}.Counts(exps)
}

// Policy builds the segment-count policy selected by a manual total:
// negative selects the lambda rule, a value in (0,1) keeps at least that
// fraction of originalSegments, and an integer >= 1 fixes the total.
func Policy(total float64, originalSegments int) (NsegPolicy, error) {
	switch {
	case total < 0:
		return LambdaRule{Fraction: DefaultLambdaFraction}, nil
	case total == 0:
		return nil, fmt.Errorf("%w: 0", ErrInvalidSegmentCount)
	case total < 1:
		return MinimumTotal{
			Rule: LambdaRule{Fraction: DefaultLambdaFraction},
			Min:  int(math.Round(total * float64(originalSegments))),
		}, nil
	case total != math.Trunc(total):
		return nil, fmt.Errorf("%w: %v is not an integer", ErrInvalidSegmentCount, total)
	default:
		return FixedTotal{Total: int(total)}, nil
	}
}
