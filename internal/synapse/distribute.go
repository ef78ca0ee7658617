package synapse

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/nvandessel/cablex/internal/logging"
	"github.com/nvandessel/cablex/internal/morph"
)

// DefaultSeed seeds the distributor when no source is supplied.
const DefaultSeed = 1

// NewRand returns a PCG source seeded from seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// Distributor copies the synapses of each trunk's first branch onto its
// sibling branches and spreads their connections at random.
type Distributor struct {
	rng       *rand.Rand
	logger    *slog.Logger
	decisions *logging.DecisionLogger
}

// NewDistributor returns a Distributor drawing from rng, or from
// NewRand(DefaultSeed) when rng is nil.
func NewDistributor(rng *rand.Rand) *Distributor {
	if rng == nil {
		rng = NewRand(DefaultSeed)
	}
	return &Distributor{rng: rng}
}

// SetLogger sets the operational logger and decision trace. Either may be nil.
func (d *Distributor) SetLogger(logger *slog.Logger, decisions *logging.DecisionLogger) {
	d.logger = logger
	d.decisions = decisions
}

// Distribute duplicates every point process on branches[i][0] onto
// branches[i][1:] at the same fraction, then points each connection that
// targeted the original at a uniformly chosen instance among the original
// and its duplicates. The duplicates are appended to the returned synapse
// list; conns is copied, not modified.
func (d *Distributor) Distribute(c *morph.Cell, branches [][]morph.SectionID, synapses []morph.PPID, conns []morph.Connection) ([]morph.PPID, []morph.Connection, error) {
	outSyn := append([]morph.PPID(nil), synapses...)
	outConn := append([]morph.Connection(nil), conns...)

	for _, set := range branches {
		if len(set) < 2 {
			continue
		}
		first := set[0]
		for _, id := range c.PointProcessesOn(first) {
			pp, err := c.PointProcess(id)
			if err != nil {
				return nil, nil, fmt.Errorf("distribute: %w", err)
			}
			instances := make([]morph.PPID, 1, len(set))
			instances[0] = id
			for _, br := range set[1:] {
				dup, err := c.Duplicate(id, br, pp.X)
				if err != nil {
					return nil, nil, fmt.Errorf("distribute %d onto %s: %w", id, c.Name(br), err)
				}
				instances = append(instances, dup)
				outSyn = append(outSyn, dup)
			}

			moved := 0
			for i := range outConn {
				if outConn[i].Target != id {
					continue
				}
				pick := instances[d.rng.IntN(len(instances))]
				outConn[i].Target = pick
				if pick != id {
					moved++
				}
				if d.decisions != nil {
					d.decisions.Log("connection_distributed", map[string]any{
						"source":  outConn[i].Source,
						"synapse": int(id),
						"target":  int(pick),
						"branch":  c.Name(hostSection(c, pick)),
					})
				}
			}
			if d.logger != nil {
				d.logger.Debug("distributed branch synapse",
					"synapse", int(id),
					"branch", c.Name(first),
					"copies", len(instances)-1,
					"connections_moved", moved)
			}
		}
	}
	return outSyn, outConn, nil
}

func hostSection(c *morph.Cell, id morph.PPID) morph.SectionID {
	pp, err := c.PointProcess(id)
	if err != nil {
		return morph.NoSection
	}
	return pp.Section
}
