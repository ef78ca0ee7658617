// Package pipeline runs an expansion end to end: it reads a cell document,
// applies a configured plan, writes the transformed document and records
// the run in the ledger.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nvandessel/cablex/internal/cellfile"
	"github.com/nvandessel/cablex/internal/config"
	"github.com/nvandessel/cablex/internal/expander"
	"github.com/nvandessel/cablex/internal/logging"
	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/store"
	"github.com/nvandessel/cablex/internal/synapse"
)

// Job is one expansion request against files on disk.
type Job struct {
	InputPath string
	// OutputPath may be empty to skip writing the result.
	OutputPath string
	Compress   bool
	Config     *config.CablexConfig
}

// Outcome is what a Job produced.
type Outcome struct {
	Result   *expander.Result
	Document *cellfile.Document
	Run      *store.Run
	// RunID is empty when no ledger is attached or recording failed.
	RunID string
}

// Loaded is a cell read from disk with its synaptic bindings.
type Loaded struct {
	Cell        *morph.Cell
	Synapses    []morph.PPID
	Connections []morph.Connection
	Document    *cellfile.Document
}

// Load reads a cell document in either format.
func Load(path string) (*Loaded, error) {
	doc, err := cellfile.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	c, syns, conns, err := doc.Cell()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if c.Label == "" {
		c.Label = doc.Name
	}
	return &Loaded{Cell: c, Synapses: syns, Connections: conns, Document: doc}, nil
}

// Runner executes jobs. The zero value runs without a ledger or logging.
type Runner struct {
	ledger    store.Ledger
	logger    *slog.Logger
	decisions *logging.DecisionLogger
}

// NewRunner creates a runner that records into ledger, which may be nil.
func NewRunner(ledger store.Ledger) *Runner {
	return &Runner{ledger: ledger}
}

// SetLogger attaches loggers to the runner and every expansion it runs.
func (r *Runner) SetLogger(logger *slog.Logger, decisions *logging.DecisionLogger) {
	r.logger = logger
	r.decisions = decisions
}

// Run executes job. The input file is never modified.
func (r *Runner) Run(ctx context.Context, job Job) (*Outcome, error) {
	cfg := job.Config
	if cfg == nil {
		cfg = config.Default()
	}
	in, err := Load(job.InputPath)
	if err != nil {
		return nil, err
	}

	req, err := cfg.Request(in.Cell)
	if err != nil {
		return nil, err
	}
	req.Synapses = in.Synapses
	req.Connections = in.Connections

	res, err := expander.Expand(ctx, req, expander.Options{
		Logger:    r.logger,
		Decisions: r.decisions,
		Rand:      synapse.NewRand(cfg.Expansion.Seed),
	})
	if err != nil {
		return nil, err
	}

	doc := cellfile.FromCell(res.Cell, res.Synapses, res.Connections)
	doc.Metadata = map[string]string{
		"source":         job.InputPath,
		"frequency":      strconv.FormatFloat(req.Frequency, 'g', -1, 64),
		"total_segments": strconv.FormatFloat(req.TotalSegments, 'g', -1, 64),
		"seed":           strconv.FormatUint(cfg.Expansion.Seed, 10),
	}
	if job.OutputPath != "" {
		if err := cellfile.Write(job.OutputPath, doc, job.Compress); err != nil {
			return nil, fmt.Errorf("write %s: %w", job.OutputPath, err)
		}
	}

	run := store.NewRun(req, res, cfg.Expansion.Seed)
	run.InputPath = job.InputPath
	run.OutputPath = job.OutputPath
	out := &Outcome{Result: res, Document: doc, Run: run}

	if r.ledger != nil {
		id, err := r.ledger.Record(ctx, run)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("failed to record run", "error", err, "run_id", run.ID)
			}
		} else {
			out.RunID = id
		}
	}

	if r.logger != nil {
		r.logger.Info("expansion written",
			"input", job.InputPath,
			"output", job.OutputPath,
			"run_id", out.RunID,
			"warnings", res.Warnings)
	}
	return out, nil
}
