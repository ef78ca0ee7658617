// Package store records expansion runs in a SQLite ledger.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/cablex/internal/expander"
)

// ErrRunNotFound indicates an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Ledger stores and retrieves runs.
type Ledger interface {
	// Record stores a run and returns its ID.
	Record(ctx context.Context, run *Run) (string, error)
	// Get returns one run with its segment map and synapse moves.
	Get(ctx context.Context, id string) (*Run, error)
	// List returns the most recent runs without details, newest first.
	List(ctx context.Context, limit int) ([]Run, error)
	// Delete removes a run.
	Delete(ctx context.Context, id string) error
	Close() error
}

// SubtreeParams are the expansion parameters of one subtree.
type SubtreeParams struct {
	Section   string  `json:"section"`
	Furcation float64 `json:"furcation"`
	Branches  int     `json:"branches"`
}

// SynapseMove records where one synapse went.
type SynapseMove struct {
	Synapse     int    `json:"synapse"`
	Subtree     int    `json:"subtree"`
	Destination string `json:"destination"`
	MergedInto  *int   `json:"merged_into,omitempty"`
	Clamped     bool   `json:"clamped,omitempty"`
}

// MapEntry is one original segment and its images.
type MapEntry struct {
	Original string   `json:"original"`
	Images   []string `json:"images"`
}

// Run is one recorded transformation.
type Run struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Cell       string    `json:"cell"`
	InputPath  string    `json:"input_path,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`

	Frequency     float64         `json:"frequency"`
	TotalSegments float64         `json:"total_segments"`
	Mapping       string          `json:"mapping"`
	Seed          uint64          `json:"seed"`
	Subtrees      []SubtreeParams `json:"subtrees"`

	SynapsesIn  int `json:"synapses_in"`
	SynapsesOut int `json:"synapses_out"`
	Merged      int `json:"merged"`
	Clamped     int `json:"clamped"`
	Warnings    int `json:"warnings"`
	NewSections int `json:"new_sections"`

	Map   []MapEntry    `json:"map,omitempty"`
	Moves []SynapseMove `json:"moves,omitempty"`
}

// NewRun summarizes a finished expansion. Section names of originals come
// from req.Cell, names of new sections from res.Cell.
func NewRun(req expander.Request, res *expander.Result, seed uint64) *Run {
	run := &Run{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Cell:          req.Cell.Label,
		Frequency:     req.Frequency,
		TotalSegments: req.TotalSegments,
		Mapping:       string(req.Mapping),
		Seed:          seed,
		SynapsesIn:    len(req.Synapses),
		SynapsesOut:   len(res.Synapses),
		Clamped:       res.Clamped,
		Warnings:      res.Warnings,
		NewSections:   len(res.Tree.Sections()),
	}
	if run.Mapping == "" {
		run.Mapping = "impedance"
	}
	for i, sec := range req.Sections {
		run.Subtrees = append(run.Subtrees, SubtreeParams{
			Section:   req.Cell.Name(sec),
			Furcation: req.Furcations[i],
			Branches:  req.Branches[i],
		})
	}
	for _, orig := range res.Map.Originals() {
		entry := MapEntry{Original: req.Cell.SegmentName(orig)}
		for _, img := range res.Map.Image(orig) {
			entry.Images = append(entry.Images, res.Cell.SegmentName(img))
		}
		run.Map = append(run.Map, entry)
	}
	for _, mv := range res.Moves {
		rec := SynapseMove{
			Synapse:     int(mv.Synapse),
			Subtree:     mv.From.Subtree,
			Destination: res.Cell.SegmentName(mv.To),
			Clamped:     mv.Clamped,
		}
		if mv.Merged() {
			into := int(mv.Into)
			rec.MergedInto = &into
			run.Merged++
		}
		run.Moves = append(run.Moves, rec)
	}
	return run
}
