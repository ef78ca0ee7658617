package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger implements Ledger in memory, for tests and for runs with
// the on-disk ledger disabled.
type MemoryLedger struct {
	mu   sync.RWMutex
	runs map[string]*Run
	seq  []string
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{runs: make(map[string]*Run)}
}

// Record stores a copy of run.
func (s *MemoryLedger) Record(ctx context.Context, run *Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.runs[run.ID]; exists {
		return "", fmt.Errorf("run %s already recorded", run.ID)
	}
	cp := *run
	s.runs[run.ID] = &cp
	s.seq = append(s.seq, run.ID)
	return run.ID, nil
}

// Get returns a copy of the run.
func (s *MemoryLedger) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	cp := *run
	return &cp, nil
}

// List returns runs newest first without their details.
func (s *MemoryLedger) List(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := make(map[string]int, len(s.seq))
	for i, id := range s.seq {
		order[id] = i
	}
	runs := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		cp := *r
		cp.Map, cp.Moves = nil, nil
		runs = append(runs, cp)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return order[runs[i].ID] > order[runs[j].ID]
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Delete removes a run.
func (s *MemoryLedger) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	delete(s.runs, id)
	for i, v := range s.seq {
		if v == id {
			s.seq = append(s.seq[:i], s.seq[i+1:]...)
			break
		}
	}
	return nil
}

// Close is a no-op.
func (s *MemoryLedger) Close() error { return nil }

var _ Ledger = (*MemoryLedger)(nil)
