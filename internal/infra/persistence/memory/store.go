// Package memory provides an in-memory run store used for tests, ephemeral
// runs and as the working set of the durable stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"watershed/pkg/domain"
)

var _ domain.RunStore = (*Store)(nil)

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Runs map[string]domain.Run `json:"runs"`
}

// Store keeps runs in a map guarded by a RWMutex. Runs are cloned on the way
// in and out so callers never alias stored slices.
type Store struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{runs: make(map[string]domain.Run)}
}

// SaveRun inserts or replaces a run.
func (s *Store) SaveRun(ctx context.Context, run domain.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.ID == "" {
		return fmt.Errorf("save run: id required")
	}
	s.mu.Lock()
	s.runs[run.ID] = run.Clone()
	s.mu.Unlock()
	return nil
}

// GetRun returns the run with id or domain.ErrRunNotFound.
func (s *Store) GetRun(_ context.Context, id string) (domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	return run.Clone(), nil
}

// ListRuns returns every run, newest first (ties by id).
func (s *Store) ListRuns(_ context.Context) ([]domain.Run, error) {
	s.mu.RLock()
	out := make([]domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteRun removes a run; unknown ids yield domain.ErrRunNotFound.
func (s *Store) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	delete(s.runs, id)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ExportState returns a deep copy of every stored run.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Runs: make(map[string]domain.Run, len(s.runs))}
	for id, run := range s.runs {
		snap.Runs[id] = run.Clone()
	}
	return snap
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	runs := make(map[string]domain.Run, len(snapshot.Runs))
	for id, run := range snapshot.Runs {
		if run.ID == "" {
			run.ID = id
		}
		runs[run.ID] = run.Clone()
	}
	s.mu.Lock()
	s.runs = runs
	s.mu.Unlock()
}
