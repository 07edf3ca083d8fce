// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pdiddy/customer-engine/pkg/types"
)

// Store holds job records. Implementations must be safe for concurrent use:
// Get never observes a partially applied Update.
type Store interface {
	// Create inserts a new job. It fails if the ID already exists.
	Create(ctx context.Context, j types.Job) error

	// Get returns a snapshot of the job, or ErrNotFound.
	Get(ctx context.Context, id string) (types.Job, error)

	// Update applies fn to the job atomically. If fn returns an error the
	// job is left unchanged and the error is returned.
	Update(ctx context.Context, id string, fn func(*types.Job) error) error

	// Sweep deletes terminal jobs that finished before cutoff and returns
	// how many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// NewStore opens the store selected by cfg.
func NewStore(cfg types.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", types.StoreMemory:
		return NewMemoryStore(), nil
	case types.StoreSQLite:
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q (use memory or sqlite)", cfg.Driver)
	}
}

// MemoryStore keeps jobs in process memory. Each job has its own lock so a
// busy worker never blocks pollers of other jobs.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*memEntry
}

type memEntry struct {
	mu  sync.RWMutex
	job types.Job
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*memEntry)}
}

// Create inserts j.
func (s *MemoryStore) Create(_ context.Context, j types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	s.jobs[j.ID] = &memEntry{job: j.Clone()}
	return nil
}

func (s *MemoryStore) entry(id string) (*memEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	return e, ok
}

// Get returns a deep copy of the job.
func (s *MemoryStore) Get(_ context.Context, id string) (types.Job, error) {
	e, ok := s.entry(id)
	if !ok {
		return types.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Clone(), nil
}

// Update runs fn on a copy and publishes it only if fn succeeds.
func (s *MemoryStore) Update(_ context.Context, id string, fn func(*types.Job) error) error {
	e, ok := s.entry(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	working := e.job.Clone()
	if err := fn(&working); err != nil {
		return err
	}
	e.job = working
	return nil
}

// Sweep removes expired terminal jobs.
func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.jobs {
		e.mu.RLock()
		expired := e.job.Status.IsTerminal() && !e.job.FinishedAt.IsZero() && e.job.FinishedAt.Before(cutoff)
		e.mu.RUnlock()
		if expired {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored jobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
