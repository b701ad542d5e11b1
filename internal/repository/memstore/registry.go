package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cycle-reservation/internal/repository"
)

// Registry is an in-memory completion registry.  The Fail* fields inject a
// single failure into the next matching call.
type Registry struct {
	mu      sync.Mutex
	entries map[uint64]time.Time

	FailNextSet    error
	FailNextDelete error
	FailNextDue    error
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[uint64]time.Time{}}
}

func (r *Registry) Set(_ context.Context, id uint64, due time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailNextSet; err != nil {
		r.FailNextSet = nil
		return err
	}
	r.entries[id] = time.UnixMilli(due.UnixMilli()).UTC()
	return nil
}

func (r *Registry) Get(_ context.Context, id uint64) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due, ok := r.entries[id]
	return due, ok, nil
}

func (r *Registry) Delete(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailNextDelete; err != nil {
		r.FailNextDelete = nil
		return err
	}
	delete(r.entries, id)
	return nil
}

func (r *Registry) Due(_ context.Context, now time.Time) ([]repository.DueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailNextDue; err != nil {
		r.FailNextDue = nil
		return nil, err
	}
	out := make([]repository.DueEntry, 0)
	for id, due := range r.entries {
		if !due.After(now) {
			out = append(out, repository.DueEntry{ReservationID: id, DueAt: due})
		}
	}
	sortEntries(out)
	return out, nil
}

func (r *Registry) All(_ context.Context) ([]repository.DueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repository.DueEntry, 0, len(r.entries))
	for id, due := range r.entries {
		out = append(out, repository.DueEntry{ReservationID: id, DueAt: due})
	}
	sortEntries(out)
	return out, nil
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func sortEntries(es []repository.DueEntry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].DueAt.Equal(es[j].DueAt) {
			return es[i].ReservationID < es[j].ReservationID
		}
		return es[i].DueAt.Before(es[j].DueAt)
	})
}
