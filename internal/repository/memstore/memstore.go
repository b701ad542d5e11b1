// Package memstore is an in-memory implementation of the durable store with
// the same conditional semantics as the MySQL store.  Transactions are
// serialised and applied to a copy that only replaces the live state on
// success, so a failing transaction leaves nothing behind.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cycle-reservation/internal/model"
	"github.com/iliyamo/cycle-reservation/internal/repository"
)

// Store holds bicycles and reservations in maps guarded by a mutex.
type Store struct {
	mu           sync.Mutex
	now          func() time.Time
	nextRes      uint64
	bicycles     map[uint64]model.Bicycle
	reservations map[uint64]model.Reservation

	// FailNextTx, when set, makes the next InTx call fail with the error
	// before running fn.
	FailNextTx error
}

// New returns an empty Store.  now stamps CreatedAt/UpdatedAt; nil means
// time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		now:          now,
		bicycles:     map[uint64]model.Bicycle{},
		reservations: map[uint64]model.Reservation{},
	}
}

// PutBicycle inserts or replaces a bicycle.
func (s *Store) PutBicycle(b model.Bicycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bicycles[b.ID] = b
}

// InTx runs fn against a private copy of the state and publishes the copy
// if fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailNextTx; err != nil {
		s.FailNextTx = nil
		return err
	}
	tx := &memTx{
		now:          s.now,
		nextRes:      s.nextRes,
		bicycles:     make(map[uint64]model.Bicycle, len(s.bicycles)),
		reservations: make(map[uint64]model.Reservation, len(s.reservations)),
	}
	for k, v := range s.bicycles {
		tx.bicycles[k] = v
	}
	for k, v := range s.reservations {
		tx.reservations[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.bicycles = tx.bicycles
	s.reservations = tx.reservations
	s.nextRes = tx.nextRes
	return nil
}

// GetBicycle returns a bicycle or repository.ErrBicycleNotFound.
func (s *Store) GetBicycle(_ context.Context, id uint64) (model.Bicycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bicycles[id]
	if !ok {
		return model.Bicycle{}, repository.ErrBicycleNotFound
	}
	return b, nil
}

// GetReservation returns a reservation or repository.ErrReservationNotFound.
func (s *Store) GetReservation(_ context.Context, id uint64) (model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return model.Reservation{}, repository.ErrReservationNotFound
	}
	return r, nil
}

// ListReservations filters reservations, newest first.
func (s *Store) ListReservations(_ context.Context, f repository.ReservationFilter) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Reservation, 0)
	for _, r := range s.reservations {
		if f.UserID != 0 && r.UserID != f.UserID {
			continue
		}
		if f.BicycleID != 0 && r.BicycleID != f.BicycleID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memTx struct {
	now          func() time.Time
	nextRes      uint64
	bicycles     map[uint64]model.Bicycle
	reservations map[uint64]model.Reservation
}

func (t *memTx) GetBicycle(_ context.Context, id uint64) (model.Bicycle, error) {
	b, ok := t.bicycles[id]
	if !ok {
		return model.Bicycle{}, repository.ErrBicycleNotFound
	}
	return b, nil
}

func (t *memTx) SetBicycleAvailability(_ context.Context, id uint64, available bool) (bool, error) {
	b, ok := t.bicycles[id]
	if !ok || b.Available == available {
		return false, nil
	}
	b.Available = available
	b.UpdatedAt = t.now()
	t.bicycles[id] = b
	return true, nil
}

func (t *memTx) CreateReservation(_ context.Context, res *model.Reservation) error {
	if _, ok := t.bicycles[res.BicycleID]; !ok {
		return errors.New("memstore: foreign key bicycle_id")
	}
	t.nextRes++
	res.ID = t.nextRes
	now := t.now()
	res.CreatedAt, res.UpdatedAt = now, now
	t.reservations[res.ID] = *res
	return nil
}

func (t *memTx) GetReservation(_ context.Context, id uint64) (model.Reservation, error) {
	r, ok := t.reservations[id]
	if !ok {
		return model.Reservation{}, repository.ErrReservationNotFound
	}
	return r, nil
}

func (t *memTx) UpdateReservationStatus(_ context.Context, c repository.StatusChange) (bool, error) {
	r, ok := t.reservations[c.ID]
	if !ok || r.Status != c.From {
		return false, nil
	}
	if !c.EndingBy.IsZero() && r.EndTime.After(c.EndingBy) {
		return false, nil
	}
	r.Status = c.To
	r.UpdatedAt = t.now()
	t.reservations[c.ID] = r
	return true, nil
}

func (t *memTx) UpdateReservationExtension(_ context.Context, c repository.ExtensionChange) (bool, error) {
	r, ok := t.reservations[c.ID]
	if !ok || r.Status != model.StatusActive {
		return false, nil
	}
	if r.Hours != c.FromHours || !r.EndTime.Equal(c.FromEnd) {
		return false, nil
	}
	r.Hours = c.Hours
	r.TotalAmountCents = c.TotalCents
	r.EndTime = c.EndTime
	r.PaymentStatus = model.PaymentPending
	r.UpdatedAt = t.now()
	t.reservations[c.ID] = r
	return true, nil
}
