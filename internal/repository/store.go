package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/cycle-reservation/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx so that read helpers can
// run inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// StatusChange describes a conditional status transition.  The update only
// applies when the reservation's current status equals From and, when
// EndingBy is non-zero, when its end time is not after EndingBy.
type StatusChange struct {
	ID       uint64
	From     model.ReservationStatus
	To       model.ReservationStatus
	EndingBy time.Time
}

// ExtensionChange replaces the length and price of an ACTIVE reservation.
// It only applies while the stored hours and end time still equal
// FromHours and FromEnd, so an extension computed from a stale read loses.
type ExtensionChange struct {
	ID         uint64
	FromHours  float64
	FromEnd    time.Time
	Hours      float64
	TotalCents int64
	EndTime    time.Time
}

// ReservationFilter narrows ListReservations.  Zero fields are ignored.
type ReservationFilter struct {
	UserID    uint64
	BicycleID uint64
	Status    model.ReservationStatus
}

// Tx is the set of operations available inside a store transaction.  Every
// mutation is conditional and reports whether it applied, so that callers
// racing on the same reservation observe exactly one winner.
type Tx interface {
	GetBicycle(ctx context.Context, id uint64) (model.Bicycle, error)
	// SetBicycleAvailability flips the flag only if it currently differs
	// from available and reports whether a row changed.
	SetBicycleAvailability(ctx context.Context, id uint64, available bool) (bool, error)
	CreateReservation(ctx context.Context, res *model.Reservation) error
	GetReservation(ctx context.Context, id uint64) (model.Reservation, error)
	UpdateReservationStatus(ctx context.Context, change StatusChange) (bool, error)
	// UpdateReservationExtension applies only while the reservation is
	// ACTIVE and unchanged since it was read.
	UpdateReservationExtension(ctx context.Context, change ExtensionChange) (bool, error)
}

// Store is the MySQL implementation of the durable store.  Transactions
// are scoped by InTx; reads outside a transaction go straight to the pool.
type Store struct {
	db           *sql.DB
	Bicycles     *BicycleRepo
	Reservations *ReservationRepo
}

// NewStore returns a Store bound to the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:           db,
		Bicycles:     NewBicycleRepo(db),
		Reservations: NewReservationRepo(db),
	}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// InTx runs fn inside a database transaction.  The transaction commits when
// fn returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(sqlTx{tx: tx, bicycles: s.Bicycles, reservations: s.Reservations}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetBicycle loads a bicycle outside of any transaction.
func (s *Store) GetBicycle(ctx context.Context, id uint64) (model.Bicycle, error) {
	return s.Bicycles.GetByID(ctx, id)
}

// GetReservation loads a reservation outside of any transaction.
func (s *Store) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	return s.Reservations.GetByID(ctx, id)
}

// ListReservations returns reservations matching the filter, newest first.
func (s *Store) ListReservations(ctx context.Context, f ReservationFilter) ([]model.Reservation, error) {
	return s.Reservations.List(ctx, f)
}

type sqlTx struct {
	tx           *sql.Tx
	bicycles     *BicycleRepo
	reservations *ReservationRepo
}

func (t sqlTx) GetBicycle(ctx context.Context, id uint64) (model.Bicycle, error) {
	return t.bicycles.GetByIDTx(ctx, t.tx, id)
}

func (t sqlTx) SetBicycleAvailability(ctx context.Context, id uint64, available bool) (bool, error) {
	return t.bicycles.SetAvailabilityTx(ctx, t.tx, id, available)
}

func (t sqlTx) CreateReservation(ctx context.Context, res *model.Reservation) error {
	return t.reservations.CreateTx(ctx, t.tx, res)
}

func (t sqlTx) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	return t.reservations.GetByIDTx(ctx, t.tx, id)
}

func (t sqlTx) UpdateReservationStatus(ctx context.Context, change StatusChange) (bool, error) {
	return t.reservations.UpdateStatusTx(ctx, t.tx, change)
}

func (t sqlTx) UpdateReservationExtension(ctx context.Context, change ExtensionChange) (bool, error) {
	return t.reservations.UpdateExtensionTx(ctx, t.tx, change)
}
