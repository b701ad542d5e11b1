package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/cycle-reservation/internal/model"
)

// ReservationRepo provides persistence for reservations.  All timestamp
// fields are stored in UTC with millisecond precision.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, bicycle_id, user_id, hours, total_amount_cents, status, payment_status, start_time, end_time, created_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }) (model.Reservation, error) {
	var res model.Reservation
	err := row.Scan(
		&res.ID, &res.BicycleID, &res.UserID, &res.Hours, &res.TotalAmountCents,
		&res.Status, &res.PaymentStatus, &res.StartTime, &res.EndTime,
		&res.CreatedAt, &res.UpdatedAt,
	)
	return res, err
}

func getReservation(ctx context.Context, q querier, id uint64) (model.Reservation, error) {
	return queryReservation(ctx, q, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
}

func queryReservation(ctx context.Context, q querier, query string, id uint64) (model.Reservation, error) {
	res, err := scanReservation(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, ErrReservationNotFound
	}
	return res, err
}

// CreateTx inserts a new reservation within the scope of an existing
// transaction.  It populates the generated ID and the database defaults on
// the provided record.  The caller must commit or rollback the transaction.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	const q = `INSERT INTO reservations (bicycle_id, user_id, hours, total_amount_cents, status, payment_status, start_time, end_time)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q,
		res.BicycleID, res.UserID, res.Hours, res.TotalAmountCents,
		res.Status, res.PaymentStatus, res.StartTime.UTC(), res.EndTime.UTC())
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	// Query back the full row to populate timestamps
	stored, err := getReservation(ctx, tx, uint64(id))
	if err != nil {
		return err
	}
	*res = stored
	return nil
}

// GetByID fetches a reservation by ID.  It returns ErrReservationNotFound
// when no row matches.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (model.Reservation, error) {
	return getReservation(ctx, r.db, id)
}

// GetByIDTx is GetByID within an existing transaction.  The row stays
// locked until the transaction ends.
func (r *ReservationRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Reservation, error) {
	return queryReservation(ctx, tx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ? FOR UPDATE`, id)
}

// UpdateStatusTx performs a conditional status transition.  The row is only
// updated when its status still equals change.From (and its end time is not
// after change.EndingBy, when set).  The boolean result is false when the
// condition did not hold, meaning another writer already moved the
// reservation or it does not exist.
func (r *ReservationRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, change StatusChange) (bool, error) {
	q := `UPDATE reservations SET status = ? WHERE id = ? AND status = ?`
	args := []any{change.To, change.ID, change.From}
	if !change.EndingBy.IsZero() {
		q += ` AND end_time <= ?`
		args = append(args, change.EndingBy.UTC())
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateExtensionTx stores the extended duration, amount and end time of an
// ACTIVE reservation and resets its payment status to PENDING.  It reports
// false when the reservation is no longer ACTIVE or its hours or end time
// differ from change.FromHours and change.FromEnd.
func (r *ReservationRepo) UpdateExtensionTx(ctx context.Context, tx *sql.Tx, change ExtensionChange) (bool, error) {
	const q = `UPDATE reservations
	           SET hours = ?, total_amount_cents = ?, end_time = ?, payment_status = ?
	           WHERE id = ? AND status = ? AND hours = ? AND end_time = ?`
	res, err := tx.ExecContext(ctx, q,
		change.Hours, change.TotalCents, change.EndTime.UTC(), model.PaymentPending,
		change.ID, model.StatusActive, change.FromHours, change.FromEnd.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// List returns the reservations matching the filter ordered by creation
// time descending (newest first).  When nothing matches, an empty slice is
// returned.
func (r *ReservationRepo) List(ctx context.Context, f ReservationFilter) ([]model.Reservation, error) {
	var where []string
	var args []any
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.BicycleID != 0 {
		where = append(where, "bicycle_id = ?")
		args = append(args, f.BicycleID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	q := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
