package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/cycle-reservation/internal/model"
)

// BicycleRepo manages persistence for bicycles.  The available flag is only
// changed through SetAvailabilityTx, inside the same transaction that moves a
// reservation into or out of ACTIVE.
type BicycleRepo struct {
	db *sql.DB
}

// NewBicycleRepo returns a new BicycleRepo bound to the given database.
func NewBicycleRepo(db *sql.DB) *BicycleRepo { return &BicycleRepo{db: db} }

const bicycleColumns = `id, name, hourly_rate_cents, available, created_at, updated_at`

func scanBicycle(row interface{ Scan(...any) error }) (model.Bicycle, error) {
	var b model.Bicycle
	err := row.Scan(&b.ID, &b.Name, &b.HourlyRateCents, &b.Available, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func getBicycle(ctx context.Context, q querier, id uint64) (model.Bicycle, error) {
	b, err := scanBicycle(q.QueryRowContext(ctx, `SELECT `+bicycleColumns+` FROM bicycles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Bicycle{}, ErrBicycleNotFound
	}
	return b, err
}

// GetByID fetches a bicycle by ID.  It returns ErrBicycleNotFound when no
// row matches.
func (r *BicycleRepo) GetByID(ctx context.Context, id uint64) (model.Bicycle, error) {
	return getBicycle(ctx, r.db, id)
}

// GetByIDTx is GetByID within an existing transaction.
func (r *BicycleRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Bicycle, error) {
	return getBicycle(ctx, tx, id)
}

// SetAvailabilityTx sets bicycles.available only when it currently holds the
// opposite value.  The boolean result reports whether a row changed, which
// makes the call usable as a compare-and-swap when claiming a bicycle.
func (r *BicycleRepo) SetAvailabilityTx(ctx context.Context, tx *sql.Tx, id uint64, available bool) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE bicycles SET available = ? WHERE id = ? AND available <> ?`,
		available, id, available)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// List returns every bicycle ordered by ID.
func (r *BicycleRepo) List(ctx context.Context) ([]model.Bicycle, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+bicycleColumns+` FROM bicycles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Bicycle, 0)
	for rows.Next() {
		b, err := scanBicycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a new, available bicycle and returns the stored row.
func (r *BicycleRepo) Create(ctx context.Context, name string, hourlyRateCents int64) (model.Bicycle, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO bicycles (name, hourly_rate_cents, available) VALUES (?, ?, 1)`,
		name, hourlyRateCents)
	if err != nil {
		return model.Bicycle{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Bicycle{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

// Update changes the name and hourly rate of a bicycle.  Availability
// cannot be set here.  Existing reservations keep the amount they were
// priced at.
func (r *BicycleRepo) Update(ctx context.Context, id uint64, name string, hourlyRateCents int64) (model.Bicycle, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return model.Bicycle{}, err
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE bicycles SET name = ?, hourly_rate_cents = ? WHERE id = ?`,
		name, hourlyRateCents, id); err != nil {
		return model.Bicycle{}, err
	}
	return r.GetByID(ctx, id)
}

// Delete removes a bicycle.  It returns ErrConflict while any reservation
// references the bicycle and ErrBicycleNotFound when no row matches.
func (r *BicycleRepo) Delete(ctx context.Context, id uint64) error {
	var refs int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE bicycle_id = ?`, id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return ErrConflict
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM bicycles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBicycleNotFound
	}
	return nil
}
