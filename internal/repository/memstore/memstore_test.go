package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/cycle-reservation/internal/model"
	"github.com/iliyamo/cycle-reservation/internal/repository"
)

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	s.PutBicycle(model.Bicycle{ID: 1, HourlyRateCents: 100, Available: true})

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx repository.Tx) error {
		if ok, err := tx.SetBicycleAvailability(ctx, 1, false); err != nil || !ok {
			t.Fatalf("SetBicycleAvailability = %v, %v", ok, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx error = %v, want boom", err)
	}
	b, _ := s.GetBicycle(ctx, 1)
	if !b.Available {
		t.Fatal("availability change survived a failed transaction")
	}
}

func TestUpdateReservationStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := New(func() time.Time { return now })
	s.PutBicycle(model.Bicycle{ID: 1, HourlyRateCents: 100, Available: true})

	var id uint64
	if err := s.InTx(ctx, func(tx repository.Tx) error {
		r := &model.Reservation{BicycleID: 1, UserID: 2, Hours: 1, Status: model.StatusActive, StartTime: now, EndTime: now.Add(time.Hour)}
		if err := tx.CreateReservation(ctx, r); err != nil {
			return err
		}
		id = r.ID
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		change repository.StatusChange
		want   bool
	}{
		{"not yet due", repository.StatusChange{ID: id, From: model.StatusActive, To: model.StatusCompleted, EndingBy: now}, false},
		{"wrong from", repository.StatusChange{ID: id, From: model.StatusCancelled, To: model.StatusCompleted}, false},
		{"applies", repository.StatusChange{ID: id, From: model.StatusActive, To: model.StatusCancelled}, true},
		{"second writer loses", repository.StatusChange{ID: id, From: model.StatusActive, To: model.StatusCompleted}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bool
			err := s.InTx(ctx, func(tx repository.Tx) error {
				var err error
				got, err = tx.UpdateReservationStatus(ctx, tt.change)
				return err
			})
			if err != nil || got != tt.want {
				t.Fatalf("UpdateReservationStatus = %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}

func TestUpdateReservationExtensionNeedsUnchangedRow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := New(func() time.Time { return now })
	s.PutBicycle(model.Bicycle{ID: 1, HourlyRateCents: 100, Available: true})

	r := &model.Reservation{BicycleID: 1, UserID: 2, Hours: 1, TotalAmountCents: 100, Status: model.StatusActive, StartTime: now, EndTime: now.Add(time.Hour)}
	if err := s.InTx(ctx, func(tx repository.Tx) error { return tx.CreateReservation(ctx, r) }); err != nil {
		t.Fatal(err)
	}
	extend := func(fromHours float64, fromEnd time.Time) bool {
		var applied bool
		if err := s.InTx(ctx, func(tx repository.Tx) error {
			var err error
			applied, err = tx.UpdateReservationExtension(ctx, repository.ExtensionChange{
				ID: r.ID, FromHours: fromHours, FromEnd: fromEnd,
				Hours: fromHours + 1, TotalCents: int64(fromHours+1) * 100, EndTime: fromEnd.Add(time.Hour),
			})
			return err
		}); err != nil {
			t.Fatal(err)
		}
		return applied
	}

	if !extend(1, now.Add(time.Hour)) {
		t.Fatal("extension from the stored values did not apply")
	}
	if extend(1, now.Add(time.Hour)) {
		t.Fatal("extension from a stale read applied")
	}
	got, _ := s.GetReservation(ctx, r.ID)
	if got.Hours != 2 || got.TotalAmountCents != 200 || !got.EndTime.Equal(now.Add(2*time.Hour)) {
		t.Fatalf("stored %+v", got)
	}
}

func TestRegistryDueIsInclusive(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	_ = r.Set(ctx, 1, now)
	_ = r.Set(ctx, 2, now.Add(time.Millisecond))

	due, err := r.Due(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ReservationID != 1 {
		t.Fatalf("Due() = %+v, want only reservation 1", due)
	}
}
