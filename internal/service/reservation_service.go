package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cycle-reservation/internal/clock"
	"github.com/iliyamo/cycle-reservation/internal/metrics"
	"github.com/iliyamo/cycle-reservation/internal/model"
	"github.com/iliyamo/cycle-reservation/internal/queue"
	"github.com/iliyamo/cycle-reservation/internal/repository"
)

// Store is the durable state the service needs.  Mutations only happen
// through the Tx handed to fn.
type Store interface {
	InTx(ctx context.Context, fn func(repository.Tx) error) error
	GetBicycle(ctx context.Context, id uint64) (model.Bicycle, error)
	GetReservation(ctx context.Context, id uint64) (model.Reservation, error)
	ListReservations(ctx context.Context, f repository.ReservationFilter) ([]model.Reservation, error)
}

// Registry tracks the pending auto-completion of each ACTIVE reservation.
type Registry interface {
	Set(ctx context.Context, reservationID uint64, due time.Time) error
	Get(ctx context.Context, reservationID uint64) (time.Time, bool, error)
	Delete(ctx context.Context, reservationID uint64) error
}

// EventPublisher receives lifecycle events after their transaction commits.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.ReservationEvent) error
}

// Extension is the result of a successful ExtendReservation.
type Extension struct {
	Reservation model.Reservation `json:"reservation"`
	Message     string            `json:"message"`
}

const (
	publishTimeout = 5 * time.Second

	// maxExtendAttempts bounds the transactions one extension may run when
	// concurrent writers keep changing the reservation.
	maxExtendAttempts = 3
)

// ReservationService runs the reservation lifecycle.
type ReservationService struct {
	store    Store
	registry Registry
	clock    clock.Clock
	events   EventPublisher
	metrics  *metrics.Metrics
	log      *log.Logger

	inflight sync.WaitGroup
}

// NewReservationService wires the service.  events and m may be nil.
func NewReservationService(store Store, registry Registry, clk clock.Clock, events EventPublisher, m *metrics.Metrics, logger *log.Logger) *ReservationService {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = log.New("reservations")
	}
	return &ReservationService{
		store:    store,
		registry: registry,
		clock:    clk,
		events:   events,
		metrics:  m,
		log:      logger,
	}
}

func (s *ReservationService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

// CreateReservation books bicycleID for hours starting now.
//
// The completion entry is written after the transaction commits.  If that
// write fails the reservation is still returned and the reconciliation
// sweep registers the entry later.
func (s *ReservationService) CreateReservation(ctx context.Context, bicycleID uint64, hours float64, userID uint64) (model.Reservation, error) {
	if bicycleID == 0 {
		return model.Reservation{}, invalidInput("bicycle id is required")
	}
	if userID == 0 {
		return model.Reservation{}, invalidInput("user id is required")
	}
	if err := ValidateHours(hours); err != nil {
		return model.Reservation{}, err
	}

	bike, err := s.store.GetBicycle(ctx, bicycleID)
	if errors.Is(err, repository.ErrBicycleNotFound) {
		return model.Reservation{}, notFound("bicycle not found")
	}
	if err != nil {
		return model.Reservation{}, transient("load bicycle", err)
	}
	if !bike.Available {
		return model.Reservation{}, conflict("bicycle is not available")
	}

	var res model.Reservation
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		b, err := tx.GetBicycle(ctx, bicycleID)
		if errors.Is(err, repository.ErrBicycleNotFound) {
			return notFound("bicycle not found")
		}
		if err != nil {
			return err
		}
		claimed, err := tx.SetBicycleAvailability(ctx, bicycleID, false)
		if err != nil {
			return err
		}
		if !claimed {
			return conflict("bicycle is not available")
		}
		start := s.now()
		res = model.Reservation{
			BicycleID:        bicycleID,
			UserID:           userID,
			Hours:            hours,
			TotalAmountCents: Price(b.HourlyRateCents, hours),
			Status:           model.StatusActive,
			PaymentStatus:    model.PaymentPending,
			StartTime:        start,
			EndTime:          start.Add(Duration(hours)),
		}
		return tx.CreateReservation(ctx, &res)
	})
	if err != nil {
		return model.Reservation{}, wrap("create reservation", err)
	}

	s.register(ctx, res.ID, res.EndTime)
	s.metrics.Transition("created", "api")
	s.publish(queue.EventCreated, res)
	return res, nil
}

// ExtendReservation adds additionalHours to an ACTIVE reservation and
// moves its completion entry to the new end time.
func (s *ReservationService) ExtendReservation(ctx context.Context, reservationID uint64, additionalHours float64) (Extension, error) {
	if reservationID == 0 {
		return Extension{}, invalidInput("reservation id is required")
	}
	if err := ValidateHours(additionalHours); err != nil {
		return Extension{}, err
	}

	var res model.Reservation
	for attempt := 1; ; attempt++ {
		var lost bool
		err := s.store.InTx(ctx, func(tx repository.Tx) error {
			r, err := tx.GetReservation(ctx, reservationID)
			if errors.Is(err, repository.ErrReservationNotFound) {
				return notFound("reservation not found")
			}
			if err != nil {
				return err
			}
			if r.Status != model.StatusActive {
				return invalidState(fmt.Sprintf("reservation is %s", r.Status))
			}
			b, err := tx.GetBicycle(ctx, r.BicycleID)
			if err != nil {
				return err
			}
			newHours := r.Hours + additionalHours
			if newHours > MaxHours {
				return invalidInput(fmt.Sprintf("hours must not exceed %d in total", MaxHours))
			}
			newTotal := r.TotalAmountCents + Price(b.HourlyRateCents, newHours) - Price(b.HourlyRateCents, r.Hours)
			newEnd := r.EndTime.Add(Duration(additionalHours))

			applied, err := tx.UpdateReservationExtension(ctx, repository.ExtensionChange{
				ID:         r.ID,
				FromHours:  r.Hours,
				FromEnd:    r.EndTime,
				Hours:      newHours,
				TotalCents: newTotal,
				EndTime:    newEnd,
			})
			if err != nil {
				return err
			}
			if !applied {
				lost = true
				return nil
			}
			r.Hours = newHours
			r.TotalAmountCents = newTotal
			r.EndTime = newEnd
			r.PaymentStatus = model.PaymentPending
			res = r
			return nil
		})
		if err != nil {
			return Extension{}, wrap("extend reservation", err)
		}
		if !lost {
			break
		}
		// Another writer changed the row after it was read.  A fresh
		// transaction sees the committed state and prices from there.
		if attempt == maxExtendAttempts {
			return Extension{}, transient("extend reservation", errors.New("concurrent update, retry"))
		}
	}

	// A failed write leaves the old, earlier entry in place.  The scheduler
	// sees NotDue for it and re-registers at the new end time.
	s.register(ctx, res.ID, res.EndTime)
	s.metrics.Transition("extended", "api")
	s.publish(queue.EventExtended, res)

	return Extension{
		Reservation: res,
		Message: fmt.Sprintf("Reservation extended by %s hours. New end time: %s",
			queue.FormatHours(additionalHours), res.EndTime.Format(time.RFC3339)),
	}, nil
}

// CancelReservation moves an ACTIVE reservation to CANCELLED, releases its
// bicycle and drops the completion entry.
func (s *ReservationService) CancelReservation(ctx context.Context, reservationID uint64) (model.Reservation, error) {
	if reservationID == 0 {
		return model.Reservation{}, invalidInput("reservation id is required")
	}

	var res model.Reservation
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if errors.Is(err, repository.ErrReservationNotFound) {
			return notFound("reservation not found")
		}
		if err != nil {
			return err
		}
		if r.Status != model.StatusActive {
			return invalidState(fmt.Sprintf("reservation is %s", r.Status))
		}
		applied, err := tx.UpdateReservationStatus(ctx, repository.StatusChange{
			ID: r.ID, From: model.StatusActive, To: model.StatusCancelled,
		})
		if err != nil {
			return err
		}
		if !applied {
			return invalidState("reservation is no longer active")
		}
		if _, err := tx.SetBicycleAvailability(ctx, r.BicycleID, true); err != nil {
			return err
		}
		r.Status = model.StatusCancelled
		res = r
		return nil
	})
	if err != nil {
		return model.Reservation{}, wrap("cancel reservation", err)
	}

	s.unregister(ctx, res.ID)
	s.metrics.Transition("cancelled", "api")
	s.publish(queue.EventCancelled, res)
	return res, nil
}

// CompleteReservation moves an ACTIVE reservation to COMPLETED and
// releases its bicycle.  A reservation that is already terminal is
// returned unchanged with a nil error.  The completion entry is left alone.
func (s *ReservationService) CompleteReservation(ctx context.Context, reservationID uint64) (model.Reservation, error) {
	res, _, err := s.finish(ctx, reservationID, time.Time{}, "manual")
	return res, err
}

// ManualComplete is CompleteReservation followed by removal of the
// completion entry, for operator-triggered completions.
func (s *ReservationService) ManualComplete(ctx context.Context, reservationID uint64) (model.Reservation, error) {
	res, _, err := s.finish(ctx, reservationID, time.Time{}, "manual")
	if err != nil {
		return res, err
	}
	s.unregister(ctx, reservationID)
	return res, nil
}

// ExpireReservation is the scheduler's completion.  It only applies when
// the reservation's end time is not after now.  If the reservation is
// ACTIVE and ends later it returns the reservation with a NotDue error.
// The bool reports whether this call performed the transition.
func (s *ReservationService) ExpireReservation(ctx context.Context, reservationID uint64, now time.Time) (model.Reservation, bool, error) {
	if now.IsZero() {
		now = s.now()
	}
	return s.finish(ctx, reservationID, now.UTC(), "scheduler")
}

func (s *ReservationService) finish(ctx context.Context, reservationID uint64, endingBy time.Time, source string) (model.Reservation, bool, error) {
	if reservationID == 0 {
		return model.Reservation{}, false, invalidInput("reservation id is required")
	}

	var (
		res     model.Reservation
		changed bool
		lost    bool
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if errors.Is(err, repository.ErrReservationNotFound) {
			return notFound("reservation not found")
		}
		if err != nil {
			return err
		}
		res = r
		if r.Status != model.StatusActive {
			return nil
		}
		if !endingBy.IsZero() && r.EndTime.After(endingBy) {
			return &Error{Kind: KindNotDue, Message: fmt.Sprintf("reservation ends at %s", r.EndTime.Format(time.RFC3339))}
		}
		applied, err := tx.UpdateReservationStatus(ctx, repository.StatusChange{
			ID: r.ID, From: model.StatusActive, To: model.StatusCompleted, EndingBy: endingBy,
		})
		if err != nil {
			return err
		}
		if !applied {
			lost = true
			return nil
		}
		if _, err := tx.SetBicycleAvailability(ctx, r.BicycleID, true); err != nil {
			return err
		}
		res.Status = model.StatusCompleted
		changed = true
		return nil
	})
	if KindOf(err) == KindNotDue {
		return res, false, err
	}
	if err != nil {
		return model.Reservation{}, false, wrap("complete reservation", err)
	}

	if lost {
		// Another writer won the conditional update.  Re-read outside the
		// transaction so the committed state is visible.
		cur, err := s.store.GetReservation(ctx, reservationID)
		if errors.Is(err, repository.ErrReservationNotFound) {
			return model.Reservation{}, false, notFound("reservation not found")
		}
		if err != nil {
			return model.Reservation{}, false, transient("reload reservation", err)
		}
		if cur.Status == model.StatusActive {
			if !endingBy.IsZero() && cur.EndTime.After(endingBy) {
				return cur, false, &Error{Kind: KindNotDue, Message: fmt.Sprintf("reservation ends at %s", cur.EndTime.Format(time.RFC3339))}
			}
			return model.Reservation{}, false, transient("complete reservation", errors.New("concurrent update, retry"))
		}
		return cur, false, nil
	}

	if changed {
		s.metrics.Transition("completed", source)
		s.publish(queue.EventCompleted, res)
	}
	return res, changed, nil
}

// GetReservation returns one reservation.
func (s *ReservationService) GetReservation(ctx context.Context, reservationID uint64) (model.Reservation, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if errors.Is(err, repository.ErrReservationNotFound) {
		return model.Reservation{}, notFound("reservation not found")
	}
	if err != nil {
		return model.Reservation{}, transient("load reservation", err)
	}
	return r, nil
}

// GetReservations lists every reservation of userID, newest first.
func (s *ReservationService) GetReservations(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	return s.list(ctx, repository.ReservationFilter{UserID: userID})
}

// GetActiveReservations lists the ACTIVE reservations of userID, newest first.
func (s *ReservationService) GetActiveReservations(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	return s.list(ctx, repository.ReservationFilter{UserID: userID, Status: model.StatusActive})
}

// ListActive lists every ACTIVE reservation.  Used by reconciliation.
func (s *ReservationService) ListActive(ctx context.Context) ([]model.Reservation, error) {
	return s.list(ctx, repository.ReservationFilter{Status: model.StatusActive})
}

func (s *ReservationService) list(ctx context.Context, f repository.ReservationFilter) ([]model.Reservation, error) {
	rs, err := s.store.ListReservations(ctx, f)
	if err != nil {
		return nil, transient("list reservations", err)
	}
	if rs == nil {
		rs = []model.Reservation{}
	}
	return rs, nil
}

// Wait blocks until in-flight event publishes finish.
func (s *ReservationService) Wait() {
	s.inflight.Wait()
}

// register and unregister run after commit, so they must not inherit the
// request's cancellation.
func (s *ReservationService) register(ctx context.Context, id uint64, due time.Time) {
	if err := s.registry.Set(context.WithoutCancel(ctx), id, due); err != nil {
		s.metrics.RegistryError("set")
		s.log.Warnf("completion entry for reservation %d not written: %v", id, err)
	}
}

func (s *ReservationService) unregister(ctx context.Context, id uint64) {
	if err := s.registry.Delete(context.WithoutCancel(ctx), id); err != nil {
		s.metrics.RegistryError("delete")
		s.log.Warnf("completion entry for reservation %d not deleted: %v", id, err)
	}
}

func (s *ReservationService) publish(eventType string, r model.Reservation) {
	if s.events == nil {
		return
	}
	ev := queue.NewReservationEvent(eventType, r, s.clock.Now())
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.events.Publish(ctx, ev); err != nil {
			s.log.Warnf("%s event for reservation %d not published: %v", eventType, r.ID, err)
		}
	}()
}
