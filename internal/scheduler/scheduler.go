// Package scheduler completes reservations whose end time has passed.  It
// polls the completion registry on an interval and never relies on
// in-process timers, so a restart loses nothing: every pending completion
// lives in Redis and the reservation rows it points to.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cycle-reservation/internal/clock"
	"github.com/iliyamo/cycle-reservation/internal/metrics"
	"github.com/iliyamo/cycle-reservation/internal/model"
	"github.com/iliyamo/cycle-reservation/internal/repository"
	"github.com/iliyamo/cycle-reservation/internal/service"
)

// Registry is the part of the completion registry the scheduler reads and
// repairs.
type Registry interface {
	Set(ctx context.Context, reservationID uint64, due time.Time) error
	Get(ctx context.Context, reservationID uint64) (time.Time, bool, error)
	Delete(ctx context.Context, reservationID uint64) error
	Due(ctx context.Context, now time.Time) ([]repository.DueEntry, error)
}

// Reindexer is implemented by registries that keep a secondary index which
// can drift from the primary keys.
type Reindexer interface {
	Reindex(ctx context.Context) (int, error)
}

// Completer is the lifecycle surface the scheduler drives.
type Completer interface {
	ExpireReservation(ctx context.Context, reservationID uint64, now time.Time) (model.Reservation, bool, error)
	ListActive(ctx context.Context) ([]model.Reservation, error)
}

// Config controls the polling loop.
type Config struct {
	Interval       time.Duration
	ReconcileEvery int
	TickTimeout    time.Duration
}

// DefaultConfig polls once a minute and reconciles every ten ticks.
func DefaultConfig() Config {
	return Config{Interval: time.Minute, ReconcileEvery: 10, TickTimeout: 30 * time.Second}
}

// TickReport summarises one pass over the due entries.
type TickReport struct {
	Due         int
	Completed   int
	Skipped     int
	Rescheduled int
	Failed      int
}

// Scheduler polls the registry and expires due reservations.
type Scheduler struct {
	svc      Completer
	registry Registry
	clock    clock.Clock
	cfg      Config
	metrics  *metrics.Metrics
	log      *log.Logger
}

// New builds a scheduler.  Zero config fields take DefaultConfig values.
func New(svc Completer, registry Registry, clk clock.Clock, cfg Config, m *metrics.Metrics, logger *log.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ReconcileEvery < 0 {
		cfg.ReconcileEvery = 0
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = def.TickTimeout
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = log.New("scheduler")
	}
	return &Scheduler{svc: svc, registry: registry, clock: clk, cfg: cfg, metrics: m, log: logger}
}

// Tick expires every entry due at the clock's current time.  Entries whose
// completion fails are kept for the next tick.  The error is non-nil only
// when the registry scan itself fails.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	var rep TickReport
	started := time.Now()
	now := s.clock.Now().UTC()

	entries, err := s.registry.Due(ctx, now)
	if err != nil {
		s.metrics.Tick(time.Since(started), 0, 0)
		return rep, fmt.Errorf("scan due entries: %w", err)
	}
	rep.Due = len(entries)

	for _, e := range entries {
		if ctx.Err() != nil {
			rep.Failed += rep.Due - (rep.Completed + rep.Skipped + rep.Rescheduled + rep.Failed)
			break
		}
		s.expire(ctx, e, now, &rep)
	}

	s.metrics.Tick(time.Since(started), rep.Due, rep.Failed)
	if rep.Due > 0 {
		s.log.Infof("tick at %s: due=%d completed=%d skipped=%d rescheduled=%d failed=%d",
			now.Format(time.RFC3339), rep.Due, rep.Completed, rep.Skipped, rep.Rescheduled, rep.Failed)
	}
	return rep, nil
}

func (s *Scheduler) expire(ctx context.Context, e repository.DueEntry, now time.Time, rep *TickReport) {
	res, changed, err := s.svc.ExpireReservation(ctx, e.ReservationID, now)
	switch {
	case err == nil:
		if changed {
			rep.Completed++
		} else {
			rep.Skipped++
		}
	case errors.Is(err, service.ErrNotFound):
		rep.Skipped++
	case errors.Is(err, service.ErrNotDue):
		if err := s.registry.Set(ctx, e.ReservationID, res.EndTime); err != nil {
			s.log.Warnf("reschedule reservation %d at %s: %v", e.ReservationID, res.EndTime.Format(time.RFC3339), err)
			rep.Failed++
			return
		}
		rep.Rescheduled++
		return
	default:
		s.log.Errorf("expire reservation %d: %v", e.ReservationID, err)
		rep.Failed++
		return
	}

	if err := s.registry.Delete(ctx, e.ReservationID); err != nil {
		s.log.Warnf("delete entry for reservation %d: %v", e.ReservationID, err)
	}
}

// Reconcile registers an entry at the end time of every ACTIVE reservation
// that has none, and rebuilds the registry index when supported.  It
// returns how many entries were written.
func (s *Scheduler) Reconcile(ctx context.Context) (int, error) {
	if rx, ok := s.registry.(Reindexer); ok {
		n, err := rx.Reindex(ctx)
		if err != nil {
			return 0, fmt.Errorf("reindex registry: %w", err)
		}
		if n > 0 {
			s.log.Infof("reindexed %d completion entries", n)
		}
	}

	active, err := s.svc.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active reservations: %w", err)
	}
	added := 0
	for _, r := range active {
		_, ok, err := s.registry.Get(ctx, r.ID)
		if err != nil {
			return added, fmt.Errorf("get entry %d: %w", r.ID, err)
		}
		if ok {
			continue
		}
		if err := s.registry.Set(ctx, r.ID, r.EndTime); err != nil {
			return added, fmt.Errorf("set entry %d: %w", r.ID, err)
		}
		added++
	}
	s.metrics.Reconciled(added)
	if added > 0 {
		s.log.Infof("reconciled %d missing completion entries", added)
	}
	return added, nil
}

// Run reconciles, ticks immediately and then once per interval until ctx is
// done.  It returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infof("completion scheduler started: interval=%s reconcile_every=%d", s.cfg.Interval, s.cfg.ReconcileEvery)
	s.safely(ctx, "reconcile", func(ctx context.Context) error {
		_, err := s.Reconcile(ctx)
		return err
	})
	for n := 1; ; n++ {
		s.safely(ctx, "tick", func(ctx context.Context) error {
			_, err := s.Tick(ctx)
			return err
		})
		if s.cfg.ReconcileEvery > 0 && n%s.cfg.ReconcileEvery == 0 {
			s.safely(ctx, "reconcile", func(ctx context.Context) error {
				_, err := s.Reconcile(ctx)
				return err
			})
		}
		select {
		case <-ctx.Done():
			s.log.Infof("completion scheduler stopped")
			return ctx.Err()
		case <-s.clock.After(s.cfg.Interval):
		}
	}
}

func (s *Scheduler) safely(ctx context.Context, name string, fn func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("%s panicked: %v\n%s", name, r, debug.Stack())
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.log.Errorf("%s failed: %v", name, err)
	}
}
