package clock_test

import (
	"testing"
	"time"

	"github.com/iliyamo/cycle-reservation/internal/clock"
)

func TestRealNowIsUTC(t *testing.T) {
	now := clock.Real{}.Now()
	if now.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", now.Location())
	}
}

func TestManualAdvanceFiresDueWaiters(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := clock.NewManual(start)

	short := m.After(time.Minute)
	long := m.After(time.Hour)
	if got := m.Waiters(); got != 2 {
		t.Fatalf("Waiters() = %d, want 2", got)
	}

	m.Advance(2 * time.Minute)
	select {
	case at := <-short:
		if !at.Equal(start.Add(2 * time.Minute)) {
			t.Fatalf("short fired at %v", at)
		}
	default:
		t.Fatal("short waiter did not fire")
	}
	select {
	case <-long:
		t.Fatal("long waiter fired early")
	default:
	}
	if got := m.Waiters(); got != 1 {
		t.Fatalf("Waiters() = %d, want 1", got)
	}
	if got := m.Now(); !got.Equal(start.Add(2 * time.Minute)) {
		t.Fatalf("Now() = %v", got)
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	m := clock.NewManual(time.Unix(0, 0))
	select {
	case <-m.After(0):
	default:
		t.Fatal("After(0) did not fire")
	}
}
