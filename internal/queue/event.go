// Package queue defines the reservation lifecycle events exchanged over
// RabbitMQ, the publisher that emits them and the consumer that appends
// them to a log file.
package queue

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cycle-reservation/internal/model"
)

// DefaultQueueName is the durable queue lifecycle events are routed to.
const DefaultQueueName = "reservation.events"

// Event types.
const (
	EventCreated   = "reservation.created"
	EventExtended  = "reservation.extended"
	EventCancelled = "reservation.cancelled"
	EventCompleted = "reservation.completed"
)

// ReservationEvent is published after a lifecycle transition commits.  It
// carries enough of the reservation for consumers to log or notify without
// querying the primary database.
type ReservationEvent struct {
	EventID          string  `json:"event_id"`
	Type             string  `json:"type"`
	ReservationID    uint64  `json:"reservation_id"`
	UserID           uint64  `json:"user_id"`
	BicycleID        uint64  `json:"bicycle_id"`
	Hours            float64 `json:"hours"`
	TotalAmountCents int64   `json:"total_amount_cents"`
	Status           string  `json:"status"`
	StartTime        string  `json:"start_time"`
	EndTime          string  `json:"end_time"`
	OccurredAt       string  `json:"occurred_at"`
}

// NewReservationEvent snapshots r as an event of the given type.
func NewReservationEvent(eventType string, r model.Reservation, at time.Time) ReservationEvent {
	return ReservationEvent{
		EventID:          uuid.NewString(),
		Type:             eventType,
		ReservationID:    r.ID,
		UserID:           r.UserID,
		BicycleID:        r.BicycleID,
		Hours:            r.Hours,
		TotalAmountCents: r.TotalAmountCents,
		Status:           string(r.Status),
		StartTime:        r.StartTime.UTC().Format(time.RFC3339),
		EndTime:          r.EndTime.UTC().Format(time.RFC3339),
		OccurredAt:       at.UTC().Format(time.RFC3339Nano),
	}
}

// FormatHours renders an hour count without trailing zeros ("0.5", "2").
func FormatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}
