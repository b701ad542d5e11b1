package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusActive    ReservationStatus = "ACTIVE"
	StatusCompleted ReservationStatus = "COMPLETED"
	StatusCancelled ReservationStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s ReservationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PaymentStatus tracks settlement of a reservation's amount.  Only PENDING
// is written by this service; settlement happens elsewhere.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

// Reservation records a user's time-bounded claim on a bicycle.
//
// Fields:
//  ID               – primary key identifier.
//  BicycleID        – reserved bicycle.
//  UserID           – user who made the reservation.
//  Hours            – booked duration, 0.5 or a positive integer.
//  TotalAmountCents – price of the booked duration in cents.
//  Status           – ACTIVE, COMPLETED or CANCELLED.
//  PaymentStatus    – PENDING until settled.
//  StartTime        – when the rental started (UTC).
//  EndTime          – StartTime + Hours, moved forward by extensions.
//  CreatedAt        – creation timestamp.
//  UpdatedAt        – last update timestamp.
type Reservation struct {
	ID               uint64            `json:"id"`                 // reservations.id
	BicycleID        uint64            `json:"bicycle_id"`         // reservations.bicycle_id
	UserID           uint64            `json:"user_id"`            // reservations.user_id
	Hours            float64           `json:"hours"`              // reservations.hours
	TotalAmountCents int64             `json:"total_amount_cents"` // reservations.total_amount_cents
	Status           ReservationStatus `json:"status"`             // reservations.status
	PaymentStatus    PaymentStatus     `json:"payment_status"`     // reservations.payment_status
	StartTime        time.Time         `json:"start_time"`         // reservations.start_time
	EndTime          time.Time         `json:"end_time"`           // reservations.end_time
	CreatedAt        time.Time         `json:"created_at"`         // reservations.created_at
	UpdatedAt        time.Time         `json:"updated_at"`         // reservations.updated_at
}
