// Package repository defines the durable store for bicycles, reservations,
// users and refresh tokens on top of MySQL, and the Redis-backed completion
// registry.  The sentinel values below let higher layers distinguish
// failure scenarios without inspecting driver errors.
package repository

import "errors"

// ErrBicycleNotFound is returned when no bicycle matches the given ID.
var ErrBicycleNotFound = errors.New("bicycle not found")

// ErrReservationNotFound is returned when no reservation matches the given ID.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrForbidden is returned when the caller attempts an operation on a
// record they do not own.  Handlers should translate this into an HTTP 403
// response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a delete or update cannot be performed
// because of conflicting state, such as deleting a bicycle that still has
// reservations.  Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
