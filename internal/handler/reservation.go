package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cycle-reservation/internal/model"
	"github.com/iliyamo/cycle-reservation/internal/service"
)

// Reservations is the lifecycle surface the reservation endpoints call.
type Reservations interface {
	CreateReservation(ctx context.Context, bicycleID uint64, hours float64, userID uint64) (model.Reservation, error)
	ExtendReservation(ctx context.Context, reservationID uint64, additionalHours float64) (service.Extension, error)
	CancelReservation(ctx context.Context, reservationID uint64) (model.Reservation, error)
	ManualComplete(ctx context.Context, reservationID uint64) (model.Reservation, error)
	GetReservation(ctx context.Context, reservationID uint64) (model.Reservation, error)
	GetReservations(ctx context.Context, userID uint64) ([]model.Reservation, error)
	GetActiveReservations(ctx context.Context, userID uint64) ([]model.Reservation, error)
}

// ReservationHandler serves /v1/reservations.
type ReservationHandler struct {
	Svc     Reservations
	Timeout time.Duration
}

// NewReservationHandler panics on a nil service.  Requests time out after
// five seconds unless Timeout is changed.
func NewReservationHandler(svc Reservations) *ReservationHandler {
	if svc == nil {
		panic("nil service passed to NewReservationHandler")
	}
	return &ReservationHandler{Svc: svc, Timeout: 5 * time.Second}
}

type createReservationReq struct {
	BicycleID uint64  `json:"bicycle_id" validate:"required"`
	Hours     float64 `json:"hours" validate:"required"`
}

// extendReservationReq takes the added hours as either "hours" or
// "additionalHours", but not both.
type extendReservationReq struct {
	Hours           float64 `json:"hours" validate:"required_without=AdditionalHours,excluded_with=AdditionalHours"`
	AdditionalHours float64 `json:"additionalHours"`
}

func (r extendReservationReq) added() float64 {
	if r.Hours != 0 {
		return r.Hours
	}
	return r.AdditionalHours
}

func (h *ReservationHandler) ctx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.Timeout)
}

// Create books a bicycle for the authenticated user.
func (h *ReservationHandler) Create(c echo.Context) error {
	uid, _, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var req createReservationReq
	if msg, ok := bind(c, &req); !ok {
		return badRequest(c, msg)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.Svc.CreateReservation(ctx, req.BicycleID, req.Hours, uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Extend adds hours to one of the caller's active reservations.
func (h *ReservationHandler) Extend(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	var req extendReservationReq
	if msg, ok := bind(c, &req); !ok {
		return badRequest(c, msg)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if ok, err := h.authorize(ctx, c, id); !ok {
		return err
	}
	ext, err := h.Svc.ExtendReservation(ctx, id, req.added())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ext)
}

// Cancel cancels one of the caller's active reservations.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if ok, err := h.authorize(ctx, c, id); !ok {
		return err
	}
	res, err := h.Svc.CancelReservation(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Complete ends a reservation now and drops its completion entry.  The
// route is restricted to admins.
func (h *ReservationHandler) Complete(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.Svc.ManualComplete(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Get returns one reservation to its owner or an admin.
func (h *ReservationHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	uid, admin, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.Svc.GetReservation(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	if res.UserID != uid && !admin {
		// hide other users' reservations
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	}
	return c.JSON(http.StatusOK, res)
}

// List returns the caller's reservations, newest first.
func (h *ReservationHandler) List(c echo.Context) error {
	uid, _, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	rs, err := h.Svc.GetReservations(ctx, uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": rs, "count": len(rs)})
}

// ListActive returns the caller's ACTIVE reservations.
func (h *ReservationHandler) ListActive(c echo.Context) error {
	uid, _, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	return h.active(c, uid)
}

// ListActiveForUser returns the ACTIVE reservations of the :id user.  The
// route is restricted to admins.
func (h *ReservationHandler) ListActiveForUser(c echo.Context) error {
	uid, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	return h.active(c, uid)
}

func (h *ReservationHandler) active(c echo.Context, uid uint64) error {
	ctx, cancel := h.ctx(c)
	defer cancel()

	rs, err := h.Svc.GetActiveReservations(ctx, uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": rs, "count": len(rs)})
}

// authorize reports whether the caller may modify reservation id.  When
// it returns false the response has already been written.
func (h *ReservationHandler) authorize(ctx context.Context, c echo.Context, id uint64) (bool, error) {
	uid, admin, ok := caller(c)
	if !ok {
		return false, unauthorized(c)
	}
	res, err := h.Svc.GetReservation(ctx, id)
	if err != nil {
		return false, writeError(c, err)
	}
	if res.UserID != uid && !admin {
		return false, forbidden(c)
	}
	return true, nil
}
