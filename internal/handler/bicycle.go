package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cycle-reservation/internal/model"
	"github.com/iliyamo/cycle-reservation/internal/repository"
)

// Bicycles is the catalogue store behind /v1/cycles.
type Bicycles interface {
	List(ctx context.Context) ([]model.Bicycle, error)
	Create(ctx context.Context, name string, hourlyRateCents int64) (model.Bicycle, error)
	Update(ctx context.Context, id uint64, name string, hourlyRateCents int64) (model.Bicycle, error)
	Delete(ctx context.Context, id uint64) error
}

// BicycleHandler serves the bicycle catalogue.  OnChange, when set, runs
// after every successful write; the router uses it to purge cached listings.
type BicycleHandler struct {
	Repo     Bicycles
	OnChange func(ctx context.Context)
}

// NewBicycleHandler panics on a nil repository.
func NewBicycleHandler(repo Bicycles) *BicycleHandler {
	if repo == nil {
		panic("nil repository passed to NewBicycleHandler")
	}
	return &BicycleHandler{Repo: repo}
}

type bicycleReq struct {
	Name            string `json:"name" validate:"required,max=120"`
	HourlyRateCents int64  `json:"hourly_rate_cents" validate:"gt=0"`
}

// List returns the catalogue.  ?available=true|false filters by
// availability.
func (h *BicycleHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	bikes, err := h.Repo.List(ctx)
	if err != nil {
		c.Logger().Errorf("list bicycles: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list bicycles failed"})
	}
	if raw := c.QueryParam("available"); raw != "" {
		want, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "available must be true or false")
		}
		filtered := make([]model.Bicycle, 0, len(bikes))
		for _, b := range bikes {
			if b.Available == want {
				filtered = append(filtered, b)
			}
		}
		bikes = filtered
	}
	if bikes == nil {
		bikes = []model.Bicycle{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": bikes, "count": len(bikes)})
}

// Create adds an available bicycle.
func (h *BicycleHandler) Create(c echo.Context) error {
	var req bicycleReq
	if msg, ok := bind(c, &req); !ok {
		return badRequest(c, msg)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return badRequest(c, "name required")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	b, err := h.Repo.Create(ctx, name, req.HourlyRateCents)
	if err != nil {
		c.Logger().Errorf("create bicycle: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create bicycle failed"})
	}
	h.changed(ctx)
	return c.JSON(http.StatusCreated, b)
}

// Update changes name and rate.  Availability is owned by the reservation
// lifecycle and cannot be set here.
func (h *BicycleHandler) Update(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid bicycle id")
	}
	var req bicycleReq
	if msg, ok := bind(c, &req); !ok {
		return badRequest(c, msg)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return badRequest(c, "name required")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	b, err := h.Repo.Update(ctx, id, name, req.HourlyRateCents)
	switch {
	case errors.Is(err, repository.ErrBicycleNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "bicycle not found"})
	case err != nil:
		c.Logger().Errorf("update bicycle %d: %v", id, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update bicycle failed"})
	}
	h.changed(ctx)
	return c.JSON(http.StatusOK, b)
}

// Delete removes a bicycle that no reservation references.
func (h *BicycleHandler) Delete(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid bicycle id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Repo.Delete(ctx, id)
	switch {
	case errors.Is(err, repository.ErrBicycleNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "bicycle not found"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "bicycle has reservations"})
	case err != nil:
		c.Logger().Errorf("delete bicycle %d: %v", id, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete bicycle failed"})
	}
	h.changed(ctx)
	return c.NoContent(http.StatusNoContent)
}

func (h *BicycleHandler) changed(ctx context.Context) {
	if h.OnChange != nil {
		h.OnChange(ctx)
	}
}
