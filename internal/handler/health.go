package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports liveness and, when dependencies are set, readiness.
type HealthHandler struct {
	DB    Pinger
	Redis func(ctx context.Context) error
}

// Health returns "ok" when every configured dependency answers within two
// seconds, 503 otherwise.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "mysql": err.Error()})
		}
	}
	if h.Redis != nil {
		if err := h.Redis(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "redis": err.Error()})
		}
	}
	return c.String(http.StatusOK, "ok")
}
