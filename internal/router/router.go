// Package router registers the HTTP routes and their middleware.
package router

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cycle-reservation/internal/config"
	"github.com/iliyamo/cycle-reservation/internal/handler"
	"github.com/iliyamo/cycle-reservation/internal/metrics"
	"github.com/iliyamo/cycle-reservation/internal/middleware"
	"github.com/iliyamo/cycle-reservation/internal/model"
)

// Deps carries everything the routes need.  Redis may be nil, which turns
// rate limiting and response caching off.  A nil handler leaves its routes
// unregistered.
type Deps struct {
	JWTSecret    string
	Metrics      *metrics.Metrics
	Redis        redis.UniversalClient
	RateLimit    config.RateLimitConfig
	Cache        config.CacheConfig
	Health       *handler.HealthHandler
	Auth         *handler.AuthHandler
	Bicycles     *handler.BicycleHandler
	Reservations *handler.ReservationHandler
}

// Register installs the global middleware and every route group on e.
func Register(e *echo.Echo, d Deps) {
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(echomw.Recover())
	e.Use(middleware.RequestMetrics(d.Metrics))

	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis)

	RegisterRoutes(e, d.Health, d.Metrics)
	if d.Auth != nil {
		RegisterAuth(e, d.Auth, d.JWTSecret, limit)
	}
	if d.Bicycles != nil {
		if d.Bicycles.OnChange == nil && d.Redis != nil && d.Cache.Enabled {
			rdb, prefix, logger := d.Redis, d.Cache.Prefix, e.Logger
			d.Bicycles.OnChange = func(ctx context.Context) {
				if err := middleware.PurgeCache(context.WithoutCancel(ctx), rdb, prefix); err != nil {
					logger.Warnf("purge response cache: %v", err)
				}
			}
		}
		RegisterCycles(e, d.Bicycles, d.JWTSecret, limit, middleware.NewRedisCache(d.Cache, d.Redis))
	}
	if d.Reservations != nil {
		RegisterReservations(e, d.Reservations, d.JWTSecret, limit)
	}
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler, m *metrics.Metrics) {
	if h == nil {
		h = &handler.HealthHandler{}
	}
	e.GET("/healthz", h.Health)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
}

// RegisterAuth registers /v1/auth and /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth", limit)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	// logout accepts either a bearer token or a refresh token in the body
	g.POST("/logout", a.Logout)

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret), anyRole(), limit)
}

// RegisterCycles registers the bicycle catalogue.  Listing is public and
// cached; writes need the ADMIN role.
func RegisterCycles(e *echo.Echo, b *handler.BicycleHandler, jwtSecret string, limit, cache echo.MiddlewareFunc) {
	e.GET("/v1/cycles", b.List, limit, cache)

	admin := e.Group("/v1/cycles", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin), limit)
	admin.POST("", b.Create)
	admin.PUT("/:id", b.Update)
	admin.DELETE("/:id", b.Delete)
}

// RegisterReservations registers the reservation lifecycle endpoints.
func RegisterReservations(e *echo.Echo, r *handler.ReservationHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/reservations", middleware.JWTAuth(jwtSecret), anyRole(), limit)
	g.POST("", r.Create)
	g.GET("", r.List)
	g.GET("/active", r.ListActive)
	g.GET("/:id", r.Get)
	g.PUT("/:id/extend", r.Extend)
	g.PUT("/:id/cancel", r.Cancel)
	g.PUT("/:id/complete", r.Complete, middleware.RequireRole(model.RoleAdmin))

	users := e.Group("/v1/users", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin), limit)
	users.GET("/:id/reservations/active", r.ListActiveForUser)
}

func anyRole() echo.MiddlewareFunc {
	return middleware.RequireRole(model.RoleUser, model.RoleAdmin)
}
