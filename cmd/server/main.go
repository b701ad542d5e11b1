package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cycle-reservation/internal/clock"
	"github.com/iliyamo/cycle-reservation/internal/config"
	"github.com/iliyamo/cycle-reservation/internal/database"
	"github.com/iliyamo/cycle-reservation/internal/handler"
	"github.com/iliyamo/cycle-reservation/internal/metrics"
	"github.com/iliyamo/cycle-reservation/internal/queue"
	"github.com/iliyamo/cycle-reservation/internal/repository"
	"github.com/iliyamo/cycle-reservation/internal/router"
	"github.com/iliyamo/cycle-reservation/internal/scheduler"
	"github.com/iliyamo/cycle-reservation/internal/service"
)

func main() {
	logger := log.New("cycle")
	logger.SetHeader(`${time_rfc3339} ${level} ${prefix} ${short_file}:${line}`)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if cfg.Env != "prod" {
		logger.SetLevel(log.DEBUG)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.Fatalf("mysql: %v", err)
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		logger.Fatalf("schema: %v", err)
	}

	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	m := metrics.New()
	clk := clock.Real{}
	store := repository.NewStore(db)
	registry := repository.NewCompletionRegistry(rdb)

	var events service.EventPublisher
	if cfg.Events.Enabled {
		events = queue.NewPublisher(cfg.Events.URL, cfg.Events.Queue, logger)
	}
	svc := service.NewReservationService(store, registry, clk, events, m, logger)

	var wg sync.WaitGroup
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(svc, registry, clk, scheduler.Config{
			Interval:       cfg.Scheduler.Interval,
			ReconcileEvery: cfg.Scheduler.ReconcileEvery,
			TickTimeout:    cfg.Scheduler.TickTimeout,
		}, m, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sched.Run(ctx)
		}()
	}
	if cfg.Events.Enabled {
		consumer := queue.NewConsumer(cfg.Events.URL, cfg.Events.Queue, cfg.Events.LogDir, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = consumer.Run(ctx)
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger = logger
	e.Validator = handler.NewValidator()

	router.Register(e, router.Deps{
		JWTSecret: cfg.JWTSecret,
		Metrics:   m,
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Health: &handler.HealthHandler{
			DB:    db,
			Redis: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		Auth:         handler.NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db)),
		Bicycles:     handler.NewBicycleHandler(repository.NewBicycleRepo(db)),
		Reservations: handler.NewReservationHandler(svc),
	})

	addr := ":" + cfg.Port
	go func() {
		logger.Infof("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
	wg.Wait()
	svc.Wait()
}
