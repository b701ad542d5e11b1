package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"APP_ENV":                "test",
		"APP_PORT":               "8080",
		"DB_USER":                "cycle",
		"DB_HOST":                "127.0.0.1",
		"DB_PORT":                "3306",
		"DB_NAME":                "cycles",
		"JWT_SECRET":             "s3cret",
		"ACCESS_TOKEN_TTL_MIN":   "15",
		"REFRESH_TOKEN_TTL_DAYS": "7",
		"BCRYPT_COST":            "4",
	} {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("ADMIN_EMAILS", " Ops@Example.com, ,root@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessTTLMin != 15 || cfg.BcryptCost != 4 || cfg.DBPass != "" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.IsAdminEmail("ops@example.com") || !cfg.IsAdminEmail(" ROOT@example.com") || cfg.IsAdminEmail("user@example.com") {
		t.Fatalf("admin emails = %v", cfg.AdminEmails)
	}
	want := SchedulerConfig{Enabled: true, Interval: time.Minute, ReconcileEvery: 10, TickTimeout: 30 * time.Second}
	if cfg.Scheduler != want {
		t.Fatalf("scheduler = %+v, want %+v", cfg.Scheduler, want)
	}
	if cfg.Events.Queue != "reservation.events" || cfg.Events.LogDir != "logs" || !cfg.Events.Enabled {
		t.Fatalf("events = %+v", cfg.Events)
	}
}

func TestLoadReportsEveryMissingVar(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("BCRYPT_COST", "ten")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected an error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "JWT_SECRET") || !strings.Contains(msg, `invalid int for BCRYPT_COST: "ten"`) {
		t.Fatalf("error = %q", msg)
	}
}

func TestSchedulerOverrides(t *testing.T) {
	t.Setenv("SCHEDULER_ENABLED", "off")
	t.Setenv("SCHEDULER_INTERVAL", "15s")
	t.Setenv("SCHEDULER_RECONCILE_EVERY", "-3")
	t.Setenv("SCHEDULER_TICK_TIMEOUT", "nonsense")

	c := LoadSchedulerConfig()
	if c.Enabled || c.Interval != 15*time.Second || c.ReconcileEvery != 0 || c.TickTimeout != 30*time.Second {
		t.Fatalf("scheduler = %+v", c)
	}
}

func TestEventsURLPrecedence(t *testing.T) {
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("AMQP_URL", "amqp://b/")
	if got := LoadEventsConfig().URL; got != "amqp://b/" {
		t.Fatalf("URL = %q", got)
	}
	t.Setenv("RABBITMQ_URL", "amqp://a/")
	if got := LoadEventsConfig().URL; got != "amqp://a/" {
		t.Fatalf("URL = %q", got)
	}
}

func TestRateLimitShorthands(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	c := LoadRateLimitConfig()
	if c.Capacity != 5 || c.RefillTokens != 1 || c.RefillInterval != 2*time.Second {
		t.Fatalf("rate limit = %+v", c)
	}
	if c.TTL != 10*time.Second {
		t.Fatalf("TTL = %s, want 10s floor", c.TTL)
	}
}

func TestRedisOptions(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_TLS", "1")
	o := RedisOptions()
	if o.Addr != "redis:6380" || o.DB != 2 || o.TLSConfig == nil {
		t.Fatalf("options = %+v", o)
	}
}
