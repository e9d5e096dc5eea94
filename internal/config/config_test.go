package config

import (
	"testing"
	"time"
)

func setBase(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LISTEN_ADDR", "DATABASE_URL", "STORE_BACKEND", "AUTH_ME_URL", "RATING_DELTA",
		"DEFAULT_RATING", "MAX_SPECTATORS", "LOCK_ENABLED", "LOCK_TTL", "DISPATCH_IDLE",
		"ALLOWED_ORIGINS", "MSG_DIR", "SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setBase(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.RatingDelta != 25 || cfg.DefaultRating != 1200 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.StoreBackend != BackendRedis || !cfg.LockEnabled || cfg.LockTTL != 10*time.Second {
		t.Fatalf("unexpected backend/lock defaults: %+v", cfg)
	}
	if cfg.MaxSpectators != 4 || cfg.DispatchIdle != time.Minute {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	setBase(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/pvp")
	t.Setenv("RATING_DELTA", "16")
	t.Setenv("LOCK_ENABLED", "false")
	t.Setenv("DISPATCH_IDLE", "30s")
	t.Setenv("ALLOWED_ORIGINS", " example.com, ,*.chess.local ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendPostgres {
		t.Fatalf("DATABASE_URL should select postgres, got %q", cfg.StoreBackend)
	}
	if cfg.RatingDelta != 16 || cfg.LockEnabled || cfg.DispatchIdle != 30*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "*.chess.local" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadRequiresIdentity(t *testing.T) {
	setBase(t)
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without JWT_SECRET or AUTH_ME_URL")
	}
}

func TestLoadRequiresRedis(t *testing.T) {
	setBase(t)
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without REDIS_URL")
	}
}
