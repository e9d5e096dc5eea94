package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type AppConfig struct {
	ListenAddr string

	RedisURL     string
	DatabaseURL  string
	StoreBackend string

	JWTSecret string
	AuthMeURL string

	RatingDelta   int
	DefaultRating int
	MaxSpectators int

	LockEnabled  bool
	LockTTL      time.Duration
	DispatchIdle time.Duration

	AllowedOrigins []string
	MsgDir         string

	ShutdownTimeout time.Duration
}

func Load() (*AppConfig, error) {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	cfg := &AppConfig{
		ListenAddr:      ":8080",
		RatingDelta:     25,
		DefaultRating:   1200,
		MaxSpectators:   4,
		LockEnabled:     true,
		LockTTL:         10 * time.Second,
		DispatchIdle:    time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if cfg.StoreBackend == "" {
		if cfg.DatabaseURL != "" {
			cfg.StoreBackend = BackendPostgres
		} else {
			cfg.StoreBackend = BackendRedis
		}
	}

	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	cfg.AuthMeURL = strings.TrimSpace(os.Getenv("AUTH_ME_URL"))

	if v := strings.TrimSpace(os.Getenv("RATING_DELTA")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RatingDelta = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_RATING")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultRating = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_SPECTATORS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxSpectators = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOCK_ENABLED")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LockEnabled = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOCK_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.LockTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("DISPATCH_IDLE")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.DispatchIdle = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("SHUTDOWN_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ShutdownTimeout = d
		}
	}

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		parts := strings.Split(v, ",")
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}
	cfg.MsgDir = strings.TrimSpace(os.Getenv("MSG_DIR"))

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.StoreBackend != BackendRedis && cfg.StoreBackend != BackendPostgres {
		return nil, errors.New("STORE_BACKEND must be redis or postgres")
	}
	if cfg.StoreBackend == BackendPostgres && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required for the postgres backend")
	}
	if cfg.JWTSecret == "" && cfg.AuthMeURL == "" {
		return nil, errors.New("JWT_SECRET or AUTH_ME_URL is required")
	}

	return cfg, nil
}
