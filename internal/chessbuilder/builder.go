// Package chessbuilder wires the game server from its configuration.
package chessbuilder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-pvp-server/internal/config"
	"github.com/park285/cheese-pvp-server/internal/engine"
	"github.com/park285/cheese-pvp-server/internal/game"
	"github.com/park285/cheese-pvp-server/internal/gateway"
	"github.com/park285/cheese-pvp-server/internal/httpapi"
	"github.com/park285/cheese-pvp-server/internal/identity"
	"github.com/park285/cheese-pvp-server/internal/lock"
	"github.com/park285/cheese-pvp-server/internal/metrics"
	"github.com/park285/cheese-pvp-server/internal/msgcat"
	"github.com/park285/cheese-pvp-server/internal/obslog"
	"github.com/park285/cheese-pvp-server/internal/session"
	"github.com/park285/cheese-pvp-server/internal/settlement"
	"github.com/park285/cheese-pvp-server/internal/store"
	"github.com/park285/cheese-pvp-server/internal/store/pgstore"
	"github.com/park285/cheese-pvp-server/internal/store/redisstore"
)

type Deps struct {
	Redis      *redis.Client
	Store      store.Store
	Manager    *game.Manager
	Dispatcher *game.Dispatcher
	Gateway    *gateway.Gateway
	Metrics    *metrics.Metrics
	Handler    http.Handler

	closers []func() error
}

func New(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	d := &Deps{Metrics: metrics.New()}

	catalog, err := msgcat.New(cfg.MsgDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	rdb, err := redisstore.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	d.Redis = rdb
	d.closers = append(d.closers, rdb.Close)

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL, pgstore.WithDefaultRating(cfg.DefaultRating))
		if err != nil {
			_ = d.Close()
			return nil, err
		}
		d.closers = append(d.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		d.Store = pg
	default:
		d.Store = redisstore.New(rdb, redisstore.WithDefaultRating(cfg.DefaultRating))
	}

	var locker lock.Locker = lock.Nop{}
	if cfg.LockEnabled {
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
	}

	var auth identity.Chain
	if cfg.JWTSecret != "" {
		auth = append(auth, identity.NewJWT(cfg.JWTSecret))
	}
	if cfg.AuthMeURL != "" {
		auth = append(auth, identity.NewRemote(cfg.AuthMeURL))
	}

	registry := session.NewRegistry(d.Store, cfg.MaxSpectators)
	settler := settlement.NewService(d.Store, settlement.WithRatingDelta(cfg.RatingDelta), settlement.WithMetrics(d.Metrics))
	d.Manager = game.NewManager(d.Store, engine.New(), registry, settler,
		game.WithCatalog(catalog),
		game.WithMetrics(d.Metrics),
	)
	d.Dispatcher = game.NewDispatcher(locker, cfg.DispatchIdle)
	d.Gateway = gateway.New(auth, d.Manager, d.Dispatcher,
		gateway.WithCatalog(catalog),
		gateway.WithMetrics(d.Metrics),
		gateway.WithOriginPatterns(cfg.AllowedOrigins),
	)
	d.Handler = httpapi.NewRouter(httpapi.Deps{
		Gateway: d.Gateway,
		Manager: d.Manager,
		Auth:    auth,
		Health:  d.Store,
		Metrics: d.Metrics,
		Catalog: catalog,
	})

	obslog.L().Info("pvp_deps_ready",
		zap.String("store", cfg.StoreBackend),
		zap.Bool("lock", cfg.LockEnabled),
		zap.Int("rating_delta", cfg.RatingDelta),
		zap.Int("identity_providers", len(auth)),
	)
	return d, nil
}

// Close stops the dispatcher and releases every backend connection.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	if d.Dispatcher != nil {
		d.Dispatcher.Close()
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
