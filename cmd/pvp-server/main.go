package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/cheese-pvp-server/internal/chessbuilder"
	appcfg "github.com/park285/cheese-pvp-server/internal/config"
	"github.com/park285/cheese-pvp-server/internal/obslog"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	if err := run(cfg); err != nil {
		obslog.L().Error("server_exit", zap.Error(err))
		obslog.Sync()
		log.Fatalf("server error: %v", err)
	}
}

func run(cfg *appcfg.AppConfig) error {
	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(signalCtx, 15*time.Second)
	deps, err := chessbuilder.New(initCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close() }()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           deps.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		obslog.L().Info("server_start", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		obslog.L().Info("server_shutdown")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Hijacked websocket connections are not covered by srv.Shutdown.
		if err := deps.Gateway.Shutdown(sctx); err != nil {
			obslog.L().Warn("gateway_shutdown_error", zap.Error(err))
		}
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				rooms, conns := deps.Manager.Registry().Stats()
				obslog.L().Info("pvp_stats",
					zap.Int("rooms", rooms),
					zap.Int("conns", conns),
					zap.Int("actors", deps.Dispatcher.Active()),
				)
			}
		}
	})
	return g.Wait()
}
