// Package httpapi mounts the websocket gateway and the small JSON API next to it.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/park285/cheese-pvp-server/internal/domain"
	"github.com/park285/cheese-pvp-server/internal/game"
	"github.com/park285/cheese-pvp-server/internal/identity"
	"github.com/park285/cheese-pvp-server/internal/metrics"
	"github.com/park285/cheese-pvp-server/internal/msgcat"
	"github.com/park285/cheese-pvp-server/internal/obslog"
	"github.com/park285/cheese-pvp-server/pkg/chessdto"
)

const (
	defaultListLimit = 10
	maxListLimit     = 50
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Gateway http.Handler
	Manager *game.Manager
	Auth    identity.Authenticator
	Health  Pinger
	Metrics *metrics.Metrics
	Catalog *msgcat.Catalog
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(d.Health))
	r.Mount("/metrics", d.Metrics.Handler())
	r.Handle("/ws", d.Gateway)

	h := &handlers{mgr: d.Manager, catalog: d.Catalog}
	r.Route("/api/games", func(r chi.Router) {
		r.Use(identity.Middleware(d.Auth))
		r.Use(middleware.Timeout(10 * time.Second))
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	return r
}

func healthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if p != nil {
			if err := p.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type handlers struct {
	mgr     *game.Manager
	catalog *msgcat.Catalog
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromContext(r.Context())
	g, err := h.mgr.Create(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, game.View(g))
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if !chessdto.ValidGameID(id) {
		h.fail(w, domain.ErrGameNotFound)
		return
	}
	g, err := h.mgr.View(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game.View(g))
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromContext(r.Context())
	limit := defaultListLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	games, err := h.mgr.History(r.Context(), p.UserID, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]chessdto.GameView, 0, len(games))
	for _, g := range games {
		out = append(out, game.View(g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": out})
}

func (h *handlers) fail(w http.ResponseWriter, err error) {
	code := domain.Code(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrGameNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrPersistence), errors.Is(err, domain.ErrSettlement):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		obslog.L().Error("http_request_failed", zap.String("code", code), zap.Error(err))
	}
	writeJSON(w, status, chessdto.DomainError{Code: code, Message: h.catalog.ErrorText(code), Retryable: domain.Retryable(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		obslog.L().Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
