// Package game runs the session state machine: seating, move validation,
// resignation and the hand-off to settlement for terminal positions.
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-pvp-server/internal/domain"
	"github.com/park285/cheese-pvp-server/internal/engine"
	"github.com/park285/cheese-pvp-server/internal/identity"
	"github.com/park285/cheese-pvp-server/internal/metrics"
	"github.com/park285/cheese-pvp-server/internal/msgcat"
	"github.com/park285/cheese-pvp-server/internal/obslog"
	"github.com/park285/cheese-pvp-server/internal/session"
	"github.com/park285/cheese-pvp-server/internal/settlement"
	"github.com/park285/cheese-pvp-server/internal/store"
)

// Rules validates a move against the position reached by a move log.
type Rules interface {
	Apply(history []domain.Move, mv domain.Move) (*engine.Result, error)
}

// Settler commits a terminal patch together with the rating changes.
type Settler interface {
	Settle(ctx context.Context, gameID string, expectVersion int64, patch store.Patch, o settlement.Outcome) (*domain.GameSession, error)
}

type Manager struct {
	store    store.Store
	rules    Rules
	registry *session.Registry
	settler  Settler
	catalog  *msgcat.Catalog
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Manager)

func WithCatalog(c *msgcat.Catalog) Option { return func(m *Manager) { m.catalog = c } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

func NewManager(st store.Store, rules Rules, reg *session.Registry, settler Settler, opts ...Option) *Manager {
	m := &Manager{store: st, rules: rules, registry: reg, settler: settler, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Registry returns the session registry the manager seats players through.
func (m *Manager) Registry() *session.Registry { return m.registry }

// JoinResult is the caller's view after a join.
type JoinResult struct {
	Game  *domain.GameSession
	Color domain.Color
	// Started is set when this join filled the second seat and the game moved to playing.
	Started bool
}

// Update is the committed state after a move or a resignation.
type Update struct {
	Game *domain.GameSession
	// Move is the applied move, nil for a resignation.
	Move *domain.Move
	// Message is a human-readable result line for finished games.
	Message string
}

// Finished reports whether the update ended the game.
func (u *Update) Finished() bool {
	return u != nil && u.Game != nil && u.Game.Status == domain.StatusFinished
}

// Join resolves the caller's seat and starts the game once both seats are bound.
func (m *Manager) Join(ctx context.Context, gameID string, p identity.Principal, spectate bool) (*JoinResult, error) {
	g, color, err := m.registry.ResolveOrCreate(ctx, gameID, p, spectate)
	if err != nil {
		return nil, err
	}
	res := &JoinResult{Game: g, Color: color}
	if color == domain.Spectator || g.Status != domain.StatusWaiting || !g.SeatsFilled() {
		return res, nil
	}

	now := m.now()
	started, err := m.store.UpdateGame(ctx, gameID, g.Version, store.Patch{
		Status:    store.Ptr(domain.StatusPlaying),
		StartTime: &now,
	})
	switch {
	case err == nil:
		res.Game, res.Started = started, true
		m.metrics.GameStarted()
		obslog.L().Info("pvp_game_started",
			zap.String("game_id", gameID),
			zap.String("white_id", started.WhiteID),
			zap.String("black_id", started.BlackID),
		)
	case errors.Is(err, store.ErrVersionConflict), errors.Is(err, store.ErrInvalidTransition):
		// Another writer got there first; report what is stored now.
		cur, lerr := m.store.LoadGame(ctx, gameID)
		if lerr != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, lerr)
		}
		res.Game = cur
	default:
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return res, nil
}

// ApplyMove validates and commits one move by userID. Rejections leave the
// stored session untouched.
func (m *Manager) ApplyMove(ctx context.Context, gameID, userID string, mv domain.Move) (*Update, error) {
	g, err := m.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Status != domain.StatusPlaying {
		return nil, domain.ErrGameNotActive
	}
	color := g.ColorOf(userID)
	if color == "" {
		return nil, domain.ErrUnauthorized
	}
	if g.CurrentTurn != color {
		return nil, domain.ErrNotYourTurn
	}

	res, err := m.rules.Apply(g.MoveLog, mv)
	if errors.Is(err, engine.ErrCorruptLog) {
		obslog.L().Error("pvp_move_log_corrupt", zap.String("game_id", gameID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if err != nil {
		return nil, err
	}
	if res.Before != g.Position {
		obslog.L().Error("pvp_position_drift",
			zap.String("game_id", gameID),
			zap.String("stored", g.Position),
			zap.String("replayed", res.Before),
		)
		return nil, fmt.Errorf("%w: stored position does not match move log", domain.ErrPersistence)
	}

	applied := res.Move
	patch := store.Patch{
		Position:    store.Ptr(res.FEN),
		CurrentTurn: store.Ptr(res.Turn),
		AppendMoves: []domain.Move{applied},
	}

	if !res.Terminal() {
		next, err := m.store.UpdateGame(ctx, gameID, g.Version, patch)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		obslog.L().Info("pvp_move",
			zap.String("game_id", gameID),
			zap.String("user_id", userID),
			zap.String("uci", applied.UCI()),
			zap.String("san", applied.SAN),
		)
		return &Update{Game: next, Move: &applied}, nil
	}

	o := settlement.Outcome{IsDraw: res.Draw, Reason: res.Reason}
	if res.Checkmate {
		o = settlement.Outcome{WinnerID: userID, LoserID: g.PlayerID(color.Opposite()), Reason: domain.ReasonCheckmate}
	}
	done, err := m.settler.Settle(ctx, gameID, g.Version, patch, o)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("pvp_move_final",
		zap.String("game_id", gameID),
		zap.String("user_id", userID),
		zap.String("uci", applied.UCI()),
		zap.String("reason", done.Reason),
	)
	return &Update{Game: done, Move: &applied, Message: m.resultText(done, g.PlayerName(color))}, nil
}

// Resign ends a playing game in favour of the opponent of userID.
func (m *Manager) Resign(ctx context.Context, gameID, userID string) (*Update, error) {
	g, err := m.store.LoadGame(ctx, gameID)
	if errors.Is(err, domain.ErrGameNotFound) {
		return nil, domain.ErrGameNotActive
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if g.Status != domain.StatusPlaying {
		return nil, domain.ErrGameNotActive
	}
	color := g.ColorOf(userID)
	if color == "" {
		return nil, domain.ErrUnauthorized
	}

	done, err := m.settler.Settle(ctx, gameID, g.Version, store.Patch{}, settlement.Outcome{
		WinnerID: g.PlayerID(color.Opposite()),
		LoserID:  userID,
		Reason:   domain.ReasonResigned,
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("pvp_resign", zap.String("game_id", gameID), zap.String("user_id", userID))
	return &Update{Game: done, Message: m.resultText(done, g.PlayerName(color))}, nil
}

// View loads a session for reconnection or history.
func (m *Manager) View(ctx context.Context, gameID string) (*domain.GameSession, error) {
	return m.load(ctx, gameID)
}

// Create opens a fresh game with a random id and seats p as white.
func (m *Manager) Create(ctx context.Context, p identity.Principal) (*domain.GameSession, error) {
	g, _, err := m.registry.ResolveOrCreate(ctx, uuid.NewString(), p, false)
	return g, err
}

// History lists the most recent games of userID, newest first.
func (m *Manager) History(ctx context.Context, userID string, limit int) ([]*domain.GameSession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrUnauthorized
	}
	games, err := m.store.ListGamesByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return games, nil
}

func (m *Manager) load(ctx context.Context, gameID string) (*domain.GameSession, error) {
	g, err := m.store.LoadGame(ctx, gameID)
	if errors.Is(err, domain.ErrGameNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return g, nil
}

// resultText renders the result line. actor is the display name of the
// player whose action ended the game.
func (m *Manager) resultText(g *domain.GameSession, actor string) string {
	reason := g.Reason
	if reason == "" {
		reason = domain.ReasonDraw
	}
	def := reason
	if reason == domain.ReasonResigned {
		def = actor + " resigned."
	}
	return m.catalog.Text("result."+reason, map[string]string{"Name": actor}, def)
}
