// Package settlement commits the outcome of a game and the rating changes it
// causes in a single store transaction.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/cheese-pvp-server/internal/domain"
	"github.com/park285/cheese-pvp-server/internal/metrics"
	"github.com/park285/cheese-pvp-server/internal/obslog"
	"github.com/park285/cheese-pvp-server/internal/store"
)

// DefaultRatingDelta is the fixed rating change of a decisive game.
const DefaultRatingDelta = 25

// Outcome is the result of a game. Exactly one of (WinnerID, LoserID) or IsDraw is set.
type Outcome struct {
	WinnerID string
	LoserID  string
	IsDraw   bool
	Reason   string
}

func (o Outcome) validate() error {
	if o.IsDraw {
		if o.WinnerID != "" || o.LoserID != "" {
			return errors.New("draw cannot have a winner")
		}
		return nil
	}
	if strings.TrimSpace(o.WinnerID) == "" || strings.TrimSpace(o.LoserID) == "" {
		return errors.New("decisive outcome needs winner and loser")
	}
	if o.WinnerID == o.LoserID {
		return errors.New("winner and loser are the same user")
	}
	return nil
}

type Service struct {
	store   store.Store
	delta   int
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithRatingDelta(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.delta = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, delta: DefaultRatingDelta}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Settle finishes gameID with o. patch carries the final position and move of
// the game, if any; the terminal fields are filled in from o. Repeating a
// settlement with the stored outcome and no move returns the stored session
// without a second rating change; any other settle of a finished game is
// ErrGameNotActive.
func (s *Service) Settle(ctx context.Context, gameID string, expectVersion int64, patch store.Patch, o Outcome) (*domain.GameSession, error) {
	if err := o.validate(); err != nil {
		s.metrics.SettlementFailed()
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSettlement, gameID, err)
	}

	patch.Status = store.Ptr(domain.StatusFinished)
	patch.IsDraw = store.Ptr(o.IsDraw)
	if o.Reason != "" {
		patch.Reason = store.Ptr(o.Reason)
	}
	var deltas []store.RatingDelta
	applied := 0
	if !o.IsDraw {
		applied = s.delta
		patch.WinnerID = store.Ptr(o.WinnerID)
		patch.LoserID = store.Ptr(o.LoserID)
		deltas = []store.RatingDelta{
			{UserID: o.WinnerID, Delta: s.delta},
			{UserID: o.LoserID, Delta: -s.delta},
		}
	}

	g, err := s.store.Settle(ctx, gameID, expectVersion, patch, deltas)
	if errors.Is(err, store.ErrAlreadySettled) {
		if len(patch.AppendMoves) == 0 && sameOutcome(g, o) {
			obslog.L().Info("settlement_duplicate", zap.String("game_id", gameID))
			return g, nil
		}
		// finished by someone else since the caller loaded it
		obslog.L().Info("settlement_stale", zap.String("game_id", gameID), zap.String("reason", o.Reason))
		return nil, fmt.Errorf("%w: %s already settled", domain.ErrGameNotActive, gameID)
	}
	if err != nil {
		s.metrics.SettlementFailed()
		obslog.L().Error("settlement_failed", zap.String("game_id", gameID), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrSettlement, gameID, err)
	}
	obslog.L().Info("settlement_applied",
		zap.String("game_id", gameID),
		zap.String("winner_id", o.WinnerID),
		zap.String("loser_id", o.LoserID),
		zap.Bool("is_draw", o.IsDraw),
		zap.String("reason", o.Reason),
		zap.Int("delta", applied),
	)
	s.metrics.GameFinished(g.Reason)
	return g, nil
}

func sameOutcome(g *domain.GameSession, o Outcome) bool {
	if g == nil {
		return false
	}
	if g.IsDraw != o.IsDraw || g.WinnerID != o.WinnerID || g.LoserID != o.LoserID {
		return false
	}
	return o.Reason == "" || g.Reason == o.Reason
}
