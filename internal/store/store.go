package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/park285/cheese-pvp-server/internal/domain"
)

var (
	ErrGameExists        = errors.New("game already exists")
	ErrVersionConflict   = errors.New("game changed concurrently")
	ErrSeatTaken         = errors.New("seat already bound")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadySettled    = errors.New("game already settled")
	ErrUserNotFound      = errors.New("user not found")
)

// Store is the durable persistence port. LoadGame returns domain.ErrGameNotFound
// for unknown ids.
type Store interface {
	Ping(ctx context.Context) error
	LoadGame(ctx context.Context, gameID string) (*domain.GameSession, error)
	CreateGame(ctx context.Context, gameID, whiteID, whiteName string) (*domain.GameSession, error)
	// UpdateGame applies patch when the stored version equals expectVersion (0 skips the check).
	UpdateGame(ctx context.Context, gameID string, expectVersion int64, patch Patch) (*domain.GameSession, error)
	// Settle applies a terminal patch, marks the game settled and adds every
	// rating delta in one atomic unit. A settled game returns ErrAlreadySettled
	// together with the stored session.
	Settle(ctx context.Context, gameID string, expectVersion int64, patch Patch, deltas []RatingDelta) (*domain.GameSession, error)
	UpdateUserRating(ctx context.Context, userID string, delta int) error
	EnsureUser(ctx context.Context, userID, username string) error
	Rating(ctx context.Context, userID string) (int, error)
	ListGamesByUser(ctx context.Context, userID string, limit int) ([]*domain.GameSession, error)
}

// RatingDelta is one row of a multi-row rating update.
type RatingDelta struct {
	UserID string
	Delta  int
}

// Patch lists the fields an update may touch. Nil fields are left as they are.
type Patch struct {
	WhiteID     *string
	WhiteName   *string
	BlackID     *string
	BlackName   *string
	Status      *domain.Status
	Position    *string
	CurrentTurn *domain.Color
	AppendMoves []domain.Move
	StartTime   *time.Time
	EndTime     *time.Time
	WinnerID    *string
	LoserID     *string
	IsDraw      *bool
	Reason      *string
}

// ApplyPatch mutates g according to p and enforces the session invariants:
// seats never change once bound, status only moves forward, the move log only
// grows and a finished session is never touched again.
func ApplyPatch(g *domain.GameSession, p Patch, now time.Time) error {
	if g == nil {
		return domain.ErrGameNotFound
	}
	if g.Status == domain.StatusFinished {
		return fmt.Errorf("%w: %s is finished", ErrInvalidTransition, g.ID)
	}
	if p.WhiteID != nil {
		if g.WhiteID != "" && g.WhiteID != *p.WhiteID {
			return fmt.Errorf("%w: white", ErrSeatTaken)
		}
		g.WhiteID = *p.WhiteID
	}
	if p.BlackID != nil {
		if g.BlackID != "" && g.BlackID != *p.BlackID {
			return fmt.Errorf("%w: black", ErrSeatTaken)
		}
		g.BlackID = *p.BlackID
	}
	if p.WhiteName != nil {
		g.WhiteName = *p.WhiteName
	}
	if p.BlackName != nil {
		g.BlackName = *p.BlackName
	}
	if p.Status != nil {
		if !g.Status.CanTransition(*p.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.Status, *p.Status)
		}
		g.Status = *p.Status
	}
	if p.Position != nil {
		g.Position = *p.Position
	}
	if p.CurrentTurn != nil {
		g.CurrentTurn = *p.CurrentTurn
	}
	if len(p.AppendMoves) > 0 {
		g.MoveLog = append(g.MoveLog, p.AppendMoves...)
	}
	if p.StartTime != nil {
		t := *p.StartTime
		g.StartTime = &t
	}
	if p.EndTime != nil {
		t := *p.EndTime
		g.EndTime = &t
	}
	if p.WinnerID != nil {
		g.WinnerID = *p.WinnerID
	}
	if p.LoserID != nil {
		g.LoserID = *p.LoserID
	}
	if p.IsDraw != nil {
		g.IsDraw = *p.IsDraw
	}
	if p.Reason != nil {
		g.Reason = *p.Reason
	}
	if g.Status == domain.StatusFinished {
		decisive := g.WinnerID != "" && g.LoserID != ""
		if decisive == g.IsDraw {
			return fmt.Errorf("%w: finished needs exactly one of winner or draw", ErrInvalidTransition)
		}
		if g.EndTime == nil {
			t := now
			g.EndTime = &t
		}
	}
	g.UpdatedAt = now
	g.Version++
	return nil
}

// CheckVersion returns ErrVersionConflict when expect is set and differs from the stored version.
func CheckVersion(g *domain.GameSession, expect int64) error {
	if expect != 0 && g.Version != expect {
		return fmt.Errorf("%w: have %d want %d", ErrVersionConflict, g.Version, expect)
	}
	return nil
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T { return &v }
