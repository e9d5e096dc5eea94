package domain

import (
	"strings"
	"time"
)

// InitialFEN is the standard starting position every session begins from.
const InitialFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Color identifies a seat or a watcher.
type Color string

const (
	White     Color = "white"
	Black     Color = "black"
	Spectator Color = "spectator"
)

// Opposite returns the other playing side. Spectator has no opposite.
func (c Color) Opposite() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	default:
		return ""
	}
}

// Status represents a session lifecycle state.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

func (s Status) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusPlaying:
		return 1
	case StatusFinished:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether s -> next respects waiting -> playing -> finished.
// Staying in place is allowed for non-terminal states.
func (s Status) CanTransition(next Status) bool {
	from, to := s.rank(), next.rank()
	if from < 0 || to < 0 || s == StatusFinished {
		return false
	}
	return to == from || to == from+1
}

// Termination reasons stored on finished sessions.
const (
	ReasonCheckmate            = "checkmate"
	ReasonResigned             = "resigned"
	ReasonStalemate            = "stalemate"
	ReasonRepetition           = "repetition"
	ReasonFiftyMoveRule        = "fifty_move_rule"
	ReasonInsufficientMaterial = "insufficient_material"
	ReasonDraw                 = "draw"
)

// Move is one applied half-move. SAN is filled by the engine once the move is accepted.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san,omitempty"`
}

// UCI renders the move in long algebraic form (e2e4, e7e8q).
func (m Move) UCI() string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion))
}

// GameSession is the durable state of a match. Empty seat ids mean the seat is open.
type GameSession struct {
	ID          string     `json:"id"`
	WhiteID     string     `json:"white_id,omitempty"`
	WhiteName   string     `json:"white_name,omitempty"`
	BlackID     string     `json:"black_id,omitempty"`
	BlackName   string     `json:"black_name,omitempty"`
	Status      Status     `json:"status"`
	Position    string     `json:"position"`
	CurrentTurn Color      `json:"current_turn"`
	MoveLog     []Move     `json:"move_log"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	WinnerID    string     `json:"winner_id,omitempty"`
	LoserID     string     `json:"loser_id,omitempty"`
	IsDraw      bool       `json:"is_draw"`
	Reason      string     `json:"reason,omitempty"`
	Settled     bool       `json:"settled"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewGameSession returns a waiting session with userID seated white.
func NewGameSession(id, userID, name string, now time.Time) *GameSession {
	return &GameSession{
		ID:          strings.TrimSpace(id),
		WhiteID:     strings.TrimSpace(userID),
		WhiteName:   strings.TrimSpace(name),
		Status:      StatusWaiting,
		Position:    InitialFEN,
		CurrentTurn: White,
		MoveLog:     []Move{},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ColorOf returns the seat held by userID, or "" when the user is not seated.
func (g *GameSession) ColorOf(userID string) Color {
	if g == nil || strings.TrimSpace(userID) == "" {
		return ""
	}
	switch userID {
	case g.WhiteID:
		return White
	case g.BlackID:
		return Black
	}
	return ""
}

// PlayerID returns the user seated on c.
func (g *GameSession) PlayerID(c Color) string {
	switch c {
	case White:
		return g.WhiteID
	case Black:
		return g.BlackID
	}
	return ""
}

// PlayerName returns the display name on c with a generic fallback.
func (g *GameSession) PlayerName(c Color) string {
	switch c {
	case White:
		if strings.TrimSpace(g.WhiteName) != "" {
			return g.WhiteName
		}
		return "White Player"
	case Black:
		if strings.TrimSpace(g.BlackName) != "" {
			return g.BlackName
		}
		return "Black Player"
	}
	return ""
}

// SeatsFilled reports whether both seats are bound.
func (g *GameSession) SeatsFilled() bool {
	return g.WhiteID != "" && g.BlackID != ""
}

// OpenSeat returns the first open seat, white before black.
func (g *GameSession) OpenSeat() Color {
	if g.WhiteID == "" {
		return White
	}
	if g.BlackID == "" {
		return Black
	}
	return ""
}

// Clone returns a deep copy safe to hand to another goroutine.
func (g *GameSession) Clone() *GameSession {
	if g == nil {
		return nil
	}
	cp := *g
	cp.MoveLog = append([]Move(nil), g.MoveLog...)
	if g.StartTime != nil {
		t := *g.StartTime
		cp.StartTime = &t
	}
	if g.EndTime != nil {
		t := *g.EndTime
		cp.EndTime = &t
	}
	return &cp
}
