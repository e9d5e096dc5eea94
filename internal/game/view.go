package game

import (
	"github.com/park285/cheese-pvp-server/internal/domain"
	"github.com/park285/cheese-pvp-server/pkg/chessdto"
)

// Seats is the wire form of both seats.
func Seats(g *domain.GameSession) *chessdto.Seats {
	return &chessdto.Seats{
		White: chessdto.Seat{UserID: g.WhiteID, Username: g.WhiteName},
		Black: chessdto.Seat{UserID: g.BlackID, Username: g.BlackName},
	}
}

// Moves converts a move log to its wire form.
func Moves(ms []domain.Move) []chessdto.Move {
	out := make([]chessdto.Move, 0, len(ms))
	for _, m := range ms {
		out = append(out, chessdto.Move{From: m.From, To: m.To, Promotion: m.Promotion, SAN: m.SAN})
	}
	return out
}

// View is the full session shape served over HTTP.
func View(g *domain.GameSession) chessdto.GameView {
	return chessdto.GameView{
		ID:          g.ID,
		Seats:       *Seats(g),
		Status:      string(g.Status),
		Position:    g.Position,
		CurrentTurn: string(g.CurrentTurn),
		MoveLog:     Moves(g.MoveLog),
		StartTime:   g.StartTime,
		EndTime:     g.EndTime,
		WinnerID:    g.WinnerID,
		LoserID:     g.LoserID,
		IsDraw:      g.IsDraw,
		Reason:      g.Reason,
		CreatedAt:   g.CreatedAt,
	}
}

// SessionEvent is a full-state event of type kind addressed to a socket seated as color.
func SessionEvent(kind string, g *domain.GameSession, color domain.Color) *chessdto.Event {
	return &chessdto.Event{
		Type:        kind,
		GameID:      g.ID,
		Seats:       Seats(g),
		Status:      string(g.Status),
		Position:    g.Position,
		CurrentTurn: string(g.CurrentTurn),
		MoveLog:     Moves(g.MoveLog),
		YourColor:   string(color),
		StartTime:   g.StartTime,
		EndTime:     g.EndTime,
		WinnerID:    g.WinnerID,
		LoserID:     g.LoserID,
		IsDraw:      g.IsDraw,
		Reason:      g.Reason,
	}
}

// UpdateEvent is the partial view broadcast after a committed move or resignation.
func UpdateEvent(u *Update) *chessdto.Event {
	g := u.Game
	ev := &chessdto.Event{
		Type:        chessdto.EventUpdated,
		GameID:      g.ID,
		Status:      string(g.Status),
		Position:    g.Position,
		CurrentTurn: string(g.CurrentTurn),
		WinnerID:    g.WinnerID,
		LoserID:     g.LoserID,
		IsDraw:      g.IsDraw,
		Reason:      g.Reason,
		Message:     u.Message,
		EndTime:     g.EndTime,
	}
	if u.Move != nil {
		ev.MoveDelta = Moves([]domain.Move{*u.Move})
	}
	return ev
}
