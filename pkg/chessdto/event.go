package chessdto

import "time"

// Outbound event types.
const (
	EventJoined               = "joined"
	EventStarted              = "started"
	EventOpponentJoined       = "opponentJoined"
	EventUpdated              = "updated"
	EventError                = "error"
	EventOpponentDisconnected = "opponentDisconnected"
)

type Seat struct {
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

type Seats struct {
	White Seat `json:"white"`
	Black Seat `json:"black"`
}

type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san,omitempty"`
}

// Event is every server to client frame. Fields irrelevant to Type are omitted.
type Event struct {
	Type        string     `json:"type"`
	GameID      string     `json:"gameId,omitempty"`
	Seats       *Seats     `json:"seats,omitempty"`
	Status      string     `json:"status,omitempty"`
	Position    string     `json:"position,omitempty"`
	CurrentTurn string     `json:"currentTurn,omitempty"`
	MoveLog     []Move     `json:"moveLog,omitempty"`
	MoveDelta   []Move     `json:"moveDelta,omitempty"`
	YourColor   string     `json:"yourColor,omitempty"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`

	WinnerID string `json:"winnerId,omitempty"`
	LoserID  string `json:"loserId,omitempty"`
	IsDraw   bool   `json:"isDraw,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`

	Error *DomainError `json:"error,omitempty"`
}

// GameView is the HTTP history shape of a session.
type GameView struct {
	ID          string     `json:"gameId"`
	Seats       Seats      `json:"seats"`
	Status      string     `json:"status"`
	Position    string     `json:"position"`
	CurrentTurn string     `json:"currentTurn"`
	MoveLog     []Move     `json:"moveLog"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	WinnerID    string     `json:"winnerId,omitempty"`
	LoserID     string     `json:"loserId,omitempty"`
	IsDraw      bool       `json:"isDraw"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}
