// Package session keeps the room bindings of live sockets and resolves which
// seat a user holds in a game. The durable store is the source of truth;
// rooms are an in-memory cache of who is connected right now.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-pvp-server/internal/domain"
	"github.com/park285/cheese-pvp-server/internal/identity"
	"github.com/park285/cheese-pvp-server/internal/obslog"
	"github.com/park285/cheese-pvp-server/internal/store"
	"github.com/park285/cheese-pvp-server/pkg/chessdto"
)

const seatAttempts = 3

// Conn is one live socket as seen by the registry.
type Conn interface {
	ID() string
	UserID() string
	// Send queues ev for delivery and must not block.
	Send(ev *chessdto.Event)
	Close(reason string)
}

// Binding ties a socket to its role in a room.
type Binding struct {
	Conn   Conn
	UserID string
	Color  domain.Color
}

type room struct {
	bindings map[string]*Binding // conn id -> binding
	finished bool
}

type Registry struct {
	store         store.Store
	maxSpectators int

	mu     sync.Mutex
	rooms  map[string]*room
	byConn map[string]string // conn id -> game id
}

func NewRegistry(st store.Store, maxSpectators int) *Registry {
	if maxSpectators < 0 {
		maxSpectators = 0
	}
	return &Registry{
		store:         st,
		maxSpectators: maxSpectators,
		rooms:         make(map[string]*room),
		byConn:        make(map[string]string),
	}
}

// ResolveOrCreate returns the session for gameID and the caller's role in it.
// An unknown gameID is created with the caller seated white. A seated caller
// keeps its color; an unseated caller takes the first open seat. With both
// seats taken the caller is rejected unless spectate is set.
func (r *Registry) ResolveOrCreate(ctx context.Context, gameID string, p identity.Principal, spectate bool) (*domain.GameSession, domain.Color, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, "", domain.ErrGameNotFound
	}
	if strings.TrimSpace(p.UserID) == "" {
		return nil, "", domain.ErrUnauthorized
	}

	for attempt := 0; attempt < seatAttempts; attempt++ {
		g, err := r.store.LoadGame(ctx, gameID)
		if errors.Is(err, domain.ErrGameNotFound) {
			if spectate {
				return nil, "", domain.ErrGameNotFound
			}
			if err := r.ensureUser(ctx, p); err != nil {
				return nil, "", err
			}
			g, err = r.store.CreateGame(ctx, gameID, p.UserID, p.Username)
			if errors.Is(err, store.ErrGameExists) {
				continue
			}
			if err != nil {
				return nil, "", fmt.Errorf("%w: %w", domain.ErrPersistence, err)
			}
			obslog.L().Info("session_create", zap.String("game_id", gameID), zap.String("user_id", p.UserID))
			return g, domain.White, nil
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}

		if c := g.ColorOf(p.UserID); c != "" {
			return g, c, nil
		}
		if spectate {
			if !r.spectatorSlot(gameID) {
				return nil, "", domain.ErrUnauthorized
			}
			return g, domain.Spectator, nil
		}
		seat := g.OpenSeat()
		if seat == "" || g.Status == domain.StatusFinished {
			return nil, "", domain.ErrUnauthorized
		}

		if err := r.ensureUser(ctx, p); err != nil {
			return nil, "", err
		}
		var patch store.Patch
		if seat == domain.White {
			patch.WhiteID, patch.WhiteName = store.Ptr(p.UserID), store.Ptr(p.Username)
		} else {
			patch.BlackID, patch.BlackName = store.Ptr(p.UserID), store.Ptr(p.Username)
		}
		updated, err := r.store.UpdateGame(ctx, gameID, g.Version, patch)
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrSeatTaken) {
			obslog.L().Info("session_seat_race", zap.String("game_id", gameID), zap.String("user_id", p.UserID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		obslog.L().Info("session_seat", zap.String("game_id", gameID), zap.String("user_id", p.UserID), zap.String("color", string(seat)))
		return updated, seat, nil
	}
	return nil, "", fmt.Errorf("%w: seat contention on %s", domain.ErrPersistence, gameID)
}

func (r *Registry) ensureUser(ctx context.Context, p identity.Principal) error {
	if err := r.store.EnsureUser(ctx, p.UserID, p.Username); err != nil {
		return fmt.Errorf("%w: ensure user: %w", domain.ErrPersistence, err)
	}
	return nil
}

func (r *Registry) spectatorSlot(gameID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	if rm := r.rooms[gameID]; rm != nil {
		for _, b := range rm.bindings {
			if b.Color == domain.Spectator {
				n++
			}
		}
	}
	return n < r.maxSpectators
}

// Bind attaches conn to gameID. An older socket of the same user in that room
// is detached and returned so the caller can close it.
func (r *Registry) Bind(gameID string, conn Conn, color domain.Color) (stale Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[conn.ID()]; ok {
		if prev == gameID {
			r.rooms[gameID].bindings[conn.ID()].Color = color
			return nil
		}
		r.detachLocked(conn.ID())
	}
	rm := r.rooms[gameID]
	if rm == nil {
		rm = &room{bindings: make(map[string]*Binding)}
		r.rooms[gameID] = rm
	}
	for id, b := range rm.bindings {
		if b.UserID == conn.UserID() {
			stale = b.Conn
			delete(rm.bindings, id)
			delete(r.byConn, id)
			break
		}
	}
	rm.bindings[conn.ID()] = &Binding{Conn: conn, UserID: conn.UserID(), Color: color}
	r.byConn[conn.ID()] = gameID
	return stale
}

// Unbind removes a socket. It reports the room it was in, how many sockets
// remain there and the binding that was removed. Seats are not touched.
func (r *Registry) Unbind(connID string) (gameID string, remaining int, left Binding, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gameID, ok = r.byConn[connID]
	if !ok {
		return "", 0, Binding{}, false
	}
	b := r.detachLocked(connID)
	if rm := r.rooms[gameID]; rm != nil {
		remaining = len(rm.bindings)
	}
	return gameID, remaining, b, true
}

func (r *Registry) detachLocked(connID string) Binding {
	gameID := r.byConn[connID]
	delete(r.byConn, connID)
	rm := r.rooms[gameID]
	if rm == nil {
		return Binding{}
	}
	var out Binding
	if b := rm.bindings[connID]; b != nil {
		out = *b
	}
	delete(rm.bindings, connID)
	if len(rm.bindings) == 0 && rm.finished {
		delete(r.rooms, gameID)
	}
	return out
}

// MarkFinished lets the room be discarded once its last socket leaves.
func (r *Registry) MarkFinished(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := r.rooms[gameID]
	if rm == nil {
		return
	}
	rm.finished = true
	if len(rm.bindings) == 0 {
		delete(r.rooms, gameID)
	}
}

// Peers returns a snapshot of the room's bindings.
func (r *Registry) Peers(gameID string) []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := r.rooms[gameID]
	if rm == nil {
		return nil
	}
	out := make([]Binding, 0, len(rm.bindings))
	for _, b := range rm.bindings {
		out = append(out, *b)
	}
	return out
}

// Broadcast sends ev to every socket of the room except skipConnID.
func (r *Registry) Broadcast(gameID string, ev *chessdto.Event, skipConnID string) int {
	n := 0
	for _, b := range r.Peers(gameID) {
		if b.Conn.ID() == skipConnID {
			continue
		}
		b.Conn.Send(ev)
		n++
	}
	return n
}

// HasRoom reports whether gameID is still cached.
func (r *Registry) HasRoom(gameID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[gameID]
	return ok
}

// Stats returns the number of cached rooms and bound sockets.
func (r *Registry) Stats() (rooms, conns int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms), len(r.byConn)
}

// GameOf returns the game connID is bound to.
func (r *Registry) GameOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[connID]
	return id, ok
}
