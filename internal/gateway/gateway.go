// Package gateway accepts websocket connections, decodes player commands and
// fans committed game state out to the sockets of each room.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-pvp-server/internal/domain"
	"github.com/park285/cheese-pvp-server/internal/game"
	"github.com/park285/cheese-pvp-server/internal/identity"
	"github.com/park285/cheese-pvp-server/internal/metrics"
	"github.com/park285/cheese-pvp-server/internal/msgcat"
	"github.com/park285/cheese-pvp-server/internal/obslog"
	"github.com/park285/cheese-pvp-server/internal/session"
	"github.com/park285/cheese-pvp-server/pkg/chessdto"
)

type Gateway struct {
	auth     identity.Authenticator
	mgr      *game.Manager
	registry *session.Registry
	disp     *game.Dispatcher
	catalog  *msgcat.Catalog
	metrics  *metrics.Metrics

	origins      []string
	pingInterval time.Duration
	outbox       int
	readLimit    int64

	mu    sync.Mutex
	conns map[string]*conn
	wg    sync.WaitGroup
}

type Option func(*Gateway)

func WithCatalog(c *msgcat.Catalog) Option  { return func(g *Gateway) { g.catalog = c } }
func WithMetrics(m *metrics.Metrics) Option { return func(g *Gateway) { g.metrics = m } }
func WithOriginPatterns(p []string) Option  { return func(g *Gateway) { g.origins = p } }
func WithPingInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.pingInterval = d
		}
	}
}
func WithOutbox(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.outbox = n
		}
	}
}

func New(auth identity.Authenticator, mgr *game.Manager, disp *game.Dispatcher, opts ...Option) *Gateway {
	g := &Gateway{
		auth:         auth,
		mgr:          mgr,
		registry:     mgr.Registry(),
		disp:         disp,
		pingInterval: 30 * time.Second,
		outbox:       32,
		readLimit:    16 << 10,
		conns:        make(map[string]*conn),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// ServeHTTP authenticates the request, upgrades it and serves the socket until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, err := g.auth.Authenticate(r)
	if err != nil {
		obslog.L().Info("ws_auth_rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  g.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("user_id", p.UserID), zap.Error(err))
		return
	}
	ws.SetReadLimit(g.readLimit)

	c := newConn(ws, p, g.outbox, g.metrics.SlowConsumer)
	if !g.track(c) {
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer g.untrack(c)
	g.metrics.ConnOpened()
	defer g.metrics.ConnClosed()
	obslog.L().Info("ws_connect", zap.String("conn_id", c.id), zap.String("user_id", p.UserID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.writeLoop(ctx)
	go c.pingLoop(ctx, g.pingInterval)

	g.readLoop(ctx, c)

	g.disconnect(c)
	c.Close("bye")
	obslog.L().Info("ws_disconnect", zap.String("conn_id", c.id), zap.String("user_id", p.UserID))
}

func (g *Gateway) readLoop(ctx context.Context, c *conn) {
	for {
		typ, raw, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		if c.closed() {
			return
		}
		if typ != websocket.MessageText {
			g.metrics.Command("unknown", domain.CodeMalformed)
			c.Send(g.errorEvent("", "", chessdto.ErrMalformed))
			continue
		}
		cmd, err := chessdto.DecodeCommand(raw)
		if err != nil {
			obslog.L().Debug("ws_malformed", zap.String("conn_id", c.id), zap.Error(err))
			g.metrics.Command("unknown", domain.CodeMalformed)
			c.Send(g.errorEvent("", "", err))
			continue
		}
		if claimed := cmd.ClaimedUser(); claimed != "" && claimed != c.p.UserID {
			g.metrics.Command(cmd.Type(), domain.CodeUnauthorized)
			c.Send(g.errorEvent(cmd.Game(), cmd.Type(), domain.ErrUnauthorized))
			continue
		}

		err = g.disp.Do(ctx, cmd.Game(), func(ctx context.Context) error {
			return g.handle(ctx, c, cmd)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			obslog.L().Info("ws_command_rejected",
				zap.String("conn_id", c.id),
				zap.String("user_id", c.p.UserID),
				zap.String("game_id", cmd.Game()),
				zap.String("type", cmd.Type()),
				zap.String("code", domain.Code(err)),
				zap.Error(err),
			)
			g.metrics.Command(cmd.Type(), domain.Code(err))
			c.Send(g.errorEvent(cmd.Game(), cmd.Type(), err))
			continue
		}
		g.metrics.Command(cmd.Type(), "ok")
	}
}

// handle runs on the game's dispatcher goroutine. Broadcasts happen only after
// the manager returned, so they always reflect committed state.
func (g *Gateway) handle(ctx context.Context, c *conn, cmd chessdto.Command) error {
	switch cmd := cmd.(type) {
	case chessdto.JoinCommand:
		return g.join(ctx, c, cmd)
	case chessdto.MoveCommand:
		u, err := g.mgr.ApplyMove(ctx, cmd.GameID, c.p.UserID, domain.Move{From: cmd.From, To: cmd.To, Promotion: cmd.Promotion})
		if err != nil {
			return err
		}
		g.publish(c, u)
		return nil
	case chessdto.ResignCommand:
		u, err := g.mgr.Resign(ctx, cmd.GameID, c.p.UserID)
		if err != nil {
			return err
		}
		g.publish(c, u)
		return nil
	default:
		return chessdto.ErrMalformed
	}
}

func (g *Gateway) join(ctx context.Context, c *conn, cmd chessdto.JoinCommand) error {
	res, err := g.mgr.Join(ctx, cmd.GameID, c.p, cmd.Spectate)
	if err != nil {
		return err
	}
	if stale := g.registry.Bind(cmd.GameID, c, res.Color); stale != nil {
		obslog.L().Info("ws_replaced", zap.String("game_id", cmd.GameID), zap.String("user_id", c.p.UserID), zap.String("stale_conn_id", stale.ID()))
		stale.Close("replaced by a newer connection")
	}
	if res.Game.Status == domain.StatusFinished {
		g.registry.MarkFinished(cmd.GameID)
	}
	g.updateRooms()

	c.Send(game.SessionEvent(chessdto.EventJoined, res.Game, res.Color))
	switch {
	case res.Started:
		for _, b := range g.registry.Peers(cmd.GameID) {
			b.Conn.Send(game.SessionEvent(chessdto.EventStarted, res.Game, b.Color))
		}
	case res.Color != domain.Spectator:
		ev := &chessdto.Event{
			Type:    chessdto.EventOpponentJoined,
			GameID:  res.Game.ID,
			Seats:   game.Seats(res.Game),
			Status:  string(res.Game.Status),
			Message: g.catalog.Text("notice.opponent_joined", map[string]string{"Name": res.Game.PlayerName(res.Color)}, ""),
		}
		g.registry.Broadcast(cmd.GameID, ev, c.id)
	}
	return nil
}

// publish sends a committed update to the room, and to the mover even when it never joined the room.
func (g *Gateway) publish(c *conn, u *game.Update) {
	gameID := u.Game.ID
	ev := game.UpdateEvent(u)
	g.registry.Broadcast(gameID, ev, "")
	if bound, ok := g.registry.GameOf(c.id); !ok || bound != gameID {
		c.Send(ev)
	}
	if u.Finished() {
		g.registry.MarkFinished(gameID)
		g.updateRooms()
	}
}

// disconnect unbinds c on its game's goroutine and tells the room when a player left.
func (g *Gateway) disconnect(c *conn) {
	gameID, ok := g.registry.GameOf(c.id)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := g.disp.Do(ctx, gameID, func(context.Context) error {
		gid, remaining, left, ok := g.registry.Unbind(c.id)
		g.updateRooms()
		if !ok || remaining == 0 || left.Color == domain.Spectator {
			return nil
		}
		name := left.UserID
		if v, err := g.mgr.View(ctx, gid); err == nil {
			if v.Status == domain.StatusFinished {
				return nil
			}
			name = v.PlayerName(left.Color)
		}
		g.registry.Broadcast(gid, &chessdto.Event{
			Type:    chessdto.EventOpponentDisconnected,
			GameID:  gid,
			Message: g.catalog.Text("notice.opponent_disconnected", map[string]string{"Name": name}, ""),
		}, "")
		obslog.L().Info("pvp_opponent_disconnected", zap.String("game_id", gid), zap.String("user_id", left.UserID))
		return nil
	})
	if err != nil {
		// Dispatcher is gone (shutdown); drop the binding directly.
		g.registry.Unbind(c.id)
		if !errors.Is(err, game.ErrDispatcherClosed) {
			obslog.L().Warn("ws_disconnect_error", zap.String("game_id", gameID), zap.Error(err))
		}
	}
}

func (g *Gateway) errorEvent(gameID, kind string, err error) *chessdto.Event {
	code := domain.Code(err)
	if errors.Is(err, chessdto.ErrMalformed) {
		code = domain.CodeMalformed
	}
	key := code
	if code == domain.CodeUnauthorized && (kind == chessdto.CommandMove || kind == chessdto.CommandResign) {
		key = "not_a_player"
	}
	return &chessdto.Event{
		Type:   chessdto.EventError,
		GameID: gameID,
		Error: &chessdto.DomainError{
			Code:      code,
			Message:   g.catalog.ErrorText(key),
			Retryable: code != domain.CodeMalformed && domain.Retryable(err),
		},
	}
}

func (g *Gateway) updateRooms() {
	rooms, _ := g.registry.Stats()
	g.metrics.SetRooms(rooms)
}

func (g *Gateway) track(c *conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conns == nil {
		return false
	}
	g.conns[c.id] = c
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(c *conn) {
	g.mu.Lock()
	if g.conns != nil {
		delete(g.conns, c.id)
	}
	g.mu.Unlock()
	g.wg.Done()
}

// Shutdown closes every open socket and waits for their handlers to return.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()
	for _, c := range conns {
		c.closeWith(websocket.StatusGoingAway, "server shutting down")
	}
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
