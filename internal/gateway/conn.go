package gateway

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-pvp-server/internal/identity"
	"github.com/park285/cheese-pvp-server/internal/obslog"
	"github.com/park285/cheese-pvp-server/pkg/chessdto"
)

const writeTimeout = 5 * time.Second

// conn is one accepted socket. Events are queued on out and written by a
// dedicated goroutine so a broadcast never waits on a slow client.
type conn struct {
	id string
	p  identity.Principal
	ws *websocket.Conn

	out    chan *chessdto.Event
	done   chan struct{}
	once   sync.Once
	onSlow func()
}

func newConn(ws *websocket.Conn, p identity.Principal, outbox int, onSlow func()) *conn {
	return &conn{
		id:     uuid.NewString(),
		p:      p,
		ws:     ws,
		out:    make(chan *chessdto.Event, outbox),
		done:   make(chan struct{}),
		onSlow: onSlow,
	}
}

func (c *conn) ID() string     { return c.id }
func (c *conn) UserID() string { return c.p.UserID }

// Send queues ev. A full outbox drops the socket.
func (c *conn) Send(ev *chessdto.Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- ev:
	default:
		obslog.L().Warn("ws_slow_consumer", zap.String("conn_id", c.id), zap.String("user_id", c.p.UserID))
		if c.onSlow != nil {
			c.onSlow()
		}
		c.closeWith(websocket.StatusPolicyViolation, "slow consumer")
	}
}

func (c *conn) Close(reason string) { c.closeWith(websocket.StatusNormalClosure, reason) }

func (c *conn) closeWith(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		// The close handshake waits for the peer; never block the caller on it.
		go func() { _ = c.ws.Close(code, reason) }()
	})
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case ev := <-c.out:
			raw, err := json.Marshal(ev)
			if err != nil {
				obslog.L().Error("ws_encode_error", zap.String("conn_id", c.id), zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.ws.Write(wctx, websocket.MessageText, raw)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_write_error", zap.String("conn_id", c.id), zap.Error(err))
				c.closeWith(websocket.StatusGoingAway, "write failed")
				return
			}
		}
	}
}

func (c *conn) pingLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_ping_failed", zap.String("conn_id", c.id), zap.Error(err))
				c.closeWith(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}
