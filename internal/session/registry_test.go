package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-pvp-server/internal/domain"
	"github.com/park285/cheese-pvp-server/internal/identity"
	"github.com/park285/cheese-pvp-server/internal/store/redisstore"
	"github.com/park285/cheese-pvp-server/pkg/chessdto"
)

type fakeConn struct {
	id, user string
	mu       sync.Mutex
	events   []*chessdto.Event
	closed   string
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.user }
func (c *fakeConn) Send(ev *chessdto.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}
func (c *fakeConn) Close(reason string) { c.closed = reason }

func newTestRegistry(t *testing.T, maxSpectators int) *Registry {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRegistry(redisstore.New(rdb), maxSpectators)
}

func principal(id string) identity.Principal { return identity.Principal{UserID: id, Username: id} }

func TestResolveSeatsInArrivalOrder(t *testing.T) {
	r := newTestRegistry(t, 2)
	ctx := context.Background()

	g, c, err := r.ResolveOrCreate(ctx, "g1", principal("alice"), false)
	if err != nil || c != domain.White || g.Status != domain.StatusWaiting {
		t.Fatalf("first join: color=%q err=%v game=%+v", c, err, g)
	}
	g, c, err = r.ResolveOrCreate(ctx, "g1", principal("bob"), false)
	if err != nil || c != domain.Black || g.BlackID != "bob" {
		t.Fatalf("second join: color=%q err=%v game=%+v", c, err, g)
	}
	// Seated users keep their color on rejoin.
	if _, c, err = r.ResolveOrCreate(ctx, "g1", principal("alice"), false); err != nil || c != domain.White {
		t.Fatalf("rejoin: color=%q err=%v", c, err)
	}
	if _, _, err = r.ResolveOrCreate(ctx, "g1", principal("carol"), false); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("third user: expected ErrUnauthorized, got %v", err)
	}
}

func TestResolveSelfPlayNeverTakesSecondSeat(t *testing.T) {
	r := newTestRegistry(t, 0)
	ctx := context.Background()
	if _, _, err := r.ResolveOrCreate(ctx, "g1", principal("alice"), false); err != nil {
		t.Fatal(err)
	}
	g, c, err := r.ResolveOrCreate(ctx, "g1", principal("alice"), false)
	if err != nil || c != domain.White || g.BlackID != "" {
		t.Fatalf("same user must stay white with black open: color=%q game=%+v err=%v", c, g, err)
	}
}

func TestResolveSpectators(t *testing.T) {
	r := newTestRegistry(t, 1)
	ctx := context.Background()
	if _, _, err := r.ResolveOrCreate(ctx, "missing", principal("eve"), true); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("spectating an unknown game: expected ErrGameNotFound, got %v", err)
	}
	_, _, _ = r.ResolveOrCreate(ctx, "g1", principal("alice"), false)
	_, _, _ = r.ResolveOrCreate(ctx, "g1", principal("bob"), false)

	g, c, err := r.ResolveOrCreate(ctx, "g1", principal("eve"), true)
	if err != nil || c != domain.Spectator || g.ColorOf("eve") != "" {
		t.Fatalf("spectate: color=%q err=%v", c, err)
	}
	r.Bind("g1", &fakeConn{id: "c-eve", user: "eve"}, domain.Spectator)
	if _, _, err := r.ResolveOrCreate(ctx, "g1", principal("mallory"), true); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("spectator limit: expected ErrUnauthorized, got %v", err)
	}
}

func TestConcurrentJoinsSeatTwoUsers(t *testing.T) {
	r := newTestRegistry(t, 0)
	ctx := context.Background()
	if _, _, err := r.ResolveOrCreate(ctx, "g1", principal("alice"), false); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	colors := make([]domain.Color, 2)
	errs := make([]error, 2)
	for i, u := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			_, colors[i], errs[i] = r.ResolveOrCreate(ctx, "g1", principal(u), false)
		}(i, u)
	}
	wg.Wait()
	black, unauthorized := 0, 0
	for i := range errs {
		switch {
		case errs[i] == nil && colors[i] == domain.Black:
			black++
		case errors.Is(errs[i], domain.ErrUnauthorized):
			unauthorized++
		}
	}
	if black != 1 || unauthorized != 1 {
		t.Fatalf("expected one black and one rejection, got colors=%v errs=%v", colors, errs)
	}
}

func TestBindReplacesStaleSocket(t *testing.T) {
	r := newTestRegistry(t, 0)
	old := &fakeConn{id: "c1", user: "alice"}
	fresh := &fakeConn{id: "c2", user: "alice"}
	other := &fakeConn{id: "c3", user: "bob"}

	if stale := r.Bind("g1", old, domain.White); stale != nil {
		t.Fatalf("unexpected stale conn")
	}
	r.Bind("g1", other, domain.Black)
	if stale := r.Bind("g1", fresh, domain.White); stale != old {
		t.Fatalf("expected old socket to be returned as stale")
	}
	if peers := r.Peers("g1"); len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}
	if n := r.Broadcast("g1", &chessdto.Event{Type: chessdto.EventUpdated}, "c2"); n != 1 || len(other.events) != 1 {
		t.Fatalf("broadcast should reach only bob, n=%d", n)
	}
	if _, _, _, ok := r.Unbind("c1"); ok {
		t.Fatalf("stale socket should already be unbound")
	}
}

func TestUnbindKeepsActiveRoomsAndDropsFinished(t *testing.T) {
	r := newTestRegistry(t, 0)
	r.Bind("g1", &fakeConn{id: "c1", user: "alice"}, domain.White)
	r.Bind("g1", &fakeConn{id: "c2", user: "bob"}, domain.Black)

	gameID, remaining, left, ok := r.Unbind("c1")
	if !ok || gameID != "g1" || remaining != 1 || left.Color != domain.White || left.UserID != "alice" {
		t.Fatalf("unexpected unbind: %q %d %+v %v", gameID, remaining, left, ok)
	}
	if _, remaining, _, _ = r.Unbind("c2"); remaining != 0 {
		t.Fatalf("expected empty room, got %d", remaining)
	}
	if !r.HasRoom("g1") {
		t.Fatalf("unfinished room must be retained for reconnection")
	}

	r.Bind("g1", &fakeConn{id: "c3", user: "alice"}, domain.White)
	r.MarkFinished("g1")
	if !r.HasRoom("g1") {
		t.Fatalf("room with sockets must stay")
	}
	r.Unbind("c3")
	if r.HasRoom("g1") {
		t.Fatalf("finished empty room must be discarded")
	}
	if rooms, conns := r.Stats(); rooms != 0 || conns != 0 {
		t.Fatalf("unexpected stats %d/%d", rooms, conns)
	}
}

func TestSocketBelongsToOneRoom(t *testing.T) {
	r := newTestRegistry(t, 0)
	c := &fakeConn{id: "c1", user: "alice"}
	r.Bind("g1", c, domain.White)
	r.Bind("g2", c, domain.White)
	if len(r.Peers("g1")) != 0 || len(r.Peers("g2")) != 1 {
		t.Fatalf("socket should have moved to g2")
	}
}
