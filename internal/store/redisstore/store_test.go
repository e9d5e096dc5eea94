package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-pvp-server/internal/domain"
	"github.com/park285/cheese-pvp-server/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb)
}

func TestCreateAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	g, err := s.CreateGame(ctx, "g1", "alice", "Alice")
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if g.Status != domain.StatusWaiting || g.WhiteID != "alice" || g.CurrentTurn != domain.White {
		t.Fatalf("unexpected new game: %+v", g)
	}
	if _, err := s.CreateGame(ctx, "g1", "bob", "Bob"); !errors.Is(err, store.ErrGameExists) {
		t.Fatalf("expected ErrGameExists, got %v", err)
	}
	got, err := s.LoadGame(ctx, "g1")
	if err != nil {
		t.Fatalf("LoadGame: %v", err)
	}
	if got.Position != domain.InitialFEN || got.Version != 1 || len(got.MoveLog) != 0 {
		t.Fatalf("unexpected loaded game: %+v", got)
	}
	if _, err := s.LoadGame(ctx, "missing"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestUpdateGameVersionAndSeats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateGame(ctx, "g1", "alice", "Alice"); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	g, err := s.UpdateGame(ctx, "g1", 1, store.Patch{BlackID: store.Ptr("bob"), BlackName: store.Ptr("Bob")})
	if err != nil {
		t.Fatalf("seat bob: %v", err)
	}
	if g.BlackID != "bob" || g.Version != 2 {
		t.Fatalf("unexpected game: %+v", g)
	}

	if _, err := s.UpdateGame(ctx, "g1", 1, store.Patch{Status: store.Ptr(domain.StatusPlaying)}); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if _, err := s.UpdateGame(ctx, "g1", 2, store.Patch{BlackID: store.Ptr("carol")}); !errors.Is(err, store.ErrSeatTaken) {
		t.Fatalf("expected ErrSeatTaken, got %v", err)
	}
	got, _ := s.LoadGame(ctx, "g1")
	if got.BlackID != "bob" || got.Version != 2 {
		t.Fatalf("rejected updates must not persist: %+v", got)
	}

	list, err := s.ListGamesByUser(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("ListGamesByUser: %v", err)
	}
	if len(list) != 1 || list[0].ID != "g1" {
		t.Fatalf("unexpected index: %+v", list)
	}
}

func TestConcurrentSeatingHasOneWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateGame(ctx, "g1", "alice", ""); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for _, u := range []string{"bob", "carol", "dave", "erin"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			if _, err := s.UpdateGame(ctx, "g1", 1, store.Patch{BlackID: store.Ptr(user)}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("expected exactly one seat winner, got %d", ok)
	}
}

func finishedPatch(winner, loser string) store.Patch {
	return store.Patch{
		Status:   store.Ptr(domain.StatusFinished),
		WinnerID: store.Ptr(winner),
		LoserID:  store.Ptr(loser),
		Reason:   store.Ptr(domain.ReasonResigned),
	}
}

func playingGame(t *testing.T, s *Store) *domain.GameSession {
	t.Helper()
	ctx := context.Background()
	for _, u := range []string{"alice", "bob"} {
		if err := s.EnsureUser(ctx, u, u); err != nil {
			t.Fatalf("EnsureUser: %v", err)
		}
	}
	if _, err := s.CreateGame(ctx, "g1", "alice", "alice"); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	g, err := s.UpdateGame(ctx, "g1", 0, store.Patch{BlackID: store.Ptr("bob"), Status: store.Ptr(domain.StatusPlaying)})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return g
}

func TestSettleAppliesDeltasOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	g := playingGame(t, s)
	deltas := []store.RatingDelta{{UserID: "alice", Delta: 25}, {UserID: "bob", Delta: -25}}

	out, err := s.Settle(ctx, "g1", g.Version, finishedPatch("alice", "bob"), deltas)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !out.Settled || out.Status != domain.StatusFinished || out.EndTime == nil {
		t.Fatalf("unexpected settled game: %+v", out)
	}

	again, err := s.Settle(ctx, "g1", 0, finishedPatch("alice", "bob"), deltas)
	if !errors.Is(err, store.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	if again == nil || again.WinnerID != "alice" {
		t.Fatalf("duplicate settle must return stored game, got %+v", again)
	}

	a, _ := s.Rating(ctx, "alice")
	b, _ := s.Rating(ctx, "bob")
	if a != 1225 || b != 1175 {
		t.Fatalf("unexpected ratings alice=%d bob=%d", a, b)
	}
}

func TestSettleUnknownUserIsAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	g := playingGame(t, s)

	deltas := []store.RatingDelta{{UserID: "alice", Delta: 25}, {UserID: "ghost", Delta: -25}}
	if _, err := s.Settle(ctx, "g1", g.Version, finishedPatch("alice", "ghost"), deltas); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	a, _ := s.Rating(ctx, "alice")
	if a != 1200 {
		t.Fatalf("partial rating update observed: alice=%d", a)
	}
	cur, _ := s.LoadGame(ctx, "g1")
	if cur.Status != domain.StatusPlaying || cur.Settled {
		t.Fatalf("game must stay at last committed state: %+v", cur)
	}
}

func TestUpdateUserRating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpdateUserRating(ctx, "nobody", 5); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := s.EnsureUser(ctx, "alice", "Alice"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := s.EnsureUser(ctx, "alice", "Alice"); err != nil {
		t.Fatalf("EnsureUser twice: %v", err)
	}
	if err := s.UpdateUserRating(ctx, "alice", -7); err != nil {
		t.Fatalf("UpdateUserRating: %v", err)
	}
	if r, _ := s.Rating(ctx, "alice"); r != 1193 {
		t.Fatalf("unexpected rating %d", r)
	}
}

func TestParseURL(t *testing.T) {
	opts, err := ParseURL("redis://:secret@localhost:6380/3")
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 3 || opts.TLSConfig != nil {
		t.Fatalf("unexpected options: %+v", opts)
	}
	tlsOpts, err := ParseURL("rediss://cache.internal:6379")
	if err != nil {
		t.Fatalf("ParseURL rediss: %v", err)
	}
	if tlsOpts.TLSConfig == nil {
		t.Fatalf("expected TLS for rediss")
	}
	if _, err := ParseURL("http://localhost"); err == nil {
		t.Fatalf("expected scheme error")
	}
}
