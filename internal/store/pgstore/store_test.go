package pgstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/park285/cheese-pvp-server/internal/domain"
	"github.com/park285/cheese-pvp-server/internal/store"
)

// newTestStore needs a disposable database in PVP_TEST_DATABASE_URL.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("PVP_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PVP_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestPostgresLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	white, black := "w-"+uuid.NewString(), "b-"+uuid.NewString()
	for _, u := range []string{white, black} {
		if err := s.EnsureUser(ctx, u, u[:6]); err != nil {
			t.Fatalf("EnsureUser: %v", err)
		}
	}

	g, err := s.CreateGame(ctx, id, white, "White")
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := s.CreateGame(ctx, id, black, "Black"); !errors.Is(err, store.ErrGameExists) {
		t.Fatalf("expected ErrGameExists, got %v", err)
	}
	g, err = s.UpdateGame(ctx, id, g.Version, store.Patch{BlackID: store.Ptr(black), Status: store.Ptr(domain.StatusPlaying)})
	if err != nil {
		t.Fatalf("UpdateGame: %v", err)
	}
	if _, err := s.UpdateGame(ctx, id, g.Version-1, store.Patch{}); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	patch := store.Patch{Status: store.Ptr(domain.StatusFinished), WinnerID: store.Ptr(black), LoserID: store.Ptr(white), Reason: store.Ptr(domain.ReasonResigned)}
	deltas := []store.RatingDelta{{UserID: black, Delta: 25}, {UserID: white, Delta: -25}}
	if _, err := s.Settle(ctx, id, g.Version, patch, deltas); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if _, err := s.Settle(ctx, id, 0, patch, deltas); !errors.Is(err, store.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	wr, _ := s.Rating(ctx, white)
	br, _ := s.Rating(ctx, black)
	if wr != defaultRating-25 || br != defaultRating+25 {
		t.Fatalf("unexpected ratings white=%d black=%d", wr, br)
	}

	list, err := s.ListGamesByUser(ctx, black, 5)
	if err != nil || len(list) == 0 || list[0].ID != id {
		t.Fatalf("ListGamesByUser: %v %+v", err, list)
	}
}
