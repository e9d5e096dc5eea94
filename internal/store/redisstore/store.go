package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-pvp-server/internal/domain"
	"github.com/park285/cheese-pvp-server/internal/obslog"
	"github.com/park285/cheese-pvp-server/internal/store"
	"go.uber.org/zap"
)

const defaultRating = 1200

// Store keeps sessions as JSON records and ratings as hashes. Every
// read-modify-write runs under WATCH so a concurrent writer aborts the commit.
type Store struct {
	rdb           *redis.Client
	defaultRating int
	now           func() time.Time
}

type Option func(*Store)

// WithDefaultRating sets the rating new players start from.
func WithDefaultRating(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.defaultRating = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, defaultRating: defaultRating, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) LoadGame(ctx context.Context, gameID string) (*domain.GameSession, error) {
	raw, err := s.rdb.Get(ctx, gameKey(gameID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, gameID)
	}
	if err != nil {
		return nil, err
	}
	return decodeGame(raw)
}

func (s *Store) CreateGame(ctx context.Context, gameID, whiteID, whiteName string) (*domain.GameSession, error) {
	if strings.TrimSpace(gameID) == "" || strings.TrimSpace(whiteID) == "" {
		return nil, fmt.Errorf("create game: empty id")
	}
	g := domain.NewGameSession(gameID, whiteID, whiteName, s.now())
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	key := gameKey(g.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrGameExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.ZAdd(ctx, idxUserKey(g.WhiteID), redis.Z{Score: float64(g.CreatedAt.UnixMilli()), Member: g.ID})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, store.ErrGameExists
	}
	if err != nil {
		return nil, err
	}
	obslog.L().Debug("store_game_create", zap.String("game_id", g.ID), zap.String("white_id", g.WhiteID))
	return g, nil
}

func (s *Store) UpdateGame(ctx context.Context, gameID string, expectVersion int64, patch store.Patch) (*domain.GameSession, error) {
	var out *domain.GameSession
	key := gameKey(gameID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadTx(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if err := store.CheckVersion(cur, expectVersion); err != nil {
			return err
		}
		before := cur.Clone()
		if err := store.ApplyPatch(cur, patch, s.now()); err != nil {
			return err
		}
		raw, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			indexNewSeats(ctx, pipe, before, cur)
			return nil
		})
		if err != nil {
			return err
		}
		out = cur
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("%w: %s", store.ErrVersionConflict, gameID)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Settle(ctx context.Context, gameID string, expectVersion int64, patch store.Patch, deltas []store.RatingDelta) (*domain.GameSession, error) {
	keys := []string{gameKey(gameID)}
	for _, d := range deltas {
		keys = append(keys, userKey(d.UserID))
	}

	var out *domain.GameSession
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadTx(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if cur.Settled {
			out = cur
			return store.ErrAlreadySettled
		}
		if err := store.CheckVersion(cur, expectVersion); err != nil {
			return err
		}
		if err := store.ApplyPatch(cur, patch, s.now()); err != nil {
			return err
		}
		if cur.Status != domain.StatusFinished {
			return fmt.Errorf("%w: settle requires finished, got %s", store.ErrInvalidTransition, cur.Status)
		}
		cur.Settled = true
		for _, d := range deltas {
			n, err := tx.Exists(ctx, userKey(d.UserID)).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: %s", store.ErrUserNotFound, d.UserID)
			}
		}
		raw, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keys[0], raw, 0)
			for _, d := range deltas {
				pipe.HIncrBy(ctx, userKey(d.UserID), "rating", int64(d.Delta))
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = cur
		return nil
	}, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("%w: %s", store.ErrVersionConflict, gameID)
	}
	if errors.Is(err, store.ErrAlreadySettled) {
		return out, err
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateUserRating(ctx context.Context, userID string, delta int) error {
	key := userKey(userID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", store.ErrUserNotFound, userID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "rating", int64(delta))
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: rating %s", store.ErrVersionConflict, userID)
	}
	return err
}

// EnsureUser creates the rating row on first sight and refreshes the display name.
func (s *Store) EnsureUser(ctx context.Context, userID, username string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("ensure user: empty id")
	}
	key := userKey(userID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "rating", s.defaultRating)
		if name := strings.TrimSpace(username); name != "" {
			pipe.HSet(ctx, key, "username", name)
		}
		return nil
	})
	return err
}

func (s *Store) Rating(ctx context.Context, userID string) (int, error) {
	v, err := s.rdb.HGet(ctx, userKey(userID), "rating").Result()
	if err == redis.Nil {
		return 0, fmt.Errorf("%w: %s", store.ErrUserNotFound, userID)
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// ListGamesByUser returns the user's sessions, newest first.
func (s *Store) ListGamesByUser(ctx context.Context, userID string, limit int) ([]*domain.GameSession, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := s.rdb.ZRevRange(ctx, idxUserKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = gameKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.GameSession, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		g, err := decodeGame([]byte(raw))
		if err != nil {
			obslog.L().Warn("store_game_decode_error", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func loadTx(ctx context.Context, tx *redis.Tx, gameID string) (*domain.GameSession, error) {
	raw, err := tx.Get(ctx, gameKey(gameID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, gameID)
	}
	if err != nil {
		return nil, err
	}
	return decodeGame(raw)
}

func decodeGame(raw []byte) (*domain.GameSession, error) {
	var g domain.GameSession
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game: %w", err)
	}
	if g.MoveLog == nil {
		g.MoveLog = []domain.Move{}
	}
	return &g, nil
}

func indexNewSeats(ctx context.Context, pipe redis.Pipeliner, before, after *domain.GameSession) {
	score := float64(after.CreatedAt.UnixMilli())
	if before.WhiteID == "" && after.WhiteID != "" {
		pipe.ZAdd(ctx, idxUserKey(after.WhiteID), redis.Z{Score: score, Member: after.ID})
	}
	if before.BlackID == "" && after.BlackID != "" {
		pipe.ZAdd(ctx, idxUserKey(after.BlackID), redis.Z{Score: score, Member: after.ID})
	}
}

func gameKey(id string) string        { return "pvp:game:" + strings.TrimSpace(id) }
func idxUserKey(userID string) string { return "pvp:index:user:" + strings.TrimSpace(userID) }
func userKey(userID string) string    { return "pvp:user:" + strings.TrimSpace(userID) }
