// Package lock provides a per-game Redis mutex so that several server processes
// keep a single writer per gameId.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-pvp-server/internal/obslog"
)

// ErrLockBusy is returned when the lock could not be taken before ctx ended.
var ErrLockBusy = errors.New("game lock busy")

// Locker serializes work on one game across processes.
type Locker interface {
	Acquire(ctx context.Context, gameID string) (release func(), err error)
}

const keyPrefix = "pvp:lock:game:"

// Release only the holder's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX PX lock with a random token per holder.
type RedisLocker struct {
	rdb     *redis.Client
	ttl     time.Duration
	backoff time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, backoff: 20 * time.Millisecond}
}

func Key(gameID string) string { return keyPrefix + gameID }

// TryAcquire makes a single attempt. ok is false when someone else holds the lock.
func (l *RedisLocker) TryAcquire(ctx context.Context, gameID string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, Key(gameID), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("set game lock: %w", err)
	}
	return token, ok, nil
}

// Acquire retries with a capped backoff until the lock is taken or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, gameID string) (func(), error) {
	wait := l.backoff
	for {
		token, ok, err := l.TryAcquire(ctx, gameID)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { l.release(gameID, token) }, nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %s", ErrLockBusy, gameID)
		case <-t.C:
		}
		if wait < 250*time.Millisecond {
			wait *= 2
		}
	}
}

func (l *RedisLocker) release(gameID, token string) {
	// The caller's context may already be cancelled; release on a short detached one.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := releaseScript.Run(ctx, l.rdb, []string{Key(gameID)}, token).Int()
	if err != nil {
		obslog.L().Warn("game_lock_release_error", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	if n == 0 {
		obslog.L().Warn("game_lock_expired", zap.String("game_id", gameID))
	}
}

// Nop is used when cross-process locking is disabled.
type Nop struct{}

func (Nop) Acquire(context.Context, string) (func(), error) { return func() {}, nil }
