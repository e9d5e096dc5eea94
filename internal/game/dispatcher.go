package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-pvp-server/internal/domain"
	"github.com/park285/cheese-pvp-server/internal/lock"
	"github.com/park285/cheese-pvp-server/internal/obslog"
)

// ErrDispatcherClosed is returned by Do after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

const mailboxSize = 64

// Dispatcher runs the commands of one game strictly one after another on a
// goroutine owned by that game. Different games run in parallel. Idle game
// goroutines exit and are recreated on demand.
type Dispatcher struct {
	locker lock.Locker
	idle   time.Duration

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup
}

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

type actor struct {
	inbox   chan job
	pending int
}

// NewDispatcher creates a dispatcher. A nil locker disables the cross-process lock.
func NewDispatcher(locker lock.Locker, idle time.Duration) *Dispatcher {
	if locker == nil {
		locker = lock.Nop{}
	}
	if idle <= 0 {
		idle = time.Minute
	}
	return &Dispatcher{locker: locker, idle: idle, actors: make(map[string]*actor), quit: make(chan struct{})}
}

// Do runs fn on gameID's goroutine and waits for its result.
func (d *Dispatcher) Do(ctx context.Context, gameID string, fn func(context.Context) error) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	a := d.actors[gameID]
	if a == nil {
		a = &actor{inbox: make(chan job, mailboxSize)}
		d.actors[gameID] = a
		d.wg.Add(1)
		go d.run(gameID, a)
	}
	a.pending++
	d.mu.Unlock()

	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case a.inbox <- j:
	case <-ctx.Done():
		d.mu.Lock()
		a.pending--
		d.mu.Unlock()
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(gameID string, a *actor) {
	defer d.wg.Done()
	timer := time.NewTimer(d.idle)
	defer timer.Stop()
	for {
		select {
		case j := <-a.inbox:
			d.exec(gameID, a, j)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idle)
		case <-timer.C:
			d.mu.Lock()
			if a.pending == 0 {
				delete(d.actors, gameID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			timer.Reset(d.idle)
		case <-d.quit:
			d.drain(gameID, a)
			return
		}
	}
}

// drain finishes the commands already accepted for gameID.
func (d *Dispatcher) drain(gameID string, a *actor) {
	for {
		d.mu.Lock()
		n := a.pending
		d.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case j := <-a.inbox:
			d.exec(gameID, a, j)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (d *Dispatcher) exec(gameID string, a *actor, j job) {
	err := d.call(gameID, j)
	d.mu.Lock()
	a.pending--
	d.mu.Unlock()
	j.done <- err
}

func (d *Dispatcher) call(gameID string, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("dispatch_panic", zap.String("game_id", gameID), zap.Any("panic", r))
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()
	release, err := d.locker.Acquire(j.ctx, gameID)
	if err != nil {
		obslog.L().Warn("dispatch_lock_error", zap.String("game_id", gameID), zap.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	defer release()
	return j.fn(j.ctx)
}

// Active returns the number of live game goroutines.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.actors)
}

// Close stops accepting commands, lets queued ones finish and waits for every game goroutine.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.quit)
	d.mu.Unlock()
	d.wg.Wait()
}
