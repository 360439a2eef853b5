package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog/log"
)

// ErrPassRunning is returned by Exclusive when another pass holds the guard.
var ErrPassRunning = errors.New("a pass is already running")

// Guard keeps passes from overlapping. TryAcquire never waits: when the
// guard is held it returns ok=false.
type Guard interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// Exclusive runs fn while holding g. When g is held elsewhere fn is not
// called and ErrPassRunning is returned.
func Exclusive(ctx context.Context, g Guard, fn func(ctx context.Context)) error {
	release, ok, err := g.TryAcquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPassRunning
	}
	defer release()

	fn(ctx)
	return nil
}

// LocalGuard serializes passes inside one process.
type LocalGuard struct {
	mu sync.Mutex
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{}
}

func (g *LocalGuard) TryAcquire(context.Context) (func(), bool, error) {
	if !g.mu.TryLock() {
		return nil, false, nil
	}
	return g.mu.Unlock, true, nil
}

// RedisGuard serializes passes across processes with a redis lock. The lock
// is refreshed every half TTL while held, so the TTL only bounds how long a
// crashed holder blocks later passes.
type RedisGuard struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
}

func NewRedisGuard(locker *redislock.Client, key string, ttl time.Duration) *RedisGuard {
	if key == "" {
		key = "stockcast:pass"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisGuard{locker: locker, key: key, ttl: ttl}
}

func (g *RedisGuard) TryAcquire(ctx context.Context) (func(), bool, error) {
	lock, err := g.locker.Obtain(ctx, g.key, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to obtain lock %s: %w", g.key, err)
	}

	stop := keepAlive(g.ttl/2, func(ctx context.Context) error {
		return lock.Refresh(ctx, g.ttl, nil)
	})
	release := func() {
		stop()
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			log.Warn().Err(err).Str("key", g.key).Msg("failed to release pass lock")
		}
	}
	return release, true, nil
}

// keepAlive calls refresh every interval until stop is called. It gives up
// once refresh reports the lock as lost.
func keepAlive(interval time.Duration, refresh func(ctx context.Context) error) (stop func()) {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := refresh(ctx)
				switch {
				case err == nil, ctx.Err() != nil:
				case errors.Is(err, redislock.ErrNotObtained):
					log.Error().Err(err).Msg("pass lock lost, another pass may start")
					return
				default:
					log.Warn().Err(err).Msg("failed to refresh pass lock")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// ChainGuard acquires every guard in order and releases them in reverse.
type ChainGuard []Guard

func (c ChainGuard) TryAcquire(ctx context.Context) (func(), bool, error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, g := range c {
		release, ok, err := g.TryAcquire(ctx)
		if err != nil || !ok {
			releaseAll()
			return nil, false, err
		}
		releases = append(releases, release)
	}
	return releaseAll, true, nil
}
