// Package lock implements the distributed refresh lock that coordinates
// token refresh across SDK instances (spec §4.2): at most one instance
// refreshes a given (user, provider) token at a time, and instances that
// lose the race wait for the winner to finish and then re-read the token
// store instead of refreshing themselves.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Result is the outcome of an Acquire call.
type Result struct {
	// Acquired is true if the caller now owns the lock and must refresh.
	Acquired bool
	// Token identifies this holder; pass it to Release.
	Token string
}

// RefreshLock coordinates concurrent refreshes of the same token across
// process boundaries.
type RefreshLock interface {
	// Acquire attempts to take the lock for key, held for at most ttl.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Result, error)

	// Release gives up a lock previously acquired with token. Releasing a
	// lock this holder no longer owns (expired, stolen) is not an error.
	Release(ctx context.Context, key, token string) error

	// AwaitRelease blocks until key is no longer held, pollInterval passes
	// between checks, or timeout elapses. Callers use this after losing
	// Acquire, so they can re-read the refreshed token once the winner is
	// done.
	AwaitRelease(ctx context.Context, key string, pollInterval, timeout time.Duration) error
}

// releaseScript deletes the key only if it still holds our token, so a
// slow holder can never clobber a lock some other holder has since taken
// after its TTL expired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisRefreshLock is the cross-instance RefreshLock backend, built on a
// SET NX EX for acquisition and a compare-and-delete Lua script for
// release (so an expired holder can never release a lock someone else
// has since acquired).
type RedisRefreshLock struct {
	client *redis.Client
	prefix string
}

// NewRedisRefreshLock creates a distributed refresh lock over client.
func NewRedisRefreshLock(client *redis.Client) *RedisRefreshLock {
	return &RedisRefreshLock{client: client, prefix: "connectkit:refreshlock:"}
}

func (l *RedisRefreshLock) fullKey(key string) string { return l.prefix + key }

func (l *RedisRefreshLock) Acquire(ctx context.Context, key string, ttl time.Duration) (Result, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.fullKey(key), token, ttl).Result()
	if err != nil {
		return Result{}, fmt.Errorf("lock: acquiring %s: %w", key, err)
	}
	if !ok {
		return Result{Acquired: false}, nil
	}
	return Result{Acquired: true, Token: token}, nil
}

func (l *RedisRefreshLock) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.fullKey(key)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock: releasing %s: %w", key, err)
	}
	return nil
}

func (l *RedisRefreshLock) AwaitRelease(ctx context.Context, key string, pollInterval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		exists, err := l.client.Exists(ctx, l.fullKey(key)).Result()
		if err != nil {
			return fmt.Errorf("lock: polling %s: %w", key, err)
		}
		if exists == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("lock: waiting for %s: %w", key, ErrWaitTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ErrWaitTimeout is returned by AwaitRelease when timeout elapses before
// the lock is released.
var ErrWaitTimeout = errors.New("lock: wait timeout")

// LocalRefreshLock is the degraded, single-process RefreshLock used when
// no coordination service (Redis) is configured. It still deduplicates
// concurrent refreshes within one process, keyed the same way the Redis
// backend is, it just can't coordinate across instances.
type LocalRefreshLock struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocalRefreshLock creates an in-process-only refresh lock.
func NewLocalRefreshLock() *LocalRefreshLock {
	return &LocalRefreshLock{held: make(map[string]chan struct{})}
}

func (l *LocalRefreshLock) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.held[key]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		l.held[key] = ch
	}
	return ch
}

func (l *LocalRefreshLock) Acquire(ctx context.Context, key string, ttl time.Duration) (Result, error) {
	select {
	case <-l.slot(key):
		return Result{Acquired: true, Token: "local"}, nil
	default:
		return Result{Acquired: false}, nil
	}
}

func (l *LocalRefreshLock) Release(ctx context.Context, key, token string) error {
	select {
	case l.slot(key) <- struct{}{}:
	default:
	}
	return nil
}

func (l *LocalRefreshLock) AwaitRelease(ctx context.Context, key string, pollInterval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	slot := l.slot(key)

	for {
		select {
		case <-slot:
			slot <- struct{}{}
			return nil
		default:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("lock: waiting for %s: %w", key, ErrWaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
