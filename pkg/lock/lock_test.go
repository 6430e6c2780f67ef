package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLock(t *testing.T) (*RedisRefreshLock, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisRefreshLock(client), mr
}

func TestRedisRefreshLockSecondAcquireFails(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestRedisLock(t)

	first, err := l.Acquire(ctx, "user-1|github", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !first.Acquired {
		t.Fatal("first Acquire() = false, want true")
	}

	second, err := l.Acquire(ctx, "user-1|github", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if second.Acquired {
		t.Fatal("second Acquire() = true, want false while first holder lives")
	}
}

func TestRedisRefreshLockReleaseAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestRedisLock(t)

	first, err := l.Acquire(ctx, "user-1|github", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if err := l.Release(ctx, "user-1|github", first.Token); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	second, err := l.Acquire(ctx, "user-1|github", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !second.Acquired {
		t.Fatal("Acquire() after Release = false, want true")
	}
}

func TestRedisRefreshLockReleaseWithStaleTokenIsNoop(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestRedisLock(t)

	first, err := l.Acquire(ctx, "user-1|github", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	if err := l.Release(ctx, "user-1|github", "not-the-real-token"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	stillHeld, err := l.Acquire(ctx, "user-1|github", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if stillHeld.Acquired {
		t.Fatal("Acquire() after stale Release = true, want lock to still be held")
	}
	_ = first
}

func TestRedisRefreshLockAwaitReleaseReturnsOnceFreed(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestRedisLock(t)

	first, err := l.Acquire(ctx, "user-1|github", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- l.AwaitRelease(ctx, "user-1|github", 10*time.Millisecond, time.Second)
	}()

	time.Sleep(30 * time.Millisecond)
	if err := l.Release(ctx, "user-1|github", first.Token); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AwaitRelease returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitRelease did not return after release")
	}
}

func TestRedisRefreshLockAwaitReleaseTimesOut(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestRedisLock(t)

	if _, err := l.Acquire(ctx, "user-1|github", time.Minute); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	err := l.AwaitRelease(ctx, "user-1|github", 10*time.Millisecond, 50*time.Millisecond)
	if err == nil {
		t.Fatal("AwaitRelease() = nil, want timeout error")
	}
}

func TestLocalRefreshLockSecondAcquireFails(t *testing.T) {
	ctx := context.Background()
	l := NewLocalRefreshLock()

	first, err := l.Acquire(ctx, "user-1|github", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !first.Acquired {
		t.Fatal("first Acquire() = false, want true")
	}

	second, err := l.Acquire(ctx, "user-1|github", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if second.Acquired {
		t.Fatal("second Acquire() = true, want false while first holder lives")
	}
}

func TestLocalRefreshLockKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewLocalRefreshLock()

	if _, err := l.Acquire(ctx, "user-1|github", time.Minute); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	other, err := l.Acquire(ctx, "user-1|reddit", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !other.Acquired {
		t.Fatal("Acquire() for a different key = false, want true")
	}
}

func TestLocalRefreshLockReleaseAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	l := NewLocalRefreshLock()

	first, err := l.Acquire(ctx, "user-1|github", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if err := l.Release(ctx, "user-1|github", first.Token); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	second, err := l.Acquire(ctx, "user-1|github", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !second.Acquired {
		t.Fatal("Acquire() after Release = false, want true")
	}
}
