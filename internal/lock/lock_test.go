package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	lk, _ := newTestLocker(t)
	ctx := context.Background()

	lease, err := lk.Acquire(ctx, "dispatch", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.HolderID() == "" {
		t.Fatal("empty holder id")
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Released lock can be re-acquired immediately.
	if _, err := lk.Acquire(ctx, "dispatch", time.Minute); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
}

func TestAcquireConflict(t *testing.T) {
	lk, _ := newTestLocker(t)
	ctx := context.Background()

	if _, err := lk.Acquire(ctx, "dispatch", time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := lk.Acquire(ctx, "dispatch", time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("second acquire: got %v, want ErrNotAcquired", err)
	}
	// A different lock name is unaffected.
	if _, err := lk.Acquire(ctx, "other", time.Minute); err != nil {
		t.Fatalf("unrelated lock: %v", err)
	}
}

func TestStaleReleaseDoesNotStealLock(t *testing.T) {
	lk, mr := newTestLocker(t)
	ctx := context.Background()

	stale, err := lk.Acquire(ctx, "dispatch", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(time.Second) // lease expires

	fresh, err := lk.Acquire(ctx, "dispatch", time.Minute)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}

	// The expired holder's late release must not clear the new lease.
	if err := stale.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("stale release: got %v, want ErrNotHeld", err)
	}
	if _, err := lk.Acquire(ctx, "dispatch", time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatal("stale release cleared a lock owned by another holder")
	}
	if err := fresh.Release(ctx); err != nil {
		t.Fatalf("fresh release: %v", err)
	}
}

func TestAcquireFailsClosedWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lk := New(rdb)
	mr.Close()

	_, err := lk.Acquire(context.Background(), "dispatch", time.Minute)
	if err == nil || errors.Is(err, ErrNotAcquired) {
		t.Fatalf("got %v, want a hard error when the lock store is unreachable", err)
	}
}

func TestMutualExclusionUnderContention(t *testing.T) {
	lk, _ := newTestLocker(t)
	ctx := context.Background()

	const clients = 32
	var holders int64
	var acquired int64
	var conflicts int64

	var wg sync.WaitGroup
	wg.Add(clients)
	for i := 0; i < clients; i++ {
		go func() {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				lease, err := lk.Acquire(ctx, "hotlock", time.Minute)
				if errors.Is(err, ErrNotAcquired) {
					atomic.AddInt64(&conflicts, 1)
					continue
				}
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				if h := atomic.AddInt64(&holders, 1); h != 1 {
					t.Errorf("observed %d concurrent holders", h)
				}
				atomic.AddInt64(&acquired, 1)
				atomic.AddInt64(&holders, -1)
				if err := lease.Release(ctx); err != nil {
					t.Errorf("release: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if acquired == 0 {
		t.Fatal("no goroutine ever acquired the lock")
	}
	t.Logf("acquired=%d conflicts=%d", acquired, conflicts)
}
