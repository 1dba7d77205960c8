package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func guardedPublisher(t *testing.T, guardTTL time.Duration) (*Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewPublisher("amqp://unused", rdb, guardTTL, nil), mr
}

func TestReserveSuppressesDuplicateWithinGuardWindow(t *testing.T) {
	p, _ := guardedPublisher(t, 30*time.Minute)
	ctx := context.Background()

	if !p.reserve(ctx, "2261-12431") {
		t.Fatal("first claim must win")
	}
	if p.reserve(ctx, "2261-12431") {
		t.Fatal("re-submitting the same job within the guard window must be a no-op")
	}
	if !p.reserve(ctx, "2261-12432") {
		t.Fatal("claims for other job ids must be unaffected")
	}
}

func TestReserveReopensAfterGuardTTL(t *testing.T) {
	p, mr := guardedPublisher(t, 30*time.Minute)
	ctx := context.Background()

	if !p.reserve(ctx, "2261-12431") {
		t.Fatal("first claim must win")
	}
	mr.FastForward(30*time.Minute + time.Second)
	if !p.reserve(ctx, "2261-12431") {
		t.Fatal("the next tick's dispatch must be able to enqueue again")
	}
}

func TestReserveDegradesToPublishWhenRedisDown(t *testing.T) {
	p, mr := guardedPublisher(t, time.Minute)
	mr.Close()

	// Guard failure trades a possible duplicate for availability; the
	// worker's dedup receipt is the correctness gate.
	if !p.reserve(context.Background(), "2261-12431") {
		t.Fatal("an unreachable guard must not block enqueue")
	}
}

func TestReserveWithoutRedisAlwaysPublishes(t *testing.T) {
	p := NewPublisher("amqp://unused", nil, time.Minute, nil)
	if !p.reserve(context.Background(), "2261-12431") {
		t.Fatal("no guard configured means every claim wins")
	}
}
