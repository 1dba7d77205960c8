package config

import (
	"context"
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewRedisClientConnectsViaAddr(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("REDIS_HOST", "")
	t.Setenv("REDIS_PORT", "")

	rdb := NewRedisClient()
	if rdb == nil {
		t.Fatal("expected a client when the server is reachable")
	}
	t.Cleanup(func() { _ = rdb.Close() })

	if err := rdb.Set(context.Background(), "probe", "1", 0).Err(); err != nil {
		t.Fatalf("set through client: %v", err)
	}
}

func TestNewRedisClientHostPortOverrideAddr(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	t.Setenv("REDIS_ADDR", "127.0.0.1:1") // nothing listens here
	t.Setenv("REDIS_HOST", host)
	t.Setenv("REDIS_PORT", port)

	rdb := NewRedisClient()
	if rdb == nil {
		t.Fatal("host/port pair must take precedence over REDIS_ADDR")
	}
	_ = rdb.Close()
}

func TestNewRedisClientNilWhenUnreachable(t *testing.T) {
	t.Setenv("REDIS_ADDR", "127.0.0.1:1")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("REDIS_PORT", "")

	if rdb := NewRedisClient(); rdb != nil {
		_ = rdb.Close()
		t.Fatal("expected nil when the ping fails; callers degrade explicitly")
	}
}
