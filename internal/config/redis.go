package config

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds the Redis client backing the dispatch lock,
// the class state cache and the enqueue idempotency guard.  Supported
// variables:
//
//	REDIS_ADDR             host:port (default "localhost:6379")
//	REDIS_HOST/REDIS_PORT  set together, they override REDIS_ADDR
//	REDIS_PASSWORD         optional password
//	REDIS_DB               database number (default 0)
//	REDIS_TLS              enable TLS when truthy
//
// The connection is verified with a short ping; on failure nil is
// returned and the service starts degraded (cache falls back to the
// store of record, dispatch fails closed until Redis returns).
func NewRedisClient() *redis.Client {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		addr = host + ":" + port
	}

	var tlsConf *tls.Config
	if envBool("REDIS_TLS", false) {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        envInt("REDIS_DB", 0),
		TLSConfig: tlsConf,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
