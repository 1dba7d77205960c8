// Package cache provides a cache-first read path for class section
// state, with the relational store of record as fallback.  The cache
// is best-effort acceleration only: any cache error degrades to the
// store path, never to a failed read.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Divkix/pickmyclass/internal/model"
	"github.com/Divkix/pickmyclass/internal/obs"
)

// Store is the durable source of truth the cache falls back to.
// Implemented by repository.ClassStateRepo.
type Store interface {
	Get(ctx context.Context, classNbr string) (*model.ClassState, error)
}

// StateCache is the single interface call sites depend on, so they
// never branch on "is a cache configured".  Two implementations
// exist: Redis-backed and a pass-through straight to the store.
type StateCache interface {
	// Get returns the state for a section, or nil when neither the
	// cache nor the store knows it.
	Get(ctx context.Context, classNbr string) (*model.ClassState, error)
	// Put records a state after the store write has already
	// succeeded.  Cache failures are swallowed.
	Put(ctx context.Context, state *model.ClassState)
	// WasNotified is a best-effort fast path for dedup: true means a
	// receipt almost certainly exists.  False means "don't know" and
	// the caller must consult the atomic store procedure.
	WasNotified(ctx context.Context, watchID uint64, typ model.NotificationType) bool
	// MarkNotified records the dedup fast-path flag with the given
	// cool-down TTL.  Best-effort.
	MarkNotified(ctx context.Context, watchID uint64, typ model.NotificationType, ttl time.Duration)
	// ClearNotified drops the fast-path flag when the underlying
	// receipt has been revoked, so the next event is not suppressed.
	ClearNotified(ctx context.Context, watchID uint64, typ model.NotificationType)
}

func stateKey(classNbr string) string { return "class_state:" + classNbr }

func notifKey(watchID uint64, typ model.NotificationType) string {
	return fmt.Sprintf("notif:%d:%s", watchID, typ)
}

// redisCache caches serialized ClassState rows with a TTL matched to
// the check cadence.
type redisCache struct {
	rdb    *redis.Client
	store  Store
	ttl    time.Duration
	logger *obs.Logger
}

// New returns a Redis-backed StateCache when rdb is non-nil, and a
// pass-through otherwise.  Selection happens once, at startup.
func New(rdb *redis.Client, store Store, ttl time.Duration, logger *obs.Logger) StateCache {
	if rdb == nil {
		return &passthrough{store: store}
	}
	return &redisCache{rdb: rdb, store: store, ttl: ttl, logger: logger}
}

func (c *redisCache) Get(ctx context.Context, classNbr string) (*model.ClassState, error) {
	raw, err := c.rdb.Get(ctx, stateKey(classNbr)).Bytes()
	switch {
	case err == nil:
		var st model.ClassState
		if jsonErr := json.Unmarshal(raw, &st); jsonErr == nil {
			return &st, nil
		}
		// Corrupt entry: fall through to the store and overwrite.
	case !errors.Is(err, redis.Nil):
		c.warn("get", classNbr, err)
	}

	st, err := c.store.Get(ctx, classNbr)
	if err != nil || st == nil {
		return st, err
	}
	c.Put(ctx, st)
	return st, nil
}

func (c *redisCache) Put(ctx context.Context, state *model.ClassState) {
	raw, err := json.Marshal(state)
	if err != nil {
		c.warn("marshal", state.ClassNbr, err)
		return
	}
	if err := c.rdb.Set(ctx, stateKey(state.ClassNbr), raw, c.ttl).Err(); err != nil {
		c.warn("set", state.ClassNbr, err)
	}
}

func (c *redisCache) WasNotified(ctx context.Context, watchID uint64, typ model.NotificationType) bool {
	n, err := c.rdb.Exists(ctx, notifKey(watchID, typ)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

func (c *redisCache) MarkNotified(ctx context.Context, watchID uint64, typ model.NotificationType, ttl time.Duration) {
	if err := c.rdb.Set(ctx, notifKey(watchID, typ), "1", ttl).Err(); err != nil {
		c.warn("mark_notified", fmt.Sprintf("%d", watchID), err)
	}
}

func (c *redisCache) ClearNotified(ctx context.Context, watchID uint64, typ model.NotificationType) {
	if err := c.rdb.Del(ctx, notifKey(watchID, typ)).Err(); err != nil {
		c.warn("clear_notified", fmt.Sprintf("%d", watchID), err)
	}
}

func (c *redisCache) warn(op, key string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Error(map[string]interface{}{
		"component": "state_cache",
		"op":        op,
		"key":       key,
		"error":     err.Error(),
	})
}

// passthrough serves reads straight from the store.  Used when no
// Redis client is configured; correctness is identical, only latency
// differs.
type passthrough struct {
	store Store
}

func (p *passthrough) Get(ctx context.Context, classNbr string) (*model.ClassState, error) {
	return p.store.Get(ctx, classNbr)
}

func (p *passthrough) Put(context.Context, *model.ClassState) {}

func (p *passthrough) WasNotified(context.Context, uint64, model.NotificationType) bool {
	return false
}

func (p *passthrough) MarkNotified(context.Context, uint64, model.NotificationType, time.Duration) {}

func (p *passthrough) ClearNotified(context.Context, uint64, model.NotificationType) {}
