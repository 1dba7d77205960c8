// Package lock provides a TTL-bound distributed mutex on Redis.  It
// guards the dispatch cycle so that overlapping scheduler triggers
// (or two instances of the service) never enumerate sections twice.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by Acquire when another holder owns the
// lock.  This is the expected, non-fatal outcome of a concurrent
// dispatch attempt.
var ErrNotAcquired = errors.New("lock: not acquired")

// releaseScript deletes the lock key only when it is still owned by
// the releasing holder.  A late release from an expired holder must
// not clear a lock that has since been acquired by someone else, so
// the ownership check and the delete happen in one script.
var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// Locker acquires and releases named locks.  All acquisition goes
// through a single SET NX PX, never a read-then-write; if Redis is
// unreachable the error is surfaced and callers must treat the lock
// as not acquired (fail closed).
type Locker struct {
	rdb    *redis.Client
	prefix string
}

// New returns a Locker on the given client.  Keys are namespaced
// under "lock:".
func New(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb, prefix: "lock:"}
}

// Lease represents a held lock.  It auto-expires after its TTL if the
// holder crashes without releasing.
type Lease struct {
	locker   *Locker
	name     string
	holderID string
	TTL      time.Duration
}

// HolderID returns the unique identifier of this lease's holder.
func (l *Lease) HolderID() string { return l.holderID }

// Acquire attempts to take the named lock for ttl.  On conflict it
// returns ErrNotAcquired; on a Redis failure it returns the wrapped
// error so the caller fails closed rather than proceeding without
// mutual exclusion.
func (lk *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if lk.rdb == nil {
		return nil, errors.New("lock: no redis client configured")
	}
	holder := uuid.NewString()
	ok, err := lk.rdb.SetNX(ctx, lk.prefix+name, holder, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %q: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{locker: lk, name: name, holderID: holder, TTL: ttl}, nil
}

// Release gives up the lease.  It verifies ownership server-side; if
// the lease already expired and a new holder took the lock, the
// release is a no-op and ErrNotHeld is returned.
func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.locker.rdb, []string{l.locker.prefix + l.name}, l.holderID).Int()
	if err != nil {
		return fmt.Errorf("lock: release %q: %w", l.name, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// ErrNotHeld is returned by Release when the lease no longer owns the
// lock (expired, or already released).
var ErrNotHeld = errors.New("lock: lease no longer held")
