// Package scheduler runs the periodic dispatch cycle: compute the
// stagger group, take the distributed lock, enumerate due sections,
// and enqueue one check job per section.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Divkix/pickmyclass/internal/lock"
	"github.com/Divkix/pickmyclass/internal/model"
	"github.com/Divkix/pickmyclass/internal/obs"
	"github.com/Divkix/pickmyclass/internal/queue"
	"github.com/Divkix/pickmyclass/internal/repository"
)

// lockName is the single dispatch mutex.  Its TTL must exceed the
// expected enumerate+enqueue time so a live cycle is never preempted,
// and it auto-expires if the scheduler crashes mid-cycle.
const lockName = "dispatch:sections"

// SectionSource enumerates the sections due in a stagger group.
// Implemented by repository.ClassStateRepo.
type SectionSource interface {
	SectionsToCheck(ctx context.Context, group string) ([]model.SectionRef, error)
}

// Publisher enqueues a batch of check jobs.  Implemented by
// queue.Publisher.
type Publisher interface {
	PublishBatch(ctx context.Context, jobs []queue.CheckSectionJob) (int, error)
}

// Result summarizes one dispatch cycle for the trigger endpoint.
type Result struct {
	SectionsEnqueued int
	StaggerGroup     string
	Duration         time.Duration
	Skipped          bool // another dispatch held the lock
}

// Scheduler owns one dispatch pipeline.
type Scheduler struct {
	locks    *lock.Locker
	sections SectionSource
	pub      Publisher
	lockTTL  time.Duration
	logger   *obs.Logger
	metrics  *obs.Metrics
	now      func() time.Time
}

// New returns a Scheduler.  lockTTL bounds a crashed cycle; a few
// minutes is appropriate.
func New(locks *lock.Locker, sections SectionSource, pub Publisher, lockTTL time.Duration, logger *obs.Logger, metrics *obs.Metrics) *Scheduler {
	return &Scheduler{
		locks:    locks,
		sections: sections,
		pub:      pub,
		lockTTL:  lockTTL,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// StaggerGroupFor partitions dispatch ticks by the parity of the
// half-hour slot, so the full section set is split across consecutive
// ticks: a trigger at :00 handles even class numbers, :30 handles
// odd, and so on alternating.  Halves per-tick load.
func StaggerGroupFor(t time.Time) string {
	if (t.Hour()*2+t.Minute()/30)%2 == 0 {
		return repository.StaggerEven
	}
	return repository.StaggerOdd
}

// Run executes one dispatch cycle.  A lock conflict is benign: the
// result comes back with Skipped=true and no error, and nothing is
// queried or enqueued.  Any other failure (lock store unreachable,
// enumeration error, broker error) aborts the cycle and is surfaced;
// the lock is released on every path.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	start := s.now()
	group := StaggerGroupFor(start)

	lease, err := s.locks.Acquire(ctx, lockName, s.lockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		s.observe("skipped", group, 0, start)
		return Result{StaggerGroup: group, Skipped: true, Duration: s.now().Sub(start)}, nil
	}
	if err != nil {
		// Lock store unreachable: fail closed rather than dispatching
		// without mutual exclusion.
		s.observe("error", group, 0, start)
		return Result{StaggerGroup: group}, fmt.Errorf("dispatch: %w", err)
	}
	defer func() {
		// Release with a fresh context: the cycle's context may
		// already be cancelled and the lock must still go away.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := lease.Release(rctx); relErr != nil && !errors.Is(relErr, lock.ErrNotHeld) {
			s.logError("release", relErr)
		}
	}()

	refs, err := s.sections.SectionsToCheck(ctx, group)
	if err != nil {
		s.observe("error", group, 0, start)
		return Result{StaggerGroup: group}, fmt.Errorf("dispatch: enumerate sections: %w", err)
	}

	jobs := make([]queue.CheckSectionJob, 0, len(refs))
	enqueuedAt := start.UTC()
	for _, ref := range refs {
		jobs = append(jobs, queue.CheckSectionJob{
			ClassNbr:     ref.ClassNbr,
			Term:         ref.Term,
			StaggerGroup: group,
			EnqueuedAt:   enqueuedAt,
		})
	}

	n, err := s.pub.PublishBatch(ctx, jobs)
	if err != nil {
		s.observe("error", group, n, start)
		return Result{StaggerGroup: group, SectionsEnqueued: n}, fmt.Errorf("dispatch: enqueue: %w", err)
	}

	s.observe("ok", group, n, start)
	return Result{
		SectionsEnqueued: n,
		StaggerGroup:     group,
		Duration:         s.now().Sub(start),
	}, nil
}

func (s *Scheduler) observe(result, group string, enqueued int, start time.Time) {
	if s.metrics != nil {
		s.metrics.DispatchTotal.WithLabelValues(result).Inc()
		if enqueued > 0 {
			s.metrics.SectionsEnqueued.Add(float64(enqueued))
		}
		s.metrics.OpLatencyMS.WithLabelValues("dispatch").Observe(float64(s.now().Sub(start).Milliseconds()))
	}
	if s.logger != nil {
		s.logger.Info(map[string]interface{}{
			"component":     "scheduler",
			"op":            "dispatch",
			"result":        result,
			"stagger_group": group,
			"enqueued":      enqueued,
			"latency_ms":    s.now().Sub(start).Milliseconds(),
		})
	}
}

func (s *Scheduler) logError(op string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Error(map[string]interface{}{
		"component": "scheduler",
		"op":        op,
		"error":     err.Error(),
	})
}
