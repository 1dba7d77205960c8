// Package worker consumes check jobs and runs the per-section
// pipeline: cached state read, breaker-protected upstream fetch,
// diff, durable write, cache refresh, and deduplicated notification
// fan-out.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Divkix/pickmyclass/internal/breaker"
	"github.com/Divkix/pickmyclass/internal/cache"
	"github.com/Divkix/pickmyclass/internal/fetcher"
	"github.com/Divkix/pickmyclass/internal/model"
	"github.com/Divkix/pickmyclass/internal/obs"
	"github.com/Divkix/pickmyclass/internal/queue"
	"github.com/Divkix/pickmyclass/internal/repository"
)

// StateStore persists class section state.  Implemented by
// repository.ClassStateRepo.
type StateStore interface {
	Upsert(ctx context.Context, st *model.ClassState) error
}

// Fetcher retrieves a section snapshot from the scraping service.
// Implemented by fetcher.Client.
type Fetcher interface {
	FetchSection(ctx context.Context, classNbr, term string) (*fetcher.SectionData, error)
}

// WatcherSource lists the watchers of a section.  Implemented by
// repository.WatchRepo.
type WatcherSource interface {
	WatchersForSection(ctx context.Context, classNbr string) ([]model.Watcher, error)
}

// ReceiptStore is the atomic dedup ledger.  Implemented by
// repository.NotificationRepo.
type ReceiptStore interface {
	TryRecordNotification(ctx context.Context, watchID uint64, typ model.NotificationType, ttlHours int) (bool, error)
	ClearForSection(ctx context.Context, classNbr string, typ model.NotificationType) error
}

// Notifier delivers one message.  Implemented by notifier.Mailer.
type Notifier interface {
	Notify(ctx context.Context, w model.Watcher, st *model.ClassState, typ model.NotificationType) error
}

// Checker processes check-section jobs.  It is safe for concurrent
// use; redelivered jobs for the same section interleave harmlessly
// because the state write is last-write-wins and dedup is atomic.
type Checker struct {
	states     StateStore
	cache      cache.StateCache
	fetch      Fetcher
	breaker    *breaker.Breaker
	watchers   WatcherSource
	receipts   ReceiptStore
	notifier   Notifier
	receiptTTL int // hours before a receipt allows re-notification
	logger     *obs.Logger
	metrics    *obs.Metrics
	now        func() time.Time
}

// New wires a Checker.  receiptTTLHours is the notification
// cool-down; 24 is the production default.
func New(
	states StateStore,
	stateCache cache.StateCache,
	fetch Fetcher,
	brk *breaker.Breaker,
	watchers WatcherSource,
	receipts ReceiptStore,
	n Notifier,
	receiptTTLHours int,
	logger *obs.Logger,
	metrics *obs.Metrics,
) *Checker {
	if receiptTTLHours <= 0 {
		receiptTTLHours = 24
	}
	return &Checker{
		states:     states,
		cache:      stateCache,
		fetch:      fetch,
		breaker:    brk,
		watchers:   watchers,
		receipts:   receipts,
		notifier:   n,
		receiptTTL: receiptTTLHours,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// HandleJob runs the pipeline for one job.  Returning an error sends
// the job down the queue's retry path; an open circuit and a section
// unknown upstream return nil instead, since retrying inside this
// tick cannot help (the next scheduled tick retries naturally).
func (c *Checker) HandleJob(ctx context.Context, job queue.CheckSectionJob) error {
	start := c.now()

	prev, err := c.cache.Get(ctx, job.ClassNbr)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		c.count("store_error")
		return fmt.Errorf("check %s: read state: %w", job.ID(), err)
	}

	var data *fetcher.SectionData
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		d, ferr := c.fetch.FetchSection(ctx, job.ClassNbr, job.Term)
		data = d
		return ferr
	})
	c.publishBreakerState()
	switch {
	case errors.Is(err, breaker.ErrOpen):
		// Short-circuited: skip this section this cycle.  Not a
		// failure of the section and not worth queue retries while
		// the upstream is cooling down.
		c.count("circuit_open")
		c.logInfo(job, "skip", "circuit open")
		return nil
	case errors.Is(err, fetcher.ErrSectionNotFound):
		c.count("not_found")
		c.logInfo(job, "skip", "section not found upstream")
		return nil
	case err != nil:
		c.count("fetch_error")
		return fmt.Errorf("check %s: fetch: %w", job.ID(), err)
	}

	next, events := c.diff(prev, data, job)

	if err := c.states.Upsert(ctx, next); err != nil {
		// Durability was not achieved, so the cache must keep the old
		// value; the job retries via the queue.
		c.count("store_error")
		return fmt.Errorf("check %s: persist state: %w", job.ID(), err)
	}
	c.cache.Put(ctx, next)

	if c.seatsClosed(prev, next) {
		// Seats went back to zero: clear outstanding receipts so the
		// next opening notifies again instead of waiting out the TTL.
		if err := c.receipts.ClearForSection(ctx, next.ClassNbr, model.NotificationSeatAvailable); err != nil {
			c.logErr(job, "clear_receipts", err)
		}
		// The cache fast-path flags would keep suppressing sends until
		// their TTL runs out, so they go too.
		if ws, err := c.watchers.WatchersForSection(ctx, next.ClassNbr); err == nil {
			for _, w := range ws {
				c.cache.ClearNotified(ctx, w.WatchID, model.NotificationSeatAvailable)
			}
		}
	}

	for _, typ := range events {
		c.fanOut(ctx, job, next, typ)
	}

	if len(events) > 0 {
		c.count("changed")
	} else {
		c.count("ok")
	}
	if c.metrics != nil {
		c.metrics.OpLatencyMS.WithLabelValues("check").Observe(float64(c.now().Sub(start).Milliseconds()))
	}
	return nil
}

// diff merges the fetched snapshot over the previous state and
// derives the notification events.  LastChangedAt only advances when
// a comparable field actually changed.
func (c *Checker) diff(prev *model.ClassState, data *fetcher.SectionData, job queue.CheckSectionJob) (*model.ClassState, []model.NotificationType) {
	now := c.now().UTC()

	next := &model.ClassState{
		ClassNbr:         job.ClassNbr,
		Term:             job.Term,
		Subject:          data.Subject,
		CatalogNbr:       data.CatalogNbr,
		Title:            data.Title,
		NonReservedSeats: data.NonReservedSeats,
		Location:         data.Location,
		MeetingTimes:     data.MeetingTimes,
		LastCheckedAt:    now,
	}
	if data.Instructor != nil {
		next.InstructorName = *data.Instructor
	} else if prev != nil {
		next.InstructorName = prev.InstructorName
	}
	// Carry forward seat counts the scraper could not read this time.
	switch {
	case data.SeatsAvailable != nil:
		next.SeatsAvailable = *data.SeatsAvailable
	case prev != nil:
		next.SeatsAvailable = prev.SeatsAvailable
	}
	switch {
	case data.SeatsCapacity != nil:
		next.SeatsCapacity = *data.SeatsCapacity
	case prev != nil:
		next.SeatsCapacity = prev.SeatsCapacity
	}
	// Enforce the availability invariant before anything downstream
	// sees the state.
	if next.SeatsAvailable < 0 {
		next.SeatsAvailable = 0
	}
	if next.SeatsAvailable > next.SeatsCapacity {
		next.SeatsAvailable = next.SeatsCapacity
	}

	if prev != nil && prev.Comparable(next) {
		next.LastChangedAt = prev.LastChangedAt
	} else {
		next.LastChangedAt = now
	}

	// Events need a known previous state: the first sighting of a
	// section establishes the baseline and notifies nobody.
	if prev == nil {
		return next, nil
	}

	var events []model.NotificationType
	if prev.SeatsAvailable == 0 && next.SeatsAvailable > 0 {
		events = append(events, model.NotificationSeatAvailable)
	}
	if instructorAssigned(prev.InstructorName, next.InstructorName) {
		events = append(events, model.NotificationInstructorAssigned)
	}
	return next, events
}

func (c *Checker) seatsClosed(prev, next *model.ClassState) bool {
	return prev != nil && prev.SeatsAvailable > 0 && next.SeatsAvailable == 0
}

// instructorAssigned reports a transition from no concrete instructor
// to a named one.  Registrars use "Staff" and "TBA" as placeholders.
func instructorAssigned(prev, next string) bool {
	return isPlaceholderInstructor(prev) && !isPlaceholderInstructor(next) && prev != next
}

func isPlaceholderInstructor(name string) bool {
	switch name {
	case "", "Staff", "TBA", "TBD":
		return true
	}
	return false
}

// fanOut notifies every watcher of the section for one event type.
// Per-watcher failures are isolated; losing the dedup race is the
// expected concurrent-skip path, not an error.
func (c *Checker) fanOut(ctx context.Context, job queue.CheckSectionJob, st *model.ClassState, typ model.NotificationType) {
	watchers, err := c.watchers.WatchersForSection(ctx, st.ClassNbr)
	if err != nil {
		c.logErr(job, "list_watchers", err)
		return
	}
	for _, w := range watchers {
		// Best-effort fast path; the atomic store procedure below is
		// the real gate.
		if c.cache.WasNotified(ctx, w.WatchID, typ) {
			c.countNotification(typ, "deduped")
			continue
		}
		won, err := c.receipts.TryRecordNotification(ctx, w.WatchID, typ, c.receiptTTL)
		if err != nil {
			c.logErr(job, "record_receipt", err)
			continue
		}
		if !won {
			c.countNotification(typ, "deduped")
			continue
		}
		if err := c.notifier.Notify(ctx, w, st, typ); err != nil {
			// At-most-once: the receipt stays recorded and the send
			// is not retried.  See notifier package docs.
			c.countNotification(typ, "send_error")
			continue
		}
		c.cache.MarkNotified(ctx, w.WatchID, typ, time.Duration(c.receiptTTL)*time.Hour)
		c.countNotification(typ, "sent")
	}
}

func (c *Checker) publishBreakerState() {
	if c.metrics == nil {
		return
	}
	c.metrics.BreakerState.Set(float64(c.breaker.State()))
}

func (c *Checker) count(result string) {
	if c.metrics != nil {
		c.metrics.ChecksTotal.WithLabelValues(result).Inc()
	}
}

func (c *Checker) countNotification(typ model.NotificationType, result string) {
	if c.metrics != nil {
		c.metrics.NotificationsTotal.WithLabelValues(string(typ), result).Inc()
	}
}

func (c *Checker) logInfo(job queue.CheckSectionJob, op, msg string) {
	if c.logger == nil {
		return
	}
	c.logger.Info(map[string]interface{}{
		"component": "checker",
		"op":        op,
		"job_id":    job.ID(),
		"msg":       msg,
	})
}

func (c *Checker) logErr(job queue.CheckSectionJob, op string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Error(map[string]interface{}{
		"component": "checker",
		"op":        op,
		"job_id":    job.ID(),
		"error":     err.Error(),
	})
}
