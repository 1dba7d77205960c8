// Package queue defines the section-check job schema and the
// RabbitMQ publisher/consumer that move jobs between the dispatch
// scheduler and the check workers.
package queue

import "time"

const (
	// CheckQueue is the durable queue of per-section check jobs.
	CheckQueue = "section.check"
	// RetryQueue parks failed jobs until their backoff elapses, then
	// dead-letters them back to CheckQueue.
	RetryQueue = "section.check.retry"
	// DeadLetterQueue receives jobs that exhausted their retry
	// budget.  Preserved for operator inspection, never consumed
	// automatically.
	DeadLetterQueue = "section.check.dead"

	// attemptsHeader carries the delivery attempt count across
	// republishes.
	attemptsHeader = "x-attempts"
)

// CheckSectionJob asks a worker to re-check one section.  Delivery is
// at-least-once; workers are idempotent, so a redelivered job is
// harmless (the dedup receipt is the correctness gate, not the queue).
type CheckSectionJob struct {
	ClassNbr     string    `json:"class_nbr"`
	Term         string    `json:"term"`
	StaggerGroup string    `json:"stagger_group"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// ID returns the deterministic idempotent job identifier,
// "{term}-{class_nbr}".  Dispatching the same section twice within
// one tick produces the same ID and the second enqueue is suppressed.
func (j CheckSectionJob) ID() string {
	return j.Term + "-" + j.ClassNbr
}
