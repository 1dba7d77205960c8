package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/Divkix/pickmyclass/internal/obs"
)

// Publisher enqueues check jobs for one dispatch cycle.  A connection
// is dialed per batch: dispatch runs only a few times an hour, so a
// held-open publisher connection buys nothing.
type Publisher struct {
	url      string
	rdb      *redis.Client // enqueue idempotency guard; may be nil
	guardTTL time.Duration
	logger   *obs.Logger
}

// NewPublisher returns a Publisher.  guardTTL should match the check
// interval: a job ID stays reserved for one tick, which is exactly
// the window in which a duplicate dispatch could double-enqueue.
func NewPublisher(url string, rdb *redis.Client, guardTTL time.Duration, logger *obs.Logger) *Publisher {
	return &Publisher{url: url, rdb: rdb, guardTTL: guardTTL, logger: logger}
}

// PublishBatch enqueues the given jobs, skipping any whose ID was
// already enqueued within the guard TTL.  It returns the number of
// jobs actually enqueued.  Broker errors abort the batch; guard
// (Redis) errors degrade to publishing anyway, since the worker
// tolerates duplicates.
func (p *Publisher) PublishBatch(ctx context.Context, jobs []CheckSectionJob) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return 0, fmt.Errorf("queue publish: dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("queue publish: channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declareTopology(ch); err != nil {
		return 0, err
	}

	enqueued := 0
	for _, job := range jobs {
		if !p.reserve(ctx, job.ID()) {
			continue
		}
		body, err := json.Marshal(job)
		if err != nil {
			return enqueued, fmt.Errorf("queue publish: marshal %s: %w", job.ID(), err)
		}
		pub := amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent, // survive broker restarts
			MessageId:    job.ID(),
			Timestamp:    time.Now().UTC(),
			Headers:      amqp.Table{attemptsHeader: int32(1)},
			Body:         body,
		}
		if err := ch.PublishWithContext(ctx, "", CheckQueue, false, false, pub); err != nil {
			return enqueued, fmt.Errorf("queue publish: %s: %w", job.ID(), err)
		}
		enqueued++
	}
	return enqueued, nil
}

// reserve claims the job ID in Redis for one guard window.  Returns
// false only on a confirmed duplicate; any Redis failure returns
// true, trading a possible duplicate enqueue for availability.
func (p *Publisher) reserve(ctx context.Context, jobID string) bool {
	if p.rdb == nil {
		return true
	}
	ok, err := p.rdb.SetNX(ctx, "enqueue:"+jobID, "1", p.guardTTL).Result()
	if err != nil {
		if p.logger != nil {
			p.logger.Error(map[string]interface{}{
				"component": "publisher",
				"op":        "reserve",
				"job_id":    jobID,
				"error":     err.Error(),
			})
		}
		return true
	}
	return ok
}

// declareTopology declares the three queues the monitor uses.  All
// declarations are idempotent.  The retry queue has no consumers: a
// message parked there with a per-message TTL dead-letters back into
// the check queue when its backoff elapses.
func declareTopology(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(CheckQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", CheckQueue, err)
	}
	if _, err := ch.QueueDeclare(RetryQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": CheckQueue,
	}); err != nil {
		return fmt.Errorf("queue declare %s: %w", RetryQueue, err)
	}
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", DeadLetterQueue, err)
	}
	return nil
}
