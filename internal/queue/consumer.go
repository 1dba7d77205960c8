package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Divkix/pickmyclass/internal/obs"
)

// Handler processes one check job.  A nil return acks the job; an
// error sends it down the retry path and, once the attempt budget is
// spent, to the dead-letter queue.
type Handler func(ctx context.Context, job CheckSectionJob) error

// amqpPublisher is the slice of *amqp.Channel the settlement paths
// need.  Narrowed so they can be exercised without a broker.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ConsumerConfig tunes the worker pool and retry policy.
type ConsumerConfig struct {
	URL         string
	Workers     int           // fixed-size pool of concurrent handlers
	Prefetch    int           // per-channel unacked message cap
	MaxAttempts int           // delivery attempts before dead-lettering
	BackoffBase time.Duration // first retry delay; doubles per attempt
	BackoffCap  time.Duration // ceiling on the retry delay
}

// Consumer connects to RabbitMQ, declares the check/retry/dead-letter
// topology, and runs a fixed pool of workers over the check queue.
// It keeps a reconnect loop with exponential backoff and only returns
// once the context is cancelled.
type Consumer struct {
	cfg     ConsumerConfig
	handler Handler
	logger  *obs.Logger
	metrics *obs.Metrics
}

// NewConsumer returns a Consumer.  Zero config values get safe
// defaults (4 workers, prefetch 2x workers, 5 attempts, 30s..10m
// backoff window).
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *obs.Logger, metrics *obs.Metrics) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cfg.Workers * 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 10 * time.Minute
	}
	return &Consumer{cfg: cfg, handler: handler, logger: logger, metrics: metrics}
}

// Start runs the consumer until ctx is cancelled.  Broker outages are
// ridden out with a capped exponential reconnect backoff; processing
// errors never bring the loop down.
func (c *Consumer) Start(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			log.Printf("check-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := c.consumeLoop(ctx, conn); err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("check-consumer: consume loop ended: %v; reconnecting", err)
			time.Sleep(2 * time.Second)
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		return err
	}

	msgs, err := ch.Consume(CheckQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	// Close the connection when ctx is cancelled so the deliveries
	// channel drains and the workers exit.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(c.cfg.Workers)
	for i := 0; i < c.cfg.Workers; i++ {
		go func() {
			defer wg.Done()
			for d := range msgs {
				c.process(ctx, ch, d)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("deliveries channel closed")
}

func (c *Consumer) process(ctx context.Context, ch amqpPublisher, d amqp.Delivery) {
	var job CheckSectionJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		// A payload that cannot be parsed will never succeed; send it
		// straight to the dead-letter queue.
		c.settleDead(ctx, ch, d, fmt.Sprintf("unmarshal: %v", err))
		return
	}

	err := c.handler(ctx, job)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	attempts := attemptsFrom(d)
	if attempts >= c.cfg.MaxAttempts {
		c.settleDead(ctx, ch, d, err.Error())
		return
	}
	if retryErr := c.retry(ctx, ch, d, attempts, err); retryErr != nil {
		// Could not park the retry: requeue the original delivery so
		// the job is not lost.
		log.Printf("check-consumer: retry publish failed for %s: %v; requeueing", job.ID(), retryErr)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// settleDead dead-letters the delivery and acks it.  If the
// dead-letter publish itself fails, the delivery is requeued instead
// of acked so the job is never dropped with only a log line.
func (c *Consumer) settleDead(ctx context.Context, ch amqpPublisher, d amqp.Delivery, cause string) {
	if err := c.deadLetter(ctx, ch, d, cause); err != nil {
		log.Printf("check-consumer: dead-letter publish failed for %s: %v; requeueing", d.MessageId, err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// retry parks the job in the retry queue with a per-message TTL; when
// the TTL expires the broker dead-letters it back into the check
// queue for another attempt.
func (c *Consumer) retry(ctx context.Context, ch amqpPublisher, d amqp.Delivery, attempts int, cause error) error {
	delay := c.backoff(attempts)
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    time.Now().UTC(),
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Headers:      amqp.Table{attemptsHeader: int32(attempts + 1)},
		Body:         d.Body,
	}
	if err := ch.PublishWithContext(ctx, "", RetryQueue, false, false, pub); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RetriesTotal.Inc()
	}
	if c.logger != nil {
		c.logger.Info(map[string]interface{}{
			"component": "consumer",
			"op":        "retry",
			"job_id":    d.MessageId,
			"attempt":   attempts,
			"delay_ms":  delay.Milliseconds(),
			"error":     cause.Error(),
		})
	}
	return nil
}

// deadLetter preserves an exhausted or unparseable job for operator
// inspection.  Dead-lettered jobs are never silently dropped; the
// caller requeues the delivery when the publish fails.
func (c *Consumer) deadLetter(ctx context.Context, ch amqpPublisher, d amqp.Delivery, cause string) error {
	pub := amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			attemptsHeader:  int32(attemptsFrom(d)),
			"x-dead-reason": cause,
		},
		Body: d.Body,
	}
	if err := ch.PublishWithContext(ctx, "", DeadLetterQueue, false, false, pub); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.DeadLetterTotal.Inc()
	}
	if c.logger != nil {
		c.logger.Error(map[string]interface{}{
			"component": "consumer",
			"op":        "dead_letter",
			"job_id":    d.MessageId,
			"attempts":  attemptsFrom(d),
			"error":     cause,
		})
	}
	return nil
}

// backoff returns the delay before attempt n+1: base doubled per
// prior attempt, bounded by the cap.
func (c *Consumer) backoff(attempts int) time.Duration {
	d := c.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= c.cfg.BackoffCap {
			return c.cfg.BackoffCap
		}
	}
	return d
}

func attemptsFrom(d amqp.Delivery) int {
	if d.Headers == nil {
		return 1
	}
	switch v := d.Headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}
