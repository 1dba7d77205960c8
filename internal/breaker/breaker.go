// Package breaker implements the circuit breaker that isolates the
// monitor from a slow or failing upstream scraping service.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation, calls pass through.
	StateOpen                  // Calls rejected immediately.
	StateHalfOpen              // Probe calls allowed to test recovery.
)

// String returns the lower-case state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrOpen is returned by Execute when the breaker rejects a call
// without attempting it.  Rejections do not count as failures.
var ErrOpen = errors.New("breaker: circuit open")

// Config holds the per-dependency tuning knobs.  The defaults favor a
// high failure threshold and a multi-minute reset timeout, suitable
// for a high-volume, occasionally flaky upstream.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	ResetTimeout     time.Duration // how long to stay open before half-open
	SuccessThreshold int           // half-open successes before closing
	CallTimeout      time.Duration // hard per-call timeout enforced by Execute
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 20,
		ResetTimeout:     3 * time.Minute,
		SuccessThreshold: 2,
		CallTimeout:      30 * time.Second,
	}
}

// Breaker wraps one upstream dependency with closed/open/half-open
// failure isolation.  Thread-safe: all state transitions use a mutex.
// Construct one per dependency and inject it; there is deliberately
// no package-level instance.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	cfg         Config
	lastFailure time.Time
	now         func() time.Time // injectable clock for testing
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(b *Breaker) { b.now = fn }
}

// New creates a breaker with the given config.  Zero-valued config
// fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	b := &Breaker{state: StateClosed, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Execute runs fn under the breaker.  When the breaker is open the
// call is rejected with ErrOpen before fn is invoked.  Otherwise fn
// runs with a context bounded by the configured call timeout; a hung
// call that ignores its context still returns to the caller as a
// timeout failure (the goroutine is abandoned).
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}

	cctx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	var err error
	select {
	case err = <-done:
	case <-cctx.Done():
		err = cctx.Err()
	}

	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
	return err
}

// Status is a point-in-time snapshot for health reporting.  It is
// read independently of executing calls.
type Status struct {
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

// Snapshot returns the current breaker status.
func (b *Breaker) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransition()
	return Status{
		State:       b.state.String(),
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransition()
	return b.state
}

// allow checks whether a call may proceed.  An open breaker whose
// reset timeout has elapsed transitions to half-open here, so the
// next attempted call is the recovery probe.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransition()
	return b.state != StateOpen
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		// Any failure in half-open goes back to open.
		b.state = StateOpen
		b.successes = 0
	}
}

// maybeTransition moves an open breaker to half-open once the reset
// timeout has elapsed.  Must be called with mu held.
func (b *Breaker) maybeTransition() {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		b.state = StateHalfOpen
		b.successes = 0
	}
}
