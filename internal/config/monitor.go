package config

import "time"

// MonitorConfig defines settings for the monitoring pipeline: the
// dispatch scheduler, the circuit breaker around the scraper, the
// work queue retry policy, the state cache, and the notifier.
// Defaults favor a high failure threshold and a multi-minute reset
// timeout; the upstream is high-volume and occasionally flaky, and
// tripping the breaker on a blip would skip whole cycles for nothing.
type MonitorConfig struct {
	CheckInterval time.Duration // cadence of the external dispatch trigger
	LockTTL       time.Duration // dispatch lock bound; exceeds enumerate+enqueue time

	BreakerFailureThreshold int           // consecutive failures before the breaker opens
	BreakerResetTimeout     time.Duration // open duration before the half-open probe
	BreakerSuccessThreshold int           // half-open successes before closing
	BreakerCallTimeout      time.Duration // hard per-fetch timeout

	QueueWorkers     int           // concurrent check workers
	QueuePrefetch    int           // unacked deliveries per channel
	QueueMaxAttempts int           // delivery attempts before dead-lettering
	QueueBackoffBase time.Duration // first retry delay
	QueueBackoffCap  time.Duration // retry delay ceiling

	CacheTTL time.Duration // class state cache lifetime; matches the check cadence

	ReceiptTTLHours  int           // notification cool-down before re-notifying
	SMTPHost         string        // outbound mail relay host
	SMTPPort         string        // outbound mail relay port
	SMTPUsername     string        // relay username (empty disables auth)
	SMTPPassword     string        // relay password
	MailFrom         string        // From address on notifications
	SendDelay        time.Duration // minimum gap between two outbound messages
	RetryFailedSends bool          // documents the at-most-once trade-off; see notifier
}

// LoadMonitorConfig reads environment variables to build a
// MonitorConfig.  Defaults are used when variables are not set.
func LoadMonitorConfig() MonitorConfig {
	cfg := MonitorConfig{
		CheckInterval: envDur("CHECK_INTERVAL", 30*time.Minute),
		LockTTL:       envDur("DISPATCH_LOCK_TTL", 5*time.Minute),

		BreakerFailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 20),
		BreakerResetTimeout:     envDur("BREAKER_RESET_TIMEOUT", 3*time.Minute),
		BreakerSuccessThreshold: envInt("BREAKER_SUCCESS_THRESHOLD", 2),
		BreakerCallTimeout:      envDur("BREAKER_CALL_TIMEOUT", 30*time.Second),

		QueueWorkers:     envInt("QUEUE_WORKERS", 8),
		QueuePrefetch:    envInt("QUEUE_PREFETCH", 16),
		QueueMaxAttempts: envInt("QUEUE_MAX_ATTEMPTS", 5),
		QueueBackoffBase: envDur("QUEUE_BACKOFF_BASE", 30*time.Second),
		QueueBackoffCap:  envDur("QUEUE_BACKOFF_CAP", 10*time.Minute),

		CacheTTL: envDur("STATE_CACHE_TTL", 0),

		ReceiptTTLHours:  envInt("RECEIPT_TTL_HOURS", 24),
		SMTPHost:         envStr("SMTP_HOST", "localhost"),
		SMTPPort:         envStr("SMTP_PORT", "25"),
		SMTPUsername:     envStr("SMTP_USERNAME", ""),
		SMTPPassword:     envStr("SMTP_PASSWORD", ""),
		MailFrom:         envStr("MAIL_FROM", "alerts@pickmyclass.app"),
		SendDelay:        envDur("NOTIFY_SEND_DELAY", 500*time.Millisecond),
		RetryFailedSends: envBool("NOTIFY_RETRY_FAILED_SENDS", false),
	}
	// The cache TTL defaults to the check cadence: an entry older
	// than one cycle is stale by definition.
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cfg.CheckInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return cfg
}
