package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	DispatchTotal    *prometheus.CounterVec // result=ok|skipped|error
	SectionsEnqueued prometheus.Counter

	ChecksTotal *prometheus.CounterVec // result=ok|changed|fetch_error|circuit_open|store_error

	NotificationsTotal *prometheus.CounterVec // type, result=sent|deduped|send_error

	BreakerState prometheus.Gauge // 0=closed 1=open 2=half_open

	DeadLetterTotal prometheus.Counter
	RetriesTotal    prometheus.Counter

	OpLatencyMS *prometheus.HistogramVec // op=dispatch|check|fetch|notify
}

func NewMetrics() *Metrics {
	return &Metrics{
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_dispatch_total",
				Help: "Dispatch cycles by result",
			},
			[]string{"result"},
		),
		SectionsEnqueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_sections_enqueued_total",
				Help: "Section check jobs enqueued",
			},
		),
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_checks_total",
				Help: "Section checks by result",
			},
			[]string{"result"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_notifications_total",
				Help: "Notification attempts by type and result",
			},
			[]string{"type", "result"},
		),
		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_breaker_state",
				Help: "Upstream circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
		),
		DeadLetterTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_dead_letter_total",
				Help: "Jobs moved to the dead-letter queue",
			},
		),
		RetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_retries_total",
				Help: "Job retries scheduled",
			},
		),
		OpLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_op_latency_ms",
				Help:    "Latency of monitor operations (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1ms .. ~8s
			},
			[]string{"op"},
		),
	}
}

// Register attaches all collectors to the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.DispatchTotal,
		m.SectionsEnqueued,
		m.ChecksTotal,
		m.NotificationsTotal,
		m.BreakerState,
		m.DeadLetterTotal,
		m.RetriesTotal,
		m.OpLatencyMS,
	)
}
