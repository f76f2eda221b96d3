package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the monitoring engine.
type Metrics struct {
	CyclesTotal      prometheus.Counter
	CycleDuration    prometheus.Histogram
	TopicRunsTotal   *prometheus.CounterVec
	SearchDuration   *prometheus.HistogramVec
	FindingsTotal    *prometheus.CounterVec
	DecisionsTotal   *prometheus.CounterVec
	RateLimitedTotal *prometheus.CounterVec
	DeliveriesTotal  *prometheus.CounterVec
	FlushDuration    prometheus.Histogram
}

// NewMetrics registers and returns monitor metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scout_cycles_total",
			Help: "Total monitoring cycles run.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scout_cycle_duration_seconds",
			Help:    "Duration of full monitoring cycles in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}),
		TopicRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_topic_runs_total",
			Help: "Total per-topic runs by outcome.",
		}, []string{"outcome"}),
		SearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scout_search_duration_seconds",
			Help:    "Duration of external search invocations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s .. ~64s
		}, []string{"outcome"}),
		FindingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_findings_total",
			Help: "Total raw results processed by disposition.",
		}, []string{"disposition"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_decisions_total",
			Help: "Total policy decisions for new findings by outcome.",
		}, []string{"outcome"}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_rate_limited_total",
			Help: "Total sink exclusions due to rate caps.",
		}, []string{"sink"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_deliveries_total",
			Help: "Total alert deliveries by sink and status.",
		}, []string{"sink", "status"}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scout_flush_duration_seconds",
			Help:    "Duration of state flushes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms .. ~2.5s
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.TopicRunsTotal,
		m.SearchDuration,
		m.FindingsTotal,
		m.DecisionsTotal,
		m.RateLimitedTotal,
		m.DeliveriesTotal,
		m.FlushDuration,
	)

	return m
}
