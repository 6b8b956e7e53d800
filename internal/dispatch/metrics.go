package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for query dispatch.
type Metrics struct {
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	TokensUsed    *prometheus.CounterVec
}

// NewMetrics creates and registers dispatch metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "dispatch",
			Name:      "queries_total",
			Help:      "Total queries by vertical, agent, and outcome.",
		}, []string{"vertical", "agent", "outcome"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cockpit",
			Subsystem: "dispatch",
			Name:      "query_duration_seconds",
			Help:      "Wall-clock query duration including backend latency.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"vertical"}),
		TokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "dispatch",
			Name:      "tokens_used_total",
			Help:      "Total tokens consumed by executed queries.",
		}, []string{"vertical"}),
	}

	reg.MustRegister(m.QueriesTotal, m.QueryDuration, m.TokensUsed)
	return m
}
