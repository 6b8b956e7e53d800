package lifecycle

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the lifecycle sweep.
type Metrics struct {
	SweepsTotal   prometheus.Counter
	Checked       prometheus.Counter
	Warned        prometheus.Counter
	Frozen        prometheus.Counter
	Deleted       prometheus.Counter
	SweepDuration prometheus.Histogram

	// Sandboxes is the current population by status, refreshed each sweep.
	Sandboxes *prometheus.GaugeVec
}

// NewMetrics creates and registers sweep metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "lifecycle",
			Name:      "sweeps_total",
			Help:      "Total lifecycle sweep runs.",
		}),
		Checked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "lifecycle",
			Name:      "instances_checked_total",
			Help:      "Total sandbox instances evaluated by sweeps.",
		}),
		Warned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "lifecycle",
			Name:      "warnings_total",
			Help:      "Total trials transitioned to the warning state.",
		}),
		Frozen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "lifecycle",
			Name:      "freezes_total",
			Help:      "Total trials frozen at expiry.",
		}),
		Deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "lifecycle",
			Name:      "deletions_total",
			Help:      "Total frozen trials expired and removed.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cockpit",
			Subsystem: "lifecycle",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of each lifecycle sweep.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		Sandboxes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cockpit",
			Subsystem: "lifecycle",
			Name:      "sandboxes",
			Help:      "Registered trial sandboxes by lifecycle status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.SweepsTotal,
		m.Checked,
		m.Warned,
		m.Frozen,
		m.Deleted,
		m.SweepDuration,
		m.Sandboxes,
	)

	return m
}
