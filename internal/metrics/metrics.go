// Package metrics exposes the broker's Prometheus counters. It is purely
// observational: nothing here participates in any invariant or decision the
// broker makes.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the broker's task-lifecycle counters.
type Metrics struct {
	TasksSubmitted prometheus.Counter
	TasksClaimed   prometheus.Counter
	TasksCompleted prometheus.Counter
	TasksReset     prometheus.Counter
	TasksContended prometheus.Counter
}

// New constructs the broker's metrics. Call MustRegister separately to
// publish them against the default Prometheus registry.
func New() *Metrics {
	return &Metrics{
		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_tasks_submitted_total",
			Help: "Total number of tasks submitted, including upserts.",
		}),
		TasksClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_tasks_claimed_total",
			Help: "Total number of tasks successfully claimed by a worker.",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_tasks_completed_total",
			Help: "Total number of tasks marked completed.",
		}),
		TasksReset: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_tasks_reset_total",
			Help: "Total number of tasks returned to pending via reset.",
		}),
		TasksContended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_tasks_contended_total",
			Help: "Total number of claims that lost a race and were rejected with 409.",
		}),
	}
}

// MustRegister registers m's collectors against the default registry,
// panicking on duplicate registration (mirrors the idiom used for
// process-lifetime singleton metrics).
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(
		m.TasksSubmitted,
		m.TasksClaimed,
		m.TasksCompleted,
		m.TasksReset,
		m.TasksContended,
	)
}

// RegisterPendingGauge registers broker_tasks_pending, a gauge whose value
// is computed by calling countFn at each scrape rather than tracked
// incrementally — the pending count is a point-in-time fact about the
// store, not a running total like the other metrics here.
func RegisterPendingGauge(countFn func() float64) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "broker_tasks_pending",
		Help: "Current number of tasks in the pending state.",
	}, countFn))
}
