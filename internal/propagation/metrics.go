package propagation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the engine's observability surface.
type Metrics struct {
	TasksCompleted prometheus.Counter
	TasksFailed    prometheus.Counter
	TasksRunning   prometheus.Gauge

	QuotesUpdated prometheus.Counter
	QuotesSkipped prometheus.Counter
	QuotesFailed  prometheus.Counter
}

// NewMetrics registers the engine metrics with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the engine metrics with the given registerer.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "propagation_tasks_completed_total",
			Help: "Number of propagation tasks that completed.",
		}),
		TasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "propagation_tasks_failed_total",
			Help: "Number of propagation tasks that failed.",
		}),
		TasksRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "propagation_tasks_running",
			Help: "Number of propagation tasks currently running in this process.",
		}),
		QuotesUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "propagation_quotes_updated_total",
			Help: "Number of quotes rewritten by propagation.",
		}),
		QuotesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "propagation_quotes_skipped_total",
			Help: "Number of quotes skipped as already current.",
		}),
		QuotesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "propagation_quotes_failed_total",
			Help: "Number of quotes recorded as failed for follow-up.",
		}),
	}
}
