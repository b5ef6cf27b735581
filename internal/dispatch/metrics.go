package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the dispatcher's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	TasksScheduled *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	QueueDepth     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TasksScheduled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credstore",
				Subsystem: "dispatch",
				Name:      "tasks_scheduled_total",
				Help:      "Tasks accepted by the dispatcher.",
			},
			[]string{"op"},
		),
		TasksCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credstore",
				Subsystem: "dispatch",
				Name:      "tasks_completed_total",
				Help:      "Tasks completed, by outcome.",
			},
			[]string{"op", "outcome"},
		),
		TaskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "credstore",
				Subsystem: "dispatch",
				Name:      "task_duration_seconds",
				Help:      "Time spent in the native secret store call.",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"op"},
		),
		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "credstore",
				Subsystem: "dispatch",
				Name:      "queue_depth",
				Help:      "Tasks waiting for a worker.",
			},
		),
	}
}

func (m *Metrics) scheduled(op Op, depth int) {
	if m == nil {
		return
	}
	m.TasksScheduled.WithLabelValues(op.String()).Inc()
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) dequeued(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) completed(r Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TasksCompleted.WithLabelValues(r.Op.String(), r.Kind().String()).Inc()
	m.TaskDuration.WithLabelValues(r.Op.String()).Observe(elapsed.Seconds())
}
