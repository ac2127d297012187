package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/uow-go/core/metrics"
	"github.com/codewandler/uow-go/core/saga"
)

// SagaMetrics implements saga.Metrics.
type SagaMetrics struct {
	resumeDuration *prometheus.HistogramVec
	steps          *prometheus.CounterVec
	restarts       *prometheus.CounterVec
	finished       *prometheus.CounterVec
}

func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	m := &SagaMetrics{
		resumeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "resume_duration_seconds",
			Help:      "Saga resume latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"saga"}),

		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "steps_total",
			Help:      "Total number of intermediate steps advanced",
		}, []string{"saga", "step"}),

		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "restarts_total",
			Help:      "Total number of restarts requested by exception handlers",
		}, []string{"saga"}),

		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "finished_total",
			Help:      "Total number of finished resumes by outcome",
		}, []string{"saga", "outcome"}),
	}

	reg.MustRegister(m.resumeDuration, m.steps, m.restarts, m.finished)
	return m
}

func (m *SagaMetrics) ResumeDuration(s string) metrics.Timer {
	return newTimer(m.resumeDuration.WithLabelValues(s))
}

func (m *SagaMetrics) Step(s, step string)        { m.steps.WithLabelValues(s, step).Inc() }
func (m *SagaMetrics) Restarted(s string)         { m.restarts.WithLabelValues(s).Inc() }
func (m *SagaMetrics) Finished(s, outcome string) { m.finished.WithLabelValues(s, outcome).Inc() }

var _ saga.Metrics = (*SagaMetrics)(nil)
