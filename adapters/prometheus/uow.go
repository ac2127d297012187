package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/uow-go/core/metrics"
	"github.com/codewandler/uow-go/core/uow"
)

// UowMetrics implements uow.Metrics.
type UowMetrics struct {
	executeDuration *prometheus.HistogramVec
	executions      *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	retries         *prometheus.CounterVec
	eventsPersisted *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
}

func NewUowMetrics(reg prometheus.Registerer) *UowMetrics {
	m := &UowMetrics{
		executeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execute_duration_seconds",
			Help:      "Unit of work execution latency in seconds, retries included",
			Buckets:   defaultBuckets,
		}, []string{"uow"}),

		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of unit of work executions by outcome",
		}, []string{"uow", "outcome"}),

		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Total number of persistence conflicts",
		}, []string{"uow"}),

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of retried attempts",
		}, []string{"uow"}),

		eventsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_persisted_total",
			Help:      "Total number of model events persisted",
		}, []string{"uow"}),

		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Total number of failed publishes after commit",
		}, []string{"uow"}),
	}

	reg.MustRegister(
		m.executeDuration,
		m.executions,
		m.conflicts,
		m.retries,
		m.eventsPersisted,
		m.publishFailures,
	)
	return m
}

func (m *UowMetrics) ExecuteDuration(u string) metrics.Timer {
	return newTimer(m.executeDuration.WithLabelValues(u))
}

func (m *UowMetrics) Executed(u, outcome string) { m.executions.WithLabelValues(u, outcome).Inc() }
func (m *UowMetrics) Conflict(u string)          { m.conflicts.WithLabelValues(u).Inc() }
func (m *UowMetrics) Retry(u string)             { m.retries.WithLabelValues(u).Inc() }
func (m *UowMetrics) PublishFailed(u string)     { m.publishFailures.WithLabelValues(u).Inc() }

func (m *UowMetrics) EventsPersisted(u string, count int) {
	m.eventsPersisted.WithLabelValues(u).Add(float64(count))
}

var _ uow.Metrics = (*UowMetrics)(nil)
