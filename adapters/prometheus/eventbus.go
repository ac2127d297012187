package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/uow-go/core/eventbus"
)

// EventBusMetrics implements eventbus.Metrics.
type EventBusMetrics struct {
	delivered *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

func NewEventBusMetrics(reg prometheus.Registerer) *EventBusMetrics {
	m := &EventBusMetrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "delivered_total",
			Help:      "Total number of model events handled successfully",
		}, []string{"event"}),

		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "failed_total",
			Help:      "Total number of model events whose handler failed",
		}, []string{"event"}),
	}

	reg.MustRegister(m.delivered, m.failed)
	return m
}

func (m *EventBusMetrics) Delivered(event string) { m.delivered.WithLabelValues(event).Inc() }
func (m *EventBusMetrics) Failed(event string)    { m.failed.WithLabelValues(event).Inc() }

var _ eventbus.Metrics = (*EventBusMetrics)(nil)
