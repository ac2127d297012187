// Package prometheus provides Prometheus implementations of the metrics
// interfaces of the executor, the transaction managers, the saga runner and
// the event bus.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/uow-go/core/metrics"
)

const namespace = "uow"

// timer wraps a Prometheus histogram to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds the Prometheus implementations of every component.
type AllMetrics struct {
	Uow      *UowMetrics
	Saga     *SagaMetrics
	EventBus *EventBusMetrics
	reg      prometheus.Registerer
}

// NewAllMetrics registers the executor, saga and event bus metrics on reg.
// Transaction manager metrics are per manager, see Tx.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		Uow:      NewUowMetrics(reg),
		Saga:     NewSagaMetrics(reg),
		EventBus: NewEventBusMetrics(reg),
		reg:      reg,
	}
}

// Tx registers the metrics of the transaction manager called manager.
func (a *AllMetrics) Tx(manager string) *TxMetrics { return NewTxMetrics(a.reg, manager) }
