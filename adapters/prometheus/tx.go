package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/uow-go/core/metrics"
	"github.com/codewandler/uow-go/core/tx"
)

// TxMetrics implements tx.Metrics for one transaction manager.
type TxMetrics struct {
	duration        *prometheus.HistogramVec
	commits         prometheus.Counter
	rollbacks       prometheus.Counter
	acquireDuration *prometheus.HistogramVec
}

// NewTxMetrics registers the metrics of the transaction manager called
// manager. Several managers can share one registry.
func NewTxMetrics(reg prometheus.Registerer, manager string) *TxMetrics {
	labels := prometheus.Labels{"manager": manager}
	m := &TxMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "tx",
			Name:        "duration_seconds",
			Help:        "Transaction latency in seconds by mode",
			Buckets:     defaultBuckets,
			ConstLabels: labels,
		}, []string{"mode"}),

		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "tx",
			Name:        "commits_total",
			Help:        "Total number of committed transactions",
			ConstLabels: labels,
		}),

		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "tx",
			Name:        "rollbacks_total",
			Help:        "Total number of rolled back transactions",
			ConstLabels: labels,
		}),

		acquireDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "tx",
			Name:        "connection_acquire_duration_seconds",
			Help:        "Connection acquire latency in seconds",
			Buckets:     defaultBuckets,
			ConstLabels: labels,
		}, []string{"primary"}),
	}

	reg.MustRegister(m.duration, m.commits, m.rollbacks, m.acquireDuration)
	return m
}

func (m *TxMetrics) TxDuration(mode tx.Mode) metrics.Timer {
	return newTimer(m.duration.WithLabelValues(mode.String()))
}

func (m *TxMetrics) TxCommitted()  { m.commits.Inc() }
func (m *TxMetrics) TxRolledBack() { m.rollbacks.Inc() }

func (m *TxMetrics) ConnectionAcquireDuration(primary bool) metrics.Timer {
	return newTimer(m.acquireDuration.WithLabelValues(strconv.FormatBool(primary)))
}

var _ tx.Metrics = (*TxMetrics)(nil)
