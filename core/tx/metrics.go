package tx

import "github.com/codewandler/uow-go/core/metrics"

// Metrics defines the metrics reported by the transaction manager.
type Metrics interface {
	TxDuration(mode Mode) metrics.Timer
	TxCommitted()
	TxRolledBack()
	ConnectionAcquireDuration(primary bool) metrics.Timer
}

type nopMetrics struct{}

func (nopMetrics) TxDuration(Mode) metrics.Timer                { return metrics.NopTimer() }
func (nopMetrics) TxCommitted()                                 {}
func (nopMetrics) TxRolledBack()                                {}
func (nopMetrics) ConnectionAcquireDuration(bool) metrics.Timer { return metrics.NopTimer() }

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
