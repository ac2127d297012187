package uow

import "github.com/codewandler/uow-go/core/metrics"

// Outcomes reported by Metrics.Executed.
const (
	OutcomeOK        = "ok"
	OutcomeRecovered = "recovered"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
)

// Metrics defines the metrics reported by the executor.
type Metrics interface {
	ExecuteDuration(uow string) metrics.Timer
	Executed(uow string, outcome string)
	Conflict(uow string)
	Retry(uow string)
	EventsPersisted(uow string, count int)
	PublishFailed(uow string)
}

type nopMetrics struct{}

func (nopMetrics) ExecuteDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) Executed(string, string)              {}
func (nopMetrics) Conflict(string)                      {}
func (nopMetrics) Retry(string)                         {}
func (nopMetrics) EventsPersisted(string, int)          {}
func (nopMetrics) PublishFailed(string)                 {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
