package saga

import "github.com/codewandler/uow-go/core/metrics"

// Outcomes reported by Metrics.Finished.
const (
	OutcomeOK        = "ok"
	OutcomeRecovered = "recovered"
	OutcomeHalted    = "halted"
	OutcomeError     = "error"
)

// Metrics defines the metrics reported by a Runner.
type Metrics interface {
	ResumeDuration(saga string) metrics.Timer
	Step(saga, step string)
	Restarted(saga string)
	Finished(saga, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) ResumeDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) Step(string, string)                 {}
func (nopMetrics) Restarted(string)                    {}
func (nopMetrics) Finished(string, string)             {}

func NopMetrics() Metrics { return nopMetrics{} }
