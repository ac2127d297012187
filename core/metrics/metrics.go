// Package metrics holds the backend-neutral metric types the core packages
// report through. Implementations live in adapters.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes, e.g. defer m.ExecuteDuration(name).ObserveDuration().
type Timer interface {
	ObserveDuration()
}
