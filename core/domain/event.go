package domain

import "github.com/codewandler/uow-go/core/reflector"

// ModelEvent is one fact about a model. The event value itself is the payload
// handed to the encoder.
type ModelEvent interface {
	ModelID() ModelID
	ModelName() string
}

// NamedEvent overrides the event name, which otherwise is the Go type name.
type NamedEvent interface {
	EventName() string
}

// EventName returns the name under which e is recorded and published.
func EventName(e ModelEvent) string {
	if n, ok := e.(NamedEvent); ok {
		return n.EventName()
	}
	return reflector.TypeInfoOf(e).Short()
}
