package domain

import "fmt"

// Stage is the lifecycle stage of a model.
type Stage uint8

const (
	StageNew Stage = iota
	StagePersistent
)

func (s Stage) String() string {
	switch s {
	case StageNew:
		return "new"
	case StagePersistent:
		return "persistent"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// EntityState is the per-model lifecycle value: stage, version and the events
// raised since the model was last made durable. It is a value; every transition
// returns a new EntityState and leaves the receiver untouched.
type EntityState struct {
	stage   Stage
	version Version
	events  []ModelEvent
}

// NewState returns the state of a model that has not been inserted yet.
func NewState(events ...ModelEvent) EntityState {
	return EntityState{stage: StageNew, events: cloneEvents(events)}
}

// PersistentState returns the state of a model loaded at version v.
func PersistentState(v Version) EntityState {
	return EntityState{stage: StagePersistent, version: v}
}

func (s EntityState) Stage() Stage     { return s.stage }
func (s EntityState) Version() Version { return s.version }
func (s EntityState) IsNew() bool      { return s.stage == StageNew }
func (s EntityState) IsPersisted() bool {
	return s.stage == StagePersistent
}

// IsDirty reports whether a persisted model carries events that are not durable yet.
func (s EntityState) IsDirty() bool {
	return s.stage == StagePersistent && len(s.events) > 0
}

// Events returns a copy of the pending events.
func (s EntityState) Events() []ModelEvent { return cloneEvents(s.events) }

// Raise returns a new state with e appended to the pending events.
// The version is left unchanged until the change is persisted.
func (s EntityState) Raise(e ModelEvent) EntityState {
	next := make([]ModelEvent, len(s.events), len(s.events)+1)
	copy(next, s.events)
	s.events = append(next, e)
	return s
}

// Persisted returns the state after a durable write at version v.
func (s EntityState) Persisted(v Version) EntityState {
	return EntityState{stage: StagePersistent, version: v}
}

func (s EntityState) String() string {
	return fmt.Sprintf("%s(v%d, %d events)", s.stage, s.version, len(s.events))
}

func cloneEvents(in []ModelEvent) []ModelEvent {
	if len(in) == 0 {
		return nil
	}
	out := make([]ModelEvent, len(in))
	copy(out, in)
	return out
}
