package uow

import (
	"fmt"
	"reflect"

	"github.com/codewandler/uow-go/core/domain"
)

// ChangeKind is the operation recorded for one model.
type ChangeKind uint8

const (
	Added ChangeKind = iota + 1
	Updated
	Unchanged
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "add"
	case Updated:
		return "update"
	case Unchanged:
		return "noop"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Change is one entry of an Accumulator.
type Change struct {
	Kind  ChangeKind
	Model domain.Model

	// viaUpdate marks an add that was registered as an update of a new model.
	viaUpdate bool
}

func (c Change) Key() domain.Key { return domain.KeyOf(c.Model) }

// Events returns the events the change makes durable. Unchanged models carry none.
func (c Change) Events() []domain.ModelEvent {
	if c.Kind == Unchanged {
		return nil
	}
	return c.Model.EntityState().Events()
}

func (c Change) String() string { return c.Kind.String() + "(" + c.Key().String() + ")" }

// Accumulator is an ordered, immutable list of changes. Every method returns
// a new Accumulator.
//
// Registering a model that is already present folds into the existing entry
// instead of appending: a later update replaces the earlier model in place
// (an add stays an add), a later noop is absorbed, a second add panics.
// A replacing snapshot must descend from the registered one: same version and
// an event list that extends the registered events. Anything else would drop
// a mutation and panics.
//
// Entity changes are kept apart, in registration order.
type Accumulator struct {
	changes  []Change
	entities []EntityChange
}

// WithAdded registers the insert of a new model.
func (a Accumulator) WithAdded(m domain.Model) Accumulator {
	if !m.EntityState().IsNew() {
		programmerError("add requires a new model, %s is %s", domain.KeyOf(m), m.EntityState())
	}
	return a.with(Change{Kind: Added, Model: m})
}

// WithUpdated registers the update of a dirty model. A new model is recorded as an add.
func (a Accumulator) WithUpdated(m domain.Model) Accumulator {
	s := m.EntityState()
	if !s.IsNew() && !s.IsDirty() {
		programmerError("update requires a dirty or new model, %s is %s", domain.KeyOf(m), s)
	}
	return a.with(Change{Kind: Updated, Model: m})
}

// WithUnchanged records that m takes part without being written. A dirty
// model would lose its events and panics.
func (a Accumulator) WithUnchanged(m domain.Model) Accumulator {
	s := m.EntityState()
	if s.IsDirty() {
		programmerError("noop requires a clean persisted or new model, %s is %s", domain.KeyOf(m), s)
	}
	return a.with(Change{Kind: Unchanged, Model: m})
}

// WithAddedEntity registers the insert of entity e.
func (a Accumulator) WithAddedEntity(e any) Accumulator {
	if e == nil {
		programmerError("add entity requires a value")
	}
	return a.withEntity(EntityChange{Kind: EntityAdded, Entity: e})
}

// WithDeletedEntity registers the delete of entity e.
func (a Accumulator) WithDeletedEntity(e any) Accumulator {
	if e == nil {
		programmerError("delete entity requires a value")
	}
	return a.withEntity(EntityChange{Kind: EntityDeleted, Entity: e})
}

// WithDeletedEntityByKey registers the delete of the entities addressed by k.
func (a Accumulator) WithDeletedEntityByKey(k EntityKey) Accumulator {
	if k.del == nil {
		programmerError("delete entity by key requires a key built with KeyFor")
	}
	return a.withEntity(EntityChange{Kind: EntityDeletedByKey, Key: k})
}

// Merge appends other's changes after a's.
func (a Accumulator) Merge(other Accumulator) Accumulator {
	if other.IsEmpty() {
		return a
	}
	if a.IsEmpty() {
		return other
	}
	out := Accumulator{
		changes:  make([]Change, len(a.changes), len(a.changes)+len(other.changes)),
		entities: make([]EntityChange, 0, len(a.entities)+len(other.entities)),
	}
	copy(out.changes, a.changes)
	for _, c := range other.changes {
		out.changes = fold(out.changes, c)
	}
	out.entities = append(append(out.entities, a.entities...), other.entities...)
	return out
}

func (a Accumulator) with(c Change) Accumulator {
	next := make([]Change, len(a.changes), len(a.changes)+1)
	copy(next, a.changes)
	return Accumulator{changes: fold(next, c), entities: a.entities}
}

func (a Accumulator) withEntity(c EntityChange) Accumulator {
	next := make([]EntityChange, len(a.entities), len(a.entities)+1)
	copy(next, a.entities)
	return Accumulator{changes: a.changes, entities: append(next, c)}
}

// fold adds c to changes, which the caller owns.
func fold(changes []Change, c Change) []Change {
	key := c.Key()
	for i, prev := range changes {
		if prev.Key() != key {
			continue
		}
		switch c.Kind {
		case Unchanged:
		case Added:
			if prev.Kind != Unchanged && !c.viaUpdate {
				programmerError("model %s registered twice", key)
			}
			if prev.Kind != Unchanged && !descends(prev.Model, c.Model) {
				programmerError("failed to merge changes for model %s", key)
			}
			changes[i] = Change{Kind: Added, Model: c.Model}
		case Updated:
			if prev.Kind != Unchanged && !descends(prev.Model, c.Model) {
				programmerError("failed to merge changes for model %s", key)
			}
			kind := Updated
			if prev.Kind == Added || c.Model.EntityState().IsNew() {
				kind = Added
			}
			changes[i] = Change{Kind: kind, Model: c.Model}
		}
		return changes
	}
	if c.Kind == Updated && c.Model.EntityState().IsNew() {
		c = Change{Kind: Added, Model: c.Model, viaUpdate: true}
	}
	return append(changes, c)
}

// descends reports whether next was derived from prev by raising further
// events: the version is the same and prev's events are a strict prefix of
// next's.
func descends(prev, next domain.Model) bool {
	ps, ns := prev.EntityState(), next.EntityState()
	if ps.Version() != ns.Version() {
		return false
	}
	pe, ne := ps.Events(), ns.Events()
	if len(ne) <= len(pe) {
		return false
	}
	for i := range pe {
		if !sameEvent(pe[i], ne[i]) {
			return false
		}
	}
	return true
}

func sameEvent(a, b domain.ModelEvent) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta != nil && ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// Changes returns a copy of the entries in order.
func (a Accumulator) Changes() []Change {
	out := make([]Change, len(a.changes))
	copy(out, a.changes)
	return out
}

// EntityChanges returns a copy of the entity entries in order.
func (a Accumulator) EntityChanges() []EntityChange {
	out := make([]EntityChange, len(a.entities))
	copy(out, a.entities)
	return out
}

// Len returns the number of model changes.
func (a Accumulator) Len() int { return len(a.changes) }

// IsEmpty reports whether neither models nor entities were registered.
func (a Accumulator) IsEmpty() bool { return len(a.changes) == 0 && len(a.entities) == 0 }

// Events returns the events of all changes, in change order.
func (a Accumulator) Events() []domain.ModelEvent {
	var out []domain.ModelEvent
	for _, c := range a.changes {
		out = append(out, c.Events()...)
	}
	return out
}

// Changes is an Accumulator frozen together with the result of a unit of work.
type Changes[R any] struct {
	acc      Accumulator
	result   R
	resultFn func(Persisted) R
}

// WithResult freezes acc with r. It panics when acc is empty.
func WithResult[R any](acc Accumulator, r R) Changes[R] {
	if acc.IsEmpty() {
		programmerError("no changes to persist")
	}
	return Changes[R]{acc: acc, result: r}
}

// WithPersistedResult freezes acc with a result computed from the models the
// repositories returned, e.g. to hand out the new versions.
func WithPersistedResult[R any](acc Accumulator, fn func(Persisted) R) Changes[R] {
	if acc.IsEmpty() {
		programmerError("no changes to persist")
	}
	return Changes[R]{acc: acc, resultFn: fn}
}

func (c Changes[R]) Accumulator() Accumulator { return c.acc }

// Result returns the frozen result. Results computed from persisted models are
// only available from the executor.
func (c Changes[R]) Result() R {
	if c.resultFn != nil {
		programmerError("result of %d changes depends on persisted models", c.acc.Len())
	}
	return c.result
}

func (c Changes[R]) resolve(p Persisted) R {
	if c.resultFn != nil {
		return c.resultFn(p)
	}
	return c.result
}

// Persisted holds the models as returned by the repositories.
type Persisted struct {
	models map[domain.Key]domain.Model
	order  []domain.Model
}

func (p *Persisted) put(m domain.Model) {
	if p.models == nil {
		p.models = make(map[domain.Key]domain.Model)
	}
	p.models[domain.KeyOf(m)] = m
	p.order = append(p.order, m)
}

func (p Persisted) Get(k domain.Key) (domain.Model, bool) {
	m, ok := p.models[k]
	return m, ok
}

func (p Persisted) Models() []domain.Model { return append([]domain.Model(nil), p.order...) }

// PersistedModel returns the persisted counterpart of m.
func PersistedModel[M domain.Model](p Persisted, m M) (M, bool) {
	got, ok := p.Get(domain.KeyOf(m))
	if !ok {
		var zero M
		return zero, false
	}
	out, ok := got.(M)
	return out, ok
}
