package uow

import (
	"context"

	"github.com/codewandler/uow-go/core/domain"
)

// Changeset is the flat composition dialect.
type Changeset struct {
	acc Accumulator
}

func (c *Changeset) Add(m domain.Model) *Changeset {
	c.acc = c.acc.WithAdded(m)
	return c
}

func (c *Changeset) Update(m domain.Model) *Changeset {
	c.acc = c.acc.WithUpdated(m)
	return c
}

// UpdateIfDirty registers m as an update when it has pending events and as
// unchanged otherwise.
func (c *Changeset) UpdateIfDirty(m domain.Model) *Changeset {
	c.acc = updateIfDirty(c.acc, m)
	return c
}

func (c *Changeset) NotChanged(m domain.Model) *Changeset {
	c.acc = c.acc.WithUnchanged(m)
	return c
}

func (c *Changeset) AddEntity(e any) *Changeset {
	c.acc = c.acc.WithAddedEntity(e)
	return c
}

func (c *Changeset) DeleteEntity(e any) *Changeset {
	c.acc = c.acc.WithDeletedEntity(e)
	return c
}

func (c *Changeset) DeleteEntityByKey(k EntityKey) *Changeset {
	c.acc = c.acc.WithDeletedEntityByKey(k)
	return c
}

func (c *Changeset) Accumulator() Accumulator { return c.acc }

// Done freezes the changeset with r.
func Done[R any](c *Changeset, r R) Changes[R] { return WithResult(c.acc, r) }

// Composer is the nestable composition dialect. Registrations go to the head;
// a nested call seals head into tail, splices the nested changes after it and
// starts a fresh head.
type Composer struct {
	head Accumulator
	tail Accumulator
}

func (c *Composer) Add(m domain.Model) *Composer {
	c.head = c.head.WithAdded(m)
	return c
}

func (c *Composer) Update(m domain.Model) *Composer {
	c.head = c.head.WithUpdated(m)
	return c
}

func (c *Composer) UpdateIfDirty(m domain.Model) *Composer {
	c.head = updateIfDirty(c.head, m)
	return c
}

func (c *Composer) NotChanged(m domain.Model) *Composer {
	c.head = c.head.WithUnchanged(m)
	return c
}

func (c *Composer) AddEntity(e any) *Composer {
	c.head = c.head.WithAddedEntity(e)
	return c
}

func (c *Composer) DeleteEntity(e any) *Composer {
	c.head = c.head.WithDeletedEntity(e)
	return c
}

func (c *Composer) DeleteEntityByKey(k EntityKey) *Composer {
	c.head = c.head.WithDeletedEntityByKey(k)
	return c
}

// Include splices already computed changes, as Nested does.
func (c *Composer) Include(acc Accumulator) *Composer {
	c.tail = c.tail.Merge(c.head.Merge(acc))
	c.head = Accumulator{}
	return c
}

// Accumulator returns everything registered so far, in call order.
func (c *Composer) Accumulator() Accumulator { return c.tail.Merge(c.head) }

// Compose freezes the composer with r.
func Compose[R any](c *Composer, r R) Changes[R] { return WithResult(c.Accumulator(), r) }

// Nested performs u in memory and splices its changes into c.
// It runs inside the caller's transaction; u's failure hook is not consulted.
func Nested[P, R any](ctx context.Context, c *Composer, u UnitOfWork[P, R], principal domain.Principal, params P) (R, error) {
	changes, err := u.Perform(ctx, principal, params)
	if err != nil {
		var zero R
		return zero, err
	}
	c.Include(changes.Accumulator())
	return changes.Result(), nil
}

func updateIfDirty(acc Accumulator, m domain.Model) Accumulator {
	s := m.EntityState()
	if s.IsNew() || s.IsDirty() {
		return acc.WithUpdated(m)
	}
	return acc.WithUnchanged(m)
}
