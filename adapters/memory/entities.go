package memory

import (
	"context"

	"github.com/codewandler/uow-go/core/persist"
	"github.com/codewandler/uow-go/core/tx"
)

// EntityRepository stores entities of type E in one table, keyed by the
// string keyOf derives from their content.
type EntityRepository[E any] struct {
	tm    *tx.Manager[*Conn]
	table string
	keyOf func(E) string
}

func NewEntityRepository[E any](tm *tx.Manager[*Conn], table string, keyOf func(E) string) *EntityRepository[E] {
	return &EntityRepository[E]{tm: tm, table: table, keyOf: keyOf}
}

func (r *EntityRepository[E]) AddEntities(ctx context.Context, es []E) error {
	return r.tm.WithConnection(ctx, func(_ context.Context, c *Conn) error {
		for _, e := range es {
			k := r.keyOf(e)
			if _, exists := c.Get(r.table, k); exists {
				return &persist.UniqueViolationError{ModelID: k, Table: r.table, Constraint: r.table + "_pkey"}
			}
			c.Put(r.table, k, e)
		}
		return nil
	})
}

// DeleteEntities removes es. Missing entities are ignored.
func (r *EntityRepository[E]) DeleteEntities(ctx context.Context, es []E) error {
	keys := make([]string, len(es))
	for i, e := range es {
		keys[i] = r.keyOf(e)
	}
	return r.DeleteEntitiesByKey(ctx, keys)
}

func (r *EntityRepository[E]) DeleteEntitiesByKey(ctx context.Context, keys []string) error {
	return r.tm.WithConnection(ctx, func(_ context.Context, c *Conn) error {
		for _, k := range keys {
			c.Delete(r.table, k)
		}
		return nil
	})
}

// All returns every stored entity.
func (r *EntityRepository[E]) All(ctx context.Context) (out []E, err error) {
	err = r.tm.WithConnection(ctx, func(_ context.Context, c *Conn) error {
		c.Scan(r.table, func(_ string, row any) bool {
			out = append(out, row.(E))
			return true
		})
		return nil
	})
	return out, err
}
