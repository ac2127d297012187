package memory

import (
	"context"
	"fmt"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/persist"
	"github.com/codewandler/uow-go/core/tx"
)

// Repository stores models of type M in one table.
type Repository[M domain.Persistable[M]] struct {
	tm    *tx.Manager[*Conn]
	table string
}

func NewRepository[M domain.Persistable[M]](tm *tx.Manager[*Conn], table string) *Repository[M] {
	return &Repository[M]{tm: tm, table: table}
}

func (r *Repository[M]) Find(ctx context.Context, id domain.ModelID) (out M, err error) {
	err = r.tm.WithConnection(ctx, func(_ context.Context, c *Conn) error {
		row, ok := c.Get(r.table, id.String())
		if !ok {
			return fmt.Errorf("%w: %s/%s", persist.ErrNotFound, r.table, id)
		}
		out = row.(M)
		return nil
	})
	return out, err
}

func (r *Repository[M]) Add(ctx context.Context, m M) (out M, err error) {
	err = r.tm.WithConnection(ctx, func(_ context.Context, c *Conn) error {
		id := m.ModelID().String()
		if _, exists := c.Get(r.table, id); exists {
			return &persist.UniqueViolationError{ModelID: id, Table: r.table, Constraint: r.table + "_pkey"}
		}
		out = m.WithEntityState(m.EntityState().Persisted(1))
		c.Put(r.table, id, out)
		return nil
	})
	return out, err
}

func (r *Repository[M]) Update(ctx context.Context, m M) (out M, err error) {
	err = r.tm.WithConnection(ctx, func(_ context.Context, c *Conn) error {
		id := m.ModelID().String()
		expected := m.EntityState().Version()
		row, ok := c.Get(r.table, id)
		if !ok || row.(M).EntityState().Version() != expected {
			return &persist.StaleVersionError{Table: r.table, ModelIDs: []string{id}}
		}
		out = m.WithEntityState(m.EntityState().Persisted(expected.Next()))
		c.Put(r.table, id, out)
		return nil
	})
	return out, err
}

func (r *Repository[M]) AddAll(ctx context.Context, ms []M) ([]M, error) {
	return each(ctx, ms, r.Add)
}

func (r *Repository[M]) UpdateAll(ctx context.Context, ms []M) ([]M, error) {
	return each(ctx, ms, r.Update)
}

// All returns every stored model.
func (r *Repository[M]) All(ctx context.Context) (out []M, err error) {
	err = r.tm.WithConnection(ctx, func(_ context.Context, c *Conn) error {
		c.Scan(r.table, func(_ string, row any) bool {
			out = append(out, row.(M))
			return true
		})
		return nil
	})
	return out, err
}

func each[M any](ctx context.Context, ms []M, fn func(context.Context, M) (M, error)) ([]M, error) {
	out := make([]M, 0, len(ms))
	for _, m := range ms {
		s, err := fn(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
