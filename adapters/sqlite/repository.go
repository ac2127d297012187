package sqlite

import (
	"context"
	"fmt"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/persist"
	"github.com/codewandler/uow-go/core/tx"
	"github.com/codewandler/uow-go/ports/table"
)

// Repository stores models of type M in the table of its mapper.
type Repository[M domain.Persistable[M]] struct {
	tm     *tx.Manager[*Conn]
	mapper table.Mapper[M]
	stmts  table.Statements
}

func NewRepository[M domain.Persistable[M]](tm *tx.Manager[*Conn], mapper table.Mapper[M]) *Repository[M] {
	return &Repository[M]{
		tm:     tm,
		mapper: mapper,
		stmts:  table.Render(table.Question, mapper.Table(), mapper.Columns()),
	}
}

func (r *Repository[M]) Find(ctx context.Context, id domain.ModelID) (out M, err error) {
	err = r.tm.WithConnection(ctx, func(ctx context.Context, c *Conn) error {
		m, err := r.mapper.Scan(c.QueryRowContext(ctx, r.stmts.Select, id.String()))
		if isNoRows(err) {
			return fmt.Errorf("%w: %s/%s", persist.ErrNotFound, r.stmts.Table, id)
		}
		if err != nil {
			return persist.Failure("find", r.stmts.Table, err)
		}
		out = m
		return nil
	})
	return out, err
}

func (r *Repository[M]) Add(ctx context.Context, m M) (out M, err error) {
	args, err := table.InsertArgs(r.mapper, m)
	if err != nil {
		return out, persist.Failure("insert", r.stmts.Table, err)
	}
	err = r.tm.WithConnection(ctx, func(ctx context.Context, c *Conn) error {
		stored, err := r.mapper.Scan(c.QueryRowContext(ctx, r.stmts.Insert, args...))
		if err != nil {
			return mapError("insert", r.stmts.Table, m.ModelID().String(), err)
		}
		out = stored
		return nil
	})
	return out, err
}

// Update writes m if the stored version still equals the version m was
// read at.
func (r *Repository[M]) Update(ctx context.Context, m M) (out M, err error) {
	args, err := table.UpdateArgs(r.mapper, m)
	if err != nil {
		return out, persist.Failure("update", r.stmts.Table, err)
	}
	err = r.tm.WithConnection(ctx, func(ctx context.Context, c *Conn) error {
		stored, err := r.mapper.Scan(c.QueryRowContext(ctx, r.stmts.Update, args...))
		if isNoRows(err) {
			return &persist.StaleVersionError{Table: r.stmts.Table, ModelIDs: []string{m.ModelID().String()}}
		}
		if err != nil {
			return mapError("update", r.stmts.Table, m.ModelID().String(), err)
		}
		out = stored
		return nil
	})
	return out, err
}
