package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/persist"
	"github.com/codewandler/uow-go/core/tx"
	"github.com/codewandler/uow-go/ports/table"
)

// Repository stores models of type M in the table of its mapper. AddAll and
// UpdateAll send all writes in one batch.
type Repository[M domain.Persistable[M]] struct {
	tm     *tx.Manager[*Conn]
	mapper table.Mapper[M]
	stmts  table.Statements
}

func NewRepository[M domain.Persistable[M]](tm *tx.Manager[*Conn], mapper table.Mapper[M]) *Repository[M] {
	return &Repository[M]{
		tm:     tm,
		mapper: mapper,
		stmts:  table.Render(table.Dollar, mapper.Table(), mapper.Columns()),
	}
}

func (r *Repository[M]) Find(ctx context.Context, id domain.ModelID) (out M, err error) {
	err = r.tm.WithConnection(ctx, func(ctx context.Context, c *Conn) error {
		m, err := r.mapper.Scan(c.QueryRow(ctx, r.stmts.Select, id.String()))
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

func (r *Repository[M]) Add(ctx context.Context, m M) (M, error) {
	out, err := r.AddAll(ctx, []M{m})
	if err != nil {
		var zero M
		return zero, err
	}
	return out[0], nil
}

func (r *Repository[M]) Update(ctx context.Context, m M) (M, error) {
	out, err := r.UpdateAll(ctx, []M{m})
	if err != nil {
		var zero M
		return zero, err
	}
	return out[0], nil
}

func (r *Repository[M]) AddAll(ctx context.Context, ms []M) ([]M, error) {
	b := &pgx.Batch{}
	for _, m := range ms {
		args, err := table.InsertArgs(r.mapper, m)
		if err != nil {
			return nil, persist.Failure("insert", r.stmts.Table, err)
		}
		b.Queue(r.stmts.Insert, args...)
	}
	return r.send(ctx, b, ms, "insert")
}

// UpdateAll writes every model whose stored version still equals the
// version it was read at. If any model is stale, a StaleVersionError naming
// all stale ids is returned.
func (r *Repository[M]) UpdateAll(ctx context.Context, ms []M) ([]M, error) {
	b := &pgx.Batch{}
	for _, m := range ms {
		args, err := table.UpdateArgs(r.mapper, m)
		if err != nil {
			return nil, persist.Failure("update", r.stmts.Table, err)
		}
		b.Queue(r.stmts.Update, args...)
	}
	return r.send(ctx, b, ms, "update")
}

func (r *Repository[M]) send(ctx context.Context, b *pgx.Batch, ms []M, op string) (out []M, err error) {
	if len(ms) == 0 {
		return nil, nil
	}
	err = r.tm.WithConnection(ctx, func(ctx context.Context, c *Conn) error {
		br := c.SendBatch(ctx, b)
		defer br.Close()

		out = make([]M, 0, len(ms))
		var stale []string
		for _, m := range ms {
			stored, err := r.mapper.Scan(br.QueryRow())
			switch {
			case op == "update" && isNoRows(err):
				stale = append(stale, m.ModelID().String())
			case err != nil:
				return mapError(op, r.stmts.Table, m.ModelID().String(), err)
			default:
				out = append(out, stored)
			}
		}
		if err := br.Close(); err != nil {
			return mapError(op, r.stmts.Table, "", err)
		}
		if len(stale) > 0 {
			return &persist.StaleVersionError{Table: r.stmts.Table, ModelIDs: stale}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
