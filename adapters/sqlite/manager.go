package sqlite

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"

	"github.com/codewandler/uow-go/core/tx"
)

// provider hands out connections, keeping one free for statement preparation.
type provider struct {
	db    *DB
	slots *semaphore.Weighted
}

func (p *provider) Acquire(ctx context.Context) (*Conn, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	c, err := p.db.sql.Conn(ctx)
	if err != nil {
		p.slots.Release(1)
		return nil, err
	}
	return &Conn{conn: c, stmts: p.db.stmts}, nil
}

func (p *provider) Release(_ context.Context, c *Conn) error {
	defer p.slots.Release(1)
	if t := c.endTx(); t != nil {
		_ = t.Rollback()
	}
	return c.conn.Close()
}

type driver struct{}

func (driver) Begin(ctx context.Context, c *Conn) error {
	t, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	c.tx = t
	return nil
}

func (driver) Commit(_ context.Context, c *Conn) error {
	t := c.tx
	if t == nil {
		return errors.New("commit: no transaction")
	}
	err := t.Commit()
	c.endTx()
	return err
}

func (driver) Rollback(_ context.Context, c *Conn) error {
	t := c.tx
	if t == nil {
		return nil
	}
	err := t.Rollback()
	c.endTx()
	return err
}

func (driver) Invalidated(c *Conn) bool { return c.tx == nil }
func (driver) SupportsPipelining() bool { return false }

// NewManager returns a transaction manager over db. Driver calls are
// dispatched to a pool sized to the connection pool.
func NewManager(db *DB, opts ...tx.Option[*Conn]) *tx.Manager[*Conn] {
	conns := db.maxConns - 1
	base := []tx.Option[*Conn]{
		tx.WithName[*Conn]("sqlite"),
		tx.WithDispatcher[*Conn](tx.NewPool(conns)),
		tx.WithLogger[*Conn](db.log),
	}
	return tx.NewManager[*Conn](
		&provider{db: db, slots: semaphore.NewWeighted(int64(conns))},
		driver{},
		append(base, opts...)...,
	)
}
