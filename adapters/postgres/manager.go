package postgres

import (
	"context"
	"errors"

	"github.com/codewandler/uow-go/core/tx"
)

type provider struct {
	db *DB
}

func (p provider) Acquire(ctx context.Context) (*Conn, error) {
	c, err := p.db.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

func (provider) Release(_ context.Context, c *Conn) error {
	c.tx = nil
	c.conn.Release()
	return nil
}

type driver struct{}

func (driver) Begin(ctx context.Context, c *Conn) error {
	t, err := c.conn.Begin(ctx)
	if err != nil {
		return err
	}
	c.tx = t
	return nil
}

func (driver) Commit(ctx context.Context, c *Conn) error {
	t := c.tx
	c.tx = nil
	if t == nil {
		return errors.New("commit: no transaction")
	}
	return t.Commit(ctx)
}

func (driver) Rollback(ctx context.Context, c *Conn) error {
	t := c.tx
	c.tx = nil
	if t == nil {
		return nil
	}
	return t.Rollback(ctx)
}

func (driver) Invalidated(c *Conn) bool {
	return c.tx == nil || c.conn.Conn().IsClosed()
}

func (driver) SupportsPipelining() bool { return true }

// NewManager returns a transaction manager over db.
func NewManager(db *DB, opts ...tx.Option[*Conn]) *tx.Manager[*Conn] {
	base := []tx.Option[*Conn]{
		tx.WithName[*Conn]("postgres"),
		tx.WithDispatcher[*Conn](tx.Direct{}),
		tx.WithLogger[*Conn](db.log),
	}
	return tx.NewManager[*Conn](provider{db: db}, driver{}, append(base, opts...)...)
}
