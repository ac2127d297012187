package sqlite

import (
	"context"
	"database/sql"
)

// Conn is a pooled connection bound to one logical call. Inside a
// transaction statements run through the statement cache and stay leased
// until the transaction ends.
type Conn struct {
	conn   *sql.Conn
	tx     *sql.Tx
	stmts  *StmtCache
	leases []func()
}

// InTx reports whether a transaction is open on c.
func (c *Conn) InTx() bool { return c.tx != nil }

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.tx == nil {
		return c.conn.ExecContext(ctx, query, args...)
	}
	if s := c.stmt(ctx, query); s != nil {
		return s.ExecContext(ctx, args...)
	}
	return c.tx.ExecContext(ctx, query, args...)
}

func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if c.tx == nil {
		return c.conn.QueryRowContext(ctx, query, args...)
	}
	if s := c.stmt(ctx, query); s != nil {
		return s.QueryRowContext(ctx, args...)
	}
	return c.tx.QueryRowContext(ctx, query, args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.tx == nil {
		return c.conn.QueryContext(ctx, query, args...)
	}
	if s := c.stmt(ctx, query); s != nil {
		return s.QueryContext(ctx, args...)
	}
	return c.tx.QueryContext(ctx, query, args...)
}

// stmt returns the cached statement for query bound to the transaction, or
// nil when it cannot be prepared; running the query directly then reports
// the error.
func (c *Conn) stmt(ctx context.Context, query string) *sql.Stmt {
	s, release, err := c.stmts.Prepare(ctx, query)
	if err != nil {
		return nil
	}
	c.leases = append(c.leases, release)
	return c.tx.StmtContext(ctx, s)
}

// endTx drops the transaction and releases the statements it leased.
func (c *Conn) endTx() *sql.Tx {
	t := c.tx
	c.tx = nil
	for _, release := range c.leases {
		release()
	}
	c.leases = nil
	return t
}
