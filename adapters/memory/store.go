// Package memory is an in-process storage technology. Transactions are
// serialized and work on a copy of the committed tables, which replaces the
// committed state on commit.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/codewandler/uow-go/core/tx"
)

type table map[string]any

// Store holds the committed tables.
type Store struct {
	txSem chan struct{}

	mu     sync.RWMutex
	tables map[string]table
}

func NewStore() *Store {
	return &Store{
		txSem:  make(chan struct{}, 1),
		tables: make(map[string]table),
	}
}

func (s *Store) snapshot() map[string]table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]table, len(s.tables))
	for name, t := range s.tables {
		cp := make(table, len(t))
		for k, v := range t {
			cp[k] = v
		}
		out[name] = cp
	}
	return out
}

// Conn is a connection to a Store. Outside a transaction writes are applied
// immediately; they are lost if a concurrent transaction commits afterwards.
type Conn struct {
	store *Store
	work  map[string]table
}

func (c *Conn) InTx() bool { return c.work != nil }

func (c *Conn) Get(tableName, id string) (any, bool) {
	if c.work != nil {
		row, ok := c.work[tableName][id]
		return row, ok
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	row, ok := c.store.tables[tableName][id]
	return row, ok
}

func (c *Conn) Put(tableName, id string, row any) {
	tables := c.work
	if tables == nil {
		c.store.mu.Lock()
		defer c.store.mu.Unlock()
		tables = c.store.tables
	}
	t, ok := tables[tableName]
	if !ok {
		t = make(table)
		tables[tableName] = t
	}
	t[id] = row
}

func (c *Conn) Delete(tableName, id string) {
	tables := c.work
	if tables == nil {
		c.store.mu.Lock()
		defer c.store.mu.Unlock()
		tables = c.store.tables
	}
	delete(tables[tableName], id)
}

// Scan calls fn for every row of the table until fn returns false.
func (c *Conn) Scan(tableName string, fn func(id string, row any) bool) {
	var t table
	if c.work != nil {
		t = c.work[tableName]
	} else {
		c.store.mu.RLock()
		defer c.store.mu.RUnlock()
		t = c.store.tables[tableName]
	}
	for id, row := range t {
		if !fn(id, row) {
			return
		}
	}
}

type provider struct{ store *Store }

func (p provider) Acquire(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Conn{store: p.store}, nil
}

func (p provider) Release(context.Context, *Conn) error { return nil }

type driver struct{ pipelining bool }

func (driver) Begin(ctx context.Context, c *Conn) error {
	select {
	case c.store.txSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.work = c.store.snapshot()
	return nil
}

func (driver) Commit(_ context.Context, c *Conn) error {
	c.store.mu.Lock()
	c.store.tables = c.work
	c.store.mu.Unlock()
	c.work = nil
	<-c.store.txSem
	return nil
}

func (driver) Rollback(_ context.Context, c *Conn) error {
	c.work = nil
	<-c.store.txSem
	return nil
}

func (driver) Invalidated(c *Conn) bool   { return c.work == nil }
func (d driver) SupportsPipelining() bool { return d.pipelining }

// Option configures NewManager.
type Option func(*options)

type options struct {
	pipelining bool
	log        *slog.Logger
	metrics    tx.Metrics
}

// WithPipelining makes the manager report pipelining support, which enables
// batched persisting for units of work that allow it.
func WithPipelining() Option { return func(o *options) { o.pipelining = true } }

func WithLogger(log *slog.Logger) Option { return func(o *options) { o.log = log } }

func WithMetrics(m tx.Metrics) Option { return func(o *options) { o.metrics = m } }

// NewManager returns a transaction manager over store.
func NewManager(store *Store, opts ...Option) *tx.Manager[*Conn] {
	o := options{log: slog.Default(), metrics: tx.NopMetrics()}
	for _, opt := range opts {
		opt(&o)
	}
	return tx.NewManager[*Conn](
		provider{store: store},
		driver{pipelining: o.pipelining},
		tx.WithName[*Conn]("memory"),
		tx.WithLogger[*Conn](o.log),
		tx.WithMetrics[*Conn](o.metrics),
	)
}
