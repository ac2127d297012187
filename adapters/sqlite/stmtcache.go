package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/codewandler/uow-go/core/cache"
	"github.com/codewandler/uow-go/core/sf"
)

var errStmtCacheClosed = errors.New("statement cache closed")

// StmtCache keeps prepared statements by query text. Concurrent
// preparation of one query runs once. Statements are leased: an evicted
// statement is closed once its last lease is released, so a transaction
// holding it never sees it closed underneath.
type StmtCache struct {
	db       *sql.DB
	lru      *cache.LRU[string, *cachedStmt]
	prepares sf.Group[*cachedStmt]
	log      *slog.Logger
	closed   atomic.Bool

	hits, misses atomic.Int64
}

type cachedStmt struct {
	query string
	stmt  *sql.Stmt
	log   *slog.Logger

	mu      sync.Mutex
	refs    int
	evicted bool
	closed  bool
}

func (s *cachedStmt) retain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.refs++
	return true
}

func (s *cachedStmt) release() {
	s.mu.Lock()
	s.refs--
	s.closeLocked()
	s.mu.Unlock()
}

func (s *cachedStmt) evict() {
	s.mu.Lock()
	s.evicted = true
	s.closeLocked()
	s.mu.Unlock()
}

func (s *cachedStmt) closeLocked() {
	if !s.evicted || s.refs > 0 || s.closed {
		return
	}
	s.closed = true
	if err := s.stmt.Close(); err != nil {
		s.log.Warn("close evicted statement", slog.String("query", s.query), slog.Any("error", err))
	}
}

func NewStmtCache(db *sql.DB, size int, log *slog.Logger) *StmtCache {
	c := &StmtCache{db: db, log: log}
	c.lru = cache.NewLRU(cache.LRUOpts[string, *cachedStmt]{
		Size:    size,
		OnEvict: func(_ string, s *cachedStmt) { s.evict() },
	})
	return c
}

// Prepare leases the cached statement for query, preparing it on a miss.
// The statement stays open until release is called, even when it is
// evicted in the meantime.
func (c *StmtCache) Prepare(ctx context.Context, query string) (stmt *sql.Stmt, release func(), err error) {
	for {
		if c.closed.Load() {
			return nil, nil, errStmtCacheClosed
		}
		s, err := c.lookup(ctx, query)
		if err != nil {
			return nil, nil, err
		}
		// a lost race with eviction prepares again
		if s.retain() {
			return s.stmt, sync.OnceFunc(s.release), nil
		}
	}
}

func (c *StmtCache) lookup(ctx context.Context, query string) (*cachedStmt, error) {
	if s, ok := c.lru.Get(query); ok {
		c.hits.Add(1)
		return s, nil
	}
	s, _, err := c.prepares.Do(query, func() (*cachedStmt, error) {
		if s, ok := c.lru.Get(query); ok {
			return s, nil
		}
		c.misses.Add(1)
		// waiters share the statement, so the first caller's cancellation does not apply
		stmt, err := c.db.PrepareContext(context.WithoutCancel(ctx), query)
		if err != nil {
			return nil, err
		}
		s := &cachedStmt{query: query, stmt: stmt, log: c.log}
		c.lru.Put(query, s)
		return s, nil
	})
	return s, err
}

// Stats returns the number of cache hits and misses.
func (c *StmtCache) Stats() (hits, misses int64) { return c.hits.Load(), c.misses.Load() }

func (c *StmtCache) Len() int { return c.lru.Len() }

// Close evicts every cached statement. Leased statements close on release.
func (c *StmtCache) Close() {
	c.closed.Store(true)
	c.lru.Close()
}
