package tx

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Provider hands out connections of one pool.
type Provider[C any] interface {
	Acquire(ctx context.Context) (C, error)
	Release(ctx context.Context, c C) error
}

// Driver runs the transaction statements of one technology.
type Driver[C any] interface {
	Begin(ctx context.Context, c C) error
	Commit(ctx context.Context, c C) error
	Rollback(ctx context.Context, c C) error
	// Invalidated reports whether c can no longer roll back, e.g. because the
	// underlying connection was closed or the transaction already ended.
	Invalidated(c C) bool
	SupportsPipelining() bool
}

// Dispatcher runs a driver call.
type Dispatcher interface {
	Dispatch(ctx context.Context, fn func(ctx context.Context) error) error
}

// Direct runs calls on the calling goroutine. Used by non-blocking technologies.
type Direct struct{}

func (Direct) Dispatch(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Pool bounds the number of concurrent blocking driver calls.
// Size it to the connection pool capacity.
type Pool struct {
	sem *semaphore.Weighted
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

func (p *Pool) Dispatch(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

var (
	_ Dispatcher = Direct{}
	_ Dispatcher = (*Pool)(nil)
)
