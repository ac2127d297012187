package uow

import (
	"context"
	"time"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/reflector"
)

// UnitOfWork is one atomic business operation. Perform computes changes in
// memory; reads go through repositories on the ambient connection.
type UnitOfWork[P, R any] interface {
	Perform(ctx context.Context, principal domain.Principal, params P) (Changes[R], error)
}

// Named overrides the unit-of-work name, which otherwise is the Go type name.
type Named interface {
	Name() string
}

// FailureHandler recovers from persistence conflicts, e.g. by re-reading the
// result of an earlier execution with the same idempotency key. Returning an
// error rethrows.
type FailureHandler[P, R any] interface {
	OnFailure(ctx context.Context, params P, err error) (R, error)
}

// Configured lets a unit of work tune its execution.
type Configured interface {
	Config() Config
}

// Config of one unit of work.
type Config struct {
	// Retry re-runs the whole attempt with fresh params in a new transaction.
	Retry RetryPolicy
	// OutOfOrderPersisting allows grouping writes per repository when the
	// transaction manager supports pipelining.
	OutOfOrderPersisting bool
}

// TxContext describes the transaction an attempt runs in.
type TxContext struct {
	StartedAt time.Time
}

// InstantiationContext is passed to the params factory of each attempt.
type InstantiationContext struct {
	Attempt int
	Tx      TxContext
}

// ParamsFunc builds the params of one attempt inside its transaction.
type ParamsFunc[P any] func(ic InstantiationContext) (P, error)

// Params returns a ParamsFunc that always yields p.
func Params[P any](p P) ParamsFunc[P] {
	return func(InstantiationContext) (P, error) { return p, nil }
}

// Func adapts a function to a named UnitOfWork.
type Func[P, R any] struct {
	name string
	fn   func(ctx context.Context, principal domain.Principal, params P) (Changes[R], error)
}

func New[P, R any](name string, fn func(ctx context.Context, principal domain.Principal, params P) (Changes[R], error)) Func[P, R] {
	return Func[P, R]{name: name, fn: fn}
}

func (f Func[P, R]) Name() string { return f.name }
func (f Func[P, R]) Perform(ctx context.Context, principal domain.Principal, params P) (Changes[R], error) {
	return f.fn(ctx, principal, params)
}

// NameOf returns the name of a unit of work.
func NameOf(u any) string {
	if n, ok := u.(Named); ok {
		return n.Name()
	}
	return reflector.TypeInfoOf(u).Short()
}

func configOf(u any) Config {
	if c, ok := u.(Configured); ok {
		return c.Config()
	}
	return Config{}
}

var (
	_ UnitOfWork[int, int] = Func[int, int]{}
	_ Named                = Func[int, int]{}
)
