// Package tx provides a technology-agnostic transaction manager.
//
// A [Manager] binds the connection it acquired to the context of the call
// that acquired it. Nested calls receive that context and either share the
// connection ([RequireExisting]) or fail fast when they ask for a new one
// ([RequireNew]), so one outer unit of work owns the transaction while any
// number of nested calls commit atomically with it.
//
// The manager is generic over the connection type C. A technology plugs in
// through a [Provider] (acquire/release), a [Driver] (begin/commit/rollback)
// and a [Dispatcher] that decides where driver calls run: blocking drivers
// use a [Pool] sized to the connection pool, non-blocking drivers run
// [Direct].
package tx

import (
	"context"
	"errors"
	"fmt"
)

// Mode selects the nesting semantics of InTransaction.
type Mode uint8

const (
	// RequireNew opens a new transaction and fails if the call already owns one.
	RequireNew Mode = iota
	// RequireExisting joins the ambient transaction and fails if there is none.
	RequireExisting
)

func (m Mode) String() string {
	switch m {
	case RequireNew:
		return "require_new"
	case RequireExisting:
		return "require_existing"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

var (
	ErrExistingConnection = errors.New("required new connection but existing connection found")
	ErrNoConnection       = errors.New("required existing connection but no connection found")
)

// Transactor is the connection-agnostic view of a Manager. Code that does not
// touch the connection itself (the unit-of-work executor) depends on this.
type Transactor interface {
	Transact(ctx context.Context, mode Mode, fn func(ctx context.Context) error) error
	SupportsPipelining() bool
}

// TransactionManager is implemented by Manager for each connection type.
type TransactionManager[C any] interface {
	Transactor
	WithConnection(ctx context.Context, fn func(ctx context.Context, c C) error) error
	InTransaction(ctx context.Context, mode Mode, fn func(ctx context.Context, c C) error) error
}

type primaryKey struct{}

// WithPrimary marks ctx so that connections are taken from the primary pool.
// Transactions always use the primary pool.
func WithPrimary(ctx context.Context) context.Context {
	return context.WithValue(ctx, primaryKey{}, true)
}

// IsPrimaryRequired reports whether ctx carries the primary marker.
func IsPrimaryRequired(ctx context.Context) bool {
	v, _ := ctx.Value(primaryKey{}).(bool)
	return v
}
