package tx

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/codewandler/uow-go/core/tx"

type (
	// connKey is compared by pointer; it has a size so that two keys never share an address.
	connKey struct{ _ byte }

	binding[C any] struct {
		conn C
		inTx bool
	}

	// Option configures a Manager.
	Option[C any] func(*Manager[C])
)

// WithReplica sets the pool used by WithConnection when the primary marker is absent.
func WithReplica[C any](p Provider[C]) Option[C] {
	return func(m *Manager[C]) { m.replica = p }
}

// WithDispatcher sets where driver calls run. Defaults to Direct.
func WithDispatcher[C any](d Dispatcher) Option[C] {
	return func(m *Manager[C]) { m.dispatcher = d }
}

func WithLogger[C any](log *slog.Logger) Option[C] {
	return func(m *Manager[C]) { m.log = log }
}

func WithMetrics[C any](mt Metrics) Option[C] {
	return func(m *Manager[C]) { m.metrics = mt }
}

func WithTracer[C any](t trace.Tracer) Option[C] {
	return func(m *Manager[C]) { m.tracer = t }
}

// WithName labels logs and spans of the manager.
func WithName[C any](name string) Option[C] {
	return func(m *Manager[C]) { m.name = name }
}

// Manager implements TransactionManager for connections of type C.
type Manager[C any] struct {
	name       string
	primary    Provider[C]
	replica    Provider[C]
	driver     Driver[C]
	dispatcher Dispatcher
	key        *connKey
	log        *slog.Logger
	metrics    Metrics
	tracer     trace.Tracer
}

func NewManager[C any](primary Provider[C], driver Driver[C], opts ...Option[C]) *Manager[C] {
	m := &Manager[C]{
		name:       fmt.Sprintf("%T", driver),
		primary:    primary,
		driver:     driver,
		dispatcher: Direct{},
		key:        &connKey{},
		log:        slog.Default(),
		metrics:    NopMetrics(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.replica == nil {
		m.replica = m.primary
	}
	m.log = m.log.With(slog.String("tx_manager", m.name))
	return m
}

func (m *Manager[C]) SupportsPipelining() bool { return m.driver.SupportsPipelining() }

// Current returns the connection bound to ctx by this manager.
func (m *Manager[C]) Current(ctx context.Context) (c C, ok bool) {
	b, ok := m.binding(ctx)
	return b.conn, ok
}

// InTx reports whether ctx runs inside a transaction of this manager.
func (m *Manager[C]) InTx(ctx context.Context) bool {
	b, ok := m.binding(ctx)
	return ok && b.inTx
}

// WithConnection runs fn on the ambient connection, or on a connection
// acquired for the duration of fn. The primary pool is used when ctx carries
// the WithPrimary marker, the replica pool otherwise. An acquired connection
// is not bound to ctx: only transactions are ambient, so fn may open one with
// RequireNew but never joins one with RequireExisting.
func (m *Manager[C]) WithConnection(ctx context.Context, fn func(ctx context.Context, c C) error) error {
	if b, ok := m.binding(ctx); ok {
		return fn(ctx, b.conn)
	}

	primary := IsPrimaryRequired(ctx)
	provider := m.replica
	if primary {
		provider = m.primary
	}

	c, err := m.acquire(ctx, provider, primary)
	if err != nil {
		return err
	}
	defer m.release(ctx, provider, c)

	return fn(ctx, c)
}

// InTransaction runs fn according to mode. See Mode for the nesting rules.
func (m *Manager[C]) InTransaction(ctx context.Context, mode Mode, fn func(ctx context.Context, c C) error) error {
	switch mode {
	case RequireExisting:
		b, ok := m.binding(ctx)
		if !ok {
			return ErrNoConnection
		}
		return fn(ctx, b.conn)
	case RequireNew:
		if _, ok := m.binding(ctx); ok {
			return ErrExistingConnection
		}
		return m.runNew(ctx, fn)
	default:
		return fmt.Errorf("unknown transaction mode %s", mode)
	}
}

// Transact is InTransaction for callers that reach the connection through ctx.
func (m *Manager[C]) Transact(ctx context.Context, mode Mode, fn func(ctx context.Context) error) error {
	return m.InTransaction(ctx, mode, func(ctx context.Context, _ C) error {
		return fn(ctx)
	})
}

func (m *Manager[C]) runNew(ctx context.Context, fn func(ctx context.Context, c C) error) (err error) {
	ctx, span := m.tracer.Start(ctx, "tx", trace.WithAttributes(
		attribute.String("tx.manager", m.name),
		attribute.String("tx.mode", RequireNew.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer m.metrics.TxDuration(RequireNew).ObserveDuration()

	c, err := m.acquire(ctx, m.primary, true)
	if err != nil {
		return err
	}
	defer m.release(ctx, m.primary, c)

	if err = m.dispatcher.Dispatch(ctx, func(ctx context.Context) error {
		return m.driver.Begin(ctx, c)
	}); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	m.log.Debug("begin", slog.Group("tx", slog.String("mode", RequireNew.String())))

	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("rolling back after panic", slog.Any("panic", r))
			m.rollback(ctx, c)
			panic(r)
		}
	}()

	if err = fn(m.bind(ctx, c, true), c); err != nil {
		m.rollback(ctx, c)
		return err
	}

	if err = m.dispatcher.Dispatch(ctx, func(ctx context.Context) error {
		return m.driver.Commit(ctx, c)
	}); err != nil {
		m.rollback(ctx, c)
		return fmt.Errorf("commit transaction: %w", err)
	}
	m.metrics.TxCommitted()
	m.log.Debug("committed")
	return nil
}

// rollback and release must run even when the caller was cancelled.

func (m *Manager[C]) rollback(ctx context.Context, c C) {
	ctx = context.WithoutCancel(ctx)
	m.metrics.TxRolledBack()
	if m.driver.Invalidated(c) {
		m.log.Debug("rollback skipped, connection invalidated")
		return
	}
	if err := m.dispatcher.Dispatch(ctx, func(ctx context.Context) error {
		return m.driver.Rollback(ctx, c)
	}); err != nil {
		m.log.Warn("rollback failed", slog.Any("error", err))
		return
	}
	m.log.Debug("rolled back")
}

func (m *Manager[C]) acquire(ctx context.Context, p Provider[C], primary bool) (c C, err error) {
	// Acquire waits on the connection pool itself and is not dispatched.
	timer := m.metrics.ConnectionAcquireDuration(primary)
	c, err = p.Acquire(ctx)
	timer.ObserveDuration()
	if err != nil {
		return c, fmt.Errorf("acquire connection (primary=%t): %w", primary, err)
	}
	return c, nil
}

func (m *Manager[C]) release(ctx context.Context, p Provider[C], c C) {
	ctx = context.WithoutCancel(ctx)
	if err := m.dispatcher.Dispatch(ctx, func(ctx context.Context) error {
		return p.Release(ctx, c)
	}); err != nil {
		m.log.Warn("release failed", slog.Any("error", err))
	}
}

func (m *Manager[C]) bind(ctx context.Context, c C, inTx bool) context.Context {
	return context.WithValue(ctx, m.key, binding[C]{conn: c, inTx: inTx})
}

func (m *Manager[C]) binding(ctx context.Context) (binding[C], bool) {
	b, ok := ctx.Value(m.key).(binding[C])
	return b, ok
}

var _ TransactionManager[any] = (*Manager[any])(nil)
