package uow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/events"
	"github.com/codewandler/uow-go/core/persist"
	"github.com/codewandler/uow-go/core/tx"
	"github.com/codewandler/uow-go/internal/codec"
)

const tracerName = "github.com/codewandler/uow-go/core/uow"

// Option configures an Executor.
type Option func(*Executor)

// WithPublisher sets the collaborator events are published to after commit.
func WithPublisher(p events.Publisher) Option { return func(e *Executor) { e.publisher = p } }
func WithLogger(log *slog.Logger) Option      { return func(e *Executor) { e.log = log } }
func WithMetrics(m Metrics) Option            { return func(e *Executor) { e.metrics = m } }
func WithTracer(t trace.Tracer) Option        { return func(e *Executor) { e.tracer = t } }
func WithClock(now func() time.Time) Option   { return func(e *Executor) { e.now = now } }

// WithCodec sets the encoder of params and event payloads. Defaults to JSON.
func WithCodec(c codec.Codec) Option { return func(e *Executor) { e.codec = c } }

// WithMaxEventPayload limits the encoded size of one model event.
func WithMaxEventPayload(n int) Option { return func(e *Executor) { e.maxPayload = n } }

// WithIDGenerator sets the generator of UowEvent and model event ids.
func WithIDGenerator(gen func() uuid.UUID) Option { return func(e *Executor) { e.newID = gen } }

// Executor runs units of work against one transaction manager.
type Executor struct {
	tm         tx.Transactor
	repos      *Registry
	store      events.Repository
	publisher  events.Publisher
	log        *slog.Logger
	metrics    Metrics
	tracer     trace.Tracer
	now        func() time.Time
	codec      codec.Codec
	maxPayload int
	newID      func() uuid.UUID

	muFactories sync.RWMutex
	factories   map[reflect.Type]func() any
}

func NewExecutor(tm tx.Transactor, repos *Registry, store events.Repository, opts ...Option) *Executor {
	e := &Executor{
		tm:         tm,
		repos:      repos,
		store:      store,
		log:        slog.Default(),
		metrics:    NopMetrics(),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		codec:      codec.JSONCodec{},
		maxPayload: events.DefaultMaxPayloadSize,
		newID:      func() uuid.UUID { return uuid.Must(uuid.NewV7()) },
		factories:  make(map[reflect.Type]func() any),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(slog.String("component", "uow"))
	return e
}

// Registry returns the repository registry of the executor.
func (e *Executor) Registry() *Registry { return e.repos }

// RegisterFactory registers how to instantiate units of work of type U.
func RegisterFactory[U any](e *Executor, f func() U) {
	e.muFactories.Lock()
	defer e.muFactories.Unlock()
	e.factories[reflect.TypeFor[U]()] = func() any { return f() }
}

// Resolve instantiates a registered unit of work.
func Resolve[U any](e *Executor) (U, error) {
	t := reflect.TypeFor[U]()
	e.muFactories.RLock()
	f, ok := e.factories[t]
	e.muFactories.RUnlock()
	if !ok {
		var zero U
		return zero, fmt.Errorf("%w: %s", ErrUowNotFound, t)
	}
	return f().(U), nil
}

// ExecuteRegistered resolves U and executes it.
func ExecuteRegistered[U UnitOfWork[P, R], P, R any](ctx context.Context, e *Executor, principal domain.Principal, params ParamsFunc[P]) (R, error) {
	u, err := Resolve[U](e)
	if err != nil {
		var zero R
		return zero, err
	}
	return Execute[P, R](ctx, e, u, principal, params)
}

// Execute runs u in a new transaction and returns its result.
//
// Each attempt builds params inside the transaction, performs u, persists
// its changes and the UowEvent and commits. The event is published after
// commit; publish failures are logged and do not fail the execution.
// Conflicts are retried per u's RetryPolicy and then handed to its
// FailureHandler, if any.
func Execute[P, R any](ctx context.Context, e *Executor, u UnitOfWork[P, R], principal domain.Principal, params ParamsFunc[P]) (res R, err error) {
	name := NameOf(u)
	cfg := configOf(u)
	log := e.log.With(slog.String("uow", name))
	defer e.metrics.ExecuteDuration(name).ObserveDuration()

	if principal == nil {
		return res, errors.New("principal is required")
	}
	if v, ok := principal.(interface{ Validate() error }); ok {
		if err = v.Validate(); err != nil {
			return res, err
		}
	}

	for attempt := 1; ; attempt++ {
		var (
			p      P
			built  bool
			result R
		)
		result, p, built, err = tryPerform(ctx, e, u, name, cfg, principal, params, attempt)
		if err == nil {
			e.metrics.Executed(name, OutcomeOK)
			return result, nil
		}

		conflict := persist.IsConflict(err)
		if conflict {
			e.metrics.Conflict(name)
		}

		if cfg.Retry != nil && cfg.Retry.ShouldRetry(err, attempt) && ctx.Err() == nil {
			e.metrics.Retry(name)
			log.Warn("retrying", slog.Int("attempt", attempt), slog.Any("error", err))
			continue
		}

		if fh, ok := u.(FailureHandler[P, R]); ok && conflict && built {
			log.Debug("handing conflict to failure hook", slog.Any("error", err))
			if result, err = fh.OnFailure(ctx, p, err); err == nil {
				e.metrics.Executed(name, OutcomeRecovered)
				return result, nil
			}
		}

		if persist.IsConflict(err) {
			e.metrics.Executed(name, OutcomeConflict)
		} else {
			e.metrics.Executed(name, OutcomeError)
		}
		return res, err
	}
}

func tryPerform[P, R any](
	ctx context.Context,
	e *Executor,
	u UnitOfWork[P, R],
	name string,
	cfg Config,
	principal domain.Principal,
	paramsFn ParamsFunc[P],
	attempt int,
) (res R, params P, built bool, err error) {
	ctx, span := e.tracer.Start(ctx, "uow "+name, trace.WithAttributes(
		attribute.String("uow.name", name),
		attribute.Int("uow.attempt", attempt),
		attribute.String("uow.principal", principal.PrincipalID()),
	))
	defer func() { endSpan(span, err) }()

	var evt *events.UowEvent
	err = e.tm.Transact(ctx, tx.RequireNew, func(ctx context.Context) error {
		ic := InstantiationContext{Attempt: attempt, Tx: TxContext{StartedAt: e.now()}}
		p, err := paramsFn(ic)
		if err != nil {
			return fmt.Errorf("instantiate params of %s: %w", name, err)
		}
		params, built = p, true

		changes, err := u.Perform(ctx, principal, p)
		if err != nil {
			return err
		}
		acc := changes.Accumulator()
		if acc.IsEmpty() {
			programmerError("no changes to persist")
		}

		persisted, err := e.persist(ctx, acc, cfg)
		if err != nil {
			return err
		}

		if evt, err = e.newUowEvent(name, principal, p, acc, ic.Tx.StartedAt); err != nil {
			return err
		}
		if err = e.store.Save(ctx, evt); err != nil {
			return err
		}
		res = changes.resolve(persisted)
		return nil
	})
	if err != nil {
		return res, params, built, err
	}

	e.metrics.EventsPersisted(name, len(evt.Events))
	span.SetAttributes(
		attribute.String("uow.event_id", evt.ID.String()),
		attribute.Int("uow.events", len(evt.Events)),
	)
	e.publish(ctx, name, evt)
	return res, params, built, nil
}

func (e *Executor) newUowEvent(name string, principal domain.Principal, params any, acc Accumulator, at time.Time) (*events.UowEvent, error) {
	raw, err := e.codec.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params of %s: %w", name, err)
	}

	evt := &events.UowEvent{
		ID:            e.newID(),
		Name:          name,
		PrincipalID:   principal.PrincipalID(),
		PrincipalName: principal.PrincipalName(),
		OccurredAt:    at,
		Params:        raw,
	}
	if k, ok := params.(events.Idempotent); ok {
		evt.IdempotencyKey = k.IdempotencyKey()
	}

	for _, me := range acc.Events() {
		eventName := domain.EventName(me)
		payload, err := e.codec.Marshal(me)
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", eventName, err)
		}
		if e.maxPayload > 0 && len(payload) > e.maxPayload {
			return nil, &persist.EventPayloadTooLargeError{
				EventName: eventName,
				ModelID:   me.ModelID().String(),
				Size:      len(payload),
				Limit:     e.maxPayload,
			}
		}
		evt.Events = append(evt.Events, events.ModelEventRecord{
			ID:         e.newID(),
			UowID:      evt.ID,
			ModelID:    me.ModelID().String(),
			ModelName:  me.ModelName(),
			Name:       eventName,
			OccurredAt: at,
			Payload:    payload,
			Metadata: map[string]string{
				events.MetaPrincipalID:   evt.PrincipalID,
				events.MetaPrincipalName: evt.PrincipalName,
				events.MetaUow:           name,
			},
			Event: me,
		})
	}
	return evt, nil
}

func (e *Executor) publish(ctx context.Context, name string, evt *events.UowEvent) {
	if e.publisher == nil || len(evt.Events) == 0 {
		return
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		e.metrics.PublishFailed(name)
		e.log.Warn("publish failed",
			slog.String("uow", name),
			slog.String("uow_event_id", evt.ID.String()),
			slog.Any("error", err),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
