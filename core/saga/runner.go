package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/ds"
	"github.com/codewandler/uow-go/core/reflector"
)

const tracerName = "github.com/codewandler/uow-go/core/saga"

type options struct {
	name        string
	log         *slog.Logger
	metrics     Metrics
	tracer      trace.Tracer
	maxRestarts int
	observers   []Observer
}

// Option configures a Runner.
type Option func(*options)

func WithName(name string) Option        { return func(o *options) { o.name = name } }
func WithLogger(log *slog.Logger) Option { return func(o *options) { o.log = log } }
func WithMetrics(m Metrics) Option       { return func(o *options) { o.metrics = m } }
func WithTracer(t trace.Tracer) Option   { return func(o *options) { o.tracer = t } }

// WithObserver adds observers of terminal steps. Terminal steps returned by
// OnException are not observed.
func WithObserver(obs ...Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs...) }
}

// WithMaxRestarts limits how often one Resume call restarts the saga.
// Zero means no limit.
func WithMaxRestarts(n int) Option { return func(o *options) { o.maxRestarts = n } }

// Runner resumes one saga definition.
type Runner[P any, T TerminalStep] struct {
	saga Saga[P, T]
	options
}

func NewRunner[P any, T TerminalStep](s Saga[P, T], opts ...Option) *Runner[P, T] {
	o := options{
		log:     slog.Default(),
		metrics: NopMetrics(),
		tracer:  otel.Tracer(tracerName),
	}
	if n, ok := s.(Named); ok {
		o.name = n.Name()
	} else {
		o.name = reflector.TypeInfoOf(s).Short()
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With(slog.Group("saga", slog.String("name", o.name)))
	return &Runner[P, T]{saga: s, options: o}
}

func (r *Runner[P, T]) Name() string { return r.name }

// Resume runs the saga from Init until it reaches a terminal step.
func (r *Runner[P, T]) Resume(ctx context.Context, principal domain.Principal, params P) (out T, err error) {
	ctx, span := r.tracer.Start(ctx, "saga "+r.name, trace.WithAttributes(attribute.String("saga.name", r.name)))
	timer := r.metrics.ResumeDuration(r.name)
	outcome := OutcomeError
	defer func() {
		timer.ObserveDuration()
		r.metrics.Finished(r.name, outcome)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	for restarts := 0; ; restarts++ {
		var recovered bool
		out, recovered, err = r.run(ctx, principal, params)
		switch {
		case err == nil:
			outcome = OutcomeOK
			if recovered {
				outcome = OutcomeRecovered
			}
			return out, nil
		case errors.Is(err, ErrRestart):
			if r.maxRestarts > 0 && restarts >= r.maxRestarts {
				return out, fmt.Errorf("%w: saga %s restarted %d times", ErrTooManyRestarts, r.name, restarts)
			}
			if cerr := ctx.Err(); cerr != nil {
				return out, cerr
			}
			r.metrics.Restarted(r.name)
			span.AddEvent("restart", trace.WithAttributes(attribute.Int("saga.restarts", restarts+1)))
			r.log.Info("restarting", slog.Int("restarts", restarts+1))
		case errors.Is(err, ErrHalt):
			outcome = OutcomeHalted
			r.log.Error("halted", slog.Any("error", err))
			return out, err
		default:
			return out, err
		}
	}
}

func (r *Runner[P, T]) run(ctx context.Context, principal domain.Principal, params P) (T, bool, error) {
	var zero T
	step, err := r.saga.Init(ctx, principal, params)
	if err != nil {
		return r.recover(ctx, principal, params, nil, err)
	}
	if isNil(step) {
		return zero, false, fmt.Errorf("%w: init of saga %s returned no step", ErrInvalidStep, r.name)
	}
	trail := ds.NewSet(reflect.TypeOf(step))

	for {
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}
		name := stepName(step)
		r.metrics.Step(r.name, name)

		switch s := step.(type) {
		case TerminalStep:
			t, ok := s.(T)
			if !ok {
				return zero, false, fmt.Errorf("%w: saga %s finished with %T", ErrInvalidStep, r.name, s)
			}
			r.log.Debug("finished", slog.String("step", name))
			r.observe(ctx, principal, s, name)
			return t, false, nil
		case IntermediateStep:
			next, err := r.next(ctx, principal, s, name)
			if err != nil {
				return r.recover(ctx, principal, params, s, err)
			}
			if isNil(next) {
				return zero, false, fmt.Errorf("%w: step %s of saga %s has no successor", ErrInvalidStep, name, r.name)
			}
			if !trail.Add(reflect.TypeOf(next)) {
				return zero, false, &HaltError{Saga: r.name, Step: stepName(next), Trail: trailNames(trail)}
			}
			step = next
		default:
			return zero, false, fmt.Errorf("%w: %T is neither intermediate nor terminal", ErrInvalidStep, step)
		}
	}
}

func (r *Runner[P, T]) observe(ctx context.Context, principal domain.Principal, step TerminalStep, name string) {
	if len(r.observers) == 0 {
		return
	}
	ctx, span := r.tracer.Start(ctx, "saga.terminal "+name)
	defer span.End()
	for _, o := range r.observers {
		o.OnTerminalStep(ctx, r.name, step, principal)
	}
}

func (r *Runner[P, T]) next(ctx context.Context, principal domain.Principal, current IntermediateStep, name string) (next Step, err error) {
	ctx, span := r.tracer.Start(ctx, "saga.step "+name)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	r.log.Debug("next", slog.String("step", name))
	return r.saga.Next(ctx, principal, current)
}

func (r *Runner[P, T]) recover(ctx context.Context, principal domain.Principal, params P, current IntermediateStep, err error) (T, bool, error) {
	var zero T
	h, ok := r.saga.(ExceptionHandler[P, T])
	if !ok {
		return zero, false, err
	}
	at := "init"
	if current != nil {
		at = stepName(current)
	}
	r.log.Warn("step failed", slog.String("step", at), slog.Any("error", err))

	t, herr := h.OnException(ctx, principal, params, current, err)
	if herr != nil {
		return zero, false, herr
	}
	if isNil(t) {
		return zero, false, ErrRestart
	}
	return t, true, nil
}

// isNil reports whether v is nil or a nil pointer, map, slice, func or chan
// held in an interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func stepName(s Step) string { return reflector.TypeInfoOf(s).Short() }

func trailNames(trail *ds.Set[reflect.Type]) []string {
	out := make([]string, 0, trail.Len())
	for _, t := range trail.Values() {
		out = append(out, reflector.TypeInfoForType(t).Short())
	}
	return out
}
