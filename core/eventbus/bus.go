// Package eventbus delivers published unit-of-work events to in-process
// handlers.
//
// Handlers subscribe by event name and model name, either of which may be
// the wildcard "*". Events of the same model instance are delivered in
// publication order, events of different instances concurrently. Handler
// errors are logged and counted, they never reach the publisher.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codewandler/uow-go/core/events"
	"github.com/codewandler/uow-go/core/perkey"
)

// Any matches every event or model name.
const Any = "*"

var ErrClosed = errors.New("event bus is closed")

type Handler interface {
	Handle(ctx context.Context, rec events.ModelEventRecord) error
}

type HandlerFunc func(ctx context.Context, rec events.ModelEventRecord) error

func (f HandlerFunc) Handle(ctx context.Context, rec events.ModelEventRecord) error { return f(ctx, rec) }

// Metrics defines the metrics reported by a Bus.
type Metrics interface {
	Delivered(event string)
	Failed(event string)
}

type nopMetrics struct{}

func (nopMetrics) Delivered(string) {}
func (nopMetrics) Failed(string)    {}

type Option func(*Bus)

func WithLogger(log *slog.Logger) Option { return func(b *Bus) { b.log = log } }
func WithMetrics(m Metrics) Option       { return func(b *Bus) { b.metrics = m } }

type route struct {
	event string
	model string
}

type subscriber struct {
	name    string
	handler Handler
}

// Bus is an in-memory events.Publisher.
type Bus struct {
	log     *slog.Logger
	metrics Metrics
	lanes   *perkey.Scheduler[string]

	mu     sync.RWMutex
	routes map[route][]subscriber
}

func New(opts ...Option) *Bus {
	b := &Bus{
		log:     slog.Default(),
		metrics: nopMetrics{},
		lanes:   perkey.New[string](),
		routes:  make(map[route][]subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(slog.String("component", "eventbus"))
	return b
}

// Subscribe registers h for events named event of models named model.
func (b *Bus) Subscribe(name, event, model string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := route{event: event, model: model}
	b.routes[r] = append(b.routes[r], subscriber{name: name, handler: h})
}

func (b *Bus) subscribers(rec events.ModelEventRecord) []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []subscriber
	for _, r := range [...]route{
		{rec.Name, rec.ModelName},
		{rec.Name, Any},
		{Any, rec.ModelName},
		{Any, Any},
	} {
		out = append(out, b.routes[r]...)
	}
	return out
}

// Publish enqueues every model event of evt for delivery.
func (b *Bus) Publish(ctx context.Context, evt *events.UowEvent) error {
	ctx = context.WithoutCancel(ctx)
	for _, rec := range evt.Events {
		subs := b.subscribers(rec)
		if len(subs) == 0 {
			continue
		}
		key := rec.ModelName + "/" + rec.ModelID
		err := b.lanes.Submit(key, func() {
			for _, s := range subs {
				b.deliver(ctx, s, rec)
			}
		})
		if errors.Is(err, perkey.ErrClosed) {
			return fmt.Errorf("publish %s: %w", evt.Name, ErrClosed)
		}
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, s subscriber, rec events.ModelEventRecord) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panicked: %v", r)
			}
		}()
		return s.handler.Handle(ctx, rec)
	}()
	if err != nil {
		b.metrics.Failed(rec.Name)
		b.log.Error(
			"handle event",
			slog.String("subscriber", s.name),
			slog.String("event", rec.Name),
			slog.String("event_id", rec.ID.String()),
			slog.String("model", rec.ModelName+"/"+rec.ModelID),
			slog.Any("error", err),
		)
		return
	}
	b.metrics.Delivered(rec.Name)
}

// Close stops accepting events and waits for queued deliveries.
func (b *Bus) Close(ctx context.Context) error {
	return b.lanes.Close(ctx)
}

var _ events.Publisher = (*Bus)(nil)
