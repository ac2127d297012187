package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codewandler/uow-go/core/eventbus"
	"github.com/codewandler/uow-go/core/events"
	"github.com/codewandler/uow-go/core/tx"
	"github.com/codewandler/uow-go/core/uow"
)

type Config struct {
	Context context.Context
	Log     *slog.Logger
	// Tx and Events are the storage technology; both are required.
	Tx     tx.Transactor
	Events events.Repository
	// Publishers receive committed UowEvents after the in-process bus.
	Publishers []events.Publisher
	Executor   []uow.Option
	Bus        []eventbus.Option
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// App owns an executor, its in-process event bus and the resources
// registered with OnStop.
type App struct {
	ctx       context.Context
	cancelCtx context.CancelFunc
	log       *slog.Logger
	exec      *uow.Executor
	bus       *eventbus.Bus

	mu      sync.Mutex
	closers []closer
	done    chan struct{}
	stopErr error
	stopped bool
}

func New(config Config) (*App, error) {
	if config.Tx == nil || config.Events == nil {
		return nil, errors.New("app: transaction manager and event repository are required")
	}

	// === logger ===
	if config.Log == nil {
		config.Log = slog.Default()
	}
	app := &App{
		log:  config.Log.With(slog.String("component", "app")),
		done: make(chan struct{}),
	}

	// === context ===
	if config.Context == nil {
		config.Context = context.Background()
	}
	app.ctx, app.cancelCtx = context.WithCancel(config.Context)

	// === bus and executor ===
	app.bus = eventbus.New(append([]eventbus.Option{eventbus.WithLogger(config.Log)}, config.Bus...)...)
	publishers := append(events.Publishers{app.bus}, config.Publishers...)
	app.exec = uow.NewExecutor(config.Tx, uow.NewRegistry(), config.Events,
		append([]uow.Option{
			uow.WithLogger(config.Log),
			uow.WithPublisher(publishers),
		}, config.Executor...)...,
	)

	app.log.Debug("created app", slog.Int("publishers", len(publishers)))
	return app, nil
}

// Context is canceled when the app stops.
func (a *App) Context() context.Context { return a.ctx }
func (a *App) Executor() *uow.Executor  { return a.exec }
func (a *App) Bus() *eventbus.Bus       { return a.bus }
func (a *App) Done() <-chan struct{}    { return a.done }

// OnStop registers fn to run on shutdown. Functions run in reverse order of
// registration, after the bus has drained.
func (a *App) OnStop(name string, fn func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Shutdown cancels the app context, drains the bus and runs the OnStop
// functions. Later calls return the result of the first.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return a.stopErr
	}
	a.stopped = true
	a.cancelCtx()

	var errs []error
	if err := a.bus.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.name, err))
		}
	}
	a.stopErr = errors.Join(errs...)
	close(a.done)
	a.log.Info("app stopped", slog.Any("error", a.stopErr))
	return a.stopErr
}

// Stop shuts down without a deadline.
func (a *App) Stop() { _ = a.Shutdown(context.Background()) }
