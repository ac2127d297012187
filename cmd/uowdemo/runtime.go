package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codewandler/uow-go/adapters/nats"
	"github.com/codewandler/uow-go/adapters/postgres"
	promadapter "github.com/codewandler/uow-go/adapters/prometheus"
	"github.com/codewandler/uow-go/adapters/sqlite"
	"github.com/codewandler/uow-go/core/app"
	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/eventbus"
	"github.com/codewandler/uow-go/core/events"
	"github.com/codewandler/uow-go/core/paging"
	"github.com/codewandler/uow-go/core/saga"
	"github.com/codewandler/uow-go/core/tx"
	"github.com/codewandler/uow-go/core/uow"
	"github.com/codewandler/uow-go/examples/wallet"
	"github.com/codewandler/uow-go/internal/config"
)

// eventLister reads back the stored UowEvents.
type eventLister interface {
	List(ctx context.Context) ([]*events.UowEvent, error)
	Page(ctx context.Context, page paging.Page[time.Time]) (paging.List[*events.UowEvent, time.Time], error)
}

// runtime is one assembled process: storage, app and wallet service.
type runtime struct {
	log     *slog.Logger
	app     *app.App
	wallets *wallet.Service
	events  eventLister
}

type eventStore interface {
	events.Repository
	eventLister
}

// storage is what the runtime needs from a storage technology.
type storage struct {
	name    string
	tm      tx.Transactor
	events  eventStore
	wallets uow.Repository[wallet.Wallet]
	payouts uow.Repository[wallet.Payout]
	close   func(ctx context.Context) error
}

func openRuntime(ctx context.Context, cfg config.Config, log *slog.Logger, principalID string) (*runtime, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := promadapter.NewAllMetrics(reg)

	st, err := openStorage(ctx, cfg, log, metrics, reg)
	if err != nil {
		return nil, err
	}

	var publishers []events.Publisher
	var pub *nats.Publisher
	if cfg.NATSURL != "" {
		pub, err = nats.NewPublisher(ctx, nats.PublisherConfig{
			Connect: nats.ConnectURL(cfg.NATSURL),
			Log:     log,
		})
		if err != nil {
			_ = st.close(ctx)
			return nil, fmt.Errorf("create nats publisher: %w", err)
		}
		publishers = append(publishers, pub)
	}

	a, err := app.New(app.Config{
		Context:    ctx,
		Log:        log,
		Tx:         st.tm,
		Events:     st.events,
		Publishers: publishers,
		Executor: []uow.Option{
			uow.WithMetrics(metrics.Uow),
			uow.WithMaxEventPayload(cfg.MaxEventPayload),
		},
		Bus: []eventbus.Option{eventbus.WithMetrics(metrics.EventBus)},
	})
	if err != nil {
		_ = st.close(ctx)
		return nil, err
	}
	a.OnStop(st.name, st.close)
	if pub != nil {
		a.OnStop("nats", func(context.Context) error { return pub.Close() })
	}
	if cfg.MetricsAddr != "" {
		a.OnStop("metrics", serveMetrics(log, cfg.MetricsAddr, reg))
	}

	a.Bus().Subscribe("log", eventbus.Any, eventbus.Any, eventbus.HandlerFunc(func(_ context.Context, rec events.ModelEventRecord) error {
		log.Info("event",
			slog.String("name", rec.Name),
			slog.Group("model", slog.String("name", rec.ModelName), slog.String("id", rec.ModelID)),
			slog.String("uow_id", rec.UowID.String()),
			slog.String("principal", principalID),
		)
		return nil
	}))

	svc := wallet.NewService(a.Executor(), st.wallets, st.payouts,
		saga.WithLogger(log),
		saga.WithMetrics(metrics.Saga),
		saga.WithObserver(saga.ObserverFunc(func(_ context.Context, name string, step saga.TerminalStep, p domain.Principal) {
			log.Info("saga finished",
				slog.String("saga", name),
				slog.String("step", fmt.Sprintf("%T", step)),
				slog.String("principal", p.PrincipalID()),
			)
		})),
	)
	return &runtime{log: log, app: a, wallets: svc, events: st.events}, nil
}

func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.app.Shutdown(ctx); err != nil {
		r.log.Warn("shutdown", slog.Any("error", err))
	}
}

// openStorage picks Postgres when a URL is configured and SQLite otherwise,
// and applies the wallet schema.
func openStorage(ctx context.Context, cfg config.Config, log *slog.Logger, metrics *promadapter.AllMetrics, reg prometheus.Registerer) (*storage, error) {
	if cfg.PostgresURL != "" {
		db, err := postgres.Open(ctx, postgres.Config{URL: cfg.PostgresURL, Logger: log})
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, "wallet", wallet.Migrations, wallet.MigrationsPostgres); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate wallet schema: %w", err)
		}
		tm := postgres.NewManager(db, tx.WithMetrics[*postgres.Conn](metrics.Tx("postgres")))
		return &storage{
			name:    "postgres",
			tm:      tm,
			events:  postgres.NewEventRepository(tm),
			wallets: postgres.NewRepository[wallet.Wallet](tm, wallet.WalletMapper{}),
			payouts: postgres.NewRepository[wallet.Payout](tm, wallet.PayoutMapper{}),
			close:   func(context.Context) error { db.Close(); return nil },
		}, nil
	}

	db, err := sqlite.Open(ctx, sqlite.Config{
		Path:          cfg.SQLiteDSN,
		MaxConns:      cfg.SQLiteMaxConns,
		StmtCacheSize: cfg.StmtCacheSize,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, "wallet", wallet.Migrations, wallet.MigrationsSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate wallet schema: %w", err)
	}
	registerStmtCache(reg, db.Stmts())

	tm := sqlite.NewManager(db, tx.WithMetrics[*sqlite.Conn](metrics.Tx("sqlite")))
	repo := sqlite.NewEventRepository(db, tm)
	if err := repo.Warmup(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("warm up statements: %w", err)
	}
	return &storage{
		name:    "sqlite",
		tm:      tm,
		events:  repo,
		wallets: sqlite.NewRepository[wallet.Wallet](tm, wallet.WalletMapper{}),
		payouts: sqlite.NewRepository[wallet.Payout](tm, wallet.PayoutMapper{}),
		close:   func(context.Context) error { return db.Close() },
	}, nil
}

func registerStmtCache(reg prometheus.Registerer, stmts *sqlite.StmtCache) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "uow", Subsystem: "sqlite", Name: "stmt_cache_size",
			Help: "Prepared statements held by the cache.",
		}, func() float64 { return float64(stmts.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "uow", Subsystem: "sqlite", Name: "stmt_cache_hits_total",
			Help: "Statement lookups served from the cache.",
		}, func() float64 { hits, _ := stmts.Stats(); return float64(hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "uow", Subsystem: "sqlite", Name: "stmt_cache_misses_total",
			Help: "Statement lookups that prepared a new statement.",
		}, func() float64 { _, misses := stmts.Stats(); return float64(misses) }),
	)
}

func serveMetrics(log *slog.Logger, addr string, g prometheus.Gatherer) func(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", slog.Any("error", err))
		}
	}()
	return srv.Shutdown
}
