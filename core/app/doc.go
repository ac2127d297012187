// Package app assembles a unit-of-work executor for a process: the storage
// technology, an in-process [eventbus.Bus] receiving every committed
// UowEvent, further publishers, and the resources to release on shutdown.
//
//	db, _ := sqlite.Open(ctx, sqlite.Config{Path: "uow.db"})
//	tm := sqlite.NewManager(db)
//	a, err := app.New(app.Config{
//	    Tx:         tm,
//	    Events:     sqlite.NewEventRepository(db, tm),
//	    Publishers: []events.Publisher{natsPublisher},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	a.OnStop("sqlite", func(context.Context) error { return db.Close() })
//
//	a.Bus().Subscribe("audit", eventbus.Any, "wallet", auditHandler)
//	w, err := uow.Execute(ctx, a.Executor(), wallet.OpenWallet{}, principal, uow.Params(in))
//
//	// Graceful shutdown
//	a.Shutdown(ctx)
package app
