// Package uow executes units of work: pure business operations that turn a
// principal and typed params into [Changes], which the [Executor] persists
// atomically together with a durable [events.UowEvent] and publishes after
// commit.
//
// # Composition
//
// A unit of work never performs I/O while composing. It registers models on
// a [Changeset] (flat) or a [Composer] (nestable) and freezes them with a
// result:
//
//	func (Deposit) Perform(ctx context.Context, p domain.Principal, in DepositParams) (uow.Changes[Wallet], error) {
//		w, err := wallets.Find(ctx, in.WalletID)
//		if err != nil {
//			return uow.Changes[Wallet]{}, err
//		}
//		w = w.Deposit(in.Amount)
//		var cs uow.Changeset
//		return uow.WithResult(cs.Update(w).Accumulator(), w), nil
//	}
//
// A [Composer] can run nested units of work with [Nested]. Everything
// registered before the nested call is sealed, the nested changes follow, and
// registration continues after them, so the persisted order is the order of
// the calls.
//
// Entities, plain values without identity or events, are registered with
// AddEntity, DeleteEntity and DeleteEntityByKey. They are written after the
// models, through the repository given to [RegisterEntity].
//
// Registration mistakes (adding a persisted model, updating a clean one,
// freezing an empty accumulator) panic with a [*ProgrammerError].
//
// # Execution
//
//	receipt, err := uow.Execute(ctx, exec, Transfer{}, principal, uow.Params(in))
//
// The executor opens a RequireNew transaction, builds the params, performs,
// persists every change in order through the repository registered for the
// model type, saves the UowEvent, commits and publishes. Persistence
// conflicts are routed to [FailureHandler] when the unit of work implements
// it.
package uow
