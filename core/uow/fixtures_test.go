package uow

import (
	"context"
	"testing"

	"github.com/codewandler/uow-go/adapters/memory"
	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/events"
	"github.com/codewandler/uow-go/core/tx"
)

type accountID = domain.ID[string]

type accountOpened struct {
	Account string `json:"account"`
	Owner   string `json:"owner"`
}

func (e accountOpened) ModelID() domain.ModelID { return domain.NewID(e.Account) }
func (e accountOpened) ModelName() string       { return "account" }

type deposited struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

func (e deposited) ModelID() domain.ModelID { return domain.NewID(e.Account) }
func (e deposited) ModelName() string       { return "account" }
func (e deposited) EventName() string       { return "account.deposited" }

type account struct {
	domain.Base[accountID]
	Owner   string
	Balance int64
}

func (account) ModelName() string { return "account" }
func (a account) WithEntityState(s domain.EntityState) account {
	a.Base = a.WithState(s)
	return a
}

func openAccount(id, owner string) account {
	return account{
		Base:  domain.NewBase[accountID](domain.NewID(id), accountOpened{Account: id, Owner: owner}),
		Owner: owner,
	}
}

func (a account) Deposit(amount int64) account {
	a.Balance += amount
	a.Base = a.Raise(deposited{Account: a.ID().Value(), Amount: amount})
	return a
}

type auditID = domain.ID[string]

type audited struct {
	Audit string `json:"audit"`
	Note  string `json:"note"`
}

func (e audited) ModelID() domain.ModelID { return domain.NewID(e.Audit) }
func (e audited) ModelName() string       { return "audit" }

type audit struct {
	domain.Base[auditID]
	Note string
}

func (audit) ModelName() string { return "audit" }
func (a audit) WithEntityState(s domain.EntityState) audit {
	a.Base = a.WithState(s)
	return a
}

func newAudit(id, note string) audit {
	return audit{Base: domain.NewBase[auditID](domain.NewID(id), audited{Audit: id, Note: note}), Note: note}
}

// holder links an owner to an account. It has no identity of its own.
type holder struct {
	Account string
	Owner   string
}

func holderKey(h holder) string { return h.Account + "/" + h.Owner }

// units of work

type openParams struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

var openAccountUow = New("OpenAccount", func(_ context.Context, _ domain.Principal, in openParams) (Changes[account], error) {
	a := openAccount(in.ID, in.Owner)
	var cs Changeset
	return Done(cs.Add(a), a), nil
})

type depositParams struct {
	Account string                `json:"account"`
	Amount  int64                 `json:"amount"`
	Key     events.IdempotencyKey `json:"key,omitempty"`
}

func (p depositParams) IdempotencyKey() events.IdempotencyKey { return p.Key }

type deposit struct {
	accounts Repository[account]
}

func (d deposit) Perform(ctx context.Context, _ domain.Principal, in depositParams) (Changes[account], error) {
	a, err := d.accounts.Find(ctx, domain.NewID(in.Account))
	if err != nil {
		return Changes[account]{}, err
	}
	a = a.Deposit(in.Amount)
	var cs Changeset
	return Done(cs.Update(a), a), nil
}

// idempotentDeposit answers a replayed request with the current account.
type idempotentDeposit struct {
	deposit
	recovered []error
}

func (d *idempotentDeposit) OnFailure(ctx context.Context, in depositParams, err error) (account, error) {
	d.recovered = append(d.recovered, err)
	return d.accounts.Find(ctx, domain.NewID(in.Account))
}

type env struct {
	tm       *tx.Manager[*memory.Conn]
	accounts *memory.Repository[account]
	audits   *memory.Repository[audit]
	holders  *memory.EntityRepository[holder]
	events   *memory.EventRepository
	exec     *Executor
	alice    domain.Actor
}

func newEnv(t *testing.T, opts ...Option) *env {
	return newEnvWith(t, nil, opts...)
}

func newEnvWith(t *testing.T, memOpts []memory.Option, opts ...Option) *env {
	t.Helper()
	tm := memory.NewManager(memory.NewStore(), memOpts...)
	reg := NewRegistry()
	e := &env{
		tm:       tm,
		accounts: memory.NewRepository[account](tm, "accounts"),
		audits:   memory.NewRepository[audit](tm, "audits"),
		holders:  memory.NewEntityRepository(tm, "holders", holderKey),
		events:   memory.NewEventRepository(tm),
		alice:    domain.MustPrincipal("u-1", "alice"),
	}
	Register[account](reg, e.accounts)
	Register[audit](reg, e.audits)
	RegisterEntity[holder](reg, e.holders)
	e.exec = NewExecutor(tm, reg, e.events, opts...)
	return e
}

func (e *env) open(t *testing.T, id string) account {
	t.Helper()
	a, err := Execute(t.Context(), e.exec, openAccountUow, e.alice, Params(openParams{ID: id, Owner: "alice"}))
	if err != nil {
		t.Fatalf("open %s: %v", id, err)
	}
	return a
}
