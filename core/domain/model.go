package domain

// Model is an immutable snapshot of attributes plus an EntityState.
// Mutators never change a model in place, they return a new model whose state
// has the new event raised.
type Model interface {
	ModelID() ModelID
	ModelName() string
	EntityState() EntityState
}

// Persistable is a Model that can be rebuilt with a new state, which is what
// repositories do after a durable write.
type Persistable[M any] interface {
	Model
	WithEntityState(EntityState) M
}

// Base is embedded by value into model structs and carries id and state.
//
//	type Wallet struct {
//		domain.Base[WalletID]
//		Balance int64
//	}
//
//	func (w Wallet) Deposit(amount int64) Wallet {
//		w.Balance += amount
//		w.Base = w.Raise(Deposited{WalletID: w.ID(), Amount: amount})
//		return w
//	}
type Base[I ModelID] struct {
	id    I
	state EntityState
}

// NewBase starts the lifecycle of a new model, usually with its creation event.
func NewBase[I ModelID](id I, created ...ModelEvent) Base[I] {
	return Base[I]{id: id, state: NewState(created...)}
}

// LoadBase rebuilds the base of a model read from storage at version v.
func LoadBase[I ModelID](id I, v Version) Base[I] {
	return Base[I]{id: id, state: PersistentState(v)}
}

func (b Base[I]) ID() I                    { return b.id }
func (b Base[I]) ModelID() ModelID         { return b.id }
func (b Base[I]) EntityState() EntityState { return b.state }
func (b Base[I]) Version() Version         { return b.state.Version() }

// Raise returns a copy of b with e pending.
func (b Base[I]) Raise(e ModelEvent) Base[I] {
	b.state = b.state.Raise(e)
	return b
}

// WithState returns a copy of b carrying s.
func (b Base[I]) WithState(s EntityState) Base[I] {
	b.state = s
	return b
}
