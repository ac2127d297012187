// Package events defines the durable record of a committed unit of work
// and the collaborators that store and publish it.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/uow-go/core/domain"
)

// DefaultMaxPayloadSize is the default limit for one encoded model event.
const DefaultMaxPayloadSize = 1 << 20

// Metadata keys stamped on every model event record.
const (
	MetaPrincipalID   = "principal_id"
	MetaPrincipalName = "principal_name"
	MetaUow           = "uow"
)

// IdempotencyKey deduplicates repeated executions of the same request.
type IdempotencyKey string

// RandomIdempotencyKey returns a fresh key.
func RandomIdempotencyKey() IdempotencyKey { return IdempotencyKey(gonanoid.Must()) }

func (k IdempotencyKey) String() string { return string(k) }
func (k IdempotencyKey) IsZero() bool   { return k == "" }

// Idempotent is implemented by unit-of-work params that carry an idempotency key.
type Idempotent interface {
	IdempotencyKey() IdempotencyKey
}

// ModelEventRecord is the persisted and published shape of one model event.
type ModelEventRecord struct {
	ID         uuid.UUID         `json:"id"`
	UowID      uuid.UUID         `json:"uow_id"`
	ModelID    string            `json:"model_id"`
	ModelName  string            `json:"model_name"`
	Name       string            `json:"name"`
	OccurredAt time.Time         `json:"occurred_at"`
	Payload    json.RawMessage   `json:"payload"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Event is the in-process value; it is not part of the durable record.
	Event domain.ModelEvent `json:"-"`
}

// UowEvent is the durable envelope of one committed unit of work.
type UowEvent struct {
	ID             uuid.UUID          `json:"id"`
	Name           string             `json:"name"`
	PrincipalID    string             `json:"principal_id"`
	PrincipalName  string             `json:"principal_name"`
	OccurredAt     time.Time          `json:"occurred_at"`
	IdempotencyKey IdempotencyKey     `json:"idempotency_key,omitempty"`
	Params         json.RawMessage    `json:"params,omitempty"`
	Events         []ModelEventRecord `json:"events"`
}

// ByID indexes the model events by their id.
func (e *UowEvent) ByID() map[uuid.UUID]ModelEventRecord {
	out := make(map[uuid.UUID]ModelEventRecord, len(e.Events))
	for _, r := range e.Events {
		out[r.ID] = r
	}
	return out
}

func (e *UowEvent) Validate() error {
	if e.ID == uuid.Nil {
		return errors.New("uow event id is required")
	}
	if e.Name == "" {
		return errors.New("uow event name is required")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("uow event occurred at is zero")
	}
	for _, r := range e.Events {
		if r.ID == uuid.Nil || r.ModelID == "" || r.ModelName == "" || r.Name == "" {
			return errors.New("model event record is incomplete")
		}
		if r.UowID != e.ID {
			return errors.New("model event record belongs to another uow event")
		}
	}
	return nil
}

// Repository stores UowEvents inside the ambient transaction.
// Implementations enforce uniqueness of the idempotency key and raise
// persist.UniqueUowEventViolationError on duplicates.
type Repository interface {
	Save(ctx context.Context, evt *UowEvent) error
}

// Publisher distributes committed UowEvents. It is called after commit; a
// failure does not undo the commit.
type Publisher interface {
	Publish(ctx context.Context, evt *UowEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt *UowEvent) error

func (f PublisherFunc) Publish(ctx context.Context, evt *UowEvent) error { return f(ctx, evt) }

// Publishers fans out to all publishers and joins their errors.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, evt *UowEvent) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Publisher = PublisherFunc(nil)
	_ Publisher = Publishers(nil)
)
