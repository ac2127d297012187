package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/codewandler/uow-go/core/events"
	"github.com/codewandler/uow-go/core/persist"
	"github.com/codewandler/uow-go/core/tx"
)

const (
	tableUowEvents   = "uow_events"
	tableModelEvents = "model_events"
	tableIdempotency = "uow_events_idempotency_key"
)

// EventRepository stores UowEvents in the Store.
type EventRepository struct {
	tm *tx.Manager[*Conn]
}

func NewEventRepository(tm *tx.Manager[*Conn]) *EventRepository {
	return &EventRepository{tm: tm}
}

func (r *EventRepository) Save(ctx context.Context, evt *events.UowEvent) error {
	if err := evt.Validate(); err != nil {
		return persist.Failure("save uow event", tableUowEvents, err)
	}
	return r.tm.InTransaction(ctx, tx.RequireExisting, func(_ context.Context, c *Conn) error {
		if !evt.IdempotencyKey.IsZero() {
			key := evt.IdempotencyKey.String()
			if _, dup := c.Get(tableIdempotency, key); dup {
				return &persist.UniqueUowEventViolationError{
					UowID:          evt.ID.String(),
					UowName:        evt.Name,
					IdempotencyKey: key,
					Constraint:     tableIdempotency,
				}
			}
			c.Put(tableIdempotency, key, evt.ID.String())
		}
		c.Put(tableUowEvents, evt.ID.String(), evt)
		for _, rec := range evt.Events {
			c.Put(tableModelEvents, rec.ID.String(), rec)
		}
		return nil
	})
}

// List returns the committed UowEvents in id order, which is creation order
// for time-ordered ids.
func (r *EventRepository) List(ctx context.Context) (out []*events.UowEvent, err error) {
	err = r.tm.WithConnection(ctx, func(_ context.Context, c *Conn) error {
		c.Scan(tableUowEvents, func(_ string, row any) bool {
			out = append(out, row.(*events.UowEvent))
			return true
		})
		return nil
	})
	slices.SortFunc(out, func(a, b *events.UowEvent) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	return out, err
}

// ModelEvents returns the records of one model in id order.
func (r *EventRepository) ModelEvents(ctx context.Context, modelName, modelID string) (out []events.ModelEventRecord, err error) {
	err = r.tm.WithConnection(ctx, func(_ context.Context, c *Conn) error {
		c.Scan(tableModelEvents, func(_ string, row any) bool {
			rec := row.(events.ModelEventRecord)
			if rec.ModelName == modelName && rec.ModelID == modelID {
				out = append(out, rec)
			}
			return true
		})
		return nil
	})
	slices.SortFunc(out, func(a, b events.ModelEventRecord) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	return out, err
}

var _ events.Repository = (*EventRepository)(nil)
