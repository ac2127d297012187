package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/codewandler/uow-go/core/events"
	"github.com/codewandler/uow-go/core/paging"
	"github.com/codewandler/uow-go/core/persist"
	"github.com/codewandler/uow-go/core/tx"
)

const (
	tableUowEvents   = "uow_events"
	tableModelEvents = "model_events"

	insertUowEvent = `INSERT INTO uow_events (id, name, principal_id, principal_name, idempotency_key, params, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	insertModelEvent = `INSERT INTO model_events (id, uow_id, model_id, model_name, name, occurred_at, payload, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	uowEventColumns = `SELECT id, name, principal_id, principal_name, coalesce(idempotency_key, ''), params, occurred_at
FROM uow_events`
	selectUowEvents     = uowEventColumns + ` ORDER BY occurred_at, id`
	selectUowEventsPage = uowEventColumns + ` ORDER BY occurred_at DESC, id DESC LIMIT $1`
	selectUowEventsNext = uowEventColumns + ` WHERE (occurred_at, id) < ($1, $2)
ORDER BY occurred_at DESC, id DESC LIMIT $3`
	selectModelEvents = `SELECT id, uow_id, model_id, model_name, name, occurred_at, payload, metadata
FROM model_events`
)

// EventRepository stores UowEvents in the uow_events and model_events
// tables. A UowEvent and its records are written in one batch.
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
	var key *string
	if !evt.IdempotencyKey.IsZero() {
		k := evt.IdempotencyKey.String()
		key = &k
	}
	var params []byte
	if len(evt.Params) > 0 {
		params = evt.Params
	}

	b := &pgx.Batch{}
	b.Queue(insertUowEvent, evt.ID, evt.Name, evt.PrincipalID, evt.PrincipalName, key, params, evt.OccurredAt.UTC())
	for _, rec := range evt.Events {
		b.Queue(insertModelEvent, rec.ID, rec.UowID, rec.ModelID, rec.ModelName, rec.Name,
			rec.OccurredAt.UTC(), []byte(rec.Payload), rec.Metadata)
	}

	return r.tm.InTransaction(ctx, tx.RequireExisting, func(ctx context.Context, c *Conn) error {
		br := c.SendBatch(ctx, b)
		defer br.Close()
		if _, err := br.Exec(); err != nil {
			return uowEventError(evt, err)
		}
		for _, rec := range evt.Events {
			if _, err := br.Exec(); err != nil {
				return mapError("insert model event", tableModelEvents, rec.ModelID, err)
			}
		}
		return br.Close()
	})
}

func uowEventError(evt *events.UowEvent, err error) error {
	mapped := mapError("insert uow event", tableUowEvents, evt.ID.String(), err)
	if u, ok := mapped.(*persist.UniqueViolationError); ok && strings.Contains(u.Constraint, "idempotency_key") {
		return &persist.UniqueUowEventViolationError{
			UowID:          evt.ID.String(),
			UowName:        evt.Name,
			IdempotencyKey: evt.IdempotencyKey.String(),
			Constraint:     u.Constraint,
			Err:            err,
		}
	}
	return mapped
}

// List returns all UowEvents with their model events.
func (r *EventRepository) List(ctx context.Context) (out []*events.UowEvent, err error) {
	err = r.tm.WithConnection(ctx, func(ctx context.Context, c *Conn) error {
		if out, err = queryUowEvents(ctx, c, selectUowEvents); err != nil {
			return err
		}
		return attachModelEvents(ctx, c, out, selectModelEvents+" ORDER BY occurred_at, id")
	})
	if err != nil {
		return nil, persist.Failure("list uow events", tableUowEvents, err)
	}
	return out, nil
}

// Page returns one page of UowEvents, newest first, with their model events.
func (r *EventRepository) Page(ctx context.Context, page paging.Page[time.Time]) (out paging.List[*events.UowEvent, time.Time], err error) {
	err = r.tm.WithConnection(ctx, func(ctx context.Context, c *Conn) error {
		var evts []*events.UowEvent
		if maxAt, offset, ok := page.Bound(); ok {
			id, perr := uuid.Parse(offset)
			if perr != nil {
				return fmt.Errorf("%w: offset %q: %w", paging.ErrInvalidPage, offset, perr)
			}
			evts, err = queryUowEvents(ctx, c, selectUowEventsNext, maxAt, id, page.Size())
		} else {
			evts, err = queryUowEvents(ctx, c, selectUowEventsPage, page.Size())
		}
		if err != nil || len(evts) == 0 {
			return err
		}
		ids := make([]uuid.UUID, len(evts))
		for i, evt := range evts {
			ids[i] = evt.ID
		}
		if err := attachModelEvents(ctx, c, evts, selectModelEvents+" WHERE uow_id = ANY($1) ORDER BY occurred_at, id", ids); err != nil {
			return err
		}
		out = paging.NewList(evts, page, uowEventTime, uowEventID)
		return nil
	})
	if err != nil {
		return out, persist.Failure("page uow events", tableUowEvents, err)
	}
	return out, nil
}

func uowEventTime(evt *events.UowEvent) time.Time { return evt.OccurredAt }
func uowEventID(evt *events.UowEvent) string      { return evt.ID.String() }

func queryUowEvents(ctx context.Context, c *Conn, query string, args ...any) ([]*events.UowEvent, error) {
	rows, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*events.UowEvent, error) {
		var (
			evt    events.UowEvent
			key    string
			params []byte
		)
		if err := row.Scan(&evt.ID, &evt.Name, &evt.PrincipalID, &evt.PrincipalName, &key, &params, &evt.OccurredAt); err != nil {
			return nil, err
		}
		evt.IdempotencyKey = events.IdempotencyKey(key)
		if len(params) > 0 {
			evt.Params = params
		}
		evt.OccurredAt = evt.OccurredAt.UTC()
		return &evt, nil
	})
}

func attachModelEvents(ctx context.Context, c *Conn, evts []*events.UowEvent, query string, args ...any) error {
	byID := make(map[uuid.UUID]*events.UowEvent, len(evts))
	for _, evt := range evts {
		byID[evt.ID] = evt
	}
	recs, err := queryModelEvents(ctx, c, query, args...)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if evt, ok := byID[rec.UowID]; ok {
			evt.Events = append(evt.Events, rec)
		}
	}
	return nil
}

// ModelEvents returns the records of one model.
func (r *EventRepository) ModelEvents(ctx context.Context, modelName, modelID string) (out []events.ModelEventRecord, err error) {
	err = r.tm.WithConnection(ctx, func(ctx context.Context, c *Conn) error {
		out, err = queryModelEvents(ctx, c,
			selectModelEvents+" WHERE model_name = $1 AND model_id = $2 ORDER BY occurred_at, id", modelName, modelID)
		return err
	})
	if err != nil {
		return nil, persist.Failure("list model events", tableModelEvents, err)
	}
	return out, nil
}

func queryModelEvents(ctx context.Context, c *Conn, query string, args ...any) ([]events.ModelEventRecord, error) {
	rows, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.ModelEventRecord, error) {
		var (
			rec     events.ModelEventRecord
			payload []byte
		)
		if err := row.Scan(&rec.ID, &rec.UowID, &rec.ModelID, &rec.ModelName, &rec.Name, &rec.OccurredAt, &payload, &rec.Metadata); err != nil {
			return rec, err
		}
		rec.OccurredAt = rec.OccurredAt.UTC()
		rec.Payload = payload
		return rec, nil
	})
}

var _ events.Repository = (*EventRepository)(nil)
