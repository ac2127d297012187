package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/uow-go/core/events"
	"github.com/codewandler/uow-go/core/paging"
	"github.com/codewandler/uow-go/core/persist"
	"github.com/codewandler/uow-go/core/tx"
)

const (
	tableUowEvents   = "uow_events"
	tableModelEvents = "model_events"

	insertUowEvent = `INSERT INTO uow_events (id, name, principal_id, principal_name, idempotency_key, params, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	insertModelEvent = `INSERT INTO model_events (id, uow_id, model_id, model_name, name, occurred_at, payload, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	uowEventColumns = `SELECT id, name, principal_id, principal_name, idempotency_key, params, occurred_at
FROM uow_events`
	selectUowEvents     = uowEventColumns + ` ORDER BY id`
	selectUowEventsPage = uowEventColumns + ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	selectUowEventsNext = uowEventColumns + ` WHERE occurred_at < ? OR (occurred_at = ? AND id < ?)
ORDER BY occurred_at DESC, id DESC LIMIT ?`
	selectModelEvents = `SELECT id, uow_id, model_id, model_name, name, occurred_at, payload, metadata
FROM model_events`
)

// EventRepository stores UowEvents in the uow_events and model_events tables.
type EventRepository struct {
	tm    *tx.Manager[*Conn]
	stmts *StmtCache
}

func NewEventRepository(db *DB, tm *tx.Manager[*Conn]) *EventRepository {
	return &EventRepository{tm: tm, stmts: db.stmts}
}

// Warmup prepares the insert statements so the first execution does not
// pay for it.
func (r *EventRepository) Warmup(ctx context.Context) error {
	for _, q := range []string{insertUowEvent, insertModelEvent} {
		_, release, err := r.stmts.Prepare(ctx, q)
		if err != nil {
			return fmt.Errorf("warmup event statements: %w", err)
		}
		release()
	}
	return nil
}

func (r *EventRepository) Save(ctx context.Context, evt *events.UowEvent) error {
	if err := evt.Validate(); err != nil {
		return persist.Failure("save uow event", tableUowEvents, err)
	}
	return r.tm.InTransaction(ctx, tx.RequireExisting, func(ctx context.Context, c *Conn) error {
		var key sql.NullString
		if !evt.IdempotencyKey.IsZero() {
			key = sql.NullString{String: evt.IdempotencyKey.String(), Valid: true}
		}
		_, err := c.ExecContext(ctx, insertUowEvent,
			evt.ID.String(), evt.Name, evt.PrincipalID, evt.PrincipalName, key, []byte(evt.Params),
			evt.OccurredAt.UTC().UnixMicro(),
		)
		if err != nil {
			return uowEventError(evt, err)
		}
		for _, rec := range evt.Events {
			meta, err := json.Marshal(rec.Metadata)
			if err != nil {
				return persist.Failure("encode metadata", tableModelEvents, err)
			}
			if _, err := c.ExecContext(ctx, insertModelEvent,
				rec.ID.String(), rec.UowID.String(), rec.ModelID, rec.ModelName, rec.Name,
				rec.OccurredAt.UTC().UnixMicro(), []byte(rec.Payload), string(meta),
			); err != nil {
				return mapError("insert model event", tableModelEvents, rec.ModelID, err)
			}
		}
		return nil
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

// List returns all UowEvents with their model events in id order.
func (r *EventRepository) List(ctx context.Context) (out []*events.UowEvent, err error) {
	err = r.tm.WithConnection(ctx, func(ctx context.Context, c *Conn) error {
		if out, err = queryUowEvents(ctx, c, selectUowEvents); err != nil {
			return err
		}
		return attachModelEvents(ctx, c, out, selectModelEvents+" ORDER BY id")
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
			at := maxAt.UnixMicro()
			evts, err = queryUowEvents(ctx, c, selectUowEventsNext, at, at, offset, page.Size())
		} else {
			evts, err = queryUowEvents(ctx, c, selectUowEventsPage, page.Size())
		}
		if err != nil || len(evts) == 0 {
			return err
		}
		ids := make([]any, len(evts))
		for i, evt := range evts {
			ids[i] = evt.ID.String()
		}
		where := " WHERE uow_id IN (?" + strings.Repeat(", ?", len(ids)-1) + ") ORDER BY id"
		if err := attachModelEvents(ctx, c, evts, selectModelEvents+where, ids...); err != nil {
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
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*events.UowEvent
	for rows.Next() {
		evt, err := scanUowEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
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

// ModelEvents returns the records of one model in id order.
func (r *EventRepository) ModelEvents(ctx context.Context, modelName, modelID string) (out []events.ModelEventRecord, err error) {
	err = r.tm.WithConnection(ctx, func(ctx context.Context, c *Conn) error {
		out, err = queryModelEvents(ctx, c, selectModelEvents+" WHERE model_name = ? AND model_id = ? ORDER BY id", modelName, modelID)
		return err
	})
	if err != nil {
		return nil, persist.Failure("list model events", tableModelEvents, err)
	}
	return out, nil
}

func scanUowEvent(rows *sql.Rows) (*events.UowEvent, error) {
	var (
		evt        events.UowEvent
		id         string
		key        sql.NullString
		params     []byte
		occurredAt int64
	)
	if err := rows.Scan(&id, &evt.Name, &evt.PrincipalID, &evt.PrincipalName, &key, &params, &occurredAt); err != nil {
		return nil, err
	}
	var err error
	if evt.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("uow event id %q: %w", id, err)
	}
	evt.IdempotencyKey = events.IdempotencyKey(key.String)
	if len(params) > 0 {
		evt.Params = params
	}
	evt.OccurredAt = time.UnixMicro(occurredAt).UTC()
	return &evt, nil
}

func queryModelEvents(ctx context.Context, c *Conn, query string, args ...any) ([]events.ModelEventRecord, error) {
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.ModelEventRecord
	for rows.Next() {
		var (
			rec        events.ModelEventRecord
			id, uowID  string
			occurredAt int64
			payload    []byte
			meta       sql.NullString
		)
		if err := rows.Scan(&id, &uowID, &rec.ModelID, &rec.ModelName, &rec.Name, &occurredAt, &payload, &meta); err != nil {
			return nil, err
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("model event id %q: %w", id, err)
		}
		if rec.UowID, err = uuid.Parse(uowID); err != nil {
			return nil, fmt.Errorf("uow id %q: %w", uowID, err)
		}
		rec.OccurredAt = time.UnixMicro(occurredAt).UTC()
		rec.Payload = payload
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", id, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ events.Repository = (*EventRepository)(nil)
