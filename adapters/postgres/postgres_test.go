package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/events"
	"github.com/codewandler/uow-go/core/paging"
	"github.com/codewandler/uow-go/core/persist"
	"github.com/codewandler/uow-go/core/tx"
	"github.com/codewandler/uow-go/core/uow"
	"github.com/codewandler/uow-go/ports/table"
)

type noteID = domain.ID[string]

type noteWritten struct {
	Note  string `json:"note"`
	Title string `json:"title"`
}

func (e noteWritten) ModelID() domain.ModelID { return domain.NewID(e.Note) }
func (e noteWritten) ModelName() string       { return "note" }

type note struct {
	domain.Base[noteID]
	Title string
}

func (note) ModelName() string { return "note" }
func (n note) WithEntityState(s domain.EntityState) note {
	n.Base = n.WithState(s)
	return n
}

func newNote(id, title string) note {
	return note{Base: domain.NewBase[noteID](domain.NewID(id), noteWritten{Note: id, Title: title}), Title: title}
}

func (n note) Retitle(title string) note {
	n.Title = title
	n.Base = n.Raise(noteWritten{Note: n.ID().Value(), Title: title})
	return n
}

type noteMapper struct{}

func (noteMapper) Table() string                { return "notes" }
func (noteMapper) Columns() []string            { return []string{"title"} }
func (noteMapper) Values(n note) ([]any, error) { return []any{n.Title}, nil }
func (noteMapper) Scan(row table.Row) (note, error) {
	var n note
	id, v, err := table.Scan(row, &n.Title)
	if err != nil {
		return note{}, err
	}
	n.Base = domain.LoadBase[noteID](domain.NewID(id), v)
	return n, nil
}

var schema = fstest.MapFS{
	"0001_notes.sql": {Data: []byte(`
-- +migrate Up
CREATE TABLE notes (
    id TEXT PRIMARY KEY,
    version BIGINT NOT NULL,
    title TEXT NOT NULL CONSTRAINT notes_title_present CHECK (length(title) > 0)
);
-- +migrate Down
DROP TABLE notes;
`)},
}

// startPostgres runs a throwaway PostgreSQL server and returns its URL.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests are skipped in short mode")
	}
	ctx := t.Context()
	pgC, err := testcontainers.Run(
		ctx, "postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "uow",
			"POSTGRES_PASSWORD": "uow",
			"POSTGRES_DB":       "uow",
		}),
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://uow:uow@%s:%s/uow?sslmode=disable", host, port.Port())
}

type fixture struct {
	db     *DB
	tm     *tx.Manager[*Conn]
	notes  *Repository[note]
	events *EventRepository
}

func TestPostgres(t *testing.T) {
	url := startPostgres(t)
	db, err := Open(t.Context(), Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(t.Context(), "test", schema, "."))

	tm := NewManager(db)
	f := &fixture{db: db, tm: tm, notes: NewRepository[note](tm, noteMapper{}), events: NewEventRepository(tm)}

	t.Run("migrates once", func(t *testing.T) {
		again, err := Open(t.Context(), Config{URL: url})
		require.NoError(t, err)
		defer again.Close()
		require.NoError(t, again.Migrate(t.Context(), "test", schema, "."))

		var n int
		require.NoError(t, db.Pool().QueryRow(t.Context(), "SELECT count(*) FROM schema_migrations").Scan(&n))
		require.Equal(t, 2, n)
	})
	t.Run("repository", f.testRepository)
	t.Run("batched updates report every stale id", f.testUpdateAll)
	t.Run("rollback discards writes", f.testRollback)
	t.Run("event repository", f.testEventRepository)
	t.Run("event pages", f.testEventPages)
	t.Run("executor pipelines writes", f.testExecutorPipelines)
}

func (f *fixture) testRepository(t *testing.T) {
	ctx := t.Context()
	id := uuid.NewString()

	added, err := f.notes.Add(ctx, newNote(id, "first"))
	require.NoError(t, err)
	require.Equal(t, domain.Version(1), added.Version())

	_, err = f.notes.Add(ctx, newNote(id, "again"))
	var unique *persist.UniqueViolationError
	require.ErrorAs(t, err, &unique)
	require.Equal(t, id, unique.ModelID)
	require.Equal(t, "notes_pkey", unique.Constraint)

	_, err = f.notes.Add(ctx, newNote(uuid.NewString(), ""))
	var constraint *persist.ConstraintViolationError
	require.ErrorAs(t, err, &constraint)
	require.Equal(t, "notes_title_present", constraint.Constraint)

	updated, err := f.notes.Update(ctx, added.Retitle("second"))
	require.NoError(t, err)
	require.Equal(t, domain.Version(2), updated.Version())

	_, err = f.notes.Update(ctx, added.Retitle("stale"))
	var stale *persist.StaleVersionError
	require.ErrorAs(t, err, &stale)
	require.Equal(t, []string{id}, stale.ModelIDs)

	found, err := f.notes.Find(ctx, domain.NewID(id))
	require.NoError(t, err)
	require.Equal(t, "second", found.Title)

	_, err = f.notes.Find(ctx, domain.NewID(uuid.NewString()))
	require.ErrorIs(t, err, persist.ErrNotFound)
}

func (f *fixture) testUpdateAll(t *testing.T) {
	ctx := t.Context()
	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	added, err := f.notes.AddAll(ctx, []note{newNote(ids[0], "a"), newNote(ids[1], "b"), newNote(ids[2], "c")})
	require.NoError(t, err)
	require.Len(t, added, 3)

	_, err = f.notes.Update(ctx, added[0].Retitle("moved on"))
	require.NoError(t, err)
	_, err = f.notes.Update(ctx, added[2].Retitle("moved on"))
	require.NoError(t, err)

	_, err = f.notes.UpdateAll(ctx, []note{added[0].Retitle("x"), added[1].Retitle("y"), added[2].Retitle("z")})
	var stale *persist.StaleVersionError
	require.ErrorAs(t, err, &stale)
	require.Equal(t, []string{ids[0], ids[2]}, stale.ModelIDs)
}

func (f *fixture) testRollback(t *testing.T) {
	id := uuid.NewString()
	boom := errors.New("boom")
	err := f.tm.InTransaction(t.Context(), tx.RequireNew, func(ctx context.Context, c *Conn) error {
		require.True(t, c.InTx())
		_, err := f.notes.Add(ctx, newNote(id, "x"))
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = f.notes.Find(t.Context(), domain.NewID(id))
	require.ErrorIs(t, err, persist.ErrNotFound)
}

func testEvent(key events.IdempotencyKey, modelID string) *events.UowEvent {
	evt := &events.UowEvent{
		ID:             uuid.Must(uuid.NewV7()),
		Name:           "WriteNote",
		PrincipalID:    "u-1",
		PrincipalName:  "alice",
		OccurredAt:     time.Now(),
		IdempotencyKey: key,
		Params:         []byte(`{"id":"` + modelID + `"}`),
	}
	evt.Events = []events.ModelEventRecord{{
		ID:         uuid.Must(uuid.NewV7()),
		UowID:      evt.ID,
		ModelID:    modelID,
		ModelName:  "note",
		Name:       "noteWritten",
		OccurredAt: evt.OccurredAt,
		Payload:    []byte(`{"note":"` + modelID + `","title":"x"}`),
		Metadata:   map[string]string{events.MetaPrincipalID: "u-1"},
	}}
	return evt
}

func (f *fixture) testEventPages(t *testing.T) {
	ctx := t.Context()
	// ahead of every other event in the database
	base := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	var want []string
	for _, offset := range []time.Duration{0, time.Second, time.Second} {
		evt := testEvent("", uuid.NewString())
		evt.OccurredAt = base.Add(offset)
		evt.Events[0].OccurredAt = evt.OccurredAt
		require.NoError(t, f.tm.Transact(ctx, tx.RequireNew, func(ctx context.Context) error {
			return f.events.Save(ctx, evt)
		}))
		want = append([]string{evt.ID.String()}, want...)
	}

	first, err := paging.First[time.Time](2)
	require.NoError(t, err)
	l, err := f.events.Page(ctx, first)
	require.NoError(t, err)
	require.Len(t, l.Items, 2)
	require.Equal(t, want[:2], []string{l.Items[0].ID.String(), l.Items[1].ID.String()})
	require.Len(t, l.Items[0].Events, 1)

	next, ok := l.NextPage()
	require.True(t, ok)
	l, err = f.events.Page(ctx, next)
	require.NoError(t, err)
	require.Equal(t, want[2], l.Items[0].ID.String())

	_, err = f.events.Page(ctx, first.Next(base, "not-a-uuid"))
	require.ErrorIs(t, err, paging.ErrInvalidPage)
}

func (f *fixture) testEventRepository(t *testing.T) {
	ctx := t.Context()
	save := func(evt *events.UowEvent) error {
		return f.tm.Transact(ctx, tx.RequireNew, func(ctx context.Context) error {
			return f.events.Save(ctx, evt)
		})
	}
	modelID := uuid.NewString()

	require.ErrorIs(t, f.events.Save(ctx, testEvent("", modelID)), tx.ErrNoConnection)

	key := events.RandomIdempotencyKey()
	first := testEvent(key, modelID)
	require.NoError(t, save(first))
	require.NoError(t, save(testEvent("", modelID)))

	err := save(testEvent(key, modelID))
	var dup *persist.UniqueUowEventViolationError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, key.String(), dup.IdempotencyKey)
	require.Equal(t, "uow_events_idempotency_key", dup.Constraint)

	recs, err := f.events.ModelEvents(ctx, "note", modelID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, first.Events[0].ID, recs[0].ID)
	require.Equal(t, first.ID, recs[0].UowID)
	require.Equal(t, map[string]string{events.MetaPrincipalID: "u-1"}, recs[0].Metadata)
	require.JSONEq(t, string(first.Events[0].Payload), string(recs[0].Payload))
	require.WithinDuration(t, first.OccurredAt, recs[0].OccurredAt, time.Millisecond)

	list, err := f.events.List(ctx)
	require.NoError(t, err)
	var got *events.UowEvent
	for _, evt := range list {
		if evt.ID == first.ID {
			got = evt
		}
	}
	require.NotNil(t, got)
	require.Equal(t, key, got.IdempotencyKey)
	require.JSONEq(t, string(first.Params), string(got.Params))
	require.Len(t, got.Events, 1)
}

type writeNotes struct{}

func (writeNotes) Config() uow.Config { return uow.Config{OutOfOrderPersisting: true} }

func (writeNotes) Perform(_ context.Context, _ domain.Principal, ids []string) (uow.Changes[[]note], error) {
	var cs uow.Changeset
	notes := make([]note, len(ids))
	for i, id := range ids {
		notes[i] = newNote(id, "batched")
		cs.Add(notes[i])
	}
	return uow.WithPersistedResult(cs.Accumulator(), func(p uow.Persisted) []note {
		out := make([]note, len(notes))
		for i, n := range notes {
			out[i], _ = uow.PersistedModel(p, n)
		}
		return out
	}), nil
}

func (f *fixture) testExecutorPipelines(t *testing.T) {
	require.True(t, f.tm.SupportsPipelining())
	reg := uow.NewRegistry()
	uow.Register[note](reg, f.notes)
	exec := uow.NewExecutor(f.tm, reg, f.events)

	ids := []string{uuid.NewString(), uuid.NewString()}
	got, err := uow.Execute(t.Context(), exec, writeNotes{}, domain.MustPrincipal("u-1", "alice"), uow.Params(ids))
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i, n := range got {
		require.Equal(t, ids[i], n.ID().Value())
		require.Equal(t, domain.Version(1), n.Version())
	}

	recs, err := f.events.ModelEvents(t.Context(), "note", ids[1])
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "writeNotes", recs[0].Metadata[events.MetaUow])
}
