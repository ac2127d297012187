package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/uow-go/adapters/memory"
	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/eventbus"
	"github.com/codewandler/uow-go/core/events"
	"github.com/codewandler/uow-go/core/uow"
)

type itemID = domain.ID[string]

type itemAdded struct {
	Item string `json:"item"`
}

func (e itemAdded) ModelID() domain.ModelID { return domain.NewID(e.Item) }
func (e itemAdded) ModelName() string       { return "item" }

type item struct {
	domain.Base[itemID]
}

func (item) ModelName() string { return "item" }
func (i item) WithEntityState(s domain.EntityState) item {
	i.Base = i.WithState(s)
	return i
}

var addItem = uow.New("AddItem", func(_ context.Context, _ domain.Principal, id string) (uow.Changes[item], error) {
	it := item{Base: domain.NewBase[itemID](domain.NewID(id), itemAdded{Item: id})}
	var cs uow.Changeset
	return uow.Done(cs.Add(it), it), nil
})

func newApp(t *testing.T, publishers ...events.Publisher) *App {
	t.Helper()
	tm := memory.NewManager(memory.NewStore())
	a, err := New(Config{Tx: tm, Events: memory.NewEventRepository(tm), Publishers: publishers})
	require.NoError(t, err)
	uow.Register[item](a.Executor().Registry(), memory.NewRepository[item](tm, "items"))
	return a
}

func TestApp_RequiresStorage(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestApp_PublishesToBusAndPublishers(t *testing.T) {
	var (
		mu        sync.Mutex
		published []string
		handled   = make(chan string, 1)
	)
	a := newApp(t, events.PublisherFunc(func(_ context.Context, evt *events.UowEvent) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, evt.Name)
		return nil
	}))
	a.Bus().Subscribe("test", eventbus.Any, "item", eventbus.HandlerFunc(func(_ context.Context, rec events.ModelEventRecord) error {
		handled <- rec.ModelID
		return nil
	}))

	_, err := uow.Execute(t.Context(), a.Executor(), addItem, domain.System, uow.Params("i1"))
	require.NoError(t, err)

	select {
	case id := <-handled:
		require.Equal(t, "i1", id)
	case <-time.After(time.Second):
		t.Fatal("bus did not deliver")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"AddItem"}, published)
}

func TestApp_Shutdown(t *testing.T) {
	a := newApp(t)
	var order []string
	a.OnStop("first", func(context.Context) error { order = append(order, "first"); return nil })
	a.OnStop("second", func(context.Context) error { order = append(order, "second"); return errors.New("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := a.Shutdown(ctx)
	require.ErrorContains(t, err, "stop second: boom")
	require.Equal(t, []string{"second", "first"}, order)
	require.ErrorIs(t, a.Context().Err(), context.Canceled)

	select {
	case <-a.Done():
	default:
		t.Fatal("Done() should be closed after Shutdown")
	}

	require.Equal(t, err, a.Shutdown(ctx), "later calls return the first result")
	require.Equal(t, []string{"second", "first"}, order)
}

func TestApp_Stop(t *testing.T) {
	a := newApp(t)
	a.Stop()
	a.Stop()

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() should be closed after Stop")
	}
}
