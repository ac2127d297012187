package nats

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/uow-go/core/events"
)

func TestSubjectToken(t *testing.T) {
	require.Equal(t, "OpenAccount", subjectToken("OpenAccount"))
	require.Equal(t, "a_b_c_d", subjectToken("a.b*c>d"))
}

func TestPublisher(t *testing.T) {
	p, err := NewPublisher(t.Context(), PublisherConfig{
		Connect:    NewTestContainer(t),
		Duplicates: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	si, err := p.stream.Info(t.Context())
	require.NoError(t, err)
	require.Equal(t, DefaultStreamName, si.Config.Name)
	require.Equal(t, []string{DefaultSubjectPrefix + ".>"}, si.Config.Subjects)

	evt := &events.UowEvent{
		ID:             uuid.Must(uuid.NewV7()),
		Name:           "OpenAccount",
		PrincipalID:    "u-1",
		PrincipalName:  "alice",
		OccurredAt:     time.Now().UTC(),
		IdempotencyKey: events.RandomIdempotencyKey(),
		Params:         []byte(`{"owner":"alice"}`),
	}

	require.NoError(t, p.Publish(t.Context(), evt))
	require.NoError(t, p.Publish(t.Context(), evt), "republishing is deduplicated")

	si, err = p.stream.Info(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(1), si.State.Msgs)

	got, err := p.Last(t.Context(), "OpenAccount")
	require.NoError(t, err)
	require.Equal(t, evt.ID, got.ID)
	require.Equal(t, evt.IdempotencyKey, got.IdempotencyKey)
	require.JSONEq(t, string(evt.Params), string(got.Params))

	raw, err := p.stream.GetLastMsgForSubject(t.Context(), p.Subject("OpenAccount"))
	require.NoError(t, err)
	require.Equal(t, evt.ID.String(), raw.Header.Get(HeaderUowID))
	require.Equal(t, evt.IdempotencyKey.String(), raw.Header.Get(HeaderIdempotencyKey))
}
