// Package nats publishes committed units of work to a NATS JetStream
// stream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/uow-go/core/events"
)

const (
	DefaultStreamName    = "UOW_EVENTS"
	DefaultSubjectPrefix = "uow.events"

	HeaderUowName        = "x-uow-name"
	HeaderUowID          = "x-uow-id"
	HeaderIdempotencyKey = "x-idempotency-key"
	HeaderPrincipalID    = "x-principal-id"
)

type PublisherConfig struct {
	Connect       Connector    // Connect opens the NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	StreamName    string
	SubjectPrefix string
	// Duplicates is the deduplication window of the stream. Zero keeps the
	// server default.
	Duplicates time.Duration
}

// Publisher publishes every UowEvent as one message on
// <prefix>.<uow name>. The UowEvent id is the message id, so a publish that
// is retried within the duplicate window is stored once.
type Publisher struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
}

func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	connect := cfg.Connect
	if connect == nil {
		connect = ConnectDefault()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = DefaultStreamName
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	nc, closeNc, err := connect()
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log = log.With(
		slog.String("component", "nats_publisher"),
		slog.String("stream", streamName),
		slog.String("subjectPrefix", prefix),
	)
	log.Debug("ensuring stream")

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{prefix + ".>"},
		Duplicates: cfg.Duplicates,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	return &Publisher{
		nc:            nc,
		closeNc:       closeNc,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: prefix,
	}, nil
}

// Subject returns the subject UowEvents of uowName are published on.
func (p *Publisher) Subject(uowName string) string {
	return p.subjectPrefix + "." + subjectToken(uowName)
}

func (p *Publisher) Publish(ctx context.Context, evt *events.UowEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode uow event %s: %w", evt.ID, err)
	}
	msg := natsgo.NewMsg(p.Subject(evt.Name))
	msg.Header.Set(HeaderUowName, evt.Name)
	msg.Header.Set(HeaderUowID, evt.ID.String())
	msg.Header.Set(HeaderPrincipalID, evt.PrincipalID)
	if !evt.IdempotencyKey.IsZero() {
		msg.Header.Set(HeaderIdempotencyKey, evt.IdempotencyKey.String())
	}
	msg.Data = data

	ack, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(evt.ID.String()))
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", evt.Name, msg.Subject, err)
	}
	p.log.Debug("published",
		slog.Group("uow", slog.String("id", evt.ID.String()), slog.String("name", evt.Name)),
		slog.Group("ack", slog.Uint64("seq", ack.Sequence), slog.Bool("dup", ack.Duplicate)),
	)
	return nil
}

// Last returns the most recent UowEvent published for uowName.
func (p *Publisher) Last(ctx context.Context, uowName string) (*events.UowEvent, error) {
	msg, err := p.stream.GetLastMsgForSubject(ctx, p.Subject(uowName))
	if err != nil {
		return nil, err
	}
	var evt events.UowEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return nil, fmt.Errorf("decode uow event at seq %d: %w", msg.Sequence, err)
	}
	return &evt, nil
}

func (p *Publisher) Close() error {
	p.js.CleanupPublisher()
	p.closeNc()
	p.log.Debug("closed publisher")
	return nil
}

// subjectToken makes name usable as a single subject token.
func subjectToken(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, name)
}

var _ events.Publisher = (*Publisher)(nil)
