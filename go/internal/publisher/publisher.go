package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/leadengine/syncgateway/go/internal/gateway"
)

// maxNotifyPayload is the Postgres limit on a NOTIFY payload in bytes
const maxNotifyPayload = 8000

// Publisher delivers auction event envelopes to one transport
type Publisher interface {
	Publish(ctx context.Context, event gateway.LeadEvent) error
}

// NewEvent wraps payload in an envelope with a fresh id
func NewEvent(typ gateway.EventType, payload interface{}, at time.Time) (gateway.LeadEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return gateway.LeadEvent{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	return gateway.LeadEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: at.UTC(),
		Data:      data,
	}, nil
}

// LogPublisher only logs; useful when no broker is running
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event gateway.LeadEvent) error {
	log.Info().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Int("size", len(event.Data)).
		Msg("publishing event")
	return nil
}

// StreamPublisher is the part of jetstream.JetStream used for publishing
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamPublisher publishes envelopes under <prefix>.<event type>. The
// event id doubles as the JetStream message id so retries are deduplicated.
type JetStreamPublisher struct {
	js            StreamPublisher
	subjectPrefix string
}

func NewJetStreamPublisher(js StreamPublisher, subjectPrefix string) *JetStreamPublisher {
	return &JetStreamPublisher{
		js:            js,
		subjectPrefix: strings.TrimSuffix(subjectPrefix, "."),
	}
}

// Subject returns the subject an event type is published on
func (p *JetStreamPublisher) Subject(typ gateway.EventType) string {
	// NATS tokens are dot separated, so "bid:update" becomes "bid.update"
	return p.subjectPrefix + "." + strings.ReplaceAll(string(typ), ":", ".")
}

func (p *JetStreamPublisher) Publish(ctx context.Context, event gateway.LeadEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.Subject(event.Type)
	ack, err := p.js.Publish(ctx, subject, raw, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	log.Debug().
		Str("subject", subject).
		Str("stream", ack.Stream).
		Uint64("seq", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("published event")
	return nil
}

// Execer is satisfied by *pgxpool.Pool and pgx.Tx
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PgNotifyPublisher sends envelopes with pg_notify on one channel
type PgNotifyPublisher struct {
	db      Execer
	channel string
}

func NewPgNotifyPublisher(db Execer, channel string) *PgNotifyPublisher {
	return &PgNotifyPublisher{db: db, channel: channel}
}

func (p *PgNotifyPublisher) Publish(ctx context.Context, event gateway.LeadEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if len(raw) >= maxNotifyPayload {
		return fmt.Errorf("event %s is %d bytes, over the NOTIFY payload limit", event.ID, len(raw))
	}

	if _, err := p.db.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(raw)); err != nil {
		return fmt.Errorf("failed to notify %s: %w", p.channel, err)
	}
	return nil
}
