package domain

import (
	"context"
)

// EventBus carries run and alert events out of the scoring pipeline,
// over Go channels (Community) or NATS (Pro). Every method takes a
// tenantID; a tenant can only ever see its own events.
type EventBus interface {
	// Publish sends a payload to the tenant's topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for the tenant's topic.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes and waits for a single reply.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler consumes one delivered message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every event travels in.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live topic registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus implementation.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string

	// Community tier.
	ChannelBufferSize int

	// Pro tier.
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the scoring pipeline.
const (
	TopicBatchIngested = "kestrel.batch.ingested"
	TopicBatchScored   = "kestrel.batch.scored"
	TopicAlertFlagged  = "kestrel.alert.flagged"
)
