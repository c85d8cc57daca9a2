package domain

import (
	"context"
)

// EventBus carries selection edits to the worker and results back out.
// In-process channels back a single node; NATS spreads the worker across
// replicas. A topic is always scoped to one tenant.
type EventBus interface {
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe calls handler for each message on the tenant's topic until
	// the returned subscription is dropped or ctx ends.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler consumes one bus message. A returned error is logged by the
// bus and does not stop the subscription.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every payload travels in.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live handler registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string `yaml:"type"`

	// Per-subscriber buffer; a full buffer drops the message.
	ChannelBufferSize int `yaml:"channelBufferSize"`

	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds

	// NATSQueueGroup spreads selection events across worker replicas.
	// Empty means every subscriber sees every message.
	NATSQueueGroup string `yaml:"natsQueueGroup"`
}

// Standard topic names for the validation pipeline.
const (
	TopicSelectionChanged = "selection.changed"
	TopicValidationResult = "validation.result"
	TopicCatalogChanged   = "catalog.changed"
)

// SelectionChanged is the payload published when a build's selection changes.
type SelectionChanged struct {
	TenantID  string    `json:"tenantId"`
	BuildID   string    `json:"buildId"`
	TraceID   string    `json:"traceId,omitempty"`
	Selection Selection `json:"selection"`
}

// ValidationPublished is the payload published for every delivered run.
type ValidationPublished struct {
	ValidationID string           `json:"validationId"`
	BuildID      string           `json:"buildId"`
	Generation   uint64           `json:"generation"`
	Result       ValidationResult `json:"result"`
}

// CatalogChanged is published when a tenant's catalog snapshot is invalidated.
type CatalogChanged struct {
	TenantID string `json:"tenantId"`
	Reason   string `json:"reason"`
}
