package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wordgate/apiserver/config"
)

// Backend names accepted in config.MQConfig.Backend.
const (
	BackendNone     = "none"
	BackendRabbitMQ = "rabbitmq"
	BackendPubSub   = "pubsub"
)

// AttrContentType names the attribute carrying the payload media type.
const AttrContentType = "content-type"

const contentTypeJSON = "application/json"

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string

	// PublishedAt is zero when the broker did not record it.
	PublishedAt time.Time
	// Attempt counts deliveries of this message, starting at 1.
	Attempt int
}

// DecodeJSON unmarshals the payload into v. A message that declares a
// non-JSON content type is rejected without decoding.
func (m Message) DecodeJSON(v any) error {
	if ct := m.Attributes[AttrContentType]; ct != "" && !strings.HasPrefix(ct, contentTypeJSON) {
		return fmt.Errorf("message %s has content type %q", m.ID, ct)
	}
	return json.Unmarshal(m.Data, v)
}

// Handler processes a message. Return an error to signal a retry/nack;
// wrap it with Permanent to drop the message instead.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth redelivering.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was produced by Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// MQ wraps a backend with a stable API.
type MQ struct {
	backend Backend
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Open builds the configured backend. It returns nil, nil when the
// backend is "none".
func Open(ctx context.Context, cfg config.MQConfig) (*MQ, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return nil, nil
	case BackendRabbitMQ:
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		return New(client), nil
	case BackendPubSub:
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("pubsub: %w", err)
		}
		return New(client), nil
	default:
		return nil, fmt.Errorf("unsupported mq backend %q", cfg.Backend)
	}
}

// Publish sends a message to the named channel.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, channel, data, attrs)
}

// PublishJSON marshals v and publishes it with a content-type attribute.
func (m *MQ) PublishJSON(ctx context.Context, channel string, v any, attrs map[string]string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	merged := map[string]string{AttrContentType: contentTypeJSON}
	for k, val := range attrs {
		merged[k] = val
	}
	return m.backend.Publish(ctx, channel, data, merged)
}

// Subscribe consumes messages from the named channel.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return m.backend.Subscribe(ctx, channel, handler)
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}
