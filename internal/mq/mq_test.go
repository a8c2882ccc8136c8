package mq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wordgate/apiserver/config"
)

type captureBackend struct {
	channel string
	data    []byte
	attrs   map[string]string
}

func (c *captureBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	c.channel, c.data, c.attrs = channel, data, attrs
	return "msg-1", nil
}

func (c *captureBackend) Subscribe(context.Context, string, Handler) error { return nil }
func (c *captureBackend) Close() error                                     { return nil }

func TestPublishJSON(t *testing.T) {
	backend := &captureBackend{}
	q := New(backend)

	id, err := q.PublishJSON(context.Background(), "ops.alerts", map[string]int{"words": 3}, map[string]string{"kind": "test"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "ops.alerts", backend.channel)
	assert.JSONEq(t, `{"words":3}`, string(backend.data))
	assert.Equal(t, map[string]string{"content-type": "application/json", "kind": "test"}, backend.attrs)
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")
	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(base))

	wrapped := fmt.Errorf("handle: %w", Permanent(base))
	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "handle: bad payload", wrapped.Error())
}

func TestOpen(t *testing.T) {
	q, err := Open(context.Background(), config.MQConfig{Backend: BackendNone})
	require.NoError(t, err)
	assert.Nil(t, q)

	_, err = Open(context.Background(), config.MQConfig{Backend: "kafka"})
	assert.ErrorContains(t, err, "unsupported mq backend")

	_, err = Open(context.Background(), config.MQConfig{Backend: BackendRabbitMQ})
	assert.ErrorContains(t, err, "rabbitmq url is required")

	_, err = Open(context.Background(), config.MQConfig{Backend: BackendPubSub})
	assert.ErrorContains(t, err, "pubsub project id is required")
}

func TestHeadersToAttributes(t *testing.T) {
	assert.Nil(t, headersToAttributes(nil))
	attrs := headersToAttributes(map[string]any{"a": "x", "b": []byte("y"), "c": 3})
	assert.Equal(t, map[string]string{"a": "x", "b": "y", "c": "3"}, attrs)
}

func TestMessageDecodeJSON(t *testing.T) {
	var v struct {
		Type string `json:"type"`
	}
	plain := Message{ID: "1", Data: []byte(`{"type":"a"}`)}
	require.NoError(t, plain.DecodeJSON(&v))
	assert.Equal(t, "a", v.Type)

	tagged := Message{ID: "2", Data: []byte(`{"type":"b"}`), Attributes: map[string]string{AttrContentType: "application/json; charset=utf-8"}}
	require.NoError(t, tagged.DecodeJSON(&v))
	assert.Equal(t, "b", v.Type)

	binary := Message{ID: "3", Data: []byte(`{"type":"c"}`), Attributes: map[string]string{AttrContentType: "application/octet-stream"}}
	assert.ErrorContains(t, binary.DecodeJSON(&v), `message 3 has content type "application/octet-stream"`)
}

func TestRabbitMQPublishingMovesContentType(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 30, 0, 0, time.FixedZone("x", 3600))
	pub := publishing("m1", []byte(`{}`), map[string]string{AttrContentType: "application/json", "kind": "alert"}, true, now)

	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, amqp.Table{"kind": "alert"}, pub.Headers)
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, now.UTC(), pub.Timestamp)
	assert.Equal(t, "m1", pub.MessageId)

	bare := publishing("m2", nil, nil, false, now)
	assert.Equal(t, "application/octet-stream", bare.ContentType)
	assert.Equal(t, amqp.Transient, bare.DeliveryMode)
}

func TestRabbitMQDeliveryMessage(t *testing.T) {
	sent := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	msg := deliveryMessage(amqp.Delivery{
		MessageId:   "m1",
		ContentType: "application/json",
		Timestamp:   sent,
		Body:        []byte(`{}`),
		Headers:     amqp.Table{"kind": "alert"},
	})
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, sent, msg.PublishedAt)
	assert.Equal(t, 1, msg.Attempt)
	assert.Equal(t, map[string]string{"kind": "alert", AttrContentType: "application/json"}, msg.Attributes)

	assert.Equal(t, 2, redeliveryAttempt(amqp.Delivery{Redelivered: true}))
	assert.Equal(t, 4, redeliveryAttempt(amqp.Delivery{Redelivered: true, Headers: amqp.Table{"x-delivery-count": int64(3)}}))
	assert.Nil(t, deliveryMessage(amqp.Delivery{}).Attributes)
}

func TestPubSubSubscriptionConfig(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                30 * time.Second,
		time.Second:      10 * time.Second,
		45 * time.Second: 45 * time.Second,
		time.Hour:        600 * time.Second,
	}
	for in, want := range cases {
		cfg := subscriptionConfig(nil, in)
		assert.Equal(t, want, cfg.AckDeadline, "ack deadline %s", in)
		require.NotNil(t, cfg.RetryPolicy)
		assert.Equal(t, &pubsub.RetryPolicy{MinimumBackoff: retryMinBackoff, MaximumBackoff: retryMaxBackoff}, cfg.RetryPolicy)
	}
}

func TestPubSubDeliveryAttemptAndNames(t *testing.T) {
	three := 3
	assert.Equal(t, 1, deliveryAttempt(nil))
	assert.Equal(t, 3, deliveryAttempt(&three))

	p := &PubSubClient{subscriptionSuffix: "-sub"}
	assert.Equal(t, "billing.events-sub", p.subscriptionName("billing.events"))
	p.subscriptionSuffix = ""
	assert.Equal(t, "billing.events", p.subscriptionName("billing.events"))
}
