package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/wordgate/apiserver/config"
	"google.golang.org/api/option"
)

// Redelivery backoff for nacked messages. Billing events are only nacked
// during a storage outage, so retrying immediately would spin.
const (
	retryMinBackoff = 10 * time.Second
	retryMaxBackoff = 10 * time.Minute
)

// PubSubClient publishes to and consumes from Google Cloud Pub/Sub topics.
// Topics are looked up once per channel and kept until Close.
type PubSubClient struct {
	client             *pubsub.Client
	subscriptionSuffix string
	maxOutstanding     int
	ackDeadline        time.Duration

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSubClient constructs a Pub/Sub client from config.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	suffix := cfg.SubscriptionSuffix
	if suffix == "" {
		suffix = "-sub"
	}

	return &PubSubClient{
		client:             client,
		subscriptionSuffix: suffix,
		maxOutstanding:     cfg.MaxOutstanding,
		ackDeadline:        cfg.AckDeadline,
		topics:             make(map[string]*pubsub.Topic),
	}, nil
}

// Publish sends a message to the channel's topic and waits for the server
// to assign it an ID.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	topic, err := p.topic(ctx, channel)
	if err != nil {
		return "", err
	}
	id, err := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", channel, err)
	}
	return id, nil
}

// Subscribe consumes the channel through this service's subscription,
// creating it on first use. Handler errors nack the message unless they
// are permanent.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}

	topic, err := p.topic(ctx, channel)
	if err != nil {
		return err
	}

	sub, err := p.ensureSubscription(ctx, p.subscriptionName(channel), topic)
	if err != nil {
		return err
	}
	if p.maxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = p.maxOutstanding
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		message := Message{
			ID:          msg.ID,
			Data:        msg.Data,
			Attributes:  msg.Attributes,
			PublishedAt: msg.PublishTime,
			Attempt:     deliveryAttempt(msg.DeliveryAttempt),
		}
		if err := handler(ctx, message); err != nil && !IsPermanent(err) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close flushes pending publishes and closes the client.
func (p *PubSubClient) Close() error {
	p.mu.Lock()
	for name, topic := range p.topics {
		topic.Stop()
		delete(p.topics, name)
	}
	p.mu.Unlock()
	return p.client.Close()
}

func (p *PubSubClient) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic, ok := p.topics[name]; ok {
		return topic, nil
	}

	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("look up topic %s: %w", name, err)
	}
	if !exists {
		if topic, err = p.client.CreateTopic(ctx, name); err != nil {
			return nil, fmt.Errorf("create topic %s: %w", name, err)
		}
	}
	p.topics[name] = topic
	return topic, nil
}

func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("look up subscription %s: %w", name, err)
	}
	if exists {
		return sub, nil
	}
	sub, err = p.client.CreateSubscription(ctx, name, subscriptionConfig(topic, p.ackDeadline))
	if err != nil {
		return nil, fmt.Errorf("create subscription %s: %w", name, err)
	}
	return sub, nil
}

// subscriptionConfig clamps ackDeadline to the range Pub/Sub accepts.
func subscriptionConfig(topic *pubsub.Topic, ackDeadline time.Duration) pubsub.SubscriptionConfig {
	switch {
	case ackDeadline <= 0:
		ackDeadline = 30 * time.Second
	case ackDeadline < 10*time.Second:
		ackDeadline = 10 * time.Second
	case ackDeadline > 600*time.Second:
		ackDeadline = 600 * time.Second
	}
	return pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: ackDeadline,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: retryMinBackoff,
			MaximumBackoff: retryMaxBackoff,
		},
	}
}

func (p *PubSubClient) subscriptionName(channel string) string {
	if p.subscriptionSuffix == "" {
		return channel
	}
	return channel + p.subscriptionSuffix
}

// deliveryAttempt is only reported by Pub/Sub on subscriptions with a
// dead-letter policy.
func deliveryAttempt(n *int) int {
	if n == nil || *n < 1 {
		return 1
	}
	return *n
}
