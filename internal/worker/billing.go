package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wordgate/apiserver/internal/mq"
	"github.com/wordgate/apiserver/internal/services"
	"github.com/wordgate/apiserver/types"
)

// Subscriber consumes messages from a named channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// EventHandler applies a billing event.
type EventHandler interface {
	Handle(ctx context.Context, event types.BillingEvent) error
}

// BillingConsumer applies billing events delivered over the message queue.
type BillingConsumer struct {
	queue   Subscriber
	channel string
	events  EventHandler
	logger  *slog.Logger
}

func NewBillingConsumer(queue Subscriber, channel string, events EventHandler, logger *slog.Logger) *BillingConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingConsumer{
		queue:   queue,
		channel: channel,
		events:  events,
		logger:  logger.With("worker", "billing", "channel", channel),
	}
}

// Run subscribes and blocks until ctx is done or the subscription fails.
func (c *BillingConsumer) Run(ctx context.Context) error {
	c.logger.Info("billing consumer started")
	err := c.queue.Subscribe(ctx, c.channel, c.HandleMessage)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("billing consumer: %w", err)
	}
	c.logger.Info("billing consumer stopped")
	return nil
}

// HandleMessage decodes and applies one event. Only storage outages are
// redelivered; every other failure is logged and the message dropped.
func (c *BillingConsumer) HandleMessage(ctx context.Context, msg mq.Message) error {
	var event types.BillingEvent
	if err := msg.DecodeJSON(&event); err != nil || event.Type == "" {
		c.logger.Warn("dropping undecodable billing message", "message_id", msg.ID, "error", err)
		if err == nil {
			err = errors.New("billing message has no type")
		}
		return mq.Permanent(err)
	}

	if err := c.events.Handle(ctx, event); err != nil {
		log := c.logger.With("message_id", msg.ID, "event_id", event.ID, "event_type", event.Type, "attempt", msg.Attempt)
		if errors.Is(err, services.ErrStorageUnavailable) {
			log.Error("billing event failed, will retry", "error", err, "pending_for", pendingFor(msg.PublishedAt))
			return err
		}
		log.Warn("dropping billing event", "error", err)
		return mq.Permanent(err)
	}
	return nil
}

func pendingFor(publishedAt time.Time) time.Duration {
	if publishedAt.IsZero() {
		return 0
	}
	return time.Since(publishedAt).Round(time.Second)
}
