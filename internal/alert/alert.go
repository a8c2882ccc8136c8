// Package alert reports consumptions that were charged against an account's
// quota but whose activity record could not be written.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wordgate/apiserver/config"
	"github.com/wordgate/apiserver/internal/mq"
	"github.com/wordgate/apiserver/types"
)

// DeadLetterPrefix is the object key prefix dead letters are written under.
const DeadLetterPrefix = "dead-letter/activities/"

const sinkTimeout = 10 * time.Second

// DeadLetterStore persists unrecorded consumptions for later replay.
type DeadLetterStore interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// Publisher delivers alerts to a message channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Mailer sends a plain-text operator email.
type Mailer interface {
	Send(ctx context.Context, subject, body string) error
}

// Notifier fans an unrecorded consumption out to every configured sink.
// Sink failures are logged and never propagated to the caller.
type Notifier struct {
	logger    *slog.Logger
	store     DeadLetterStore
	publisher Publisher
	channel   string
	mailer    Mailer
}

// NewNotifier builds a Notifier. Any of store, publisher and mailer may be nil.
func NewNotifier(logger *slog.Logger, store DeadLetterStore, publisher Publisher, channel string, mailer Mailer) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger:    logger,
		store:     store,
		publisher: publisher,
		channel:   channel,
		mailer:    mailer,
	}
}

// DeadLetterKey returns the object key for an unrecorded consumption.
func DeadLetterKey(event types.UnrecordedConsumption) string {
	at := event.Receipt.ConsumedAt.UTC()
	return fmt.Sprintf("%s%s/%s-%d.json", DeadLetterPrefix, at.Format("2006/01/02"), event.Receipt.AccountID, at.UnixNano())
}

// ActivityNotRecorded implements services.Alerter.
func (n *Notifier) ActivityNotRecorded(ctx context.Context, event types.UnrecordedConsumption) {
	log := n.logger.With("account_id", event.Receipt.AccountID, "words", event.Receipt.Words)

	if n.store != nil {
		key := DeadLetterKey(event)
		if err := n.withTimeout(ctx, func(ctx context.Context) error {
			return n.store.PutJSON(ctx, key, event)
		}); err != nil {
			log.Error("write dead letter", "key", key, "error", err)
		} else {
			log.Info("dead letter written", "key", key)
		}
	}

	if n.publisher != nil && n.channel != "" {
		if err := n.withTimeout(ctx, func(ctx context.Context) error {
			data, err := json.Marshal(event)
			if err != nil {
				return err
			}
			_, err = n.publisher.Publish(ctx, n.channel, data, map[string]string{
				"kind":             "activity_not_recorded",
				mq.AttrContentType: "application/json",
			})
			return err
		}); err != nil {
			log.Error("publish alert", "channel", n.channel, "error", err)
		}
	}

	if n.mailer != nil {
		subject, body := formatEmail(event)
		if err := n.withTimeout(ctx, func(ctx context.Context) error {
			return n.mailer.Send(ctx, subject, body)
		}); err != nil {
			log.Error("send alert email", "error", err)
		}
	}
}

func (n *Notifier) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	return fn(ctx)
}

func formatEmail(event types.UnrecordedConsumption) (string, string) {
	subject := fmt.Sprintf("[wordgate] activity not recorded for account %s", event.Receipt.AccountID)

	var b strings.Builder
	fmt.Fprintf(&b, "A consumption was charged but its activity record could not be stored.\n\n")
	fmt.Fprintf(&b, "Account:     %s\n", event.Receipt.AccountID)
	fmt.Fprintf(&b, "Words:       %d\n", event.Receipt.Words)
	fmt.Fprintf(&b, "Words used:  %d\n", event.Receipt.WordsUsed)
	fmt.Fprintf(&b, "Description: %s\n", event.Description)
	fmt.Fprintf(&b, "Consumed at: %s\n", event.Receipt.ConsumedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Error:       %s\n", event.Error)
	return subject, b.String()
}

// SendgridMailer delivers alert emails through SendGrid.
type SendgridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
	to     *mail.Email
}

// NewSendgridMailer returns nil when no API key or recipient is configured.
func NewSendgridMailer(cfg config.AlertConfig) *SendgridMailer {
	if cfg.SendgridAPIKey == "" || cfg.To == "" {
		return nil
	}
	from := cfg.From
	if from == "" {
		from = cfg.To
	}
	return &SendgridMailer{
		client: sendgrid.NewSendClient(cfg.SendgridAPIKey),
		from:   mail.NewEmail("Wordgate", from),
		to:     mail.NewEmail("Operator", cfg.To),
	}
}

// Send implements Mailer.
func (m *SendgridMailer) Send(ctx context.Context, subject, body string) error {
	message := mail.NewSingleEmail(m.from, subject, m.to, body, body)
	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}
	return nil
}
