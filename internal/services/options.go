package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/wordgate/apiserver/types"
)

// Publisher delivers notifications to a message channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Alerter is notified when a consumption was charged but its activity could not be stored.
type Alerter interface {
	ActivityNotRecorded(ctx context.Context, event types.UnrecordedConsumption)
}

type settings struct {
	logger         *slog.Logger
	now            func() time.Time
	policy         types.TierPolicy
	publisher      Publisher
	alerter        Alerter
	rewriteTimeout time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:         slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
		policy:         types.DefaultTierPolicy(),
		rewriteTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures a service.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithTierPolicy replaces the built-in tier policy.
func WithTierPolicy(policy types.TierPolicy) Option {
	return func(s *settings) {
		s.policy = policy
	}
}

// WithPublisher enables lifecycle notifications.
func WithPublisher(p Publisher) Option {
	return func(s *settings) {
		s.publisher = p
	}
}

// WithAlerter sets the partial-failure alert sink.
func WithAlerter(a Alerter) Option {
	return func(s *settings) {
		s.alerter = a
	}
}

// WithRewriteTimeout bounds each call to the rewrite service.
func WithRewriteTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.rewriteTimeout = d
		}
	}
}
