package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/wordgate/apiserver/types"
)

// SignatureHeader carries the Stripe webhook signature.
const SignatureHeader = "Stripe-Signature"

// PlanMetadataKey names the checkout session or subscription metadata entry
// that overrides the plan derived from the subscription price.
const PlanMetadataKey = "plan"

// ErrInvalidSignature is returned for a payload that fails verification.
var ErrInvalidSignature = errors.New("invalid billing signature")

// ParseEvent verifies payload against the Stripe-Signature header and
// converts the Stripe event it carries.
func ParseEvent(payload []byte, header, secret string, tolerance time.Duration) (types.BillingEvent, error) {
	if secret == "" {
		return types.BillingEvent{}, errors.New("billing webhook secret is not configured")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance); err != nil {
		return types.BillingEvent{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return types.BillingEvent{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return FromStripe(event)
}

// FromStripe extracts the fields the processor acts on from event's data
// object. Event types the processor ignores carry no data.
func FromStripe(event stripe.Event) (types.BillingEvent, error) {
	out := types.BillingEvent{ID: event.ID, Type: string(event.Type)}
	if out.Type == "" {
		return out, fmt.Errorf("%w: event %s has no type", ErrMalformedEvent, event.ID)
	}

	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := decodeObject(raw, &session); err != nil {
			return out, fmt.Errorf("%w: event %s: %w", ErrMalformedEvent, event.ID, err)
		}
		out.Data.ClientReferenceID = session.ClientReferenceID
		if session.Customer != nil {
			out.Data.Customer = session.Customer.ID
		}
		out.Data.Plan = session.Metadata[PlanMetadataKey]

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := decodeObject(raw, &sub); err != nil {
			return out, fmt.Errorf("%w: event %s: %w", ErrMalformedEvent, event.ID, err)
		}
		if sub.Customer != nil {
			out.Data.Customer = sub.Customer.ID
		}
		out.Data.Status = string(sub.Status)
		out.Data.Plan = subscriptionPlan(&sub, raw)
	}
	return out, nil
}

func decodeObject(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing data object")
	}
	return json.Unmarshal(raw, v)
}

// subscriptionPlan picks the plan reference of sub: the metadata override,
// then the first item's price lookup key or id, then the legacy plan object.
func subscriptionPlan(sub *stripe.Subscription, raw json.RawMessage) string {
	if plan := sub.Metadata[PlanMetadataKey]; plan != "" {
		return plan
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			if item.Price.LookupKey != "" {
				return item.Price.LookupKey
			}
			if item.Price.ID != "" {
				return item.Price.ID
			}
		}
	}

	var legacy struct {
		Plan *struct {
			ID string `json:"id"`
		} `json:"plan"`
	}
	if err := json.Unmarshal(raw, &legacy); err == nil && legacy.Plan != nil {
		return legacy.Plan.ID
	}
	return ""
}
