package types

import "time"

// Notification channels published by the lifecycle manager.
const (
	EventSubscriptionDowngraded = "subscription.downgraded"
	EventSubscriptionChanged    = "subscription.changed"
)

// SubscriptionEvent is published whenever an account's tier changes.
type SubscriptionEvent struct {
	Type           string        `json:"type"`
	AccountID      string        `json:"account_id"`
	PreviousTier   string        `json:"previous_tier,omitempty"`
	Tier           string        `json:"tier"`
	TierCategory   TierCategory  `json:"tier_category"`
	WordLimit      int64         `json:"word_limit"`
	Status         AccountStatus `json:"status"`
	ExpirationDate time.Time     `json:"expiration_date"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// BillingEvent is a payment provider notification.
type BillingEvent struct {
	ID   string           `json:"id"`
	Type string           `json:"type"`
	Data BillingEventData `json:"data"`
}

// BillingEventData carries the fields of a billing event this service acts on.
type BillingEventData struct {
	Customer          string `json:"customer"`
	Plan              string `json:"plan"`
	Status            string `json:"status"`
	ClientReferenceID string `json:"client_reference_id"`
}

// UnrecordedConsumption describes a charged consumption whose activity record failed.
type UnrecordedConsumption struct {
	Receipt     ConsumeReceipt `json:"receipt"`
	Description string         `json:"description"`
	Error       string         `json:"error"`
	OccurredAt  time.Time      `json:"occurred_at"`
}
