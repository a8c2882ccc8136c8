package types

import "time"

// TierFree is the tier every account starts on and falls back to on expiration.
const TierFree = "free"

// Account represents a registered user together with its billing state.
type Account struct {
	// ID is the opaque unique identifier of the account.
	ID string `json:"id" db:"id" bson:"_id"`

	// Name is the account holder's display name.
	Name string `json:"name" db:"name" bson:"name"`

	// Email is the unique login address, stored normalized.
	Email string `json:"email" db:"email" bson:"email"`

	// PasswordHash stores the bcrypt hash of the account password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash" bson:"password_hash"`

	// Tier is the subscription level, e.g. "free" or "paid-monthly".
	Tier string `json:"tier" db:"tier" bson:"tier"`

	// TierCategory determines the reset cadence of the quota.
	TierCategory TierCategory `json:"tier_category" db:"tier_category" bson:"tier_category"`

	// WordLimit is the quota for the current period.
	WordLimit int64 `json:"word_limit" db:"word_limit" bson:"word_limit"`

	// WordsUsed is the consumption within the current period.
	WordsUsed int64 `json:"words_used" db:"words_used" bson:"words_used"`

	// TotalWordsProcessed is the lifetime consumption counter. It never decreases.
	TotalWordsProcessed int64 `json:"total_words_processed" db:"total_words_processed" bson:"total_words_processed"`

	// IsAdmin grants access to the admin API.
	IsAdmin bool `json:"is_admin" db:"is_admin" bson:"is_admin"`

	// Status is the subscription status reported by billing or set by an admin.
	Status AccountStatus `json:"status" db:"status" bson:"status"`

	// CustomerRef is the payment provider's customer identifier, if linked.
	CustomerRef *string `json:"-" db:"customer_ref" bson:"customer_ref,omitempty"`

	// ExpirationDate is the next instant at which the quota and tier
	// state of this account must be re-evaluated.
	ExpirationDate time.Time `json:"expiration_date" db:"expiration_date" bson:"expiration_date"`

	// CreatedAt is the timestamp when the account was registered.
	CreatedAt time.Time `json:"created_at" db:"created_at" bson:"created_at"`

	// UpdatedAt is the timestamp of the most recent change to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// IsFree reports whether the account is on the free tier.
func (a Account) IsFree() bool {
	return a.Tier == TierFree
}

// Remaining returns the unused quota, never negative.
func (a Account) Remaining() int64 {
	if a.WordsUsed >= a.WordLimit {
		return 0
	}
	return a.WordLimit - a.WordsUsed
}

// AccountStatus is the subscription status of an account.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
	StatusCanceled  AccountStatus = "canceled"
	StatusExpired   AccountStatus = "expired"
	StatusTrial     AccountStatus = "trial"
)

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusCanceled, StatusExpired, StatusTrial:
		return true
	default:
		return false
	}
}

// AccountView is the account as presented to its owner and to admins.
type AccountView struct {
	Account
	WordsRemaining int64 `json:"words_remaining"`
	DaysRemaining  int   `json:"days_remaining"`
}

// NewAccountView derives the presentation fields of a at the given instant.
// DaysRemaining counts whole days left and is clamped at zero, so a free
// account with a daily reset always reports 0.
func NewAccountView(a Account, now time.Time) AccountView {
	days := int(a.ExpirationDate.Sub(now) / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	return AccountView{
		Account:        a,
		WordsRemaining: a.Remaining(),
		DaysRemaining:  days,
	}
}
