package types

import (
	"fmt"
	"time"
)

// TierCategory selects the reset interval and default limit of a tier.
type TierCategory string

const (
	CategoryDaily   TierCategory = "daily"
	CategoryMonthly TierCategory = "monthly"
	CategoryYearly  TierCategory = "yearly"
)

// FreeWordLimit is the daily quota of the free tier.
const FreeWordLimit int64 = 300

// TierTerms is the reset interval and default quota of a tier category.
type TierTerms struct {
	Interval  time.Duration
	WordLimit int64
}

// TierPolicy maps tier categories to their terms.
type TierPolicy map[TierCategory]TierTerms

// DefaultTierPolicy returns the built-in policy.
func DefaultTierPolicy() TierPolicy {
	return TierPolicy{
		CategoryDaily:   {Interval: 24 * time.Hour, WordLimit: FreeWordLimit},
		CategoryMonthly: {Interval: 30 * 24 * time.Hour, WordLimit: 10000},
		CategoryYearly:  {Interval: 365 * 24 * time.Hour, WordLimit: 150000},
	}
}

// Terms returns the terms of category c.
func (p TierPolicy) Terms(c TierCategory) (TierTerms, error) {
	terms, ok := p[c]
	if !ok {
		return TierTerms{}, fmt.Errorf("unknown tier category %q", c)
	}
	return terms, nil
}

// NextExpiration returns the expiration instant for a period of category c starting at now.
func (p TierPolicy) NextExpiration(c TierCategory, now time.Time) (time.Time, error) {
	terms, err := p.Terms(c)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(terms.Interval), nil
}

// Plan binds a payment provider plan reference to a tier.
type Plan struct {
	Ref       string       `json:"ref" mapstructure:"ref"`
	Tier      string       `json:"tier" mapstructure:"tier"`
	Category  TierCategory `json:"category" mapstructure:"category"`
	WordLimit int64        `json:"word_limit" mapstructure:"word_limit"`
}

// TierChange describes an update applied by an admin or a billing event.
// Nil fields are left untouched.
type TierChange struct {
	Tier       string         `json:"tier"`
	Category   *TierCategory  `json:"tier_category,omitempty"`
	WordLimit  *int64         `json:"word_limit,omitempty"`
	Status     *AccountStatus `json:"status,omitempty"`
	ResetUsage bool           `json:"reset_usage"`
}
