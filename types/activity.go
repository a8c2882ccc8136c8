package types

import "time"

// DefaultActivityDescription is used when a rewrite request has no description.
const DefaultActivityDescription = "Text rewrite"

// Activity is an immutable record of one successful quota consumption.
type Activity struct {
	ID          string    `json:"id" db:"id" bson:"_id"`
	AccountID   string    `json:"account_id" db:"account_id" bson:"account_id"`
	Description string    `json:"description" db:"description" bson:"description"`
	WordCount   int64     `json:"word_count" db:"word_count" bson:"word_count"`
	CreatedAt   time.Time `json:"timestamp" db:"created_at" bson:"created_at"`
}

// DailyCount is the number of activities on one calendar day (YYYY-MM-DD, UTC).
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// ActivityStats summarizes an account's activity history.
type ActivityStats struct {
	TotalActivities int64 `json:"total_activities"`
	TotalWords      int64 `json:"total_words"`
}

// ConsumeReceipt is returned by a successful quota consumption.
type ConsumeReceipt struct {
	AccountID      string    `json:"account_id"`
	Words          int64     `json:"words"`
	WordsUsed      int64     `json:"words_used"`
	WordsRemaining int64     `json:"words_remaining"`
	ConsumedAt     time.Time `json:"consumed_at"`
}
