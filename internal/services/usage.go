package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wordgate/apiserver/types"
)

// Rewriter is the external text rewrite service.
type Rewriter interface {
	Rewrite(ctx context.Context, text, style string) (string, error)
}

// RewriteResult is the outcome of a metered rewrite.
type RewriteResult struct {
	Text           string `json:"result"`
	WordCount      int64  `json:"word_count"`
	WordsRemaining int64  `json:"words_remaining"`
	ActivityID     string `json:"activity_id,omitempty"`
}

// CountWords returns the number of whitespace-separated words in text.
func CountWords(text string) int64 {
	return int64(len(strings.Fields(text)))
}

// UsageService meters calls to the rewrite service against the word quota.
type UsageService struct {
	accounts   *AccountService
	quota      *QuotaService
	activities *ActivityService
	rewriter   Rewriter
	settings
}

func NewUsageService(accounts *AccountService, quota *QuotaService, activities *ActivityService, rewriter Rewriter, opts ...Option) *UsageService {
	return &UsageService{
		accounts:   accounts,
		quota:      quota,
		activities: activities,
		rewriter:   rewriter,
		settings:   newSettings(opts),
	}
}

// Rewrite checks the quota, calls the rewrite service and charges the words
// only once the rewrite succeeded. If the activity cannot be recorded after
// the charge, the charge stands and the alert path runs.
func (s *UsageService) Rewrite(ctx context.Context, accountID, text, description, style string) (RewriteResult, error) {
	words := CountWords(text)
	if words == 0 {
		return RewriteResult{}, invalid("text", "contains no words")
	}

	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return RewriteResult{}, err
	}
	if remaining := account.Remaining(); words > remaining {
		s.logger.Debug("quota exceeded before rewrite", "account_id", accountID, "requested", words, "remaining", remaining)
		return RewriteResult{}, &QuotaExceededError{Remaining: remaining, Requested: words}
	}

	rctx, cancel := context.WithTimeout(ctx, s.rewriteTimeout)
	rewritten, err := s.rewriter.Rewrite(rctx, text, style)
	cancel()
	if err != nil {
		s.logger.Warn("rewrite failed", "account_id", accountID, "error", err)
		return RewriteResult{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	// Charging and recording complete even if the request is canceled now.
	ctx = context.WithoutCancel(ctx)

	receipt, err := s.quota.TryConsume(ctx, accountID, words)
	if err != nil {
		return RewriteResult{}, err
	}

	result := RewriteResult{
		Text:           rewritten,
		WordCount:      words,
		WordsRemaining: receipt.WordsRemaining,
	}
	activityID, err := s.activities.Record(ctx, accountID, words, description)
	if err != nil {
		s.reportUnrecorded(ctx, receipt, description, err)
		return result, nil
	}
	result.ActivityID = activityID
	return result, nil
}

func (s *UsageService) reportUnrecorded(ctx context.Context, receipt types.ConsumeReceipt, description string, cause error) {
	s.logger.Error("consumption charged but activity not recorded",
		"account_id", receipt.AccountID, "words", receipt.Words, "error", cause,
		"storage_unavailable", errors.Is(cause, ErrStorageUnavailable))
	if s.alerter == nil {
		return
	}
	s.alerter.ActivityNotRecorded(ctx, types.UnrecordedConsumption{
		Receipt:     receipt,
		Description: description,
		Error:       cause.Error(),
		OccurredAt:  s.now(),
	})
}
