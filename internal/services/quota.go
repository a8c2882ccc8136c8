package services

import (
	"context"

	"github.com/wordgate/apiserver/types"
)

// Remaining returns the unused quota of the account, never negative.
func Remaining(a types.Account) int64 {
	return a.Remaining()
}

// QuotaService is the word quota ledger.
type QuotaService struct {
	repo      AccountRepository
	lifecycle *LifecycleService
	settings
}

func NewQuotaService(repo AccountRepository, lifecycle *LifecycleService, opts ...Option) *QuotaService {
	return &QuotaService{repo: repo, lifecycle: lifecycle, settings: newSettings(opts)}
}

// TryConsume charges n words to the account if they fit the remaining
// quota. A due expiration transition is applied first, so a lapsed period
// is reset before it is charged. On failure nothing is charged and a
// *QuotaExceededError reports what was left at evaluation time.
func (s *QuotaService) TryConsume(ctx context.Context, id string, n int64) (types.ConsumeReceipt, error) {
	if err := checkID(id); err != nil {
		return types.ConsumeReceipt{}, err
	}
	if n <= 0 {
		return types.ConsumeReceipt{}, invalid("words", "must be positive")
	}
	if _, err := s.lifecycle.CheckExpiration(ctx, id); err != nil {
		return types.ConsumeReceipt{}, err
	}

	now := s.now()
	account, applied, err := s.repo.IncrementUsage(ctx, id, n, now)
	if err != nil {
		return types.ConsumeReceipt{}, storageError("consume quota", err)
	}
	if !applied {
		s.logger.Debug("quota exceeded", "account_id", id, "requested", n, "remaining", account.Remaining())
		return types.ConsumeReceipt{}, &QuotaExceededError{Remaining: account.Remaining(), Requested: n}
	}

	return types.ConsumeReceipt{
		AccountID:      id,
		Words:          n,
		WordsUsed:      account.WordsUsed,
		WordsRemaining: account.Remaining(),
		ConsumedAt:     now,
	}, nil
}
