package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wordgate/apiserver/internal/store"
	"github.com/wordgate/apiserver/types"
)

// ExpirationOutcome is the result of an expiration check.
type ExpirationOutcome string

const (
	NoChange   ExpirationOutcome = "no_change"
	DailyReset ExpirationOutcome = "daily_reset"
	Downgraded ExpirationOutcome = "downgraded"
)

// decideExpiration returns the transition due for a at now. It has no side effects.
func decideExpiration(a types.Account, now time.Time) ExpirationOutcome {
	if !a.ExpirationDate.Before(now) {
		return NoChange
	}
	if a.IsFree() {
		return DailyReset
	}
	return Downgraded
}

// LifecycleService drives tier transitions: expiration resets, downgrades
// and externally requested tier changes.
type LifecycleService struct {
	repo AccountRepository
	settings
}

func NewLifecycleService(repo AccountRepository, opts ...Option) *LifecycleService {
	return &LifecycleService{repo: repo, settings: newSettings(opts)}
}

// CheckExpiration applies the transition due for the account, if any.
// Concurrent callers race on a guarded update; losers observe NoChange.
func (s *LifecycleService) CheckExpiration(ctx context.Context, id string) (ExpirationOutcome, error) {
	if err := checkID(id); err != nil {
		return NoChange, err
	}
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return NoChange, storageError("get account", err)
	}
	outcome, _, err := s.refresh(ctx, account)
	return outcome, err
}

// refresh applies any due transition to account and returns its current state.
func (s *LifecycleService) refresh(ctx context.Context, account types.Account) (ExpirationOutcome, types.Account, error) {
	now := s.now()
	outcome := decideExpiration(account, now)
	if outcome == NoChange {
		return NoChange, account, nil
	}

	free, err := s.policy.Terms(types.CategoryDaily)
	if err != nil {
		return NoChange, account, err
	}
	next, err := s.policy.NextExpiration(types.CategoryDaily, now)
	if err != nil {
		return NoChange, account, err
	}
	update := store.ExpirationUpdate{
		ObservedTier:   account.Tier,
		Now:            now,
		NextExpiration: next,
	}

	var applied bool
	switch outcome {
	case DailyReset:
		applied, err = s.repo.ResetPeriod(ctx, account.ID, update)
	case Downgraded:
		applied, err = s.repo.DowngradeToFree(ctx, account.ID, update, free.WordLimit)
	}
	if err != nil {
		return NoChange, account, storageError("expire account", err)
	}

	current, err := s.repo.GetByID(ctx, account.ID)
	if err != nil {
		return NoChange, account, storageError("get account", err)
	}
	if !applied {
		return NoChange, current, nil
	}

	if outcome == Downgraded {
		s.logger.Info("subscription expired, downgraded to free",
			"account_id", account.ID, "previous_tier", account.Tier)
		s.publish(ctx, types.EventSubscriptionDowngraded, account.Tier, current)
	}
	return outcome, current, nil
}

// ApplyTierChange sets the account's tier as requested by an admin or a
// billing event. When a category is given the expiration restarts from now
// using the category's interval, and the word limit defaults to the
// category's limit unless one is supplied. The free tier is always daily.
func (s *LifecycleService) ApplyTierChange(ctx context.Context, id string, change types.TierChange) (types.Account, error) {
	if err := checkID(id); err != nil {
		return types.Account{}, err
	}
	if change.Tier == "" {
		return types.Account{}, invalid("tier", "is required")
	}
	if change.Tier == types.TierFree {
		if change.Category != nil && *change.Category != types.CategoryDaily {
			return types.Account{}, invalid("tier_category", "the free tier is daily")
		}
		daily := types.CategoryDaily
		change.Category = &daily
	}
	now := s.now()
	update := store.TierUpdate{
		Tier:       change.Tier,
		Category:   change.Category,
		WordLimit:  change.WordLimit,
		Status:     change.Status,
		ResetUsage: change.ResetUsage,
		Now:        now,
	}
	if change.Category != nil {
		terms, err := s.policy.Terms(*change.Category)
		if err != nil {
			return types.Account{}, invalid("tier_category", err.Error())
		}
		expiration, err := s.policy.NextExpiration(*change.Category, now)
		if err != nil {
			return types.Account{}, invalid("tier_category", err.Error())
		}
		update.Expiration = &expiration
		if update.WordLimit == nil {
			limit := terms.WordLimit
			update.WordLimit = &limit
		}
	}
	if update.WordLimit != nil && *update.WordLimit < 0 {
		return types.Account{}, invalid("word_limit", "must not be negative")
	}
	if change.Status != nil && !change.Status.Valid() {
		return types.Account{}, invalid("status", fmt.Sprintf("unknown status %q", *change.Status))
	}

	previous, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.Account{}, storageError("get account", err)
	}
	account, err := s.repo.UpdateTier(ctx, id, update)
	if err != nil {
		return types.Account{}, storageError("update tier", err)
	}

	s.logger.Info("subscription changed",
		"account_id", id, "previous_tier", previous.Tier, "tier", account.Tier,
		"tier_category", account.TierCategory, "word_limit", account.WordLimit)
	s.publish(ctx, types.EventSubscriptionChanged, previous.Tier, account)
	return account, nil
}

// DowngradeNow moves the account to the free tier immediately.
func (s *LifecycleService) DowngradeNow(ctx context.Context, id string) (types.Account, error) {
	category := types.CategoryDaily
	return s.ApplyTierChange(ctx, id, types.TierChange{Tier: types.TierFree, Category: &category})
}

// SweepAll checks the expiration of every non-free account and returns how
// many were downgraded. A failing account does not stop the sweep; all
// failures are returned joined.
func (s *LifecycleService) SweepAll(ctx context.Context) (int, error) {
	accounts, err := s.repo.ListNonFree(ctx)
	if err != nil {
		return 0, storageError("list accounts", err)
	}

	var (
		downgraded int
		errs       []error
	)
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		outcome, _, err := s.refresh(ctx, account)
		if err != nil {
			s.logger.Error("sweep: expiration check failed", "account_id", account.ID, "error", err)
			errs = append(errs, fmt.Errorf("account %s: %w", account.ID, err))
			continue
		}
		if outcome == Downgraded {
			downgraded++
		}
	}

	s.logger.Info("sweep finished", "checked", len(accounts), "downgraded", downgraded, "failed", len(errs))
	return downgraded, errors.Join(errs...)
}

func (s *LifecycleService) publish(ctx context.Context, eventType, previousTier string, account types.Account) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(types.SubscriptionEvent{
		Type:           eventType,
		AccountID:      account.ID,
		PreviousTier:   previousTier,
		Tier:           account.Tier,
		TierCategory:   account.TierCategory,
		WordLimit:      account.WordLimit,
		Status:         account.Status,
		ExpirationDate: account.ExpirationDate,
		OccurredAt:     s.now(),
	})
	if err != nil {
		s.logger.Error("encode subscription event", "error", err)
		return
	}
	if _, err := s.publisher.Publish(ctx, eventType, payload, map[string]string{"account_id": account.ID}); err != nil {
		s.logger.Warn("publish subscription event failed", "type", eventType, "account_id", account.ID, "error", err)
	}
}
