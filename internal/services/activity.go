package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wordgate/apiserver/types"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
	maxStatsDays       = 365
)

// ActivityRepository defines persistence operations for activity records.
type ActivityRepository interface {
	Create(ctx context.Context, activity types.Activity) (types.Activity, error)
	Recent(ctx context.Context, accountID string, limit int) ([]types.Activity, error)
	CountByDay(ctx context.Context, accountID string, since time.Time) ([]types.DailyCount, error)
	Stats(ctx context.Context, accountID string) (types.ActivityStats, error)
}

// ActivityService records and reports consumption history.
type ActivityService struct {
	repo ActivityRepository
	settings
}

func NewActivityService(repo ActivityRepository, opts ...Option) *ActivityService {
	return &ActivityService{repo: repo, settings: newSettings(opts)}
}

// Record stores one activity and returns its id.
func (s *ActivityService) Record(ctx context.Context, accountID string, wordCount int64, description string) (string, error) {
	if err := checkID(accountID); err != nil {
		return "", err
	}
	if wordCount <= 0 {
		return "", invalid("word_count", "must be positive")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = types.DefaultActivityDescription
	}

	activity, err := s.repo.Create(ctx, types.Activity{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Description: description,
		WordCount:   wordCount,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return "", storageError("record activity", err)
	}
	return activity.ID, nil
}

// Recent returns the newest activities of the account. A non-positive
// limit selects the default; larger limits are capped.
func (s *ActivityService) Recent(ctx context.Context, accountID string, limit int) ([]types.Activity, error) {
	if err := checkID(accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	activities, err := s.repo.Recent(ctx, accountID, limit)
	if err != nil {
		return nil, storageError("recent activities", err)
	}
	return activities, nil
}

// AggregateDailyCounts counts activities of all accounts per UTC day from
// sinceDays ago through today, inclusive. Days without activity are
// present with a zero count.
func (s *ActivityService) AggregateDailyCounts(ctx context.Context, sinceDays int) ([]types.DailyCount, error) {
	return s.aggregate(ctx, "", sinceDays)
}

// AggregateDailyCountsFor is AggregateDailyCounts restricted to one account.
func (s *ActivityService) AggregateDailyCountsFor(ctx context.Context, accountID string, sinceDays int) ([]types.DailyCount, error) {
	if err := checkID(accountID); err != nil {
		return nil, err
	}
	return s.aggregate(ctx, accountID, sinceDays)
}

func (s *ActivityService) aggregate(ctx context.Context, accountID string, sinceDays int) ([]types.DailyCount, error) {
	if sinceDays < 0 || sinceDays > maxStatsDays {
		return nil, invalid("days", "must be between 0 and 365")
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := today.AddDate(0, 0, -sinceDays)

	counts, err := s.repo.CountByDay(ctx, accountID, start)
	if err != nil {
		return nil, storageError("count activities", err)
	}
	byDate := make(map[string]int64, len(counts))
	for _, c := range counts {
		byDate[c.Date] = c.Count
	}

	series := make([]types.DailyCount, 0, sinceDays+1)
	for day := start; !day.After(today); day = day.AddDate(0, 0, 1) {
		date := day.Format(time.DateOnly)
		series = append(series, types.DailyCount{Date: date, Count: byDate[date]})
	}
	return series, nil
}

// Stats returns the account's lifetime activity totals.
func (s *ActivityService) Stats(ctx context.Context, accountID string) (types.ActivityStats, error) {
	if err := checkID(accountID); err != nil {
		return types.ActivityStats{}, err
	}
	stats, err := s.repo.Stats(ctx, accountID)
	if err != nil {
		return types.ActivityStats{}, storageError("activity stats", err)
	}
	return stats, nil
}
