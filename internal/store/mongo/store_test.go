//go:build e2e

package mongo_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordgate/apiserver/internal/store"
	"github.com/wordgate/apiserver/internal/store/mongo"
	"github.com/wordgate/apiserver/types"
)

func openStore(t *testing.T) *mongo.Store {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	ctx := context.Background()
	s, err := mongo.Connect(ctx, uri, "wordgate_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() {
		_ = s.Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func newAccount(email string, now time.Time) types.Account {
	return types.Account{
		ID:             uuid.NewString(),
		Name:           "Test User",
		Email:          email,
		PasswordHash:   "hash",
		Tier:           types.TierFree,
		TierCategory:   types.CategoryDaily,
		WordLimit:      300,
		Status:         types.StatusActive,
		ExpirationDate: now.Add(24 * time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestMongoAccounts(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	accounts := s.Accounts()
	now := time.Now().UTC()

	alice, err := accounts.Create(ctx, newAccount("alice@example.com", now))
	require.NoError(t, err)

	_, err = accounts.Create(ctx, newAccount("alice@example.com", now))
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := accounts.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = accounts.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMongoIncrementUsageConcurrent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	accounts := s.Accounts()
	now := time.Now().UTC()

	account, err := accounts.Create(ctx, newAccount("alice@example.com", now))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := accounts.IncrementUsage(ctx, account.ID, 20, now)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 15, applied)
	final, err := accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), final.WordsUsed)
}

func TestMongoExpirationIsGuarded(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	accounts := s.Accounts()
	now := time.Now().UTC()

	paid := newAccount("paid@example.com", now)
	paid.Tier = "paid-monthly"
	paid.TierCategory = types.CategoryMonthly
	paid.WordLimit = 10000
	paid.ExpirationDate = now.Add(-time.Hour)
	_, err := accounts.Create(ctx, paid)
	require.NoError(t, err)

	update := store.ExpirationUpdate{ObservedTier: "paid-monthly", Now: now, NextExpiration: now.Add(24 * time.Hour)}
	ok, err := accounts.DowngradeToFree(ctx, paid.ID, update, 300)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = accounts.DowngradeToFree(ctx, paid.ID, update, 300)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMongoActivities(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	account, err := s.Accounts().Create(ctx, newAccount("alice@example.com", now))
	require.NoError(t, err)

	activities := s.Activities()
	for i, words := range []int64{10, 20, 30} {
		_, err := activities.Create(ctx, types.Activity{
			ID:          uuid.NewString(),
			AccountID:   account.ID,
			Description: types.DefaultActivityDescription,
			WordCount:   words,
			CreatedAt:   now.Add(time.Duration(i-2) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}

	counts, err := activities.CountByDay(ctx, "", now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []types.DailyCount{
		{Date: "2026-03-08", Count: 1},
		{Date: "2026-03-09", Count: 1},
		{Date: "2026-03-10", Count: 1},
	}, counts)

	stats, err := activities.Stats(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ActivityStats{TotalActivities: 3, TotalWords: 60}, stats)

	recent, err := activities.Recent(ctx, account.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(30), recent[0].WordCount)
}
