package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordgate/apiserver/internal/store"
)

func TestTryConsumeExactAccounting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "alice@example.com")

	for _, n := range []int64{1, 49, 100} {
		before, err := env.accounts.Get(ctx, account.ID)
		require.NoError(t, err)

		receipt, err := env.quota.TryConsume(ctx, account.ID, n)
		require.NoError(t, err)

		after, err := env.accounts.Get(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, before.WordsUsed+n, after.WordsUsed)
		assert.Equal(t, Remaining(before)-n, Remaining(after))
		assert.Equal(t, Remaining(after), receipt.WordsRemaining)
		assert.Equal(t, after.WordsUsed, receipt.WordsUsed)
	}
}

func TestTryConsumeNoPartialConsumption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "alice@example.com")

	_, err := env.quota.TryConsume(ctx, account.ID, 301)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	after, err := env.accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, after.WordsUsed)
	assert.Zero(t, after.TotalWordsProcessed)

	_, err = env.quota.TryConsume(ctx, account.ID, 300)
	assert.NoError(t, err)
}

func TestTryConsumeRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "alice@example.com")

	_, err := env.quota.TryConsume(ctx, account.ID, 0)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.quota.TryConsume(ctx, account.ID, -5)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.quota.TryConsume(ctx, "not-a-uuid", 5)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.quota.TryConsume(ctx, uuid.NewString(), 5)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTryConsumeConcurrentRemainderAndOne(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		account := env.register(t, uuid.NewString()+"@example.com")
		_, err := env.quota.TryConsume(ctx, account.ID, 120)
		require.NoError(t, err)
		remaining := int64(180)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for _, n := range []int64{remaining, 1} {
			wg.Add(1)
			go func(n int64) {
				defer wg.Done()
				if _, err := env.quota.TryConsume(ctx, account.ID, n); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, ErrQuotaExceeded)
				}
			}(n)
		}
		wg.Wait()
		assert.Equal(t, 1, successes, "iteration %d", i)

		after, err := env.accounts.Get(ctx, account.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, after.WordsUsed, after.WordLimit)
	}
}

func TestTryConsumeResetsLapsedPeriodFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "alice@example.com")

	_, err := env.quota.TryConsume(ctx, account.ID, 300)
	require.NoError(t, err)
	_, err = env.quota.TryConsume(ctx, account.ID, 1)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	env.clock.Advance(25 * time.Hour)
	receipt, err := env.quota.TryConsume(ctx, account.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), receipt.WordsUsed)
	assert.Equal(t, int64(290), receipt.WordsRemaining)
}
