package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordgate/apiserver/types"
)

func TestRecordAndRecent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "alice@example.com")

	for i := 1; i <= 12; i++ {
		_, err := env.activities.Record(ctx, account.ID, int64(i), fmt.Sprintf("job %d", i))
		require.NoError(t, err)
		env.clock.Advance(time.Minute)
	}
	id, err := env.activities.Record(ctx, account.ID, 5, "   ")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	recent, err := env.activities.Recent(ctx, account.ID, 0)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, types.DefaultActivityDescription, recent[0].Description)
	assert.Equal(t, "job 12", recent[1].Description)

	all, err := env.activities.Recent(ctx, account.ID, 1000)
	require.NoError(t, err)
	assert.Len(t, all, 13)

	_, err = env.activities.Record(ctx, account.ID, 0, "empty")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAggregateDailyCountsZeroFilled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "alice@example.com")

	counts, err := env.activities.AggregateDailyCountsFor(ctx, account.ID, 7)
	require.NoError(t, err)
	require.Len(t, counts, 8)
	for _, c := range counts {
		assert.Zero(t, c.Count)
	}
	assert.Equal(t, "2026-03-03", counts[0].Date)
	assert.Equal(t, "2026-03-10", counts[7].Date)
}

func TestAggregateDailyCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice@example.com")
	bob := env.register(t, "bob@example.com")

	record := func(id string, at time.Time) {
		_, err := env.activityDB.Create(ctx, types.Activity{
			ID:          uuid.NewString(),
			AccountID:   id,
			Description: "x",
			WordCount:   1,
			CreatedAt:   at,
		})
		require.NoError(t, err)
	}
	now := env.clock.Now()
	record(alice.ID, now.Add(-10*24*time.Hour))
	record(alice.ID, now.Add(-2*24*time.Hour))
	record(alice.ID, now.Add(-2*24*time.Hour+time.Minute))
	record(bob.ID, now.Add(-time.Hour))

	global, err := env.activities.AggregateDailyCounts(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []types.DailyCount{
		{Date: "2026-03-07", Count: 0},
		{Date: "2026-03-08", Count: 2},
		{Date: "2026-03-09", Count: 0},
		{Date: "2026-03-10", Count: 1},
	}, global)

	mine, err := env.activities.AggregateDailyCountsFor(ctx, alice.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), mine[1].Count)
	assert.Equal(t, int64(0), mine[3].Count)

	today, err := env.activities.AggregateDailyCounts(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []types.DailyCount{{Date: "2026-03-10", Count: 1}}, today)

	_, err = env.activities.AggregateDailyCounts(ctx, -1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestActivityStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "alice@example.com")

	stats, err := env.activities.Stats(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ActivityStats{}, stats)

	for _, n := range []int64{10, 20, 30} {
		_, err := env.activities.Record(ctx, account.ID, n, "")
		require.NoError(t, err)
	}
	stats, err = env.activities.Stats(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ActivityStats{TotalActivities: 3, TotalWords: 60}, stats)
}
