package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wordgate/apiserver/config"
	"github.com/wordgate/apiserver/internal/db"
	"github.com/wordgate/apiserver/internal/store"
	"github.com/wordgate/apiserver/types"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.SubscriptionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, data []byte, _ map[string]string) (string, error) {
	var event types.SubscriptionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return channel, nil
}

func (p *recordingPublisher) Events() []types.SubscriptionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.SubscriptionEvent(nil), p.events...)
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []types.UnrecordedConsumption
}

func (a *recordingAlerter) ActivityNotRecorded(_ context.Context, event types.UnrecordedConsumption) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, event)
}

type stubRewriter struct {
	result string
	err    error
	delay  time.Duration
	calls  int
}

func (r *stubRewriter) Rewrite(ctx context.Context, text, _ string) (string, error) {
	r.calls++
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if r.err != nil {
		return "", r.err
	}
	if r.result != "" {
		return r.result, nil
	}
	return "rewritten: " + text, nil
}

// failingActivities wraps an activity repository and fails every write.
type failingActivities struct {
	ActivityRepository
}

func (failingActivities) Create(context.Context, types.Activity) (types.Activity, error) {
	return types.Activity{}, errors.New("disk full")
}

// failingDowngrade fails the downgrade of a single account.
type failingDowngrade struct {
	AccountRepository
	failID string
}

func (r failingDowngrade) DowngradeToFree(ctx context.Context, id string, u store.ExpirationUpdate, limit int64) (bool, error) {
	if id == r.failID {
		return false, errors.New("connection reset")
	}
	return r.AccountRepository.DowngradeToFree(ctx, id, u, limit)
}

type testEnv struct {
	db         *sql.DB
	clock      *testClock
	accountsDB *store.AccountRepository
	activityDB *store.ActivityRepository
	publisher  *recordingPublisher
	alerter    *recordingAlerter

	lifecycle  *LifecycleService
	accounts   *AccountService
	quota      *QuotaService
	activities *ActivityService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver: db.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "services_test.db"),
	}
	require.NoError(t, db.MigrateUp(cfg))
	conn, err := db.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	env := &testEnv{
		db:         conn,
		clock:      newTestClock(),
		accountsDB: store.NewAccountRepository(conn, store.SQLite),
		activityDB: store.NewActivityRepository(conn, store.SQLite),
		publisher:  &recordingPublisher{},
		alerter:    &recordingAlerter{},
	}
	env.build(env.accountsDB, env.activityDB)
	return env
}

func (e *testEnv) options() []Option {
	return []Option{WithClock(e.clock.Now), WithPublisher(e.publisher), WithAlerter(e.alerter)}
}

func (e *testEnv) build(accounts AccountRepository, activities ActivityRepository) {
	opts := e.options()
	e.lifecycle = NewLifecycleService(accounts, opts...)
	e.accounts = NewAccountService(accounts, e.lifecycle, opts...)
	e.quota = NewQuotaService(accounts, e.lifecycle, opts...)
	e.activities = NewActivityService(activities, opts...)
}

func (e *testEnv) register(t *testing.T, email string) types.Account {
	t.Helper()
	account, err := e.accounts.Create(context.Background(), "Test User", email, "pw1")
	require.NoError(t, err)
	return account
}

// makePaid moves the account onto a paid tier expiring after d.
func (e *testEnv) makePaid(t *testing.T, id string, category types.TierCategory, d time.Duration) types.Account {
	t.Helper()
	expiration := e.clock.Now().Add(d)
	limit := int64(10000)
	account, err := e.accountsDB.UpdateTier(context.Background(), id, store.TierUpdate{
		Tier:       "paid-" + string(category),
		Category:   &category,
		WordLimit:  &limit,
		Expiration: &expiration,
		Now:        e.clock.Now(),
	})
	require.NoError(t, err)
	return account
}
