package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/wordgate/apiserver/config"
	"github.com/wordgate/apiserver/internal/alert"
	"github.com/wordgate/apiserver/internal/billing"
	"github.com/wordgate/apiserver/internal/db"
	"github.com/wordgate/apiserver/internal/services"
	"github.com/wordgate/apiserver/internal/store"
	"github.com/wordgate/apiserver/types"
)

const (
	testSecret        = "test-jwt-secret"
	testWebhookSecret = "whsec_test"
)

type echoRewriter struct{}

func (echoRewriter) Rewrite(_ context.Context, text, _ string) (string, error) {
	return strings.ToUpper(text), nil
}

type apiEnv struct {
	router    *chi.Mux
	accounts  *services.AccountService
	lifecycle *services.LifecycleService
	replay    ReplayFunc
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: db.DriverSQLite, Path: filepath.Join(t.TempDir(), "handlers_test.db")}
	require.NoError(t, db.MigrateUp(cfg))
	conn, err := db.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	accountRepo := store.NewAccountRepository(conn, store.SQLite)
	activityRepo := store.NewActivityRepository(conn, store.SQLite)

	lifecycle := services.NewLifecycleService(accountRepo)
	accounts := services.NewAccountService(accountRepo, lifecycle)
	quota := services.NewQuotaService(accountRepo, lifecycle)
	activities := services.NewActivityService(activityRepo)
	usage := services.NewUsageService(accounts, quota, activities, echoRewriter{})
	processor := billing.NewProcessor(accounts, lifecycle, config.DefaultPlans(), nil)

	env := &apiEnv{accounts: accounts, lifecycle: lifecycle}

	auth := NewAuthHandler(accounts, testSecret, time.Hour, nil)
	r := chi.NewRouter()
	r.Get("/healthz", Healthz(conn.PingContext))
	r.Route("/auth", func(r chi.Router) { AuthRouter(r, auth) })
	r.Post("/webhooks/billing", NewWebhookHandler(processor, testWebhookSecret, 5*time.Minute, nil).Billing)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		UsageRouter(r, NewUsageHandler(usage, activities, nil))
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin(accounts, nil))
			replay := func(ctx context.Context) (alert.ReplayResult, error) {
				if env.replay == nil {
					return alert.ReplayResult{}, nil
				}
				return env.replay(ctx)
			}
			AdminRouter(r, NewAdminHandler(accounts, lifecycle, activities, replay, nil))
		})
	})
	env.router = r
	return env
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) register(t *testing.T, email string) (string, types.AccountView) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{Name: "Test", Email: email, Password: "pw1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token, resp.Account
}

func (e *apiEnv) admin(t *testing.T, email string) string {
	t.Helper()
	token, view := e.register(t, email)
	require.NoError(t, e.accounts.SetAdmin(context.Background(), view.ID, true))
	return token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRegisterAndLogin(t *testing.T) {
	env := newAPIEnv(t)

	token, view := env.register(t, "Alice@Example.com")
	assert.NotEmpty(t, token)
	assert.Equal(t, "alice@example.com", view.Email)
	assert.Equal(t, types.TierFree, view.Tier)
	assert.Equal(t, int64(300), view.WordsRemaining)

	rec := env.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{Name: "Again", Email: "alice@example.com", Password: "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{Name: "Bad", Email: "not-an-email", Password: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "email")

	rec = env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "alice@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	unknown := env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "nobody@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, rec.Body.String(), unknown.Body.String())

	rec = env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: " ALICE@example.com ", Password: "pw1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[AuthResponse](t, rec).Token)
}

func TestMeRequiresToken(t *testing.T) {
	env := newAPIEnv(t)
	token, view := env.register(t, "me@example.com")

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/auth/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/auth/me", "garbage", nil).Code)

	forged, err := issueToken(types.Account{ID: view.ID}, []byte("other-secret"), time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/auth/me", forged, nil).Code)

	expired, err := issueToken(types.Account{ID: view.ID}, []byte(testSecret), time.Hour, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/auth/me", expired, nil).Code)

	rec := env.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[types.AccountView](t, rec)
	assert.Equal(t, view.ID, me.ID)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestChangePassword(t *testing.T) {
	env := newAPIEnv(t)
	token, _ := env.register(t, "pw@example.com")

	rec := env.do(t, http.MethodPost, "/auth/change-password", token, ChangePasswordRequest{CurrentPassword: "nope", NewPassword: "pw2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/change-password", token, ChangePasswordRequest{CurrentPassword: "pw1", NewPassword: "pw2"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "pw@example.com", Password: "pw2"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRewriteChargesWordsAndRecordsActivity(t *testing.T) {
	env := newAPIEnv(t)
	token, _ := env.register(t, "writer@example.com")

	rec := env.do(t, http.MethodPost, "/rewrite", token, RewriteRequest{Text: "make this sound human", Description: "Blog intro"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[services.RewriteResult](t, rec)
	assert.Equal(t, "MAKE THIS SOUND HUMAN", result.Text)
	assert.Equal(t, int64(4), result.WordCount)
	assert.Equal(t, int64(296), result.WordsRemaining)
	assert.NotEmpty(t, result.ActivityID)

	rec = env.do(t, http.MethodGet, "/activities", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	activities := decode[[]types.Activity](t, rec)
	require.Len(t, activities, 1)
	assert.Equal(t, "Blog intro", activities[0].Description)
	assert.Equal(t, int64(4), activities[0].WordCount)

	rec = env.do(t, http.MethodGet, "/activities/stats?days=3", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	assert.Equal(t, int64(1), stats.TotalActivities)
	assert.Equal(t, int64(4), stats.TotalWords)
	require.Len(t, stats.Daily, 4)
	assert.Equal(t, int64(1), stats.Daily[3].Count)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/activities/stats?days=400", token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/activities?limit=ten", token, nil).Code)
}

func TestRewriteOverQuota(t *testing.T) {
	env := newAPIEnv(t)
	token, _ := env.register(t, "big@example.com")

	text := strings.TrimSpace(strings.Repeat("word ", 301))
	rec := env.do(t, http.MethodPost, "/rewrite", token, RewriteRequest{Text: text})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	resp := decode[QuotaErrorResponse](t, rec)
	assert.Equal(t, int64(300), resp.WordsRemaining)
	assert.Equal(t, int64(301), resp.WordCount)

	rec = env.do(t, http.MethodPost, "/rewrite", token, RewriteRequest{Text: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/rewrite", token, `{"text": "a"} trailing`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newAPIEnv(t)
	userToken, _ := env.register(t, "user@example.com")

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/admin/users", "", nil).Code)
	rec := env.do(t, http.MethodGet, "/admin/users", userToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := env.admin(t, "admin@example.com")
	rec = env.do(t, http.MethodGet, "/admin/users", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]types.AccountView](t, rec), 2)
}

func TestAdminSetAdminIsStrictBoolean(t *testing.T) {
	env := newAPIEnv(t)
	adminToken := env.admin(t, "root@example.com")
	_, user := env.register(t, "target@example.com")
	path := "/admin/users/" + user.ID + "/admin"

	for _, body := range []string{`{"is_admin":"true"}`, `{"is_admin":1}`, `{}`, `{"is_admin":null}`} {
		rec := env.do(t, http.MethodPut, path, adminToken, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := env.do(t, http.MethodPut, path, adminToken, `{"is_admin":true}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	isAdmin, err := env.accounts.IsAdmin(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	rec = env.do(t, http.MethodPut, "/admin/users/"+"not-a-uuid"+"/admin", adminToken, `{"is_admin":false}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminChangeSubscriptionAndResetUsage(t *testing.T) {
	env := newAPIEnv(t)
	adminToken := env.admin(t, "ops@example.com")
	userToken, user := env.register(t, "customer@example.com")

	rec := env.do(t, http.MethodPost, "/rewrite", userToken, RewriteRequest{Text: "one two three"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/users/"+user.ID+"/subscription", adminToken,
		`{"tier":"paid-monthly","tier_category":"monthly"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[types.AccountView](t, rec)
	assert.Equal(t, "paid-monthly", view.Tier)
	assert.Equal(t, types.CategoryMonthly, view.TierCategory)
	assert.Equal(t, int64(10000), view.WordLimit)
	assert.Equal(t, int64(3), view.WordsUsed)
	assert.GreaterOrEqual(t, view.DaysRemaining, 29)

	rec = env.do(t, http.MethodPost, "/admin/users/"+user.ID+"/subscription", adminToken, `{"tier":"x","tier_category":"weekly"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/users/"+user.ID+"/reset-usage", adminToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/users/"+user.ID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[types.AccountView](t, rec).WordsUsed)

	rec = env.do(t, http.MethodGet, "/admin/users/"+user.ID+"/activities", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acts := decode[UserActivitiesResponse](t, rec)
	assert.Equal(t, int64(3), acts.Stats.TotalWords)
	assert.Len(t, acts.Activities, 1)

	missing := "00000000-0000-0000-0000-000000000000"
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/admin/users/"+missing, adminToken, nil).Code)
}

func TestAdminSweepAndStats(t *testing.T) {
	env := newAPIEnv(t)
	adminToken := env.admin(t, "sweeper@example.com")

	rec := env.do(t, http.MethodPost, "/admin/sweep", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, SweepResponse{}, decode[SweepResponse](t, rec))

	rec = env.do(t, http.MethodGet, "/admin/stats?days=7", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]types.DailyCount](t, rec), 8)
}

func TestAdminReplayDeadLetters(t *testing.T) {
	env := newAPIEnv(t)
	adminToken := env.admin(t, "replay@example.com")
	env.replay = func(context.Context) (alert.ReplayResult, error) {
		return alert.ReplayResult{Replayed: 2}, nil
	}

	rec := env.do(t, http.MethodPost, "/admin/dead-letters/replay", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ReplayResponse{Replayed: 2}, decode[ReplayResponse](t, rec))
}

func TestReplayNotConfigured(t *testing.T) {
	h := NewAdminHandler(nil, nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ReplayDeadLetters(rec, httptest.NewRequest(http.MethodPost, "/admin/dead-letters/replay", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestBillingWebhook(t *testing.T) {
	env := newAPIEnv(t)
	_, user := env.register(t, "payer@example.com")

	post := func(payload []byte, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
		if header != "" {
			req.Header.Set(billing.SignatureHeader, header)
		}
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec
	}

	payload := stripeEvent("evt_1", billing.EventCheckoutCompleted,
		`{"object":"checkout.session","customer":"cus_42","client_reference_id":"`+user.ID+`","metadata":{"plan":"`+config.DefaultPlans()[0].Ref+`"}}`)

	assert.Equal(t, http.StatusBadRequest, post(payload, "").Code)
	assert.Equal(t, http.StatusBadRequest, post(payload, signStripe(payload, "wrong", time.Now())).Code)
	assert.Equal(t, http.StatusBadRequest, post(payload, signStripe(payload, testWebhookSecret, time.Now().Add(-time.Hour))).Code)

	rec := post(payload, signStripe(payload, testWebhookSecret, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	account, err := env.accounts.GetByCustomerRef(context.Background(), "cus_42")
	require.NoError(t, err)
	assert.Equal(t, user.ID, account.ID)
	assert.Equal(t, config.DefaultPlans()[0].Tier, account.Tier)

	deleted := stripeEvent("evt_2", billing.EventSubscriptionDeleted, `{"object":"subscription","customer":"cus_42","status":"canceled"}`)
	rec = post(deleted, signStripe(deleted, testWebhookSecret, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)
	account, err = env.accounts.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TierFree, account.Tier)

	unknown := stripeEvent("evt_3", billing.EventSubscriptionUpdated,
		`{"object":"subscription","customer":"cus_nobody","status":"active","items":{"object":"list","data":[{"price":{"id":"price_x"}}]}}`)
	assert.Equal(t, http.StatusNotFound, post(unknown, signStripe(unknown, testWebhookSecret, time.Now())).Code)

	garbled := []byte(`{"id":"evt_4","type":"customer.subscription.updated","data":{"object":{"customer":42}}}`)
	assert.Equal(t, http.StatusBadRequest, post(garbled, signStripe(garbled, testWebhookSecret, time.Now())).Code)
}

func stripeEvent(id, eventType, object string) []byte {
	return []byte(`{"id":"` + id + `","object":"event","type":"` + eventType + `","data":{"object":` + object + `}}`)
}

func signStripe(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}
