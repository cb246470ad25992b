package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sol1corejz/affiliate-ledger/internal/auth"
	"github.com/sol1corejz/affiliate-ledger/internal/middleware"
	"github.com/sol1corejz/affiliate-ledger/internal/models"
	"github.com/sol1corejz/affiliate-ledger/internal/notify"
	"github.com/sol1corejz/affiliate-ledger/internal/points"
	"github.com/sol1corejz/affiliate-ledger/internal/storage/memory"
	"github.com/sol1corejz/affiliate-ledger/internal/withdrawal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	app   *fiber.App
	gate  *auth.JWTGate
	store *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	sink := notify.NewStoreSink(store)
	gate := auth.NewJWTGate("handler-secret")

	h := New(
		points.NewEngine(store, sink),
		withdrawal.NewWorkflow(store, nil, sink, withdrawal.Config{MinWithdrawal: decimal.NewFromInt(50)}),
	)

	app := fiber.New()
	app.Get("/health", HealthHandler(nil))
	api := app.Group("/api", middleware.AuthMiddleware(gate))
	api.Post("/points/actions", h.PointsActionsHandler)
	api.Post("/withdrawals/actions", h.WithdrawalActionsHandler)

	return &testServer{app: app, gate: gate, store: store}
}

func (s *testServer) token(t *testing.T, id auth.Identity) string {
	t.Helper()
	token, err := s.gate.GenerateToken(id, time.Minute)
	require.NoError(t, err)
	return token
}

func (s *testServer) post(t *testing.T, path, token, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func TestPointsActions_GetBalance(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, auth.Identity{UserID: uuid.New()})

	status, body := s.post(t, "/api/points/actions", token, `{"action":"get_balance"}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])

	rng, ok := body["range"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Iniciante", rng["label"])
	assert.Equal(t, "bronze", body["tier"])
}

func TestPointsActions_Unauthenticated(t *testing.T) {
	s := newTestServer(t)

	status, body := s.post(t, "/api/points/actions", "", `{"action":"get_balance"}`)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, false, body["success"])
}

func TestPointsActions_BoundaryValidation(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, auth.Identity{UserID: uuid.New(), Roles: []auth.Role{auth.RoleAdmin}})

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "unknown action", body: `{"action":"steal_points"}`, code: "unknown_action"},
		{name: "malformed body", body: `{"action":`, code: "validation_error"},
		{name: "bad reward id", body: `{"action":"redeem_reward","reward_id":"nope"}`, code: "validation_error"},
		{name: "zero award", body: `{"action":"admin_award_points","target_user_id":"` + uuid.NewString() + `","amount":0}`, code: "validation_error"},
		{name: "missing balances", body: `{"action":"check_range_upgrade","old_balance":10}`, code: "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.post(t, "/api/points/actions", token, tt.body)
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestPointsActions_CheckRangeUpgrade(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, auth.Identity{UserID: uuid.New()})

	_, body := s.post(t, "/api/points/actions", token, `{"action":"check_range_upgrade","old_balance":90,"new_balance":150}`)
	assert.Equal(t, true, body["upgraded"])
	newRange, ok := body["new_range"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Avançado", newRange["label"])

	_, body = s.post(t, "/api/points/actions", token, `{"action":"check_range_upgrade","old_balance":10,"new_balance":20}`)
	assert.Equal(t, false, body["upgraded"])
	assert.NotContains(t, body, "new_range")
}

func TestPointsActions_AdminAwardRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	target := uuid.NewString()
	payload := `{"action":"admin_award_points","target_user_id":"` + target + `","amount":150}`

	status, body := s.post(t, "/api/points/actions", s.token(t, auth.Identity{UserID: uuid.New()}), payload)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["code"])

	status, body = s.post(t, "/api/points/actions", s.token(t, auth.Identity{UserID: uuid.New(), Roles: []auth.Role{auth.RoleAdmin}}), payload)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body, "new_range")
}

func TestWithdrawalActions_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	pix := "affiliate@example.com"
	affiliate := models.Affiliate{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		Status:           models.AffiliateApproved,
		AvailableBalance: decimal.NewFromInt(200),
		PixKey:           &pix,
	}
	s.store.PutAffiliate(affiliate)

	affiliateToken := s.token(t, auth.Identity{UserID: affiliate.UserID, Roles: []auth.Role{auth.RoleAffiliate}})
	ownerToken := s.token(t, auth.Identity{UserID: uuid.New(), Roles: []auth.Role{auth.RoleOwner}})
	adminToken := s.token(t, auth.Identity{UserID: uuid.New(), Roles: []auth.Role{auth.RoleAdmin}})

	status, body := s.post(t, "/api/withdrawals/actions", affiliateToken, `{"action":"request","amount":"60"}`)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "140", body["available_balance"])
	created, ok := body["withdrawal"].(map[string]interface{})
	require.True(t, ok)
	id, ok := created["id"].(string)
	require.True(t, ok)

	status, body = s.post(t, "/api/withdrawals/actions", affiliateToken, `{"action":"request","amount":60}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "duplicate_pending_request", body["code"])

	status, body = s.post(t, "/api/withdrawals/actions", adminToken, `{"action":"approve","withdrawal_id":"`+id+`"}`)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = s.post(t, "/api/withdrawals/actions", adminToken, `{"action":"admin_list","status":"pending"}`)
	require.Equal(t, fiber.StatusOK, status)
	list, ok := body["withdrawals"].([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 1)

	status, body = s.post(t, "/api/withdrawals/actions", ownerToken, `{"action":"reject","withdrawal_id":"`+id+`","reason":"dados bancários inválidos"}`)
	require.Equal(t, fiber.StatusOK, status)
	rejected, ok := body["withdrawal"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "rejected", rejected["status"])

	status, body = s.post(t, "/api/withdrawals/actions", ownerToken, `{"action":"approve","withdrawal_id":"`+id+`"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "already_processed", body["code"])

	status, body = s.post(t, "/api/withdrawals/actions", affiliateToken, `{"action":"history"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "200", body["available_balance"])
}

func TestWithdrawalActions_ExternalPayoutNotConfigured(t *testing.T) {
	s := newTestServer(t)
	account := "acct_1"
	affiliate := models.Affiliate{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		Status:           models.AffiliateApproved,
		AvailableBalance: decimal.NewFromInt(200),
		PayoutAccountID:  &account,
	}
	s.store.PutAffiliate(affiliate)

	_, body := s.post(t, "/api/withdrawals/actions", s.token(t, auth.Identity{UserID: affiliate.UserID}), `{"action":"request","amount":"60"}`)
	created := body["withdrawal"].(map[string]interface{})

	ownerToken := s.token(t, auth.Identity{UserID: uuid.New(), Roles: []auth.Role{auth.RoleOwner}})
	status, body := s.post(t, "/api/withdrawals/actions", ownerToken, `{"action":"approve","withdrawal_id":"`+created["id"].(string)+`","use_external_payout":true}`)
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "payout_failed", body["code"])
	assert.Equal(t, "External payouts are not configured.", body["error"])
}

func TestWithdrawalActions_NeedsPayoutSetup(t *testing.T) {
	s := newTestServer(t)
	affiliate := models.Affiliate{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		Status:           models.AffiliateApproved,
		AvailableBalance: decimal.NewFromInt(200),
	}
	s.store.PutAffiliate(affiliate)

	status, body := s.post(t, "/api/withdrawals/actions", s.token(t, auth.Identity{UserID: affiliate.UserID}), `{"action":"request","amount":"60"}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["needs_payout_setup"])
	assert.Equal(t, "payout_destination_missing", body["code"])
}

func TestWithdrawalActions_Validation(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, auth.Identity{UserID: uuid.New(), Roles: []auth.Role{auth.RoleOwner}})

	for _, payload := range []string{
		`{"action":"request","amount":"-5"}`,
		`{"action":"admin_list","status":"lost"}`,
		`{"action":"approve","withdrawal_id":"42"}`,
		`{"action":"reject"}`,
	} {
		status, body := s.post(t, "/api/withdrawals/actions", token, payload)
		assert.Equal(t, fiber.StatusBadRequest, status, payload)
		assert.Equal(t, "validation_error", body["code"], payload)
	}
}

type failingPinger struct{ err error }

func (p failingPinger) PingContext(_ context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	app := fiber.New()
	app.Get("/ok", HealthHandler(nil))
	app.Get("/down", HealthHandler(failingPinger{err: errors.New("db down")}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/down", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestWithdrawalActions_RejectsUnboundedAmounts(t *testing.T) {
	s := newTestServer(t)
	affiliate := models.Affiliate{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		Status:           models.AffiliateApproved,
		AvailableBalance: decimal.NewFromInt(200),
	}
	s.store.PutAffiliate(affiliate)
	token := s.token(t, auth.Identity{UserID: affiliate.UserID})

	for _, amount := range []string{`"1e100000000"`, `"1e-100000000"`, `1e100000000`} {
		start := time.Now()
		status, body := s.post(t, "/api/withdrawals/actions", token, `{"action":"request","amount":`+amount+`}`)
		assert.Equal(t, fiber.StatusBadRequest, status, amount)
		assert.Equal(t, "validation_error", body["code"], amount)
		assert.Less(t, time.Since(start), time.Second, amount)
	}
}

func TestRestrictedActions_ForbiddenBeforeValidation(t *testing.T) {
	s := newTestServer(t)
	affiliateToken := s.token(t, auth.Identity{UserID: uuid.New(), Roles: []auth.Role{auth.RoleAffiliate}})
	adminToken := s.token(t, auth.Identity{UserID: uuid.New(), Roles: []auth.Role{auth.RoleAdmin}})

	tests := []struct {
		name  string
		path  string
		token string
		body  string
	}{
		{name: "award with bad target", path: "/api/points/actions", token: affiliateToken, body: `{"action":"admin_award_points","target_user_id":"nope","amount":0}`},
		{name: "award with mistyped amount", path: "/api/points/actions", token: affiliateToken, body: `{"action":"admin_award_points","amount":"lots"}`},
		{name: "admin list with bad status", path: "/api/withdrawals/actions", token: affiliateToken, body: `{"action":"admin_list","status":"lost"}`},
		{name: "approve with bad id", path: "/api/withdrawals/actions", token: adminToken, body: `{"action":"approve","withdrawal_id":"42"}`},
		{name: "reject without id", path: "/api/withdrawals/actions", token: adminToken, body: `{"action":"reject"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.post(t, tt.path, tt.token, tt.body)
			assert.Equal(t, fiber.StatusForbidden, status)
			assert.Equal(t, "forbidden", body["code"])
		})
	}
}
