package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vtu-platform/internal/admin"
	"vtu-platform/internal/audit"
	"vtu-platform/internal/auth"
	"vtu-platform/internal/catalog"
	"vtu-platform/internal/config"
	"vtu-platform/internal/fulfillment"
	"vtu-platform/internal/ledger"
	"vtu-platform/internal/pinguard"
	"vtu-platform/internal/purchase"
	"vtu-platform/internal/rbac"
	"vtu-platform/internal/wallet"
	"vtu-platform/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "whsec_test"

type stubProvider struct {
	result fulfillment.Result
	err    error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Fulfill(ctx context.Context, req fulfillment.Request) (fulfillment.Result, error) {
	return p.result, p.err
}

type busyLimiter struct{ acquired, released int }

func (l *busyLimiter) Acquire(ctx context.Context, key string) (bool, error) {
	l.acquired++
	return false, nil
}

func (l *busyLimiter) Release(ctx context.Context, key string) error {
	l.released++
	return nil
}

type server struct {
	t        *testing.T
	router   *gin.Engine
	tokens   *auth.Manager
	wallets  *wallet.MemoryStore
	ledger   *ledger.Service
	provider *stubProvider
	handlers *Handlers
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &server{t: t, wallets: wallet.NewMemoryStore()}
	s.wallets.Seed("u1", decimal.NewFromInt(1000))
	s.wallets.Seed("u2", decimal.NewFromInt(50))
	s.ledger = ledger.NewService(ledger.NewMemoryRepo(), nil, 3)
	s.provider = &stubProvider{result: fulfillment.Result{Success: true, ProviderReference: "PRV-1", Message: "delivered"}}

	creds := pinguard.NewMemoryCredentialStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("1234"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, creds.SetPinHash(context.Background(), "u1", string(hash)))
	guard := pinguard.NewGuard(pinguard.NewMemoryAttemptStore(pinguard.Policy{}), creds, nil, pinguard.Policy{})

	purchases := purchase.NewService(catalog.NewMemoryCatalog(), guard, s.wallets, s.ledger, s.provider, nil)
	dir := webhook.NewMemoryDirectory()
	dir.Assign("u1", "9900000001")

	s.handlers = &Handlers{
		Wallets:       s.wallets,
		Ledger:        s.ledger,
		Pins:          guard,
		Purchases:     purchases,
		Webhooks:      webhook.NewReconciler(s.wallets, s.ledger, dir, nil, ""),
		Admin:         admin.NewOperator(s.wallets, s.ledger, audit.NewService(audit.NewMemoryRepo()), purchases, nil),
		WebhookSecret: testSecret,
	}

	s.tokens, err = auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	require.NoError(t, err)
	s.rebuild()
	return s
}

// rebuild re-registers routes after the test changes a handler dependency.
func (s *server) rebuild() {
	s.router = gin.New()
	s.handlers.Register(s.router, auth.RequireAccessToken(s.tokens))
}

func (s *server) do(method, path, userID, role string, body any) (*httptest.ResponseRecorder, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		pair, err := s.tokens.IssuePair(time.Now(), userID, role)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func (s *server) webhook(body []byte, signature string) (*httptest.ResponseRecorder, map[string]any) {
	s.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, signature)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func airtime(pin string) map[string]any {
	return map[string]any{
		"serviceType":       "airtime",
		"amount":            "200",
		"pin":               pin,
		"serviceParameters": map[string]string{"phone": "08030000000", "network": "mtn"},
	}
}

func TestPurchase_Success(t *testing.T) {
	s := newServer(t)

	w, body := s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, airtime("1234"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "800", body["newBalance"])
	tx := body["transaction"].(map[string]any)
	assert.True(t, strings.HasPrefix(tx["reference"].(string), "VTU-"), tx["reference"])
	assert.Equal(t, "PRV-1", tx["metadata"].(map[string]any)["providerReference"])
	assert.Equal(t, "completed", tx["status"])
	assert.Equal(t, "payment", tx["category"])
}

func TestPurchase_WrongPinThenLocked(t *testing.T) {
	s := newServer(t)

	w, body := s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, airtime("0000"))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_pin", body["code"])
	assert.EqualValues(t, 2, body["details"].(map[string]any)["attemptsRemaining"])

	s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, airtime("0000"))
	w, body = s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, airtime("0000"))
	require.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "account_locked", body["code"])
	assert.EqualValues(t, 15, body["details"].(map[string]any)["remainingMinutes"])

	w, _ = s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, airtime("1234"))
	assert.Equal(t, http.StatusLocked, w.Code, "correct pin is rejected while locked")
}

func TestPurchase_InsufficientBalance(t *testing.T) {
	s := newServer(t)
	req := airtime("1234")
	req["amount"] = "1500"

	w, body := s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, req)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "insufficient_balance", body["code"])
}

func TestPurchase_ProviderFailureReturnsFailedRecord(t *testing.T) {
	s := newServer(t)
	s.provider.result = fulfillment.Result{Success: false, Message: "invalid phone number"}

	w, body := s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, airtime("1234"))
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "provider_failure", body["code"])
	tx := body["details"].(map[string]any)["transaction"].(map[string]any)
	assert.Equal(t, "failed", tx["status"])

	w, body = s.do(http.MethodGet, "/v1/wallet", "u1", rbac.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1000", body["balance"])
}

func TestPurchase_ValidationAndAvailability(t *testing.T) {
	s := newServer(t)

	req := airtime("1234")
	req["amount"] = "10"
	w, body := s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["code"])

	req = airtime("1234")
	req["serviceType"] = "lottery"
	w, body = s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "service_unavailable", body["code"])
}

func TestPurchase_LimiterRejectsConcurrentPurchase(t *testing.T) {
	s := newServer(t)
	lim := &busyLimiter{}
	s.handlers.PurchaseLimiter = lim
	s.rebuild()

	w, body := s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, airtime("1234"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "purchase_in_progress", body["code"])
	assert.Equal(t, 0, lim.released)
}

func TestPurchase_RequiresToken(t *testing.T) {
	s := newServer(t)
	w, _ := s.do(http.MethodPost, "/v1/purchases", "", "", airtime("1234"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTransactions_ListAndGetAreScopedToCaller(t *testing.T) {
	s := newServer(t)
	w, body := s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, airtime("1234"))
	require.Equal(t, http.StatusOK, w.Code)
	ref := body["transaction"].(map[string]any)["reference"].(string)

	w, body = s.do(http.MethodGet, "/v1/transactions?status=completed", "u1", rbac.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["transactions"], 1)

	w, body = s.do(http.MethodGet, "/v1/transactions", "u2", rbac.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["transactions"], 0)

	w, _ = s.do(http.MethodGet, "/v1/transactions/"+ref, "u1", rbac.RoleUser, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodGet, "/v1/transactions/"+ref, "u2", rbac.RoleUser, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodGet, "/v1/transactions?status=settled", "u1", rbac.RoleUser, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetPin(t *testing.T) {
	s := newServer(t)

	w, body := s.do(http.MethodPut, "/v1/pin", "u2", rbac.RoleUser, map[string]string{"newPin": "12ab"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["code"])

	w, _ = s.do(http.MethodPut, "/v1/pin", "u2", rbac.RoleUser, map[string]string{"newPin": "4321"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = s.do(http.MethodPut, "/v1/pin", "u2", rbac.RoleUser, map[string]string{"currentPin": "0000", "newPin": "5555"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_pin", body["code"])
}

const fundingPayload = `{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"transactionReference":"GW123","amountPaid":"500.00","paymentStatus":"PAID","destinationAccountInformation":{"accountNumber":"9900000001"}}}`

func TestPaymentWebhook_CreditsOnceAndAcknowledgesReplays(t *testing.T) {
	s := newServer(t)
	body := []byte(fundingPayload)
	sig := webhook.Sign(body, testSecret)

	w, out := s.webhook(body, sig)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "credited", out["status"])

	w, out = s.webhook(body, sig)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_processed", out["status"])

	wal, err := s.wallets.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, wal.Balance.Equal(decimal.NewFromInt(1500)))
}

func TestPaymentWebhook_ProviderIdMatchingGatewayReferenceStillCredits(t *testing.T) {
	s := newServer(t)
	s.provider.result = fulfillment.Result{Success: true, ProviderReference: "GW123"}
	w, _ := s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, airtime("1234"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := []byte(fundingPayload)
	w, out := s.webhook(body, webhook.Sign(body, testSecret))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "credited", out["status"])

	wal, err := s.wallets.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, wal.Balance.Equal(decimal.NewFromInt(1300)))
}

func TestPaymentWebhook_RejectsBadSignatureAndBody(t *testing.T) {
	s := newServer(t)

	w, _ := s.webhook([]byte(fundingPayload), webhook.Sign([]byte(fundingPayload), "wrong"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	garbage := []byte(`{"eventData":`)
	w, _ = s.webhook(garbage, webhook.Sign(garbage, testSecret))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentWebhook_UnknownAccountIsAcknowledged(t *testing.T) {
	s := newServer(t)
	body := []byte(`{"eventData":{"transactionReference":"GW9","amountPaid":"10","paymentStatus":"PAID","destinationAccountInformation":{"accountNumber":"0000"}}}`)

	w, out := s.webhook(body, webhook.Sign(body, testSecret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unmatched", out["status"])
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	s := newServer(t)
	w, _ := s.do(http.MethodPost, "/v1/admin/wallets/u1/fund", "u1", rbac.RoleUser, map[string]string{"amount": "10", "reason": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_ManualFundAndDebit(t *testing.T) {
	s := newServer(t)

	w, body := s.do(http.MethodPost, "/v1/admin/wallets/u2/fund", "adm", rbac.RoleAdmin, map[string]string{"amount": "100", "reason": "goodwill"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "150", body["newBalance"])
	assert.Equal(t, "funding", body["category"])

	w, body = s.do(http.MethodPost, "/v1/admin/wallets/u2/debit", "adm", rbac.RoleAdmin, map[string]string{"amount": "1000", "reason": "chargeback"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "insufficient_balance", body["code"])
}

func TestAdmin_SoftDeleteHonoursComplianceHold(t *testing.T) {
	s := newServer(t)
	w, body := s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, airtime("1234"))
	require.Equal(t, http.StatusOK, w.Code)
	id := body["transaction"].(map[string]any)["id"].(string)

	w, body = s.do(http.MethodDelete, "/v1/admin/transactions/"+id, "adm", rbac.RoleAdmin, map[string]string{"reason": "duplicate"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "compliance_hold", body["code"])

	w, body = s.do(http.MethodPost, "/v1/admin/transactions/bulk-delete", "adm", rbac.RoleSuperAdmin, map[string]any{"ids": []string{id}, "reason": "duplicate"})
	require.Equal(t, http.StatusOK, w.Code)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].(map[string]any)["error"])
}

func TestAdmin_RetryAndCancelFailedPurchase(t *testing.T) {
	s := newServer(t)
	s.provider.result = fulfillment.Result{Success: false, Message: "network busy"}
	w, body := s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, airtime("1234"))
	require.Equal(t, http.StatusBadGateway, w.Code)
	id := body["details"].(map[string]any)["transaction"].(map[string]any)["id"].(string)

	s.provider.result = fulfillment.Result{Success: true, ProviderReference: "PRV-2"}
	w, body = s.do(http.MethodPost, "/v1/admin/transactions/"+id+"/retry", "adm", rbac.RoleAdmin, map[string]bool{"resume": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["resumed"])
	assert.Equal(t, "completed", body["transaction"].(map[string]any)["status"])

	w, body = s.do(http.MethodPost, "/v1/admin/transactions/"+id+"/cancel", "adm", rbac.RoleAdmin, map[string]string{"reason": "late"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", body["code"])
}

func TestAdmin_CancelRequiresReason(t *testing.T) {
	s := newServer(t)
	s.provider.result = fulfillment.Result{Success: false, Message: "declined"}
	_, body := s.do(http.MethodPost, "/v1/purchases", "u1", rbac.RoleUser, airtime("1234"))
	id := body["details"].(map[string]any)["transaction"].(map[string]any)["id"].(string)

	w, body := s.do(http.MethodPost, "/v1/admin/transactions/"+id+"/cancel", "adm", rbac.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["code"])

	w, body = s.do(http.MethodPost, "/v1/admin/transactions/"+id+"/cancel?reason=customer+request", "adm", rbac.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", body["status"])
}
