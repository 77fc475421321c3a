package handler

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"casinopay/internal/config"
	"casinopay/internal/gateway"
	"casinopay/internal/infrastructure/audit"
	"casinopay/internal/infrastructure/database"
	"casinopay/internal/infrastructure/lock"
	"casinopay/internal/logger"
	"casinopay/internal/model"
	"casinopay/internal/service"
	"casinopay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	testSecret         = "jwt-secret"
	testCallbackSecret = "callback-secret"
)

type stubGateway struct{}

func (stubGateway) CreateDeposit(_ context.Context, req *gateway.DepositRequest) (*gateway.DepositResult, error) {
	return &gateway.DepositResult{ExternalRef: "REF123", PaymentURL: "https://pay.example/REF123"}, nil
}

func (stubGateway) CreateCryptoDeposit(_ context.Context, req *gateway.CryptoDepositRequest) (*gateway.DepositResult, error) {
	return &gateway.DepositResult{ExternalRef: "CREF-" + req.ReferenceNo}, nil
}

func (stubGateway) CreateWithdrawal(_ context.Context, req *gateway.WithdrawalRequest) (*gateway.WithdrawalResult, error) {
	return &gateway.WithdrawalResult{ExternalRef: "W-" + req.ReferenceNo}, nil
}

func (stubGateway) QueryStatus(_ context.Context, ref string) (*gateway.StatusResult, error) {
	return &gateway.StatusResult{ExternalRef: ref, Status: "pending"}, nil
}

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	jwt    *JWTMiddleware
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Discard()

	db, err := database.OpenInMemory(log)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := &config.Config{
		Settlement: config.SettlementConfig{
			CallbackSecret:          testCallbackSecret,
			AllowRecentPendingMatch: true,
			RecentPendingWindow:     30 * time.Minute,
		},
		PaymentMethods: config.DefaultPaymentMethods(),
	}
	svc, err := service.NewSettlementService(db, stubGateway{}, lock.NewLocalLocker(), audit.NewLogSink(log), cfg, log)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	jwtMiddleware := NewJWTMiddleware(testSecret, log)
	h := NewHandler(svc, cfg.Settlement.CallbackSecret, log)
	return &testServer{
		router: SetupRouter(h, jwtMiddleware, log, gin.TestMode),
		db:     db,
		jwt:    jwtMiddleware,
	}
}

func (s *testServer) token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(userID, "player", role, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers map[string]string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.([]byte); ok {
			buf.Write(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env response.Response
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func (s *testServer) seed(t *testing.T, userID int64, balance string) {
	t.Helper()
	if err := s.db.Create(&model.Account{UserID: userID, Balance: decimal.RequireFromString(balance)}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func signed(body []byte) map[string]string {
	return map[string]string{signatureHeader: hex.EncodeToString(SignCallback([]byte(testCallbackSecret), body))}
}

func dataField(t *testing.T, env response.Response, key string) any {
	t.Helper()
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data is %T, want object", env.Data)
	}
	return data[key]
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodGet, "/health", "", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("request id header missing")
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	w, env := s.do(t, http.MethodGet, "/api/v1/nope", "", nil, nil)
	if w.Code != http.StatusNotFound || env.Code != response.CodeNotFound {
		t.Fatalf("unknown route: %d %s", w.Code, w.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/api/v1/balance", "", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", w.Code)
	}
	w, _ = s.do(t, http.MethodGet, "/api/v1/balance", "not-a-jwt", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", w.Code)
	}

	other := NewJWTMiddleware("other-secret", logger.Discard())
	forged, err := other.GenerateToken(1, "x", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	w, _ = s.do(t, http.MethodGet, "/api/v1/balance", forged, nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("foreign secret: status = %d", w.Code)
	}

	w, _ = s.do(t, http.MethodGet, "/api/v1/admin/withdrawals", s.token(t, 1, RoleUser), nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("user on admin route: status = %d", w.Code)
	}
}

func TestDepositAndCallbackFlow(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, 1, "500")
	tok := s.token(t, 1, RoleUser)

	w, env := s.do(t, http.MethodPost, "/api/v1/deposit/create", tok,
		map[string]any{"amount": 1000, "currency": "TRY", "payment_method": "havale"}, nil)
	if w.Code != http.StatusOK || env.Code != response.CodeSuccess {
		t.Fatalf("deposit: status=%d body=%s", w.Code, w.Body.String())
	}
	localID, _ := dataField(t, env, "transaction_id").(string)
	if localID == "" {
		t.Fatal("no transaction id returned")
	}

	body := []byte(`{"transaction_id":"REF123","status":"completed","amount":1000}`)

	w, _ = s.do(t, http.MethodPost, "/api/v1/deposit/callback", "", body, map[string]string{signatureHeader: "00ff"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature: status = %d", w.Code)
	}

	w, env = s.do(t, http.MethodPost, "/api/v1/deposit/callback", "", body, signed(body))
	if w.Code != http.StatusOK {
		t.Fatalf("callback: status=%d body=%s", w.Code, w.Body.String())
	}
	if dataField(t, env, "already_processed") != false {
		t.Error("first callback reported already processed")
	}

	w, env = s.do(t, http.MethodPost, "/api/v1/deposit/callback", "", body, signed(body))
	if w.Code != http.StatusOK || dataField(t, env, "already_processed") != true {
		t.Fatalf("replay: status=%d body=%s", w.Code, w.Body.String())
	}

	_, env = s.do(t, http.MethodGet, "/api/v1/balance", tok, nil, nil)
	if got := dataField(t, env, "balance"); got != "1500" {
		t.Fatalf("balance = %v, want 1500", got)
	}

	w, env = s.do(t, http.MethodGet, "/api/v1/deposit/status/"+localID, tok, nil, nil)
	if w.Code != http.StatusOK || dataField(t, env, "status") != model.StatusCompleted {
		t.Fatalf("status lookup: %d %s", w.Code, w.Body.String())
	}

	w, _ = s.do(t, http.MethodGet, "/api/v1/deposit/status/"+localID, s.token(t, 2, RoleUser), nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign lookup: status = %d", w.Code)
	}
}

func TestCallbackForUnknownTransaction(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"transaction_id":"NOPE","status":"completed"}`)
	w, env := s.do(t, http.MethodPost, "/api/v1/deposit/callback", "", body, signed(body))
	if w.Code != http.StatusNotFound || env.Code != response.CodeTransactionNotFound {
		t.Fatalf("status=%d code=%d", w.Code, env.Code)
	}
}

func TestCallbackRefusedWithoutSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil, "", logger.Discard())
	r := gin.New()
	r.POST("/api/v1/deposit/callback", h.DepositCallback)

	body := []byte(`{"transaction_id":"REF123","status":"completed","amount":"1000000"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deposit/callback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, 1, "30")
	tok := s.token(t, 1, RoleUser)

	w, env := s.do(t, http.MethodPost, "/api/v1/deposit/create", tok,
		map[string]any{"amount": 5, "payment_method": "havale"}, nil)
	if w.Code != http.StatusBadRequest || env.Code != response.CodeValidationFailed {
		t.Fatalf("below minimum: status=%d code=%d", w.Code, env.Code)
	}

	w, _ = s.do(t, http.MethodPost, "/api/v1/deposit/create", tok, map[string]any{"amount": 500}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing method: status=%d", w.Code)
	}

	w, env = s.do(t, http.MethodPost, "/api/v1/withdrawal/create", tok, map[string]any{
		"amount":         60,
		"payment_method": "papara",
		"payout_details": map[string]string{"wallet_id": "123"},
	}, nil)
	if w.Code != http.StatusUnprocessableEntity || env.Code != response.CodeInsufficientBalance {
		t.Fatalf("insufficient: status=%d code=%d", w.Code, env.Code)
	}
}

func TestAdminResolution(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, 1, "300")
	userTok := s.token(t, 1, RoleUser)
	adminTok := s.token(t, 99, RoleAdmin)

	var ids []string
	for i := 0; i < 2; i++ {
		w, env := s.do(t, http.MethodPost, "/api/v1/withdrawal/create", userTok, map[string]any{
			"amount":         "100",
			"payment_method": "papara",
			"payout_details": map[string]string{"wallet_id": "123"},
		}, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("withdrawal: %d %s", w.Code, w.Body.String())
		}
		ids = append(ids, dataField(t, env, "transaction_id").(string))
	}

	w, env := s.do(t, http.MethodPatch, "/api/v1/admin/withdrawals/"+ids[0]+"/status", adminTok,
		map[string]any{"status": "rejected", "note": "duplicate account"}, nil)
	if w.Code != http.StatusOK || dataField(t, env, "status") != model.StatusRejected {
		t.Fatalf("resolve: %d %s", w.Code, w.Body.String())
	}

	w, env = s.do(t, http.MethodPatch, "/api/v1/admin/withdrawals/"+ids[0]+"/status", adminTok,
		map[string]any{"status": "completed"}, nil)
	if w.Code != http.StatusConflict || env.Code != response.CodeAlreadyProcessed {
		t.Fatalf("second resolve: %d %s", w.Code, w.Body.String())
	}

	w, env = s.do(t, http.MethodPatch, "/api/v1/admin/withdrawals/bulk/status", adminTok,
		map[string]any{"ids": []string{ids[0], ids[1]}, "status": "completed"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("bulk: %d %s", w.Code, w.Body.String())
	}
	if dataField(t, env, "succeeded") != float64(1) || dataField(t, env, "failed") != float64(1) {
		t.Fatalf("bulk summary: %s", w.Body.String())
	}

	_, env = s.do(t, http.MethodGet, "/api/v1/balance", userTok, nil, nil)
	if got := dataField(t, env, "balance"); got != "200" {
		t.Fatalf("balance = %v, want 200", got)
	}

	w, env = s.do(t, http.MethodGet, "/api/v1/admin/withdrawals?status=completed", adminTok, nil, nil)
	if w.Code != http.StatusOK || dataField(t, env, "total") != float64(1) {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}

	// two reservations and one refund; completing without a delta writes nothing
	w, env = s.do(t, http.MethodGet, "/api/v1/journal", userTok, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("journal: %d %s", w.Code, w.Body.String())
	}
	if entries, _ := dataField(t, env, "entries").([]any); len(entries) != 3 {
		t.Fatalf("journal entries = %d, want 3: %s", len(entries), w.Body.String())
	}

	w, env = s.do(t, http.MethodGet, "/api/v1/admin/transactions/"+ids[0]+"/journal", adminTok, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transaction journal: %d %s", w.Code, w.Body.String())
	}
	if entries, _ := dataField(t, env, "entries").([]any); len(entries) != 2 {
		t.Fatalf("transaction journal entries = %d, want 2", len(entries))
	}

	w, _ = s.do(t, http.MethodGet, "/api/v1/admin/transactions/"+ids[0]+"/journal", userTok, nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("user on admin route: %d", w.Code)
	}

	w, env = s.do(t, http.MethodGet, "/api/v1/admin/transactions/WD-missing/journal", adminTok, nil, nil)
	if w.Code != http.StatusNotFound || env.Code != response.CodeTransactionNotFound {
		t.Fatalf("missing journal: %d %s", w.Code, w.Body.String())
	}
}
