package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"casinopay/internal/config"
	"casinopay/internal/gateway"
	"casinopay/internal/infrastructure/audit"
	"casinopay/internal/infrastructure/database"
	"casinopay/internal/infrastructure/lock"
	"casinopay/internal/logger"
	"casinopay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu sync.Mutex

	depositRef  string
	depositErr  error
	withdrawRef string
	withdrawErr error
	status      *gateway.StatusResult
	statusErr   error

	deposits       []*gateway.DepositRequest
	cryptoDeposits []*gateway.CryptoDepositRequest
	withdrawals    []*gateway.WithdrawalRequest
}

func (g *fakeGateway) CreateDeposit(_ context.Context, req *gateway.DepositRequest) (*gateway.DepositResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deposits = append(g.deposits, req)
	if g.depositErr != nil {
		return nil, g.depositErr
	}
	return &gateway.DepositResult{ExternalRef: g.depositRef, PaymentURL: "https://pay.example/" + g.depositRef}, nil
}

func (g *fakeGateway) CreateCryptoDeposit(_ context.Context, req *gateway.CryptoDepositRequest) (*gateway.DepositResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cryptoDeposits = append(g.cryptoDeposits, req)
	if g.depositErr != nil {
		return nil, g.depositErr
	}
	return &gateway.DepositResult{ExternalRef: g.depositRef, DepositAddress: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"}, nil
}

func (g *fakeGateway) CreateWithdrawal(_ context.Context, req *gateway.WithdrawalRequest) (*gateway.WithdrawalResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.withdrawals = append(g.withdrawals, req)
	if g.withdrawErr != nil {
		return nil, g.withdrawErr
	}
	ref := g.withdrawRef
	if ref != "" && len(g.withdrawals) > 1 {
		ref = ref + "-" + req.ReferenceNo
	}
	return &gateway.WithdrawalResult{ExternalRef: ref, Status: "pending"}, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, _ string) (*gateway.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return g.status, nil
}

type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memorySink) Record(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memorySink) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Event)
	}
	return out
}

func unreachable(op string) error {
	return &gateway.Error{Kind: gateway.KindUnreachable, Op: op, Err: context.DeadlineExceeded}
}

func rejected(op, code string) error {
	return &gateway.Error{
		Kind:         gateway.KindRejected,
		Op:           op,
		StatusCode:   400,
		Code:         code,
		Message:      "rejected by provider",
		RequestBody:  `{"amount":"1000"}`,
		ResponseBody: `{"success":false,"code":"` + code + `"}`,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			BaseURL:     "http://gateway.local",
			CallbackURL: "http://casino.local/api/v1/deposit/callback",
			ReturnURL:   "http://casino.local/wallet",
		},
		Settlement: config.SettlementConfig{
			AllowRecentPendingMatch: true,
			RecentPendingWindow:     30 * time.Minute,
			AmbiguousErrorCodes:     []string{"PROVIDER_TIMEOUT", "PROVIDER_ERROR"},
			ReconcileAfter:          10 * time.Minute,
			ReconcileBatchSize:      10,
		},
		PaymentMethods: config.DefaultPaymentMethods(),
	}
}

type testEnv struct {
	svc  *SettlementService
	db   *gorm.DB
	gw   *fakeGateway
	sink *memorySink
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	db, err := database.OpenInMemory(logger.Discard())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	gw := &fakeGateway{depositRef: "REF123", withdrawRef: "WREF1"}
	sink := &memorySink{}
	svc, err := NewSettlementService(db, gw, lock.NewLocalLocker(), sink, cfg, logger.Discard())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &testEnv{svc: svc, db: db, gw: gw, sink: sink}
}

func (e *testEnv) seedBalance(t *testing.T, userID int64, balance string) {
	t.Helper()
	acc := &model.Account{UserID: userID, Balance: decimal.RequireFromString(balance)}
	if err := e.db.Create(acc).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func (e *testEnv) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	acc, err := e.svc.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return acc.Balance
}

func (e *testEnv) transaction(t *testing.T, localID string) *model.Transaction {
	t.Helper()
	row, err := e.svc.ledger.FindByLocalID(context.Background(), localID)
	if err != nil {
		t.Fatalf("find %s: %v", localID, err)
	}
	return row
}

func assertBalance(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("balance = %s, want %s", got, want)
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
