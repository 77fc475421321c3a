package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"casinopay/internal/config"
	"casinopay/internal/logger"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, h http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.GatewayConfig{BaseURL: srv.URL, APIKey: "key-1", Timeout: timeout}, logger.Discard())
}

func TestCreateDepositSuccess(t *testing.T) {
	var got DepositRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/deposit/create" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "key-1" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"transaction_id":"REF123","payment_url":"https://pay/REF123"}}`))
	}, time.Second)

	res, err := c.CreateDeposit(context.Background(), &DepositRequest{
		Amount:        decimal.NewFromInt(1000),
		Currency:      "TRY",
		PaymentMethod: "havale",
		UserID:        7,
		ReferenceNo:   "DEP_1_abc",
	})
	if err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}
	if res.ExternalRef != "REF123" || res.PaymentURL != "https://pay/REF123" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got.ReferenceNo != "DEP_1_abc" || !got.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestCreateDepositRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"success":false,"code":"LIMIT_EXCEEDED","message":"daily limit exceeded"}`))
	}, time.Second)

	_, err := c.CreateDeposit(context.Background(), &DepositRequest{Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("got %v, want ErrRejected", err)
	}
	if errors.Is(err, ErrUnreachable) {
		t.Fatal("rejected error must not match ErrUnreachable")
	}
	gwErr, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if gwErr.Code != "LIMIT_EXCEEDED" || gwErr.StatusCode != 422 {
		t.Fatalf("unexpected error fields %+v", gwErr)
	}
	if gwErr.RequestBody == "" || gwErr.ResponseBody == "" {
		t.Fatal("error must keep request and response bodies for audit")
	}
}

func TestBusinessFailureOn200IsRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"code":"PROVIDER_ERROR","message":"try later"}`))
	}, time.Second)

	_, err := c.CreateCryptoDeposit(context.Background(), &CryptoDepositRequest{Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("got %v, want ErrRejected", err)
	}
	if ErrorCode(err) != "PROVIDER_ERROR" {
		t.Fatalf("code = %q", ErrorCode(err))
	}
}

func TestServerErrorIsUnreachable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, time.Second)

	_, err := c.CreateWithdrawal(context.Background(), &WithdrawalRequest{Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
}

func TestTimeoutIsUnreachable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"success":true,"data":{"transaction_id":"late"}}`))
	}, 50*time.Millisecond)

	_, err := c.CreateDeposit(context.Background(), &DepositRequest{Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
}

func TestClosedServerIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(config.GatewayConfig{BaseURL: srv.URL}, logger.Discard())

	_, err := c.QueryStatus(context.Background(), "REF1")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
}

func TestGarbageBodyIsUnreachable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}, time.Second)

	_, err := c.CreateDeposit(context.Background(), &DepositRequest{Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
}

func TestQueryStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/deposit/status/REF123" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"status":"completed","amount":1000}}`))
	}, time.Second)

	st, err := c.QueryStatus(context.Background(), "REF123")
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if st.Status != "completed" || st.ExternalRef != "REF123" || !st.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected status %+v", st)
	}
}
