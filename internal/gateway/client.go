package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"casinopay/internal/config"

	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 1 << 20
)

// Client calls the external finance gateway. It never touches the ledger.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logrus.Logger
}

func NewClient(cfg config.GatewayConfig, log *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// POST /deposit/create
func (c *Client) CreateDeposit(ctx context.Context, req *DepositRequest) (*DepositResult, error) {
	var out DepositResult
	if err := c.do(ctx, http.MethodPost, "/deposit/create", req, &out); err != nil {
		return nil, err
	}
	if out.ExternalRef == "" {
		return nil, &Error{Kind: KindUnreachable, Op: "/deposit/create", Message: "response without transaction_id"}
	}
	return &out, nil
}

// POST /crypto-deposit
func (c *Client) CreateCryptoDeposit(ctx context.Context, req *CryptoDepositRequest) (*DepositResult, error) {
	var out DepositResult
	if err := c.do(ctx, http.MethodPost, "/crypto-deposit", req, &out); err != nil {
		return nil, err
	}
	if out.ExternalRef == "" {
		return nil, &Error{Kind: KindUnreachable, Op: "/crypto-deposit", Message: "response without transaction_id"}
	}
	return &out, nil
}

// POST /withdrawal
func (c *Client) CreateWithdrawal(ctx context.Context, req *WithdrawalRequest) (*WithdrawalResult, error) {
	var out WithdrawalResult
	if err := c.do(ctx, http.MethodPost, "/withdrawal", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GET /deposit/status/:id
func (c *Client) QueryStatus(ctx context.Context, externalRef string) (*StatusResult, error) {
	var out StatusResult
	path := "/deposit/status/" + url.PathEscape(externalRef)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.ExternalRef == "" {
		out.ExternalRef = externalRef
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody []byte
	if in != nil {
		var err error
		if reqBody, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode gateway request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindUnreachable, Op: path, RequestBody: string(reqBody), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Kind: KindUnreachable, Op: path, StatusCode: resp.StatusCode, RequestBody: string(reqBody), Err: err}
	}

	c.log.WithFields(logrus.Fields{
		"op":       path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("gateway call")

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	fail := func(kind Kind, code, message string) error {
		return &Error{
			Kind:         kind,
			Op:           path,
			StatusCode:   resp.StatusCode,
			Code:         code,
			Message:      message,
			RequestBody:  string(reqBody),
			ResponseBody: string(raw),
		}
	}

	switch {
	case resp.StatusCode >= 500:
		return fail(KindUnreachable, env.Code, http.StatusText(resp.StatusCode))
	case resp.StatusCode >= 400:
		if decodeErr != nil {
			return fail(KindRejected, fmt.Sprintf("HTTP_%d", resp.StatusCode), http.StatusText(resp.StatusCode))
		}
		return fail(KindRejected, env.Code, env.Message)
	case decodeErr != nil:
		return fail(KindUnreachable, "", "undecodable response: "+decodeErr.Error())
	case env.Success != nil && !*env.Success:
		return fail(KindRejected, env.Code, env.Message)
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fail(KindUnreachable, "", "undecodable data: "+err.Error())
		}
	}
	return nil
}
