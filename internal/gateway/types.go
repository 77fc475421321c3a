package gateway

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type DepositRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	UserID        int64           `json:"user_id"`
	Username      string          `json:"username,omitempty"`
	ReferenceNo   string          `json:"reference_no"`
	CallbackURL   string          `json:"callback_url,omitempty"`
	ReturnURL     string          `json:"return_url,omitempty"`
}

type CryptoDepositRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Network       string          `json:"network"`
	WalletAddress string          `json:"wallet_address"`
	UserID        int64           `json:"user_id"`
	Username      string          `json:"username,omitempty"`
	ReferenceNo   string          `json:"reference_no"`
	CallbackURL   string          `json:"callback_url,omitempty"`
	ReturnURL     string          `json:"return_url,omitempty"`
}

type DepositResult struct {
	ExternalRef    string `json:"transaction_id"`
	PaymentURL     string `json:"payment_url,omitempty"`
	DepositAddress string `json:"deposit_address,omitempty"`
	Status         string `json:"status,omitempty"`
}

type WithdrawalRequest struct {
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	PaymentMethodID string            `json:"payment_method_id"`
	UserID          int64             `json:"user_id"`
	Username        string            `json:"username,omitempty"`
	ReferenceNo     string            `json:"reference_no"`
	CallbackURL     string            `json:"callback_url,omitempty"`
	PayoutDetails   map[string]string `json:"payout_details"`
}

type WithdrawalResult struct {
	ExternalRef string `json:"transaction_id"`
	Status      string `json:"status,omitempty"`
}

type StatusResult struct {
	ExternalRef string          `json:"transaction_id"`
	ReferenceNo string          `json:"reference_no,omitempty"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
}

// envelope is the provider's response wrapper. A missing success flag on a 2xx
// answer counts as success.
type envelope struct {
	Success *bool           `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}
