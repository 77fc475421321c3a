package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
)

// ValidStatusTransitions lists every allowed move. Terminal states have no entry.
var ValidStatusTransitions = map[string][]string{
	StatusPending: {StatusCompleted, StatusFailed, StatusRejected},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusRejected
}

// Transaction is one deposit or withdrawal. Withdrawals carry a negative Amount.
// Rows are never deleted; they are the audit trail.
type Transaction struct {
	ID            int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	LocalID       string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_id"`
	ExternalRef   *string             `gorm:"type:varchar(128);uniqueIndex" json:"external_ref,omitempty"`
	RequestID     *string             `gorm:"type:varchar(64);uniqueIndex" json:"request_id,omitempty"`
	UserID        int64               `gorm:"index;not null" json:"user_id"`
	Type          string              `gorm:"type:varchar(20);not null;index:idx_tx_status_type_created,priority:2" json:"type"`
	Amount        decimal.Decimal     `gorm:"type:decimal(24,8);not null" json:"amount"`
	Currency      string              `gorm:"type:varchar(10);not null" json:"currency"`
	PaymentMethod string              `gorm:"type:varchar(32);not null" json:"payment_method"`
	Chain         string              `gorm:"type:varchar(16)" json:"chain,omitempty"`
	Status        string              `gorm:"type:varchar(20);not null;index:idx_tx_status_type_created,priority:1" json:"status"`
	Fallback      bool                `gorm:"not null;default:false" json:"fallback"`
	BalanceBefore decimal.NullDecimal `gorm:"type:decimal(24,8)" json:"balance_before"`
	BalanceAfter  decimal.NullDecimal `gorm:"type:decimal(24,8)" json:"balance_after"`
	Details       string              `gorm:"type:text" json:"-"`
	ReviewedBy    string              `gorm:"type:varchar(64)" json:"reviewed_by,omitempty"`
	Note          string              `gorm:"type:varchar(256)" json:"note,omitempty"`
	CreatedAt     time.Time           `gorm:"autoCreateTime;index:idx_tx_status_type_created,priority:3" json:"created_at"`
	UpdatedAt     time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
	ProcessedAt   *time.Time          `json:"processed_at,omitempty"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t *Transaction) IsDeposit() bool {
	return t.Type == TransactionTypeDeposit
}

func (t *Transaction) IsWithdrawal() bool {
	return t.Type == TransactionTypeWithdrawal
}

// AbsAmount returns the unsigned amount regardless of direction.
func (t *Transaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

func (t *Transaction) ExternalRefValue() string {
	if t.ExternalRef == nil {
		return ""
	}
	return *t.ExternalRef
}

// DetailsMap decodes Details. A malformed or empty column yields an empty map.
func (t *Transaction) DetailsMap() map[string]any {
	out := map[string]any{}
	if t.Details == "" {
		return out
	}
	_ = json.Unmarshal([]byte(t.Details), &out)
	return out
}

// MergeDetails overlays fields onto the stored details JSON.
func (t *Transaction) MergeDetails(fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	current := t.DetailsMap()
	for k, v := range fields {
		current[k] = v
	}
	raw, err := json.Marshal(current)
	if err != nil {
		return err
	}
	t.Details = string(raw)
	return nil
}
