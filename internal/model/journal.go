package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	JournalKindReserve = "RESERVE" // withdrawal reservation
	JournalKindCredit  = "CREDIT"  // deposit settled
	JournalKindRefund  = "REFUND"  // withdrawal reservation returned
)

// JournalEntry is the append-only balance history. Every balance write produces
// exactly one entry, so BalanceAfter of one entry equals BalanceBefore of the next
// for the same user.
type JournalEntry struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID        int64           `gorm:"index;not null" json:"user_id"`
	TransactionID string          `gorm:"type:varchar(64);index;not null" json:"transaction_id"`
	Kind          string          `gorm:"type:varchar(20);not null" json:"kind"`
	Amount        decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"amount"` // signed delta
	BalanceBefore decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"balance_after"`
	Remark        string          `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (JournalEntry) TableName() string {
	return "balance_journal"
}
