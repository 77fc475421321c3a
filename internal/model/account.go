package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds the single mutable balance per user.
// Only the ledger writes Balance, always together with a transaction status change.
type Account struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64           `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"balance"`
	Version   int             `gorm:"not null;default:0" json:"version"` // optimistic lock
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}
