package repository

import (
	"context"

	"casinopay/internal/model"

	"gorm.io/gorm"
)

type JournalRepository struct {
	db *gorm.DB
}

func NewJournalRepository(db *gorm.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

func (r *JournalRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.JournalEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *JournalRepository) ListByTransactionID(ctx context.Context, transactionID string) ([]*model.JournalEntry, error) {
	var entries []*model.JournalEntry
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// ListByUserID returns the user's balance history, oldest first.
func (r *JournalRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.JournalEntry, error) {
	var entries []*model.JournalEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}
