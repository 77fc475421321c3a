package repository

import (
	"context"
	"errors"

	"casinopay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetOrCreate returns the account, creating an empty one on first use.
func (r *AccountRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	if err := r.ensure(ctx, tx, userID); err != nil {
		return nil, err
	}
	var account model.Account
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// GetForUpdate locks the account row for the rest of tx, creating it if needed.
func (r *AccountRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	if err := r.ensure(ctx, tx, userID); err != nil {
		return nil, err
	}
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ensure(ctx context.Context, tx *gorm.DB, userID int64) error {
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.Account{UserID: userID, Balance: decimal.Zero}).Error
}

// ApplyDelta adds delta to the locked balance inside tx and returns the balance
// before and after. A result below zero is refused with ErrInsufficientBalance.
func (r *AccountRepository) ApplyDelta(ctx context.Context, tx *gorm.DB, userID int64, delta decimal.Decimal) (before, after decimal.Decimal, err error) {
	account, err := r.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	before = account.Balance
	after = before.Add(delta)
	if after.IsNegative() {
		return before, before, ErrInsufficientBalance
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", userID, account.Version).
		Updates(map[string]interface{}{
			"balance": after,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return before, before, result.Error
	}
	if result.RowsAffected == 0 {
		return before, before, ErrOptimisticLock
	}
	return before, after, nil
}
