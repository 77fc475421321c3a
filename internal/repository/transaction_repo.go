package repository

import (
	"context"
	"errors"
	"time"

	"casinopay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionRepository is row access for deposits and withdrawals.
// Status changes go through Ledger.TransitionTerminal.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

func (r *TransactionRepository) first(ctx context.Context, tx *gorm.DB, query string, args ...interface{}) (*model.Transaction, error) {
	if tx == nil {
		tx = r.db
	}
	var t model.Transaction
	err := tx.WithContext(ctx).Where(query, args...).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepository) GetByLocalID(ctx context.Context, localID string) (*model.Transaction, error) {
	return r.first(ctx, nil, "local_id = ?", localID)
}

func (r *TransactionRepository) GetByLocalIDForUpdate(ctx context.Context, tx *gorm.DB, localID string) (*model.Transaction, error) {
	return r.first(ctx, tx.Clauses(clause.Locking{Strength: "UPDATE"}), "local_id = ?", localID)
}

func (r *TransactionRepository) GetByExternalRef(ctx context.Context, ref string) (*model.Transaction, error) {
	return r.first(ctx, nil, "external_ref = ?", ref)
}

func (r *TransactionRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Transaction, error) {
	return r.first(ctx, nil, "request_id = ?", requestID)
}

// GetRecentPendingDeposit returns the newest pending deposit of userID created at
// or after since. Served by idx_tx_status_type_created.
func (r *TransactionRepository) GetRecentPendingDeposit(ctx context.Context, userID int64, since time.Time) (*model.Transaction, error) {
	var t model.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND type = ? AND created_at >= ? AND user_id = ?",
			model.StatusPending, model.TransactionTypeDeposit, since, userID).
		Order("created_at DESC").
		Order("id DESC").
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// UpdatePending applies updates only while the row is still pending.
func (r *TransactionRepository) UpdatePending(ctx context.Context, tx *gorm.DB, localID string, updates map[string]interface{}) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("local_id = ? AND status = ?", localID, model.StatusPending).
		Updates(updates)
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return ErrDuplicateTransaction
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// ExternalRefTaken reports whether ref already belongs to a row other than localID.
func (r *TransactionRepository) ExternalRefTaken(ctx context.Context, tx *gorm.DB, ref, localID string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("external_ref = ? AND local_id <> ?", ref, localID).
		Count(&count).Error
	return count > 0, err
}

// SetExternalRef records the gateway reference once. It does not change status.
func (r *TransactionRepository) SetExternalRef(ctx context.Context, localID, ref string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("local_id = ? AND external_ref IS NULL", localID).
		Update("external_ref", ref)
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return ErrDuplicateTransaction
		}
		return result.Error
	}
	return nil
}

// ListStalePending returns pending rows of txType that have a gateway reference
// and were created before the cutoff, oldest first.
func (r *TransactionRepository) ListStalePending(ctx context.Context, txType string, before time.Time, limit int) ([]*model.Transaction, error) {
	var rows []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND type = ? AND created_at < ? AND external_ref IS NOT NULL",
			model.StatusPending, txType, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *TransactionRepository) ListByTypeAndStatus(ctx context.Context, txType, status string, page, pageSize int) ([]*model.Transaction, int64, error) {
	var rows []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("type = ?", txType)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	query = query.Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	return rows, total, err
}
