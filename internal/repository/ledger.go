package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"casinopay/internal/model"
	"casinopay/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transition describes a move from pending to a terminal status.
type Transition struct {
	To string
	// BalanceDelta is applied to the owner's balance in the same DB transaction.
	// Zero leaves the balance untouched.
	BalanceDelta decimal.Decimal
	// Amount, when valid, replaces the recorded amount in the same update so the
	// row keeps matching its balance movement.
	Amount decimal.NullDecimal
	// ExternalRef is stored if the row has none yet.
	ExternalRef string
	ReviewedBy  string
	Note        string
	Details     map[string]any
}

// Ledger is the authoritative store of transactions and the only writer of
// balances. Every balance write happens inside the same DB transaction as the
// row change that causes it.
type Ledger struct {
	db           *gorm.DB
	transactions *TransactionRepository
	accounts     *AccountRepository
	journal      *JournalRepository
	outbox       *OutboxRepository
	eventTopic   string
}

// NewLedger wires the repositories. With an empty eventTopic no outbox
// messages are written.
func NewLedger(db *gorm.DB, eventTopic string) *Ledger {
	return &Ledger{
		db:           db,
		transactions: NewTransactionRepository(db),
		accounts:     NewAccountRepository(db),
		journal:      NewJournalRepository(db),
		outbox:       NewOutboxRepository(db),
		eventTopic:   eventTopic,
	}
}

// Create inserts t as pending. Uniqueness of LocalID, ExternalRef and RequestID
// is enforced by the storage; a collision returns ErrDuplicateTransaction.
func (l *Ledger) Create(ctx context.Context, t *model.Transaction) error {
	t.Status = model.StatusPending
	return l.transactions.Create(ctx, nil, t)
}

// CreateWithReservation inserts a pending withdrawal and decrements the balance
// by |Amount| atomically. Amount must be negative.
func (l *Ledger) CreateWithReservation(ctx context.Context, t *model.Transaction) error {
	if !t.Amount.IsNegative() {
		return fmt.Errorf("reservation amount must be negative, got %s", t.Amount)
	}
	t.Status = model.StatusPending

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, after, err := l.accounts.ApplyDelta(ctx, tx, t.UserID, t.Amount)
		if err != nil {
			return err
		}
		t.BalanceBefore = decimal.NewNullDecimal(before)
		t.BalanceAfter = decimal.NewNullDecimal(after)

		if err := l.transactions.Create(ctx, tx, t); err != nil {
			return err
		}
		return l.journal.Create(ctx, tx, &model.JournalEntry{
			EntryNo:       idgen.GenerateEntryNo(),
			UserID:        t.UserID,
			TransactionID: t.LocalID,
			Kind:          model.JournalKindReserve,
			Amount:        t.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Remark:        "withdrawal reservation via " + t.PaymentMethod,
		})
	})
}

func (l *Ledger) FindByLocalID(ctx context.Context, localID string) (*model.Transaction, error) {
	return l.transactions.GetByLocalID(ctx, localID)
}

func (l *Ledger) FindByExternalRef(ctx context.Context, ref string) (*model.Transaction, error) {
	return l.transactions.GetByExternalRef(ctx, ref)
}

func (l *Ledger) FindByRequestID(ctx context.Context, requestID string) (*model.Transaction, error) {
	return l.transactions.GetByRequestID(ctx, requestID)
}

func (l *Ledger) FindRecentPendingDeposit(ctx context.Context, userID int64, since time.Time) (*model.Transaction, error) {
	return l.transactions.GetRecentPendingDeposit(ctx, userID, since)
}

func (l *Ledger) SetExternalRef(ctx context.Context, localID, ref string) error {
	return l.transactions.SetExternalRef(ctx, localID, ref)
}

func (l *Ledger) ListStalePending(ctx context.Context, txType string, before time.Time, limit int) ([]*model.Transaction, error) {
	return l.transactions.ListStalePending(ctx, txType, before, limit)
}

func (l *Ledger) ListByTypeAndStatus(ctx context.Context, txType, status string, page, pageSize int) ([]*model.Transaction, int64, error) {
	return l.transactions.ListByTypeAndStatus(ctx, txType, status, page, pageSize)
}

func (l *Ledger) Balance(ctx context.Context, userID int64) (*model.Account, error) {
	return l.accounts.GetOrCreate(ctx, nil, userID)
}

func (l *Ledger) Journal(ctx context.Context, userID int64) ([]*model.JournalEntry, error) {
	return l.journal.ListByUserID(ctx, userID)
}

// TransactionJournal returns the balance movements caused by one transaction:
// the reservation and refund of a withdrawal, or the credit of a deposit.
func (l *Ledger) TransactionJournal(ctx context.Context, localID string) ([]*model.JournalEntry, error) {
	return l.journal.ListByTransactionID(ctx, localID)
}

// TransitionTerminal moves a pending transaction to tr.To and applies
// tr.BalanceDelta in one DB transaction. The row is locked first, so of two
// concurrent callers exactly one sees pending.
//
// A row that is already terminal is left untouched and returned together with
// ErrAlreadyTerminal.
func (l *Ledger) TransitionTerminal(ctx context.Context, localID string, tr Transition) (*model.Transaction, error) {
	if !model.IsTerminal(tr.To) {
		return nil, fmt.Errorf("%w: %q is not terminal", ErrInvalidTransition, tr.To)
	}

	var row *model.Transaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = l.transactions.GetByLocalIDForUpdate(ctx, tx, localID)
		if err != nil {
			return err
		}
		if model.IsTerminal(row.Status) {
			return ErrAlreadyTerminal
		}
		if !model.CanTransitionTo(row.Status, tr.To) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, row.Status, tr.To)
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":       tr.To,
			"processed_at": now,
		}

		if !tr.BalanceDelta.IsZero() {
			before, after, err := l.accounts.ApplyDelta(ctx, tx, row.UserID, tr.BalanceDelta)
			if err != nil {
				return err
			}
			row.BalanceBefore = decimal.NewNullDecimal(before)
			row.BalanceAfter = decimal.NewNullDecimal(after)
			updates["balance_before"] = row.BalanceBefore
			updates["balance_after"] = row.BalanceAfter

			if err := l.journal.Create(ctx, tx, &model.JournalEntry{
				EntryNo:       idgen.GenerateEntryNo(),
				UserID:        row.UserID,
				TransactionID: row.LocalID,
				Kind:          journalKind(row),
				Amount:        tr.BalanceDelta,
				BalanceBefore: before,
				BalanceAfter:  after,
				Remark:        row.Type + " " + tr.To,
			}); err != nil {
				return err
			}
		}

		if tr.Amount.Valid && !tr.Amount.Decimal.Equal(row.Amount) {
			row.Amount = tr.Amount.Decimal
			updates["amount"] = row.Amount
		}
		if tr.ExternalRef != "" && row.ExternalRef == nil {
			taken, err := l.transactions.ExternalRefTaken(ctx, tx, tr.ExternalRef, row.LocalID)
			if err != nil {
				return err
			}
			if taken {
				// keep the provider id for review without breaking uniqueness
				if tr.Details == nil {
					tr.Details = map[string]any{}
				}
				tr.Details["conflicting_external_ref"] = tr.ExternalRef
			} else {
				ref := tr.ExternalRef
				row.ExternalRef = &ref
				updates["external_ref"] = ref
			}
		}
		if tr.ReviewedBy != "" {
			row.ReviewedBy = tr.ReviewedBy
			updates["reviewed_by"] = tr.ReviewedBy
		}
		if tr.Note != "" {
			row.Note = tr.Note
			updates["note"] = tr.Note
		}
		if len(tr.Details) > 0 {
			if err := row.MergeDetails(tr.Details); err != nil {
				return err
			}
			updates["details"] = row.Details
		}

		if err := l.transactions.UpdatePending(ctx, tx, localID, updates); err != nil {
			return err
		}
		row.Status = tr.To
		row.ProcessedAt = &now

		if l.eventTopic == "" {
			return nil
		}
		return l.outbox.Enqueue(ctx, tx, l.eventTopic, row.LocalID, settlementEvent(row))
	})

	if errors.Is(err, ErrAlreadyTerminal) {
		if current, findErr := l.transactions.GetByLocalID(ctx, localID); findErr == nil {
			row = current
		}
		return row, ErrAlreadyTerminal
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func journalKind(t *model.Transaction) string {
	if t.IsWithdrawal() {
		return model.JournalKindRefund
	}
	return model.JournalKindCredit
}

func settlementEvent(t *model.Transaction) model.SettlementEvent {
	ev := model.SettlementEvent{
		TransactionID: t.LocalID,
		ExternalRef:   t.ExternalRefValue(),
		UserID:        t.UserID,
		Type:          t.Type,
		Status:        t.Status,
		Amount:        t.Amount.String(),
		Currency:      t.Currency,
		Fallback:      t.Fallback,
		ProcessedAt:   t.ProcessedAt,
	}
	if t.BalanceAfter.Valid {
		ev.BalanceAfter = t.BalanceAfter.Decimal.String()
	}
	return ev
}
