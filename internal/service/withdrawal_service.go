package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"casinopay/internal/gateway"
	"casinopay/internal/infrastructure/audit"
	"casinopay/internal/infrastructure/lock"
	"casinopay/internal/model"
	"casinopay/internal/repository"
	"casinopay/internal/validator"
	"casinopay/pkg/idgen"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type WithdrawalRequest struct {
	RequestID     string            `json:"request_id"`
	UserID        int64             `json:"-"`
	Username      string            `json:"-"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method" binding:"required"`
	PayoutDetails map[string]string `json:"payout_details"`
}

type WithdrawalResponse struct {
	TransactionID string              `json:"transaction_id"`
	ExternalRef   string              `json:"external_ref,omitempty"`
	Status        string              `json:"status"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	PaymentMethod string              `json:"payment_method"`
	BalanceAfter  decimal.NullDecimal `json:"balance_after"`
}

type BulkResult struct {
	TransactionID string `json:"transaction_id"`
	Success       bool   `json:"success"`
	Status        string `json:"status,omitempty"`
	Error         string `json:"error,omitempty"`
}

// CreateWithdrawal reserves the amount, then asks the gateway to pay out. If
// the gateway refuses or cannot be reached the reservation is refunded and the
// row ends failed.
func (s *SettlementService) CreateWithdrawal(ctx context.Context, req *WithdrawalRequest) (*WithdrawalResponse, error) {
	method, currency, err := s.resolveMethod(req.PaymentMethod, req.Currency)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateAmount(method, model.TransactionTypeWithdrawal, req.Amount); err != nil {
		return nil, err
	}
	payout, err := validator.ParsePayoutDetails(method, req.PayoutDetails)
	if err != nil {
		return nil, err
	}

	existing, err := s.findByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return withdrawalResponse(existing), nil
	}

	t := &model.Transaction{
		LocalID:       idgen.GenerateWithdrawalID(),
		RequestID:     optional(req.RequestID),
		UserID:        req.UserID,
		Type:          model.TransactionTypeWithdrawal,
		Amount:        req.Amount.Neg(),
		Currency:      currency,
		PaymentMethod: method.ID,
	}
	if cp, ok := payout.(validator.CryptoPayout); ok {
		t.Chain = cp.Chain
	}
	if err := t.MergeDetails(map[string]any{"payout": payout.Fields()}); err != nil {
		return nil, err
	}

	if err := s.reserve(ctx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicateTransaction) && t.RequestID != nil {
			if existing, findErr := s.ledger.FindByRequestID(ctx, *t.RequestID); findErr == nil {
				return withdrawalResponse(existing), nil
			}
		}
		return nil, err
	}

	res, err := s.gateway.CreateWithdrawal(ctx, &gateway.WithdrawalRequest{
		Amount:          req.Amount,
		Currency:        currency,
		PaymentMethodID: method.ID,
		UserID:          req.UserID,
		Username:        req.Username,
		ReferenceNo:     t.LocalID,
		CallbackURL:     s.urls.CallbackURL,
		PayoutDetails:   payout.Fields(),
	})
	if err != nil {
		return nil, s.withdrawalFailed(ctx, t, err)
	}

	if res.ExternalRef != "" {
		if err := s.ledger.SetExternalRef(ctx, t.LocalID, res.ExternalRef); err != nil {
			s.log.WithFields(logrus.Fields{
				"transaction_id": t.LocalID,
				"external_ref":   res.ExternalRef,
			}).WithError(err).Error("store withdrawal gateway reference")
		} else {
			ref := res.ExternalRef
			t.ExternalRef = &ref
		}
	}

	s.log.WithFields(logrus.Fields{
		"transaction_id": t.LocalID,
		"external_ref":   res.ExternalRef,
		"user_id":        t.UserID,
		"amount":         t.Amount.String(),
		"payment_method": t.PaymentMethod,
	}).Info("withdrawal created")
	return withdrawalResponse(t), nil
}

// reserve holds the per-user lock only around the balance reservation.
func (s *SettlementService) reserve(ctx context.Context, t *model.Transaction) error {
	release, err := s.locker.Acquire(ctx, lock.WithdrawLockKey(t.UserID), uuid.NewString())
	if err != nil {
		return fmt.Errorf("acquire withdrawal lock: %w", err)
	}
	defer release()

	if err := s.ledger.CreateWithReservation(ctx, t); err != nil {
		return fmt.Errorf("reserve withdrawal: %w", err)
	}
	return nil
}

func (s *SettlementService) withdrawalFailed(ctx context.Context, t *model.Transaction, cause error) error {
	s.auditGatewayError(ctx, "withdrawal.gateway_error", t, cause)

	// The caller may have gone away; the refund must still happen.
	_, err := s.ledger.TransitionTerminal(context.WithoutCancel(ctx), t.LocalID, repository.Transition{
		To:           model.StatusFailed,
		BalanceDelta: t.AbsAmount(),
		Details:      map[string]any{"gateway_error": cause.Error()},
	})
	if err != nil && !errors.Is(err, repository.ErrAlreadyTerminal) {
		s.log.WithFields(logrus.Fields{
			"transaction_id": t.LocalID,
			"user_id":        t.UserID,
			"amount":         t.AbsAmount().String(),
		}).WithError(err).Error("refund withdrawal reservation")
	}
	return classifyGatewayError(cause)
}

// ResolveWithdrawal is the admin decision on a pending withdrawal. Completing
// moves no money; rejecting refunds the reservation.
func (s *SettlementService) ResolveWithdrawal(ctx context.Context, localID, status, reviewer, note string) (*model.Transaction, error) {
	if status != model.StatusCompleted && status != model.StatusRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, status)
	}
	t, err := s.ledger.FindByLocalID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !t.IsWithdrawal() {
		return nil, ErrNotWithdrawal
	}
	return s.resolve(ctx, t, status, reviewer, note)
}

// ResolveDeposit settles a pending deposit by hand, typically a fallback row
// the provider never called back for.
func (s *SettlementService) ResolveDeposit(ctx context.Context, localID, status, reviewer, note string) (*model.Transaction, error) {
	if status != model.StatusCompleted && status != model.StatusFailed {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, status)
	}
	t, err := s.ledger.FindByLocalID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !t.IsDeposit() {
		return nil, ErrNotDeposit
	}
	return s.resolve(ctx, t, status, reviewer, note)
}

func (s *SettlementService) resolve(ctx context.Context, t *model.Transaction, status, reviewer, note string) (*model.Transaction, error) {
	tr := repository.Transition{
		To:         status,
		ReviewedBy: reviewer,
		Note:       note,
	}
	switch {
	case t.IsWithdrawal() && status == model.StatusRejected:
		tr.BalanceDelta = t.AbsAmount()
	case t.IsDeposit() && status == model.StatusCompleted:
		tr.BalanceDelta = t.Amount
	}

	row, err := s.ledger.TransitionTerminal(ctx, t.LocalID, tr)
	if err != nil {
		return row, err
	}

	s.log.WithFields(logrus.Fields{
		"transaction_id": row.LocalID,
		"status":         row.Status,
		"reviewed_by":    reviewer,
	}).Info("transaction resolved by admin")
	recordAudit(ctx, s.audit, s.log, audit.Entry{
		Event:         "admin.resolve",
		TransactionID: row.LocalID,
		UserID:        row.UserID,
		Payload: map[string]any{
			"status":        status,
			"reviewed_by":   reviewer,
			"note":          note,
			"balance_delta": tr.BalanceDelta.String(),
		},
	})
	return row, nil
}

// BulkResolveWithdrawals resolves each distinct id independently. One failing
// id never stops the others.
func (s *SettlementService) BulkResolveWithdrawals(ctx context.Context, ids []string, status, reviewer, note string) ([]BulkResult, error) {
	if status != model.StatusCompleted && status != model.StatusRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, status)
	}

	seen := make(map[string]struct{}, len(ids))
	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		result := BulkResult{TransactionID: id}
		row, err := s.ResolveWithdrawal(ctx, id, status, reviewer, note)
		if row != nil {
			result.Status = row.Status
		}
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *SettlementService) ListWithdrawals(ctx context.Context, status string, page, pageSize int) ([]*model.Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.ledger.ListByTypeAndStatus(ctx, model.TransactionTypeWithdrawal, status, page, pageSize)
}

func withdrawalResponse(t *model.Transaction) *WithdrawalResponse {
	return &WithdrawalResponse{
		TransactionID: t.LocalID,
		ExternalRef:   t.ExternalRefValue(),
		Status:        t.Status,
		Amount:        t.AbsAmount(),
		Currency:      t.Currency,
		PaymentMethod: t.PaymentMethod,
		BalanceAfter:  t.BalanceAfter,
	}
}
