package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"casinopay/internal/config"
	"casinopay/internal/gateway"
	"casinopay/internal/infrastructure/audit"
	"casinopay/internal/model"
	"casinopay/internal/repository"
	"casinopay/internal/validator"
	"casinopay/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SettlementService is the only component that moves money. It validates
// requests, talks to the gateway and drives every balance change through the
// Ledger.
type SettlementService struct {
	ledger   *repository.Ledger
	catalog  *validator.Catalog
	gateway  Gateway
	locker   Locker
	audit    AuditSink
	fallback *FallbackHandler
	settings config.SettlementConfig
	urls     config.GatewayConfig
	log      *logrus.Logger
	now      func() time.Time
}

func NewSettlementService(db *gorm.DB, gw Gateway, locker Locker, sink AuditSink, cfg *config.Config, log *logrus.Logger) (*SettlementService, error) {
	methods, err := cfg.Methods()
	if err != nil {
		return nil, err
	}

	var eventTopic string
	if cfg.Kafka.Enabled {
		eventTopic = cfg.Kafka.Topic.SettlementResult
	}
	ledger := repository.NewLedger(db, eventTopic)

	return &SettlementService{
		ledger:   ledger,
		catalog:  validator.NewCatalog(methods),
		gateway:  gw,
		locker:   locker,
		audit:    sink,
		fallback: NewFallbackHandler(ledger, sink, cfg.Settlement.AmbiguousErrorCodes, log),
		settings: cfg.Settlement,
		urls:     cfg.Gateway,
		log:      log,
		now:      time.Now,
	}, nil
}

type DepositRequest struct {
	RequestID     string          `json:"request_id"`
	UserID        int64           `json:"-"`
	Username      string          `json:"-"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method" binding:"required"`
}

type CryptoDepositRequest struct {
	RequestID     string          `json:"request_id"`
	UserID        int64           `json:"-"`
	Username      string          `json:"-"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	Network       string          `json:"network" binding:"required"`
	WalletAddress string          `json:"wallet_address" binding:"required"`
}

type DepositResponse struct {
	TransactionID  string          `json:"transaction_id"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PaymentMethod  string          `json:"payment_method"`
	Network        string          `json:"network,omitempty"`
	PaymentURL     string          `json:"payment_url,omitempty"`
	DepositAddress string          `json:"deposit_address,omitempty"`
	Fallback       bool            `json:"fallback"`
}

// CallbackRequest is the gateway webhook body. The provider echoes our local id
// in reference (or reference_no) and its own id in transaction_id.
type CallbackRequest struct {
	Reference     string          `json:"reference"`
	ReferenceNo   string          `json:"reference_no"`
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	UserID        int64           `json:"user_id"`
}

type CallbackResult struct {
	TransactionID    string `json:"transaction_id"`
	Status           string `json:"status"`
	AlreadyProcessed bool   `json:"already_processed"`
	MatchedBy        string `json:"matched_by,omitempty"`
}

func (s *SettlementService) CreateDeposit(ctx context.Context, req *DepositRequest) (*DepositResponse, error) {
	method, currency, err := s.resolveMethod(req.PaymentMethod, req.Currency)
	if err != nil {
		return nil, err
	}
	if method.IsCrypto() {
		return nil, fmt.Errorf("%w: %s deposits need a network and wallet address", validator.ErrMissingField, method.ID)
	}
	if err := validator.ValidateAmount(method, model.TransactionTypeDeposit, req.Amount); err != nil {
		return nil, err
	}

	existing, err := s.findByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return depositResponse(existing), nil
	}

	t := &model.Transaction{
		LocalID:       idgen.GenerateDepositID(),
		RequestID:     optional(req.RequestID),
		UserID:        req.UserID,
		Type:          model.TransactionTypeDeposit,
		Amount:        req.Amount,
		Currency:      currency,
		PaymentMethod: method.ID,
	}
	gwReq := &gateway.DepositRequest{
		Amount:        req.Amount,
		Currency:      currency,
		PaymentMethod: method.ID,
		UserID:        req.UserID,
		Username:      req.Username,
		ReferenceNo:   t.LocalID,
		CallbackURL:   s.urls.CallbackURL,
		ReturnURL:     s.urls.ReturnURL,
	}

	res, err := s.gateway.CreateDeposit(ctx, gwReq)
	if err != nil {
		return s.depositFailed(ctx, method, t, gwReq, err)
	}
	return s.depositAccepted(ctx, t, res)
}

func (s *SettlementService) CreateCryptoDeposit(ctx context.Context, req *CryptoDepositRequest) (*DepositResponse, error) {
	methodID := req.PaymentMethod
	if methodID == "" {
		methodID = string(model.KindCrypto)
	}
	method, currency, err := s.resolveMethod(methodID, req.Currency)
	if err != nil {
		return nil, err
	}
	if !method.IsCrypto() {
		return nil, fmt.Errorf("%w: %s is not a crypto method", validator.ErrUnknownPaymentMethod, method.ID)
	}
	if err := validator.ValidateAmount(method, model.TransactionTypeDeposit, req.Amount); err != nil {
		return nil, err
	}
	chain, err := s.resolveChain(req.Network)
	if err != nil {
		return nil, err
	}
	address := strings.TrimSpace(req.WalletAddress)
	if err := validator.ValidateCryptoAddress(address, chain); err != nil {
		return nil, err
	}

	existing, err := s.findByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return depositResponse(existing), nil
	}

	t := &model.Transaction{
		LocalID:       idgen.GenerateDepositID(),
		RequestID:     optional(req.RequestID),
		UserID:        req.UserID,
		Type:          model.TransactionTypeDeposit,
		Amount:        req.Amount,
		Currency:      currency,
		PaymentMethod: method.ID,
		Chain:         chain,
	}
	if err := t.MergeDetails(map[string]any{"wallet_address": address}); err != nil {
		return nil, err
	}
	gwReq := &gateway.CryptoDepositRequest{
		Amount:        req.Amount,
		Currency:      currency,
		Network:       chain,
		WalletAddress: address,
		UserID:        req.UserID,
		Username:      req.Username,
		ReferenceNo:   t.LocalID,
		CallbackURL:   s.urls.CallbackURL,
		ReturnURL:     s.urls.ReturnURL,
	}

	res, err := s.gateway.CreateCryptoDeposit(ctx, gwReq)
	if err != nil {
		return s.depositFailed(ctx, method, t, gwReq, err)
	}
	return s.depositAccepted(ctx, t, res)
}

func (s *SettlementService) depositAccepted(ctx context.Context, t *model.Transaction, res *gateway.DepositResult) (*DepositResponse, error) {
	ref := res.ExternalRef
	t.ExternalRef = &ref
	if err := t.MergeDetails(nonEmpty(map[string]string{
		"payment_url":     res.PaymentURL,
		"deposit_address": res.DepositAddress,
		"provider_status": res.Status,
	})); err != nil {
		return nil, err
	}

	if err := s.ledger.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicateTransaction) && t.RequestID != nil {
			if existing, findErr := s.ledger.FindByRequestID(ctx, *t.RequestID); findErr == nil {
				return depositResponse(existing), nil
			}
		}
		return nil, fmt.Errorf("create deposit: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"transaction_id": t.LocalID,
		"external_ref":   ref,
		"user_id":        t.UserID,
		"amount":         t.Amount.String(),
		"payment_method": t.PaymentMethod,
	}).Info("deposit created")
	return depositResponse(t), nil
}

// depositFailed either keeps the deposit as a local fallback row or surfaces
// the rejection. A rejected deposit leaves no ledger row.
func (s *SettlementService) depositFailed(ctx context.Context, method model.PaymentMethod, t *model.Transaction, request any, cause error) (*DepositResponse, error) {
	if s.fallback.ShouldFallback(method, cause) {
		row, err := s.fallback.Record(ctx, t, request, cause)
		if err != nil {
			return nil, fmt.Errorf("record fallback deposit: %w", err)
		}
		return depositResponse(row), nil
	}
	s.auditGatewayError(ctx, "deposit.rejected", t, cause)
	return nil, classifyGatewayError(cause)
}

// HandleCallback settles the transaction a gateway webhook refers to.
// Replays of an already settled transaction succeed with AlreadyProcessed set.
func (s *SettlementService) HandleCallback(ctx context.Context, req *CallbackRequest) (*CallbackResult, error) {
	t, matchedBy, err := s.locate(ctx, req)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"reference":      req.Reference,
			"transaction_id": req.TransactionID,
			"status":         req.Status,
		}).WithError(err).Warn("callback matched no transaction")
		return nil, err
	}

	var externalRef string
	if req.TransactionID != "" && req.TransactionID != t.LocalID {
		externalRef = req.TransactionID
	}

	res, err := s.settle(ctx, t, req.Status, req.Amount, externalRef, "callback")
	if err != nil {
		return nil, err
	}
	res.MatchedBy = matchedBy

	recordAudit(ctx, s.audit, s.log, audit.Entry{
		Event:         "callback.received",
		TransactionID: t.LocalID,
		UserID:        t.UserID,
		Payload: map[string]any{
			"reference":         req.Reference,
			"reference_no":      req.ReferenceNo,
			"transaction_id":    req.TransactionID,
			"status":            req.Status,
			"amount":            req.Amount.String(),
			"matched_by":        matchedBy,
			"result_status":     res.Status,
			"already_processed": res.AlreadyProcessed,
		},
	})
	return res, nil
}

type lookupStep struct {
	name string
	key  string
	find func(context.Context, string) (*model.Transaction, error)
}

// locate tries our local id, then the provider id, and only then the most
// recent pending deposit of the user inside the configured window.
func (s *SettlementService) locate(ctx context.Context, req *CallbackRequest) (*model.Transaction, string, error) {
	steps := []lookupStep{
		{"reference", req.Reference, s.ledger.FindByLocalID},
		{"reference", req.ReferenceNo, s.ledger.FindByLocalID},
		{"local_id", req.TransactionID, s.ledger.FindByLocalID},
		{"external_ref", req.TransactionID, s.ledger.FindByExternalRef},
	}
	for _, step := range steps {
		if step.key == "" {
			continue
		}
		t, err := step.find(ctx, step.key)
		if err == nil {
			return t, step.name, nil
		}
		if !errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, "", err
		}
	}

	if s.settings.AllowRecentPendingMatch && req.UserID > 0 {
		since := s.now().Add(-s.settings.RecentPendingWindow)
		t, err := s.ledger.FindRecentPendingDeposit(ctx, req.UserID, since)
		if err == nil {
			s.log.WithFields(logrus.Fields{
				"transaction_id": t.LocalID,
				"user_id":        req.UserID,
				"callback_ref":   req.TransactionID,
			}).Warn("callback matched by recent pending deposit")
			return t, "recent_pending", nil
		}
		if !errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, "", err
		}
	}

	return nil, "", fmt.Errorf("%w: reference=%q transaction_id=%q",
		repository.ErrTransactionNotFound, firstNonEmpty(req.Reference, req.ReferenceNo), req.TransactionID)
}

type statusClass int

const (
	classUnknown statusClass = iota
	classSuccess
	classIntermediate
	classFailure
)

// classifyStatus maps a provider status onto what we do with it. Only an
// explicitly named failure releases funds; anything unrecognised keeps the row
// pending, since the provider may still be paying out.
func classifyStatus(status string) statusClass {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "success", "approved", "paid":
		return classSuccess
	case "pending", "processing", "waiting":
		return classIntermediate
	case "failed", "rejected", "cancelled", "canceled", "declined", "error":
		return classFailure
	default:
		return classUnknown
	}
}

// settle applies a provider-reported status to t. Deposits are credited on
// success; withdrawals were debited at reservation and are refunded on failure.
func (s *SettlementService) settle(ctx context.Context, t *model.Transaction, status string, reported decimal.Decimal, externalRef, source string) (*CallbackResult, error) {
	result := &CallbackResult{TransactionID: t.LocalID, Status: t.Status}

	if model.IsTerminal(t.Status) {
		result.AlreadyProcessed = true
		return result, nil
	}
	class := classifyStatus(status)
	if class == classUnknown {
		s.log.WithFields(logrus.Fields{
			"transaction_id": t.LocalID,
			"type":           t.Type,
			"status":         status,
			"source":         source,
		}).Warn("unrecognised provider status, transaction left pending")
		recordAudit(ctx, s.audit, s.log, audit.Entry{
			Event:         "status.unrecognised",
			TransactionID: t.LocalID,
			UserID:        t.UserID,
			Payload:       map[string]any{"status": status, "source": source},
		})
		return result, nil
	}
	if class == classIntermediate {
		return result, nil
	}

	tr := repository.Transition{
		ExternalRef: externalRef,
		Details:     map[string]any{source + "_status": status},
	}
	switch {
	case t.IsDeposit() && class == classSuccess:
		tr.To = model.StatusCompleted
		s.creditAmount(ctx, t, reported, &tr)
	case t.IsDeposit():
		tr.To = model.StatusFailed
	case class == classSuccess:
		tr.To = model.StatusCompleted
	default:
		tr.To = model.StatusFailed
		tr.BalanceDelta = t.AbsAmount()
	}

	row, err := s.ledger.TransitionTerminal(ctx, t.LocalID, tr)
	if errors.Is(err, repository.ErrAlreadyTerminal) {
		result.AlreadyProcessed = true
		if row != nil {
			result.Status = row.Status
		}
		s.log.WithField("transaction_id", t.LocalID).Info("transaction already settled, ignoring replay")
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settle %s: %w", t.LocalID, err)
	}

	result.Status = row.Status
	s.log.WithFields(logrus.Fields{
		"transaction_id": row.LocalID,
		"user_id":        row.UserID,
		"type":           row.Type,
		"status":         row.Status,
		"balance_delta":  tr.BalanceDelta.String(),
		"source":         source,
	}).Info("transaction settled")
	return result, nil
}

// creditAmount sets what a successful deposit credits. A short payment credits
// what arrived and rewrites the row amount to match; an overpayment never
// credits more than was requested and is flagged for review.
func (s *SettlementService) creditAmount(ctx context.Context, t *model.Transaction, reported decimal.Decimal, tr *repository.Transition) {
	tr.BalanceDelta = t.Amount
	if !reported.IsPositive() || reported.Equal(t.Amount) {
		return
	}

	kind := "overpaid"
	if reported.LessThan(t.Amount) {
		kind = "underpaid"
		tr.BalanceDelta = reported
		tr.Amount = decimal.NewNullDecimal(reported)
	}
	tr.Details["amount_mismatch"] = kind
	tr.Details["requested_amount"] = t.Amount.String()
	tr.Details["reported_amount"] = reported.String()

	s.log.WithFields(logrus.Fields{
		"transaction_id": t.LocalID,
		"recorded":       t.Amount.String(),
		"reported":       reported.String(),
		"credited":       tr.BalanceDelta.String(),
	}).Warn("provider amount differs from recorded deposit amount")
	recordAudit(ctx, s.audit, s.log, audit.Entry{
		Event:         "deposit.amount_mismatch",
		TransactionID: t.LocalID,
		UserID:        t.UserID,
		Payload: map[string]any{
			"kind":     kind,
			"recorded": t.Amount.String(),
			"reported": reported.String(),
			"credited": tr.BalanceDelta.String(),
		},
	})
}

// ReconcilePending asks the gateway for the status of a pending transaction and
// settles it the same way a callback would.
func (s *SettlementService) ReconcilePending(ctx context.Context, localID string) (*CallbackResult, error) {
	t, err := s.ledger.FindByLocalID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if model.IsTerminal(t.Status) {
		return &CallbackResult{TransactionID: t.LocalID, Status: t.Status, AlreadyProcessed: true}, nil
	}
	ref := t.ExternalRefValue()
	if ref == "" {
		return nil, ErrNothingToReconcile
	}

	st, err := s.gateway.QueryStatus(ctx, ref)
	if err != nil {
		s.auditGatewayError(ctx, "reconcile.gateway_error", t, err)
		return nil, classifyGatewayError(err)
	}
	res, err := s.settle(ctx, t, st.Status, st.Amount, "", "reconcile")
	if err != nil {
		return nil, err
	}
	res.MatchedBy = "reconcile"
	return res, nil
}

// ReconcileStale sweeps pending rows older than the configured age and returns
// how many reached a terminal status.
func (s *SettlementService) ReconcileStale(ctx context.Context) (int, error) {
	before := s.now().Add(-s.settings.ReconcileAfter)
	limit := s.settings.ReconcileBatchSize
	if limit <= 0 {
		limit = 50
	}

	settled := 0
	for _, txType := range []string{model.TransactionTypeDeposit, model.TransactionTypeWithdrawal} {
		rows, err := s.ledger.ListStalePending(ctx, txType, before, limit)
		if err != nil {
			return settled, fmt.Errorf("list stale %s: %w", txType, err)
		}
		for _, t := range rows {
			res, err := s.ReconcilePending(ctx, t.LocalID)
			if err != nil {
				s.log.WithField("transaction_id", t.LocalID).WithError(err).Warn("reconcile pending transaction")
				continue
			}
			if !res.AlreadyProcessed && model.IsTerminal(res.Status) {
				settled++
			}
		}
	}
	return settled, nil
}

// GetTransaction returns the user's own transaction of the given type. Rows of
// other users look like missing rows.
func (s *SettlementService) GetTransaction(ctx context.Context, localID string, userID int64, txType string) (*model.Transaction, error) {
	t, err := s.ledger.FindByLocalID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID || t.Type != txType {
		return nil, repository.ErrTransactionNotFound
	}
	return t, nil
}

func (s *SettlementService) GetBalance(ctx context.Context, userID int64) (*model.Account, error) {
	return s.ledger.Balance(ctx, userID)
}

func (s *SettlementService) Journal(ctx context.Context, userID int64) ([]*model.JournalEntry, error) {
	return s.ledger.Journal(ctx, userID)
}

// TransactionJournal is the admin view of a single transaction's balance movements.
func (s *SettlementService) TransactionJournal(ctx context.Context, localID string) (*model.Transaction, []*model.JournalEntry, error) {
	t, err := s.ledger.FindByLocalID(ctx, localID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.ledger.TransactionJournal(ctx, t.LocalID)
	if err != nil {
		return nil, nil, err
	}
	return t, entries, nil
}

func (s *SettlementService) resolveMethod(methodID, currency string) (model.PaymentMethod, string, error) {
	method, err := s.catalog.Lookup(methodID)
	if err != nil {
		return model.PaymentMethod{}, "", err
	}
	resolved, err := s.catalog.ResolveCurrency(method, currency)
	if err != nil {
		return model.PaymentMethod{}, "", err
	}
	return method, resolved, nil
}

func (s *SettlementService) resolveChain(network string) (string, error) {
	if s.settings.StrictChainAlias {
		chain, ok := validator.ParseChainAlias(network)
		if !ok {
			return "", fmt.Errorf("%w: %q", validator.ErrUnknownChain, network)
		}
		return chain, nil
	}
	return validator.NormalizeChainAlias(network), nil
}

// findByRequestID returns (nil, nil) when requestID is empty or unknown.
func (s *SettlementService) findByRequestID(ctx context.Context, requestID string) (*model.Transaction, error) {
	if requestID == "" {
		return nil, nil
	}
	t, err := s.ledger.FindByRequestID(ctx, requestID)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, nil
	}
	return t, err
}

func (s *SettlementService) auditGatewayError(ctx context.Context, event string, t *model.Transaction, err error) {
	s.log.WithFields(logrus.Fields{
		"transaction_id": t.LocalID,
		"user_id":        t.UserID,
		"gateway_code":   gateway.ErrorCode(err),
	}).WithError(err).Error("gateway call failed")
	recordAudit(ctx, s.audit, s.log, audit.Entry{
		Event:         event,
		TransactionID: t.LocalID,
		UserID:        t.UserID,
		Payload:       gatewayErrorPayload(err),
	})
}

// classifyGatewayError maps a gateway failure to the user-facing sentinel while
// keeping the original in the chain for logs.
func classifyGatewayError(err error) error {
	if errors.Is(err, gateway.ErrRejected) {
		return fmt.Errorf("%w: %w", ErrGatewayRejected, err)
	}
	return fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
}

func recordAudit(ctx context.Context, sink AuditSink, log *logrus.Logger, e audit.Entry) {
	if err := sink.Record(context.WithoutCancel(ctx), e); err != nil {
		log.WithField("audit_event", e.Event).WithError(err).Error("write audit entry")
	}
}

func depositResponse(t *model.Transaction) *DepositResponse {
	details := t.DetailsMap()
	resp := &DepositResponse{
		TransactionID: t.LocalID,
		ExternalRef:   t.ExternalRefValue(),
		Status:        t.Status,
		Amount:        t.Amount,
		Currency:      t.Currency,
		PaymentMethod: t.PaymentMethod,
		Network:       t.Chain,
		Fallback:      t.Fallback,
	}
	resp.PaymentURL, _ = details["payment_url"].(string)
	resp.DepositAddress, _ = details["deposit_address"].(string)
	return resp
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonEmpty(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
