package service

import (
	"context"
	"errors"
	"strings"

	"casinopay/internal/gateway"
	"casinopay/internal/infrastructure/audit"
	"casinopay/internal/model"
	"casinopay/internal/repository"

	"github.com/sirupsen/logrus"
)

// FallbackHandler keeps a deposit alive locally when the gateway could not be
// reached. The pending row it writes is settled later through the same
// callback, sweep or admin path as any other row.
type FallbackHandler struct {
	ledger         *repository.Ledger
	audit          AuditSink
	ambiguousCodes map[string]struct{}
	log            *logrus.Logger
}

func NewFallbackHandler(ledger *repository.Ledger, sink AuditSink, ambiguousCodes []string, log *logrus.Logger) *FallbackHandler {
	codes := make(map[string]struct{}, len(ambiguousCodes))
	for _, c := range ambiguousCodes {
		codes[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return &FallbackHandler{
		ledger:         ledger,
		audit:          sink,
		ambiguousCodes: codes,
		log:            log,
	}
}

// ShouldFallback reports whether a failed deposit call is recorded locally
// instead of being surfaced. Unreachable always qualifies; a rejection only
// when the method is crypto and the provider code is known to be ambiguous.
func (h *FallbackHandler) ShouldFallback(method model.PaymentMethod, err error) bool {
	if errors.Is(err, gateway.ErrUnreachable) {
		return true
	}
	if !errors.Is(err, gateway.ErrRejected) || !method.IsCrypto() {
		return false
	}
	_, ok := h.ambiguousCodes[strings.ToUpper(gateway.ErrorCode(err))]
	return ok
}

// Record stores t as a pending fallback row. request is the payload that was
// sent to the gateway; it is kept in the row details for manual follow-up.
func (h *FallbackHandler) Record(ctx context.Context, t *model.Transaction, request any, cause error) (*model.Transaction, error) {
	t.Fallback = true
	t.ExternalRef = nil
	if err := t.MergeDetails(map[string]any{
		"fallback_request": request,
		"gateway_error":    cause.Error(),
	}); err != nil {
		return nil, err
	}
	if err := h.ledger.Create(ctx, t); err != nil {
		return nil, err
	}

	h.log.WithFields(logrus.Fields{
		"transaction_id": t.LocalID,
		"user_id":        t.UserID,
		"payment_method": t.PaymentMethod,
	}).WithError(cause).Warn("gateway unavailable, recorded fallback deposit")

	recordAudit(ctx, h.audit, h.log, audit.Entry{
		Event:         "deposit.fallback",
		TransactionID: t.LocalID,
		UserID:        t.UserID,
		Payload: map[string]any{
			"request": request,
			"error":   gatewayErrorPayload(cause),
		},
	})
	return t, nil
}

// gatewayErrorPayload flattens a gateway failure for the audit log, keeping the
// raw request and response bodies.
func gatewayErrorPayload(err error) map[string]any {
	out := map[string]any{"error": err.Error()}
	if gwErr, ok := gateway.AsError(err); ok {
		out["op"] = gwErr.Op
		out["status_code"] = gwErr.StatusCode
		out["code"] = gwErr.Code
		out["message"] = gwErr.Message
		out["request_body"] = gwErr.RequestBody
		out["response_body"] = gwErr.ResponseBody
	}
	return out
}
