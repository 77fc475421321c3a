package handler

import (
	"errors"
	"net/http"
	"strconv"

	"casinopay/internal/model"
	"casinopay/internal/service"
	"casinopay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	settlement     *service.SettlementService
	callbackSecret []byte
	log            *logrus.Logger
}

func NewHandler(settlement *service.SettlementService, callbackSecret string, log *logrus.Logger) *Handler {
	h := &Handler{settlement: settlement, log: log}
	if callbackSecret != "" {
		h.callbackSecret = []byte(callbackSecret)
	}
	return h
}

// CreateDeposit
// POST /api/v1/deposit/create
func (h *Handler) CreateDeposit(c *gin.Context) {
	var req service.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	if !h.identify(c, &req.UserID, &req.Username) {
		return
	}

	resp, err := h.settlement.CreateDeposit(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, resp)
}

// CreateCryptoDeposit
// POST /api/v1/crypto-deposit
func (h *Handler) CreateCryptoDeposit(c *gin.Context) {
	var req service.CryptoDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	if !h.identify(c, &req.UserID, &req.Username) {
		return
	}

	resp, err := h.settlement.CreateCryptoDeposit(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, resp)
}

// GetDepositStatus
// GET /api/v1/deposit/status/:id
func (h *Handler) GetDepositStatus(c *gin.Context) {
	h.transactionStatus(c, model.TransactionTypeDeposit)
}

// CreateWithdrawal
// POST /api/v1/withdrawal/create
func (h *Handler) CreateWithdrawal(c *gin.Context) {
	var req service.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	if !h.identify(c, &req.UserID, &req.Username) {
		return
	}

	resp, err := h.settlement.CreateWithdrawal(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, resp)
}

// GetWithdrawalStatus
// GET /api/v1/withdrawal/status/:id
func (h *Handler) GetWithdrawalStatus(c *gin.Context) {
	h.transactionStatus(c, model.TransactionTypeWithdrawal)
}

// GetBalance
// GET /api/v1/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID, err := GetUserID(c)
	if err != nil {
		response.Unauthorized(c, "unauthenticated")
		return
	}
	account, err := h.settlement.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id": account.UserID,
		"balance": account.Balance,
	})
}

// GetJournal lists the caller's balance movements, oldest first.
// GET /api/v1/journal
func (h *Handler) GetJournal(c *gin.Context) {
	userID, err := GetUserID(c)
	if err != nil {
		response.Unauthorized(c, "unauthenticated")
		return
	}
	entries, err := h.settlement.Journal(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id": userID,
		"entries": entries,
	})
}

func (h *Handler) transactionStatus(c *gin.Context, txType string) {
	userID, err := GetUserID(c)
	if err != nil {
		response.Unauthorized(c, "unauthenticated")
		return
	}
	t, err := h.settlement.GetTransaction(c.Request.Context(), c.Param("id"), userID, txType)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, t)
}

func (h *Handler) identify(c *gin.Context, userID *int64, username *string) bool {
	id, err := GetUserID(c)
	if err != nil {
		response.Unauthorized(c, "unauthenticated")
		return false
	}
	*userID = id
	*username = GetUsername(c)
	return true
}

// fail maps service errors onto the envelope. Gateway and internal failures
// get a generic message; the detail stays in the logs.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		response.BusinessError(c, http.StatusBadRequest, response.CodeValidationFailed, err.Error())
	case errors.Is(err, service.ErrInsufficientBalance):
		response.BusinessError(c, http.StatusUnprocessableEntity, response.CodeInsufficientBalance, "insufficient balance")
	case errors.Is(err, service.ErrTransactionNotFound):
		response.BusinessError(c, http.StatusNotFound, response.CodeTransactionNotFound, "transaction not found")
	case errors.Is(err, service.ErrDuplicateTransaction):
		response.BusinessError(c, http.StatusConflict, response.CodeDuplicateTransaction, "duplicate transaction")
	case errors.Is(err, service.ErrAlreadyTerminal):
		response.BusinessError(c, http.StatusConflict, response.CodeAlreadyProcessed, "transaction already processed")
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrNotWithdrawal),
		errors.Is(err, service.ErrNotDeposit),
		errors.Is(err, service.ErrNothingToReconcile):
		response.BusinessError(c, http.StatusConflict, response.CodeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrGatewayRejected):
		h.log.WithError(err).Warn("payment rejected by gateway")
		response.BusinessError(c, http.StatusBadGateway, response.CodePaymentFailed, service.ErrGatewayRejected.Error())
	case errors.Is(err, service.ErrGatewayUnreachable):
		h.log.WithError(err).Warn("gateway unavailable")
		response.BusinessError(c, http.StatusServiceUnavailable, response.CodeGatewayUnavailable, service.ErrGatewayUnreachable.Error())
	default:
		h.log.WithField("path", c.FullPath()).WithError(err).Error("request failed")
		response.ServerError(c, "internal server error")
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
