package handler

import (
	"strconv"

	"casinopay/internal/model"
	"casinopay/pkg/response"

	"github.com/gin-gonic/gin"
)

type ResolveRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note" binding:"max=256"`
}

type BulkResolveRequest struct {
	IDs    []string `json:"ids" binding:"required,min=1,max=200"`
	Status string   `json:"status" binding:"required"`
	Note   string   `json:"note" binding:"max=256"`
}

// ResolveWithdrawal
// PATCH /api/v1/admin/withdrawals/:id/status
func (h *Handler) ResolveWithdrawal(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	t, err := h.settlement.ResolveWithdrawal(c.Request.Context(), c.Param("id"), req.Status, reviewer(c), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, t)
}

// BulkResolveWithdrawals answers 200 with per-id results even when some ids
// failed.
// PATCH /api/v1/admin/withdrawals/bulk/status
func (h *Handler) BulkResolveWithdrawals(c *gin.Context) {
	var req BulkResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	results, err := h.settlement.BulkResolveWithdrawals(c.Request.Context(), req.IDs, req.Status, reviewer(c), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	response.Success(c, gin.H{
		"total":     len(results),
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
		"results":   results,
	})
}

// ListWithdrawals
// GET /api/v1/admin/withdrawals?status=pending&page=1&page_size=20
func (h *Handler) ListWithdrawals(c *gin.Context) {
	status := c.Query("status")
	if status != "" && status != model.StatusPending && !model.IsTerminal(status) {
		response.ParamError(c, "unknown status")
		return
	}
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)

	rows, total, err := h.settlement.ListWithdrawals(c.Request.Context(), status, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"total": total,
		"page":  page,
		"list":  rows,
	})
}

// ResolveDeposit settles a deposit by hand, usually a fallback row.
// PATCH /api/v1/admin/deposits/:id/status
func (h *Handler) ResolveDeposit(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	t, err := h.settlement.ResolveDeposit(c.Request.Context(), c.Param("id"), req.Status, reviewer(c), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, t)
}

// ReconcileTransaction
// POST /api/v1/admin/transactions/:id/reconcile
func (h *Handler) ReconcileTransaction(c *gin.Context) {
	res, err := h.settlement.ReconcilePending(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, res)
}

func reviewer(c *gin.Context) string {
	if name := GetUsername(c); name != "" {
		return name
	}
	if id, err := GetUserID(c); err == nil {
		return "admin#" + strconv.FormatInt(id, 10)
	}
	return "admin"
}

func (h *Handler) GetTransactionJournal(c *gin.Context) {
	t, entries, err := h.settlement.TransactionJournal(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"transaction": t,
		"entries":     entries,
	})
}
