package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"casinopay/internal/service"
	"casinopay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"
)

const signatureHeader = "X-Signature"

// DepositCallback is the gateway webhook. The body must carry a hex HMAC-SHA256
// in X-Signature; without a configured secret every callback is refused.
// POST /api/v1/deposit/callback
func (h *Handler) DepositCallback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.ParamError(c, "unreadable body")
		return
	}
	if !h.validSignature(body, c.GetHeader(signatureHeader)) {
		h.log.WithField("client_ip", c.ClientIP()).Warn("callback signature mismatch")
		response.Unauthorized(c, "invalid signature")
		return
	}

	var req service.CallbackRequest
	if err := binding.JSON.BindBody(body, &req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.settlement.HandleCallback(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.WithFields(logrus.Fields{
		"transaction_id":    res.TransactionID,
		"status":            res.Status,
		"already_processed": res.AlreadyProcessed,
		"matched_by":        res.MatchedBy,
	}).Info("callback processed")
	response.Success(c, res)
}

func (h *Handler) validSignature(body []byte, signature string) bool {
	if len(h.callbackSecret) == 0 {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, SignCallback(h.callbackSecret, body))
}

// SignCallback computes the X-Signature value for body.
func SignCallback(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
