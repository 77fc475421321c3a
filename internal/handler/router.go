package handler

import (
	"net/http"

	"casinopay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func SetupRouter(h *Handler, jwtMiddleware *JWTMiddleware, log *logrus.Logger, ginMode string) *gin.Engine {
	if ginMode != "" {
		gin.SetMode(ginMode)
	}

	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "route not found")
	})

	api := r.Group("/api/v1")
	{
		// the gateway authenticates with X-Signature, not a bearer token
		api.POST("/deposit/callback", h.DepositCallback)

		user := api.Group("")
		user.Use(jwtMiddleware.Auth())
		{
			user.POST("/deposit/create", h.CreateDeposit)
			user.POST("/crypto-deposit", h.CreateCryptoDeposit)
			user.GET("/deposit/status/:id", h.GetDepositStatus)
			user.POST("/withdrawal/create", h.CreateWithdrawal)
			user.GET("/withdrawal/status/:id", h.GetWithdrawalStatus)
			user.GET("/balance", h.GetBalance)
			user.GET("/journal", h.GetJournal)
		}

		admin := api.Group("/admin")
		admin.Use(jwtMiddleware.Auth(), jwtMiddleware.AdminOnly())
		{
			admin.GET("/withdrawals", h.ListWithdrawals)
			admin.PATCH("/withdrawals/bulk/status", h.BulkResolveWithdrawals)
			admin.PATCH("/withdrawals/:id/status", h.ResolveWithdrawal)
			admin.PATCH("/deposits/:id/status", h.ResolveDeposit)
			admin.GET("/transactions/:id/journal", h.GetTransactionJournal)
			admin.POST("/transactions/:id/reconcile", h.ReconcileTransaction)
		}
	}

	return r
}
