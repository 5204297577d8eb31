package httpapi

import (
	"vtu-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the webhook, user and admin routes. authMW must verify the bearer
// token and put the identity on the request context.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc) {
	r.POST("/webhooks/payments", h.PaymentWebhook)

	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireIdentity())
	{
		v1.GET("/wallet", h.GetWallet)
		v1.GET("/transactions", h.ListTransactions)
		v1.GET("/transactions/:reference", h.GetTransaction)
		v1.PUT("/pin", h.SetPin)
		v1.POST("/purchases", h.Purchase)
	}

	adm := v1.Group("/admin")
	adm.Use(rbac.RequireAdmin())
	{
		adm.GET("/transactions", h.AdminListTransactions)
		adm.POST("/transactions/bulk-status", h.AdminBulkStatus)
		adm.POST("/transactions/bulk-delete", h.AdminBulkSoftDelete)
		adm.POST("/transactions/:id/retry", h.AdminRetry)
		adm.POST("/transactions/:id/cancel", h.AdminCancel)
		adm.DELETE("/transactions/:id", h.AdminSoftDelete)
		adm.POST("/wallets/:user_id/fund", h.AdminFund)
		adm.POST("/wallets/:user_id/debit", h.AdminDebit)
	}
}
