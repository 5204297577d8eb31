package httpapi

import (
	"errors"
	"io"
	"net/http"

	"vtu-platform/internal/webhook"
	"vtu-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// PaymentWebhook receives gateway funding notifications.
//
// Once the idempotency decision is made the gateway always gets 200, whatever the
// outcome. Storage errors answer 500 so the gateway redelivers.
func (h Handlers) PaymentWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.From(ctx)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}
	if h.WebhookSecret != "" && !webhook.VerifySignature(body, h.WebhookSecret, c.GetHeader(webhook.SignatureHeader)) {
		log.Warn("webhook signature rejected", "client_ip", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "invalid signature", Code: "invalid_signature"})
		return
	}

	n, err := webhook.ParseNotification(body)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	rc, err := h.Webhooks.Reconcile(ctx, n)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidPayload) {
			badRequest(c, err.Error())
			return
		}
		log.Error("webhook reconciliation failed", "gateway_reference", n.GatewayReference, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "processing failed", Code: "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": rc.Outcome, "transaction": rc.Transaction})
}
