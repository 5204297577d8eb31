package httpapi

import (
	"context"
	"net/http"

	"vtu-platform/internal/admin"
	"vtu-platform/internal/audit"
	"vtu-platform/internal/auth"
	"vtu-platform/internal/ledger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// actor identifies the admin making the request for the audit trail.
func actor(c *gin.Context) audit.Actor {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return audit.Actor{UserID: uid, Role: role, IP: c.ClientIP()}
}

// AdminListTransactions lists any user's transactions; userId is an optional filter.
func (h Handlers) AdminListTransactions(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	f.UserID = c.Query("userId")
	h.list(c, f)
}

type bulkStatusRequest struct {
	IDs    []string      `json:"ids"`
	Status ledger.Status `json:"status"`
	Reason string        `json:"reason"`
}

func (h Handlers) AdminBulkStatus(c *gin.Context) {
	var req bulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if !req.Status.Valid() {
		badRequest(c, "unknown status")
		return
	}
	results, err := h.Admin.BulkTransition(c.Request.Context(), actor(c), req.IDs, req.Status, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type retryRequest struct {
	Resume bool `json:"resume"`
}

func (h Handlers) AdminRetry(c *gin.Context) {
	var req retryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid json")
			return
		}
	}
	out, err := h.Admin.Retry(c.Request.Context(), actor(c), c.Param("id"), req.Resume)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// bindReason reads the reason from the JSON body, falling back to ?reason=.
func bindReason(c *gin.Context) (string, bool) {
	var req reasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid json")
			return "", false
		}
	}
	if req.Reason == "" {
		req.Reason = c.Query("reason")
	}
	return req.Reason, true
}

func (h Handlers) AdminCancel(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}
	t, err := h.Admin.Cancel(c.Request.Context(), actor(c), c.Param("id"), reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// AdminSoftDelete cancels a record while keeping it. There is no hard delete.
func (h Handlers) AdminSoftDelete(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}
	t, err := h.Admin.SoftDelete(c.Request.Context(), actor(c), c.Param("id"), reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type bulkDeleteRequest struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason"`
}

func (h Handlers) AdminBulkSoftDelete(c *gin.Context) {
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	results, err := h.Admin.BulkSoftDelete(c.Request.Context(), actor(c), req.IDs, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type manualPostingRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Reference string          `json:"reference"`
	Category  ledger.Category `json:"category"`
}

func (h Handlers) AdminFund(c *gin.Context)  { h.manualPosting(c, h.Admin.ManualFund) }
func (h Handlers) AdminDebit(c *gin.Context) { h.manualPosting(c, h.Admin.ManualDebit) }

type postingFunc func(ctx context.Context, a audit.Actor, p admin.ManualPosting) (ledger.Transaction, error)

func (h Handlers) manualPosting(c *gin.Context, post postingFunc) {
	var req manualPostingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	t, err := post(c.Request.Context(), actor(c), admin.ManualPosting{
		UserID:    c.Param("user_id"),
		Amount:    req.Amount,
		Reason:    req.Reason,
		Reference: req.Reference,
		Category:  req.Category,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}
