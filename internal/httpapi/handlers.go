package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"vtu-platform/internal/admin"
	"vtu-platform/internal/auth"
	"vtu-platform/internal/ledger"
	"vtu-platform/internal/purchase"
	"vtu-platform/internal/wallet"
	"vtu-platform/internal/webhook"
	"vtu-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Purchaser runs the synchronous purchase path.
type Purchaser interface {
	Purchase(ctx context.Context, req purchase.Request) (purchase.Result, error)
}

// PinSetter sets or changes a user's transaction PIN.
type PinSetter interface {
	SetPin(ctx context.Context, userID, currentPin, newPin string) error
}

// Reconciler applies a parsed gateway notification.
type Reconciler interface {
	Reconcile(ctx context.Context, n webhook.Notification) (webhook.Receipt, error)
}

// Limiter caps concurrent purchases per user. utils.InFlightCap implements it.
type Limiter interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Wallets   wallet.Store
	Ledger    *ledger.Service
	Pins      PinSetter
	Purchases Purchaser
	Webhooks  Reconciler
	Admin     *admin.Operator

	// PurchaseLimiter is optional.
	PurchaseLimiter Limiter
	// WebhookSecret enables signature verification when set.
	WebhookSecret string
}

func currentUser(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "authentication required", Code: "unauthorized"})
		return "", false
	}
	return uid, true
}

// --- Wallet ---

func (h Handlers) GetWallet(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	w, err := h.Wallets.Get(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// --- Transactions ---

func (h Handlers) ListTransactions(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	f.UserID = uid
	h.list(c, f)
}

func (h Handlers) list(c *gin.Context, f ledger.Filter) {
	txs, err := h.Ledger.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "limit": f.Limit, "offset": f.Offset})
}

// GetTransaction returns one of the caller's transactions by reference. Other users'
// records are reported as not found.
func (h Handlers) GetTransaction(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	t, err := h.Ledger.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		writeError(c, err)
		return
	}
	if t.UserID != uid {
		writeError(c, ledger.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, t)
}

func parseFilter(c *gin.Context) (ledger.Filter, bool) {
	f := ledger.Filter{
		Status:   ledger.Status(c.Query("status")),
		Category: ledger.Category(c.Query("category")),
		Type:     ledger.Type(c.Query("type")),
	}
	if f.Status != "" && !f.Status.Valid() {
		badRequest(c, "unknown status")
		return f, false
	}
	if f.Category != "" && !f.Category.Valid() {
		badRequest(c, "unknown category")
		return f, false
	}
	if f.Type != "" && !f.Type.Valid() {
		badRequest(c, "unknown type")
		return f, false
	}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := strings.TrimSpace(c.Query(key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, key+" must be a non-negative integer")
			return f, false
		}
		*dst = n
	}
	if f.Limit == 0 {
		f.Limit = 50
	}
	return f, true
}

// --- PIN ---

type setPinRequest struct {
	CurrentPin string `json:"currentPin"`
	NewPin     string `json:"newPin"`
}

func (h Handlers) SetPin(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req setPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if err := h.Pins.SetPin(c.Request.Context(), uid, req.CurrentPin, req.NewPin); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- Purchases ---

type purchaseRequest struct {
	ServiceType       string            `json:"serviceType"`
	Amount            decimal.Decimal   `json:"amount"`
	Pin               string            `json:"pin"`
	ServiceParameters map[string]string `json:"serviceParameters"`
}

func (h Handlers) Purchase(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	ctx := c.Request.Context()

	if h.PurchaseLimiter != nil {
		acquired, err := h.PurchaseLimiter.Acquire(ctx, uid)
		switch {
		case err != nil:
			// The wallet's conditional debit still protects the balance.
			logger.From(ctx).Warn("purchase limiter unavailable", "user_id", uid, "err", err)
		case !acquired:
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: "another purchase is in progress", Code: "purchase_in_progress"})
			return
		default:
			defer func() {
				if err := h.PurchaseLimiter.Release(context.WithoutCancel(ctx), uid); err != nil {
					logger.From(ctx).Warn("purchase limiter release failed", "user_id", uid, "err", err)
				}
			}()
		}
	}

	res, err := h.Purchases.Purchase(ctx, purchase.Request{
		UserID:            uid,
		ServiceType:       req.ServiceType,
		Amount:            req.Amount,
		Pin:               req.Pin,
		ServiceParameters: req.ServiceParameters,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
