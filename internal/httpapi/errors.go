package httpapi

import (
	"errors"
	"net/http"

	"vtu-platform/internal/admin"
	"vtu-platform/internal/catalog"
	"vtu-platform/internal/ledger"
	"vtu-platform/internal/pinguard"
	"vtu-platform/internal/purchase"
	"vtu-platform/internal/wallet"
	"vtu-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// errorBody is the JSON shape of every failed response. Code is stable for clients.
type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps domain errors to HTTP statuses. Unknown errors are logged and
// reported as 500 without leaking their text.
func writeError(c *gin.Context, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		logger.From(c.Request.Context()).Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: msg, Code: "validation_error"})
}

func classify(err error) (int, errorBody) {
	var (
		locked       *pinguard.LockedError
		invalidPin   *pinguard.InvalidPinError
		insufficient *wallet.InsufficientBalanceError
		outOfRange   *catalog.AmountOutOfRangeError
		unavailable  *purchase.ServiceUnavailableError
		provider     *purchase.ProviderFailureError
		retryLimit   *ledger.RetryLimitExceededError
	)

	switch {
	case errors.As(err, &locked):
		return http.StatusLocked, errorBody{
			Error:   err.Error(),
			Code:    "account_locked",
			Details: map[string]any{"remainingMinutes": locked.RemainingMinutes()},
		}
	case errors.As(err, &invalidPin):
		return http.StatusUnauthorized, errorBody{
			Error:   err.Error(),
			Code:    "invalid_pin",
			Details: map[string]any{"attemptsRemaining": invalidPin.AttemptsRemaining},
		}
	case errors.Is(err, pinguard.ErrPinNotSet):
		return http.StatusForbidden, errorBody{Error: err.Error(), Code: "pin_not_set"}
	case errors.As(err, &insufficient):
		return http.StatusPaymentRequired, errorBody{
			Error: err.Error(),
			Code:  "insufficient_balance",
			Details: map[string]any{
				"balance":  insufficient.Balance,
				"required": insufficient.Required,
			},
		}
	case errors.As(err, &outOfRange):
		return http.StatusBadRequest, errorBody{
			Error: err.Error(),
			Code:  "validation_error",
			Details: map[string]any{
				"minAmount": outOfRange.Min,
				"maxAmount": outOfRange.Max,
			},
		}
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, errorBody{
			Error:   err.Error(),
			Code:    "service_unavailable",
			Details: map[string]any{"reason": unavailable.Reason},
		}
	case errors.As(err, &provider):
		return http.StatusBadGateway, errorBody{
			Error:   err.Error(),
			Code:    "provider_failure",
			Details: map[string]any{"transaction": provider.Transaction},
		}
	case errors.As(err, &retryLimit):
		return http.StatusConflict, errorBody{
			Error:   err.Error(),
			Code:    "retry_limit_exceeded",
			Details: map[string]any{"retryCount": retryLimit.RetryCount},
		}
	case errors.Is(err, ledger.ErrComplianceHold):
		return http.StatusForbidden, errorBody{Error: err.Error(), Code: "compliance_hold"}
	case errors.Is(err, ledger.ErrUnsettled):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "unsettled"}
	case errors.Is(err, ledger.ErrInvalidTransition):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "invalid_transition"}
	case errors.Is(err, ledger.ErrDuplicateReference), errors.Is(err, wallet.ErrReferenceReused):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "duplicate_reference"}
	case errors.Is(err, purchase.ErrNotResumable):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "not_resumable"}
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, wallet.ErrWalletNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, purchase.ErrInvalidRequest),
		errors.Is(err, pinguard.ErrInvalidPinFormat),
		errors.Is(err, ledger.ErrReasonRequired),
		errors.Is(err, ledger.ErrInvalidDraft),
		errors.Is(err, wallet.ErrInvalidArgument),
		errors.Is(err, admin.ErrInvalidPosting),
		errors.Is(err, admin.ErrEmptySelection),
		errors.Is(err, admin.ErrTooManyItems):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation_error"}
	case errors.Is(err, wallet.ErrConflict):
		return http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: "storage_conflict"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal_error"}
	}
}
