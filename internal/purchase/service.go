package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vtu-platform/internal/catalog"
	"vtu-platform/internal/fulfillment"
	"vtu-platform/internal/ledger"
	"vtu-platform/internal/metrics"
	"vtu-platform/internal/pinguard"
	"vtu-platform/internal/wallet"
	"vtu-platform/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PinVerifier is the subset of the PIN guard the orchestrator needs.
type PinVerifier interface {
	LockStatus(ctx context.Context, userID string) error
	Verify(ctx context.Context, userID, pin string) error
}

// Service runs the synchronous purchase path.
//
// Steps run strictly in order and stop at the first failure:
// availability, amount limits, PIN lock, PIN, balance, provider, then debit and record.
// The wallet is debited only after the provider confirms fulfillment.
type Service struct {
	catalog  catalog.Availability
	pins     PinVerifier
	wallets  wallet.Store
	ledger   *ledger.Service
	provider fulfillment.Provider
	metrics  *metrics.Metrics

	clock        func() time.Time
	newReference func() string
}

func NewService(
	cat catalog.Availability,
	pins PinVerifier,
	wallets wallet.Store,
	ledgerSvc *ledger.Service,
	provider fulfillment.Provider,
	m *metrics.Metrics,
) *Service {
	s := &Service{
		catalog:  cat,
		pins:     pins,
		wallets:  wallets,
		ledger:   ledgerSvc,
		provider: provider,
		metrics:  m,
		clock:    time.Now,
	}
	s.newReference = s.generateReference
	return s
}

type Request struct {
	UserID            string            `json:"userId"`
	ServiceType       string            `json:"serviceType"`
	Amount            decimal.Decimal   `json:"amount"`
	Pin               string            `json:"-"`
	ServiceParameters map[string]string `json:"serviceParameters,omitempty"`
}

type Result struct {
	Success     bool               `json:"success"`
	Transaction ledger.Transaction `json:"transaction"`
	NewBalance  decimal.Decimal    `json:"newBalance"`
}

// Purchase buys a VTU product for req.UserID.
func (s *Service) Purchase(ctx context.Context, req Request) (Result, error) {
	res, err := s.purchase(ctx, req)
	s.metrics.RecordPurchase(req.ServiceType, outcomeLabel(err))
	return res, err
}

func (s *Service) purchase(ctx context.Context, req Request) (Result, error) {
	if req.UserID == "" || strings.TrimSpace(req.ServiceType) == "" {
		return Result{}, fmt.Errorf("%w: userId and serviceType are required", ErrInvalidRequest)
	}
	log := logger.From(ctx).With("user_id", req.UserID, "service_type", req.ServiceType)

	// 1. availability
	svc, err := s.catalog.Lookup(ctx, req.ServiceType)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownService) {
			return Result{}, &ServiceUnavailableError{ServiceType: req.ServiceType, Reason: "unknown service type"}
		}
		return Result{}, err
	}
	if !svc.Enabled {
		return Result{}, &ServiceUnavailableError{ServiceType: req.ServiceType, Reason: svc.UnavailableReason()}
	}

	// 2. limits
	if err := svc.CheckAmount(req.Amount); err != nil {
		return Result{}, err
	}

	// 3-4. PIN lock, then PIN
	if err := s.pins.LockStatus(ctx, req.UserID); err != nil {
		return Result{}, err
	}
	if err := s.pins.Verify(ctx, req.UserID, req.Pin); err != nil {
		return Result{}, err
	}

	// 5. non-mutating balance check; the debit re-checks atomically
	w, err := s.wallets.Get(ctx, req.UserID)
	if err != nil {
		return Result{}, err
	}
	if w.Balance.LessThan(req.Amount) {
		return Result{}, &wallet.InsufficientBalanceError{Balance: w.Balance, Required: req.Amount}
	}

	// 6. provider
	orderRef := s.newReference()
	meta := ledger.Metadata{
		OrderReference:    orderRef,
		ServiceType:       req.ServiceType,
		ServiceParameters: req.ServiceParameters,
	}
	fr, ferr := s.fulfill(ctx, fulfillment.Request{
		ServiceType: req.ServiceType,
		Amount:      req.Amount,
		Reference:   orderRef,
		Parameters:  req.ServiceParameters,
	})

	draft := ledger.Draft{
		WalletID:        w.ID,
		UserID:          req.UserID,
		Type:            ledger.TypeDebit,
		Amount:          req.Amount,
		PreviousBalance: w.Balance,
		NewBalance:      w.Balance,
		Category:        ledger.CategoryPayment,
		Reference:       orderRef,
		Description:     describe(svc, req),
		Metadata:        meta,
	}

	// 8. provider failure: record and surface, wallet untouched
	if ferr != nil || !fr.Success {
		msg := failureMessage(fr, ferr)
		draft.Status = ledger.StatusFailed
		draft.Metadata.FailureReason = msg
		draft.Metadata.ProviderReference = fr.ProviderReference
		draft.Metadata.ProviderMessage = fr.Message
		tx, err := s.ledger.Create(ctx, draft)
		if err != nil {
			log.Error("failed purchase could not be recorded", "order_reference", orderRef, "err", err)
			return Result{}, err
		}
		log.Warn("purchase failed at provider", "reference", tx.Reference, "reason", msg)
		return Result{Transaction: tx, NewBalance: w.Balance}, &ProviderFailureError{Message: msg, Transaction: tx, Err: ferr}
	}

	// 7. provider success: debit, then record completed. The order reference stays the
	// ledger reference; provider ids are not unique across the ledger.
	draft.Metadata.ProviderReference = fr.ProviderReference
	draft.Metadata.ProviderMessage = fr.Message
	draft.Metadata.Fulfilled = true

	posted, err := s.wallets.Debit(ctx, wallet.Posting{UserID: req.UserID, Amount: req.Amount, Reference: orderRef})
	if err != nil {
		// Goods were delivered but not paid for; keep a failed record for reconciliation.
		draft.Status = ledger.StatusFailed
		draft.Metadata.FailureReason = "wallet debit failed after fulfillment: " + err.Error()
		if tx, cerr := s.ledger.Create(ctx, draft); cerr != nil {
			log.Error("unpaid fulfillment could not be recorded", "order_reference", orderRef, "err", cerr)
		} else {
			log.Error("wallet debit failed after fulfillment", "reference", tx.Reference, "err", err)
		}
		return Result{}, err
	}

	draft.Status = ledger.StatusCompleted
	draft.WalletID = posted.WalletID
	draft.PreviousBalance = posted.PreviousBalance
	draft.NewBalance = posted.NewBalance
	tx, err := s.ledger.Create(ctx, draft)
	if err != nil {
		log.Error("debited purchase could not be recorded", "order_reference", orderRef, "err", err)
		return Result{}, fmt.Errorf("%w: order %s: %v", ErrRecordFailed, orderRef, err)
	}

	log.Info("purchase completed",
		"reference", tx.Reference,
		"amount", req.Amount.String(),
		"new_balance", posted.NewBalance.String(),
	)
	return Result{Success: true, Transaction: tx, NewBalance: posted.NewBalance}, nil
}

// Resume re-runs fulfillment for a pending payment record, typically one that an admin
// moved back from failed with ledger.Service.Retry. The record is completed or failed
// in place. An order the provider already fulfilled is only debited, never re-sent.
func (s *Service) Resume(ctx context.Context, transactionID string) (Result, error) {
	tx, err := s.ledger.Get(ctx, transactionID)
	if err != nil {
		return Result{}, err
	}
	if tx.Status != ledger.StatusPending || tx.Category != ledger.CategoryPayment || tx.Metadata.ServiceType == "" {
		return Result{}, fmt.Errorf("%w: %s is %s/%s", ErrNotResumable, tx.ID, tx.Category, tx.Status)
	}
	log := logger.From(ctx).With("transaction_id", tx.ID, "user_id", tx.UserID)

	orderRef := tx.Metadata.OrderReference
	if orderRef == "" {
		orderRef = tx.Reference
	}

	if !tx.Metadata.Fulfilled {
		w, err := s.wallets.Get(ctx, tx.UserID)
		if err != nil {
			return Result{}, err
		}
		if w.Balance.LessThan(tx.Amount) {
			ierr := &wallet.InsufficientBalanceError{Balance: w.Balance, Required: tx.Amount}
			failed, err := s.ledger.Fail(ctx, tx.ID, ierr.Error(), ledger.SystemActor, nil)
			if err != nil {
				log.Error("resumed purchase could not be marked failed", "err", err)
				return Result{NewBalance: w.Balance}, errors.Join(ierr, err)
			}
			return Result{Transaction: failed, NewBalance: w.Balance}, ierr
		}

		fr, ferr := s.fulfill(ctx, fulfillment.Request{
			ServiceType: tx.Metadata.ServiceType,
			Amount:      tx.Amount,
			Reference:   fmt.Sprintf("%s-R%d", orderRef, tx.Metadata.Retries()),
			Parameters:  tx.Metadata.ServiceParameters,
		})
		if ferr != nil || !fr.Success {
			msg := failureMessage(fr, ferr)
			failed, err := s.ledger.Fail(ctx, tx.ID, msg, ledger.SystemActor, func(m *ledger.Metadata) {
				m.ProviderMessage = fr.Message
			})
			if err != nil {
				return Result{}, err
			}
			log.Warn("resumed purchase failed at provider", "reason", msg)
			return Result{Transaction: failed, NewBalance: w.Balance}, &ProviderFailureError{Message: msg, Transaction: failed, Err: ferr}
		}
		tx.Metadata.ProviderReference = fr.ProviderReference
		tx.Metadata.ProviderMessage = fr.Message
	}

	posted, err := s.wallets.Debit(ctx, wallet.Posting{UserID: tx.UserID, Amount: tx.Amount, Reference: orderRef})
	if err != nil {
		providerRef, providerMsg := tx.Metadata.ProviderReference, tx.Metadata.ProviderMessage
		_, ferr := s.ledger.Fail(ctx, tx.ID, "wallet debit failed after fulfillment: "+err.Error(), ledger.SystemActor, func(m *ledger.Metadata) {
			m.ProviderReference = providerRef
			m.ProviderMessage = providerMsg
			m.Fulfilled = true
		})
		if ferr != nil {
			log.Error("unpaid fulfillment could not be recorded", "err", ferr)
		}
		return Result{}, err
	}

	providerRef, providerMsg := tx.Metadata.ProviderReference, tx.Metadata.ProviderMessage
	done, err := s.ledger.Complete(ctx, tx.ID, ledger.Settlement{
		WalletID:        posted.WalletID,
		PreviousBalance: posted.PreviousBalance,
		NewBalance:      posted.NewBalance,
		Metadata: func(m *ledger.Metadata) {
			m.ProviderReference = providerRef
			m.ProviderMessage = providerMsg
			m.Fulfilled = true
			m.FailureReason = ""
		},
	}, ledger.SystemActor)
	if err != nil {
		log.Error("resumed purchase debited but not recorded", "order_reference", orderRef, "err", err)
		return Result{}, fmt.Errorf("%w: order %s: %v", ErrRecordFailed, orderRef, err)
	}
	log.Info("resumed purchase completed", "reference", done.Reference, "new_balance", posted.NewBalance.String())
	return Result{Success: true, Transaction: done, NewBalance: posted.NewBalance}, nil
}

// fulfill calls the provider and records its latency.
func (s *Service) fulfill(ctx context.Context, req fulfillment.Request) (fulfillment.Result, error) {
	start := s.clock()
	res, err := s.provider.Fulfill(ctx, req)
	result := "ok"
	switch {
	case errors.Is(err, fulfillment.ErrTimeout):
		result = "timeout"
	case err != nil:
		result = "error"
	case !res.Success:
		result = "rejected"
	}
	s.metrics.ObserveProviderCall(s.provider.Name(), result, s.clock().Sub(start))
	return res, err
}

func (s *Service) generateReference() string {
	return fmt.Sprintf("VTU-%d-%s", s.clock().UnixMilli(), strings.ToUpper(uuid.NewString()[:8]))
}

func failureMessage(fr fulfillment.Result, err error) string {
	switch {
	case errors.Is(err, fulfillment.ErrTimeout):
		return "provider did not respond in time"
	case err != nil:
		return "provider unavailable"
	case fr.Message != "":
		return fr.Message
	default:
		return "provider declined the purchase"
	}
}

func describe(svc catalog.Service, req Request) string {
	name := svc.Name
	if name == "" {
		name = req.ServiceType
	}
	if target := req.ServiceParameters["phone"]; target != "" {
		return fmt.Sprintf("%s purchase for %s", name, target)
	}
	return name + " purchase"
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, catalog.ErrAmountOutOfRange), errors.Is(err, catalog.ErrAmountPrecision):
		return "amount_out_of_range"
	case errors.Is(err, pinguard.ErrLocked):
		return "locked"
	case errors.Is(err, pinguard.ErrInvalidPin):
		return "invalid_pin"
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrProviderFailure):
		return "provider_failure"
	default:
		return "error"
	}
}
