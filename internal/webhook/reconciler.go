package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vtu-platform/internal/ledger"
	"vtu-platform/internal/metrics"
	"vtu-platform/internal/wallet"
	"vtu-platform/pkg/logger"
)

// Outcome is the idempotency decision for one delivery. Every outcome is acknowledged
// to the gateway; only errors make it retry.
type Outcome string

const (
	OutcomeCredited          Outcome = "credited"
	OutcomeAlreadyProcessed  Outcome = "already_processed"
	OutcomeIgnored           Outcome = "ignored"
	OutcomeUnmatched         Outcome = "unmatched"
	OutcomeReferenceConflict Outcome = "reference_conflict"
)

// Receipt describes what a delivery did.
type Receipt struct {
	Outcome     Outcome             `json:"outcome"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
}

const DefaultPaidStatus = "PAID"

// Reconciler credits wallets from gateway notifications exactly once per gateway
// reference.
//
// The gateway reference is both the ledger reference (UNIQUE) and the wallet posting
// key, so a delivery that fails between the credit and the record write is completed by
// the next delivery without crediting twice.
type Reconciler struct {
	wallets    wallet.Store
	ledger     *ledger.Service
	directory  Directory
	metrics    *metrics.Metrics
	paidStatus string
}

func NewReconciler(wallets wallet.Store, ledgerSvc *ledger.Service, dir Directory, m *metrics.Metrics, paidStatus string) *Reconciler {
	if paidStatus == "" {
		paidStatus = DefaultPaidStatus
	}
	return &Reconciler{
		wallets:    wallets,
		ledger:     ledgerSvc,
		directory:  dir,
		metrics:    m,
		paidStatus: strings.ToUpper(paidStatus),
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (Receipt, error) {
	rc, err := r.reconcile(ctx, n)
	outcome := string(rc.Outcome)
	if err != nil {
		outcome = "error"
	}
	r.metrics.RecordWebhook(outcome)
	return rc, err
}

func (r *Reconciler) reconcile(ctx context.Context, n Notification) (Receipt, error) {
	log := logger.From(ctx).With("gateway_reference", n.GatewayReference)

	if n.GatewayReference == "" {
		return Receipt{}, fmt.Errorf("%w: missing gateway reference", ErrInvalidPayload)
	}
	if !strings.EqualFold(n.PaymentStatus, r.paidStatus) {
		log.Info("webhook ignored: payment not settled", "payment_status", n.PaymentStatus)
		return Receipt{Outcome: OutcomeIgnored}, nil
	}
	if !n.AmountPaid.IsPositive() {
		return Receipt{}, fmt.Errorf("%w: amountPaid must be > 0", ErrInvalidPayload)
	}
	if !wallet.HasAmountScale(n.AmountPaid) {
		return Receipt{}, fmt.Errorf("%w: amountPaid %s has more than %d decimal places", ErrInvalidPayload, n.AmountPaid, wallet.AmountScale)
	}

	userID, err := r.directory.ResolveUser(ctx, n.DestinationAccount)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			log.Warn("webhook for unknown account", "destination_account", n.DestinationAccount)
			return Receipt{Outcome: OutcomeUnmatched}, nil
		}
		return Receipt{}, err
	}
	log = log.With("user_id", userID)

	if existing, err := r.ledger.GetByReference(ctx, n.GatewayReference); err == nil {
		log.Info("webhook already processed", "transaction_id", existing.ID)
		return Receipt{Outcome: OutcomeAlreadyProcessed, Transaction: &existing}, nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return Receipt{}, err
	}

	if _, err := r.wallets.Open(ctx, userID); err != nil {
		return Receipt{}, err
	}
	posted, err := r.wallets.Credit(ctx, wallet.Posting{
		UserID:          userID,
		Amount:          n.AmountPaid,
		Reference:       n.GatewayReference,
		CountsAsDeposit: true,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrReferenceReused) {
			log.Error("gateway reference reused with different terms", "amount", n.AmountPaid.String())
			return Receipt{Outcome: OutcomeReferenceConflict}, nil
		}
		return Receipt{}, err
	}
	if !posted.Applied {
		log.Warn("wallet credit replayed without a ledger record; recording it now")
	}

	tx, err := r.ledger.Create(ctx, ledger.Draft{
		WalletID:        posted.WalletID,
		UserID:          userID,
		Type:            ledger.TypeCredit,
		Amount:          n.AmountPaid,
		PreviousBalance: posted.PreviousBalance,
		NewBalance:      posted.NewBalance,
		Category:        ledger.CategoryFunding,
		Status:          ledger.StatusCompleted,
		Reference:       n.GatewayReference,
		Description:     "Wallet funding via bank transfer",
		Metadata: ledger.Metadata{
			Gateway: &ledger.GatewayInfo{
				GatewayReference:   n.GatewayReference,
				PaymentReference:   n.PaymentReference,
				DestinationAccount: n.DestinationAccount,
				AmountPaid:         n.AmountPaid,
				PaymentStatus:      n.PaymentStatus,
				PaidOn:             n.PaidOn,
			},
			Notifications: []ledger.Notification{{
				Event:   "wallet_funded",
				Message: fmt.Sprintf("Your wallet has been credited with %s", n.AmountPaid.StringFixed(2)),
				At:      timeOrNow(n.PaidOn),
			}},
		},
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateReference) {
			// A concurrent delivery recorded it first; the posting above was a replay.
			log.Info("webhook recorded by concurrent delivery")
			return Receipt{Outcome: OutcomeAlreadyProcessed}, nil
		}
		log.Error("wallet credited but record write failed; gateway retry will complete it", "err", err)
		return Receipt{}, err
	}

	log.Info("wallet funded",
		"transaction_id", tx.ID,
		"amount", n.AmountPaid.String(),
		"new_balance", posted.NewBalance.String(),
	)
	return Receipt{Outcome: OutcomeCredited, Transaction: &tx}, nil
}

func timeOrNow(t *time.Time) time.Time {
	if t != nil {
		return *t
	}
	return time.Now().UTC()
}
