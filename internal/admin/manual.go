package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vtu-platform/internal/audit"
	"vtu-platform/internal/ledger"
	"vtu-platform/internal/metrics"
	"vtu-platform/internal/wallet"
	"vtu-platform/pkg/logger"

	"github.com/shopspring/decimal"
)

var ErrInvalidPosting = errors.New("admin: invalid manual posting")

// WalletPoster is the subset of wallet.Store manual postings need.
type WalletPoster interface {
	Open(ctx context.Context, userID string) (wallet.Wallet, error)
	Credit(ctx context.Context, p wallet.Posting) (wallet.PostingResult, error)
	Debit(ctx context.Context, p wallet.Posting) (wallet.PostingResult, error)
}

// ManualPosting is an admin credit or debit.
//
// Reference is optional; when given it makes the request idempotent, so a client retry
// after a timeout neither posts twice nor loses the record.
type ManualPosting struct {
	UserID    string          `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Reference string          `json:"reference,omitempty"`
	// Category overrides the default (funding for credits, withdrawal for debits).
	Category ledger.Category `json:"category,omitempty"`
}

// ManualFund credits a wallet and records a completed credit, opening the wallet if needed.
func (o *Operator) ManualFund(ctx context.Context, actor audit.Actor, p ManualPosting) (ledger.Transaction, error) {
	t, err := o.manual(ctx, actor, p, wallet.DirectionCredit)
	o.metrics.RecordAdminOperation(ledger.ActionManualFund, metrics.Result(err))
	return t, err
}

// ManualDebit debits a wallet and records a completed debit. It fails with
// wallet.ErrInsufficientBalance rather than take the balance below zero.
func (o *Operator) ManualDebit(ctx context.Context, actor audit.Actor, p ManualPosting) (ledger.Transaction, error) {
	t, err := o.manual(ctx, actor, p, wallet.DirectionDebit)
	o.metrics.RecordAdminOperation(ledger.ActionManualDebit, metrics.Result(err))
	return t, err
}

// manual posts to the wallet first and records the outcome second. Both steps share
// the reference, so a retry after a failed record write replays the posting and
// completes the record without moving money twice.
func (o *Operator) manual(ctx context.Context, actor audit.Actor, p ManualPosting, dir wallet.Direction) (ledger.Transaction, error) {
	action, txType, category := ledger.ActionManualFund, ledger.TypeCredit, ledger.CategoryFunding
	if dir == wallet.DirectionDebit {
		action, txType, category = ledger.ActionManualDebit, ledger.TypeDebit, ledger.CategoryWithdrawal
	}
	if p.Category != "" {
		category = p.Category
	}
	if err := validateManual(p, category); err != nil {
		return ledger.Transaction{}, err
	}

	reference := strings.TrimSpace(p.Reference)
	if reference == "" {
		reference = o.newReference()
	} else if _, err := o.ledger.GetByReference(ctx, reference); err == nil {
		return ledger.Transaction{}, ledger.ErrDuplicateReference
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return ledger.Transaction{}, err
	}
	log := logger.From(ctx).With("user_id", p.UserID, "reference", reference, "actor", actor.UserID)

	posting := wallet.Posting{UserID: p.UserID, Amount: p.Amount, Reference: reference}
	var (
		posted wallet.PostingResult
		err    error
	)
	if dir == wallet.DirectionCredit {
		if _, err := o.wallets.Open(ctx, p.UserID); err != nil {
			return ledger.Transaction{}, err
		}
		posting.CountsAsDeposit = category == ledger.CategoryFunding
		posted, err = o.wallets.Credit(ctx, posting)
	} else {
		posted, err = o.wallets.Debit(ctx, posting)
	}
	if err != nil {
		return ledger.Transaction{}, err
	}

	now := o.clock().UTC()
	t, err := o.ledger.Create(ctx, ledger.Draft{
		WalletID:        posted.WalletID,
		UserID:          p.UserID,
		Type:            txType,
		Amount:          p.Amount,
		PreviousBalance: posted.PreviousBalance,
		NewBalance:      posted.NewBalance,
		Category:        category,
		Status:          ledger.StatusCompleted,
		Reference:       reference,
		Description:     p.Reason,
		Metadata: ledger.Metadata{
			AdminActions: []ledger.AdminAction{{
				Action:   action,
				Actor:    ledgerActor(actor),
				ToStatus: ledger.StatusCompleted,
				Reason:   p.Reason,
				At:       now,
			}},
		},
	})
	if err != nil {
		log.Error("manual posting applied but record write failed; retry with the same reference", "err", err)
		return ledger.Transaction{}, err
	}

	if o.audit != nil {
		details := encodeDetails(map[string]any{
			"amount":          p.Amount.String(),
			"previousBalance": posted.PreviousBalance.String(),
			"newBalance":      posted.NewBalance.String(),
			"reason":          p.Reason,
		})
		if err := o.audit.LogManualPosting(ctx, actor, p.UserID, t.ID, action, details); err != nil {
			log.Warn("audit write failed", "transaction_id", t.ID, "err", err)
		}
	}
	log.Info("manual posting recorded", "transaction_id", t.ID, "type", txType, "amount", p.Amount.String())
	return t, nil
}

func validateManual(p ManualPosting, category ledger.Category) error {
	switch {
	case strings.TrimSpace(p.UserID) == "":
		return fmt.Errorf("%w: userId is required", ErrInvalidPosting)
	case !p.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidPosting)
	case !wallet.HasAmountScale(p.Amount):
		return fmt.Errorf("%w: amount must have at most %d decimal places", ErrInvalidPosting, wallet.AmountScale)
	case strings.TrimSpace(p.Reason) == "":
		return fmt.Errorf("%w: reason is required", ErrInvalidPosting)
	case !category.Valid():
		return fmt.Errorf("%w: unknown category %q", ErrInvalidPosting, category)
	}
	return nil
}
