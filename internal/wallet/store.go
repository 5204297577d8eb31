package wallet

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store owns wallet balances.
//
// Credit and Debit are single atomic units: the balance change commits together with
// its posting record or not at all. Debit checks and subtracts in one conditional
// write, so two concurrent debits can never both spend the same funds.
type Store interface {
	Get(ctx context.Context, userID string) (Wallet, error)
	// Open creates the user's wallet with a zero balance; it is a no-op if one exists.
	Open(ctx context.Context, userID string) (Wallet, error)
	Credit(ctx context.Context, p Posting) (PostingResult, error)
	Debit(ctx context.Context, p Posting) (PostingResult, error)
}

// storedPosting is the persisted record of an applied posting.
type storedPosting struct {
	Reference string
	WalletID  string
	UserID    string
	Direction Direction
	Result    PostingResult
	Amount    decimal.Decimal
}

// replay returns the original result if the stored posting matches the request.
func (s storedPosting) replay(d Direction, p Posting) (PostingResult, error) {
	if s.UserID != p.UserID || s.Direction != d || !s.Amount.Equal(p.Amount) {
		return PostingResult{}, ErrReferenceReused
	}
	out := s.Result
	out.Applied = false
	return out, nil
}
