package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the single authoritative balance record for a user.
//
// Invariants:
// - Balance is never negative.
// - Balance, Stats and LastTransactionDate change only through Store.Credit/Store.Debit.
type Wallet struct {
	ID                  string          `json:"id" db:"id"`
	UserID              string          `json:"userId" db:"user_id"`
	Balance             decimal.Decimal `json:"balance" db:"balance"`
	Stats               Stats           `json:"stats"`
	LastTransactionDate *time.Time      `json:"lastTransactionDate,omitempty" db:"last_transaction_date"`
	CreatedAt           time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time       `json:"updatedAt" db:"updated_at"`
}

type Stats struct {
	TotalDeposits decimal.Decimal `json:"totalDeposits" db:"total_deposits"`
	DepositCount  int64           `json:"depositCount" db:"deposit_count"`
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Posting is a single balance mutation request.
// Reference is the idempotency key: a posting is applied at most once per reference.
type Posting struct {
	UserID    string
	Amount    decimal.Decimal
	Reference string

	// CountsAsDeposit adds the amount to Stats (wallet funding).
	CountsAsDeposit bool
}

// PostingResult captures the balance before and after the posting.
// Applied is false when the reference had already been posted; the balances are then
// the ones captured by the original posting.
type PostingResult struct {
	WalletID        string          `json:"walletId"`
	PreviousBalance decimal.Decimal `json:"previousBalance"`
	NewBalance      decimal.Decimal `json:"newBalance"`
	Applied         bool            `json:"applied"`
}

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidArgument     = errors.New("invalid argument")
	// ErrConflict is returned when storage conflicts persist after bounded retries.
	ErrConflict = errors.New("wallet: storage conflict, retry later")
	// ErrReferenceReused means a reference was already posted with different terms.
	ErrReferenceReused = errors.New("wallet: posting reference reused with different terms")
)

// InsufficientBalanceError carries the numbers a client needs to explain the failure.
type InsufficientBalanceError struct {
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %s, need %s", e.Balance.StringFixed(2), e.Required.StringFixed(2))
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// AmountScale is the number of decimal places balances are stored with.
const AmountScale = 2

// HasAmountScale reports whether a fits the stored NUMERIC(18,2) columns without rounding.
func HasAmountScale(a decimal.Decimal) bool {
	return a.Equal(a.Truncate(AmountScale))
}

func validatePosting(p Posting) error {
	if p.UserID == "" || p.Reference == "" {
		return ErrInvalidArgument
	}
	if !p.Amount.IsPositive() {
		return ErrInvalidArgument
	}
	if !HasAmountScale(p.Amount) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidArgument, p.Amount, AmountScale)
	}
	return nil
}
