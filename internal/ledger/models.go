package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction records one balance-affecting event and carries its own status machine.
//
// Invariants:
// - Reference is unique across the ledger; it is the idempotency key for purchases,
//   webhook credits and admin postings alike.
// - For a completed record NewBalance = PreviousBalance ± Amount, and those fields never
//   change afterwards. Later status changes never replay the balance delta.
type Transaction struct {
	ID              string          `json:"id" db:"id"`
	WalletID        string          `json:"walletId" db:"wallet_id"`
	UserID          string          `json:"userId" db:"user_id"`
	Type            Type            `json:"type" db:"type"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	PreviousBalance decimal.Decimal `json:"previousBalance" db:"previous_balance"`
	NewBalance      decimal.Decimal `json:"newBalance" db:"new_balance"`
	Category        Category        `json:"category" db:"category"`
	Status          Status          `json:"status" db:"status"`
	Reference       string          `json:"reference" db:"reference"`
	Description     string          `json:"description" db:"description"`
	Metadata        Metadata        `json:"metadata" db:"metadata"`

	ProcessedAt *time.Time `json:"processedAt,omitempty" db:"processed_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	FailedAt    *time.Time `json:"failedAt,omitempty" db:"failed_at"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}

type Type string

const (
	TypeCredit Type = "credit"
	TypeDebit  Type = "debit"
)

func (t Type) Valid() bool { return t == TypeCredit || t == TypeDebit }

type Category string

const (
	CategoryFunding    Category = "funding"
	CategoryWithdrawal Category = "withdrawal"
	CategoryPayment    Category = "payment"
	CategoryRefund     Category = "refund"
	CategoryTransfer   Category = "transfer"
	CategoryBonus      Category = "bonus"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryFunding, CategoryWithdrawal, CategoryPayment, CategoryRefund, CategoryTransfer, CategoryBonus:
		return true
	default:
		return false
	}
}

// UnderComplianceHold reports categories whose completed records can never leave completed.
func (c Category) UnderComplianceHold() bool {
	return c == CategoryFunding || c == CategoryPayment
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Draft is the input to Service.Create.
type Draft struct {
	WalletID        string
	UserID          string
	Type            Type
	Amount          decimal.Decimal
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	Category        Category
	// Status defaults to pending. Only pending, completed and failed are accepted.
	Status      Status
	Reference   string
	Description string
	Metadata    Metadata
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	UserID   string
	Status   Status
	Category Category
	Type     Type
	Limit    int
	Offset   int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Actor identifies who caused a change; recorded in the admin action trail.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// SystemActor is used for changes made by the service itself.
var SystemActor = Actor{ID: "system", Role: "system"}

var (
	ErrNotFound           = errors.New("transaction not found")
	ErrDuplicateReference = errors.New("duplicate transaction reference")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")
	ErrReasonRequired     = errors.New("a reason is required")
	ErrComplianceHold     = errors.New("completed funding and payment transactions cannot be cancelled")
	ErrInvalidDraft       = errors.New("invalid transaction draft")
	ErrUnsettled          = errors.New("transaction balances do not reflect a wallet posting")
)

// InvalidTransitionError names the rejected edge.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// RetryLimitExceededError reports the retry count that blocked the retry.
type RetryLimitExceededError struct {
	RetryCount int
	Max        int
}

func (e *RetryLimitExceededError) Error() string {
	return fmt.Sprintf("retry limit exceeded: %d of %d retries used", e.RetryCount, e.Max)
}

func (e *RetryLimitExceededError) Is(target error) bool { return target == ErrRetryLimitExceeded }
