package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vtu-platform/internal/wallet"

	"github.com/shopspring/decimal"
)

// Service describes one purchasable VTU product line and its per-purchase limits.
// Amounts are in the wallet currency (a single currency; no conversion).
type Service struct {
	Type           string          `json:"type" db:"service_type"`
	Name           string          `json:"name" db:"name"`
	Enabled        bool            `json:"enabled" db:"enabled"`
	DisabledReason string          `json:"disabledReason,omitempty" db:"disabled_reason"`
	MinAmount      decimal.Decimal `json:"minAmount" db:"min_amount"`
	MaxAmount      decimal.Decimal `json:"maxAmount" db:"max_amount"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// Availability answers whether a service type can be sold right now.
type Availability interface {
	// Lookup returns ErrUnknownService for types the catalog does not carry.
	Lookup(ctx context.Context, serviceType string) (Service, error)
}

var (
	ErrUnknownService   = errors.New("unknown service type")
	ErrAmountOutOfRange = errors.New("amount out of range")
	ErrAmountPrecision  = errors.New("amount must have at most 2 decimal places")
)

// AmountOutOfRangeError reports the limits the amount violated.
type AmountOutOfRangeError struct {
	ServiceType string
	Amount      decimal.Decimal
	Min         decimal.Decimal
	Max         decimal.Decimal
}

func (e *AmountOutOfRangeError) Error() string {
	return fmt.Sprintf("%s amount %s outside allowed range %s - %s", e.ServiceType, e.Amount, e.Min, e.Max)
}

func (e *AmountOutOfRangeError) Is(target error) bool { return target == ErrAmountOutOfRange }

// CheckAmount validates amount against the service limits. A zero MaxAmount means no cap.
func (s Service) CheckAmount(amount decimal.Decimal) error {
	if amount.LessThan(s.MinAmount) || (s.MaxAmount.IsPositive() && amount.GreaterThan(s.MaxAmount)) || !amount.IsPositive() {
		return &AmountOutOfRangeError{ServiceType: s.Type, Amount: amount, Min: s.MinAmount, Max: s.MaxAmount}
	}
	if !wallet.HasAmountScale(amount) {
		return fmt.Errorf("%w: got %s", ErrAmountPrecision, amount)
	}
	return nil
}

// UnavailableReason returns a human-readable reason for a disabled service.
func (s Service) UnavailableReason() string {
	if s.DisabledReason != "" {
		return s.DisabledReason
	}
	return fmt.Sprintf("%s is temporarily unavailable", s.displayName())
}

func (s Service) displayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Type
}

// Defaults is the catalog a fresh deployment starts with.
func Defaults() []Service {
	d := decimal.RequireFromString
	return []Service{
		{Type: "airtime", Name: "Airtime", Enabled: true, MinAmount: d("50"), MaxAmount: d("50000")},
		{Type: "data", Name: "Data bundle", Enabled: true, MinAmount: d("50"), MaxAmount: d("100000")},
		{Type: "electricity", Name: "Electricity", Enabled: true, MinAmount: d("500"), MaxAmount: d("500000")},
		{Type: "cable_tv", Name: "Cable TV", Enabled: true, MinAmount: d("500"), MaxAmount: d("200000")},
		{Type: "exam_pin", Name: "Exam PIN", Enabled: true, MinAmount: d("500"), MaxAmount: d("50000")},
	}
}
