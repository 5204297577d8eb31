package fulfillment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Provider delivers purchased goods (airtime, data, bill payments).
//
// Rules:
// - No provider client calls outside fulfillment adapters.
// - An error means the outcome is unknown or the provider was unreachable; callers treat
//   it exactly like a rejected purchase and never debit on it.
type Provider interface {
	Name() string
	Fulfill(ctx context.Context, req Request) (Result, error)
}

// Request is the provider-agnostic purchase order. Reference is our correlation id;
// providers echo it back or issue their own.
type Request struct {
	ServiceType string            `json:"service_type"`
	Amount      decimal.Decimal   `json:"amount"`
	Reference   string            `json:"reference"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// Result is the provider's answer to a completed call.
type Result struct {
	Success           bool   `json:"success"`
	ProviderReference string `json:"provider_reference,omitempty"`
	Message           string `json:"message,omitempty"`
}

var (
	ErrTimeout     = errors.New("fulfillment provider timed out")
	ErrUnavailable = errors.New("fulfillment provider unavailable")
)
