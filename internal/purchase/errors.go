package purchase

import (
	"errors"
	"fmt"

	"vtu-platform/internal/ledger"
)

var (
	ErrInvalidRequest     = errors.New("invalid purchase request")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrProviderFailure    = errors.New("provider failure")
	ErrNotResumable       = errors.New("transaction cannot be resumed")
	// ErrRecordFailed means the wallet moved but the ledger write did not; the wallet
	// posting under the order reference is the record of the debit.
	ErrRecordFailed = errors.New("purchase settled but transaction record failed")
)

// ServiceUnavailableError carries the catalog's human-readable reason.
type ServiceUnavailableError struct {
	ServiceType string
	Reason      string
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("service %s unavailable: %s", e.ServiceType, e.Reason)
}

func (e *ServiceUnavailableError) Is(target error) bool { return target == ErrServiceUnavailable }

// ProviderFailureError is returned when fulfillment failed or its outcome is unknown.
// Transaction is the failed record written for the attempt.
type ProviderFailureError struct {
	Message     string
	Transaction ledger.Transaction
	Err         error
}

func (e *ProviderFailureError) Error() string {
	return "provider failure: " + e.Message
}

func (e *ProviderFailureError) Is(target error) bool { return target == ErrProviderFailure }

func (e *ProviderFailureError) Unwrap() error { return e.Err }
