package pinguard

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	DefaultMaxAttempts  = 3
	DefaultLockDuration = 15 * time.Minute
)

var (
	ErrLocked           = errors.New("account locked")
	ErrInvalidPin       = errors.New("invalid transaction pin")
	ErrPinNotSet        = errors.New("transaction pin not set")
	ErrInvalidPinFormat = errors.New("transaction pin must be exactly 4 digits")
)

// LockedError is returned while a user is locked out of PIN verification.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked: try again in %d minute(s)", e.RemainingMinutes())
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// RemainingMinutes rounds up so a client countdown never reaches zero early.
func (e *LockedError) RemainingMinutes() int {
	return int(math.Ceil(e.Remaining.Minutes()))
}

// InvalidPinError is returned for a wrong PIN that did not trigger a lock.
type InvalidPinError struct {
	AttemptsRemaining int
}

func (e *InvalidPinError) Error() string {
	return fmt.Sprintf("invalid transaction pin: %d attempt(s) remaining", e.AttemptsRemaining)
}

func (e *InvalidPinError) Is(target error) bool { return target == ErrInvalidPin }

// Policy is the lockout rule shared by every AttemptStore.
type Policy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.LockDuration <= 0 {
		p.LockDuration = DefaultLockDuration
	}
	return p
}

func validPin(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
