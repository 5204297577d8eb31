package pinguard

import (
	"context"
	"errors"
	"fmt"

	"vtu-platform/internal/metrics"
	"vtu-platform/pkg/logger"

	"golang.org/x/crypto/bcrypt"
)

// Guard rate-limits transaction PIN verification. It knows nothing about wallets or
// transactions.
type Guard struct {
	attempts AttemptStore
	creds    CredentialStore
	metrics  *metrics.Metrics
	policy   Policy
	// cost is the bcrypt cost for new hashes; tests lower it.
	cost    int
	compare func(hash, pin string) error
}

func NewGuard(attempts AttemptStore, creds CredentialStore, m *metrics.Metrics, p Policy) *Guard {
	return &Guard{
		attempts: attempts,
		creds:    creds,
		metrics:  m,
		policy:   p.withDefaults(),
		cost:     bcrypt.DefaultCost,
		compare:  comparePin,
	}
}

// LockStatus returns a *LockedError while the user is locked, nil otherwise.
func (g *Guard) LockStatus(ctx context.Context, userID string) error {
	left, err := g.attempts.Locked(ctx, userID)
	if err != nil {
		return err
	}
	if left > 0 {
		return &LockedError{Remaining: left}
	}
	return nil
}

// Verify checks pin for userID. Every comparison is reserved in the attempt store
// first, so concurrent requests cannot spend more comparisons than the policy allows
// and a locked user never reaches bcrypt.
func (g *Guard) Verify(ctx context.Context, userID, pin string) error {
	if err := g.LockStatus(ctx, userID); err != nil {
		if errors.Is(err, ErrLocked) {
			g.metrics.RecordPinVerification("locked")
		}
		return err
	}

	hash, err := g.creds.PinHash(ctx, userID)
	if err != nil {
		return err
	}

	n, lockedFor, err := g.attempts.Reserve(ctx, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		g.metrics.RecordPinVerification("locked")
		return &LockedError{Remaining: lockedFor}
	}

	if g.compare(hash, pin) == nil {
		if err := g.attempts.Reset(ctx, userID); err != nil {
			return err
		}
		g.metrics.RecordPinVerification("ok")
		return nil
	}

	if lockedFor > 0 {
		g.metrics.RecordPinVerification("locked")
		g.metrics.RecordPinLockout()
		logger.From(ctx).Warn("transaction pin locked", "user_id", userID, "lock_duration", lockedFor.String())
		return &LockedError{Remaining: lockedFor}
	}
	g.metrics.RecordPinVerification("invalid")
	return &InvalidPinError{AttemptsRemaining: g.policy.MaxAttempts - n}
}

// SetPin stores a new 4-digit PIN. Changing an existing PIN requires the current one,
// which goes through the same lockout as purchases.
func (g *Guard) SetPin(ctx context.Context, userID, currentPin, newPin string) error {
	if !validPin(newPin) {
		return ErrInvalidPinFormat
	}
	if _, err := g.creds.PinHash(ctx, userID); err == nil {
		if err := g.Verify(ctx, userID, currentPin); err != nil {
			return err
		}
	} else if !errors.Is(err, ErrPinNotSet) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPin), g.cost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	if err := g.creds.SetPinHash(ctx, userID, string(hash)); err != nil {
		return err
	}
	logger.From(ctx).Info("transaction pin updated", "user_id", userID)
	return nil
}

func comparePin(hash, pin string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
}
