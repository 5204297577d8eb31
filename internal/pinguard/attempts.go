package pinguard

import (
	"context"
	"time"
)

// AttemptStore tracks consecutive PIN attempts per user.
//
// Reserve is the only gate in front of a hash comparison and must be a single atomic
// step: the lock check, the increment and the lock activation cannot be observed
// separately by a concurrent verification for the same user.
type AttemptStore interface {
	// Locked returns the remaining lock time, or zero when the user is not locked.
	Locked(ctx context.Context, userID string) (time.Duration, error)
	// Reserve claims one comparison. attempt is zero when the user is locked and
	// lockedFor is the time left. Otherwise attempt is the claimed ordinal; when it
	// reaches the ceiling the lock is armed before the comparison runs and lockedFor
	// is the lock duration.
	Reserve(ctx context.Context, userID string) (attempt int, lockedFor time.Duration, err error)
	// Reset clears the counter and any lock after a successful verification.
	Reset(ctx context.Context, userID string) error
}
