package utils

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the stores react to.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// PGErrorCode returns the SQLSTATE of err, or "" if err is not a Postgres error.
func PGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool {
	return PGErrorCode(err) == pgUniqueViolation
}

// IsRetryableConflict reports storage-level conflicts that are safe to retry as a whole unit.
func IsRetryableConflict(err error) bool {
	switch PGErrorCode(err) {
	case pgSerializationFailure, pgDeadlockDetected:
		return true
	default:
		return false
	}
}

// RetryConflicts runs fn up to attempts times while it keeps failing with an error accepted by retryable.
// The last error is returned when attempts are exhausted.
func RetryConflicts(ctx context.Context, attempts int, backoff time.Duration, retryable func(error) bool, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(i+1)):
		}
	}
	return err
}
