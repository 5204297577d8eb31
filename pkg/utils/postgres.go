package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresDriver is the database/sql driver name registered by pgx's stdlib package.
const PostgresDriver = "pgx"

// PostgresPoolConfig sizes the shared pool. Wallet postings hold a connection for the
// whole read-check-update-insert unit, so MaxOpenConns bounds concurrent postings.
type PostgresPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (c PostgresPoolConfig) withDefaults() PostgresPoolConfig {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 20
	}
	if c.MaxIdleConns <= 0 || c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	return c
}

// OpenPostgres opens the pgx-backed pool and verifies it answers. dsn carries the
// password and must not be logged.
func OpenPostgres(ctx context.Context, dsn string, pool PostgresPoolConfig) (*sql.DB, error) {
	pool = pool.withDefaults()

	db, err := sql.Open(PostgresDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := HealthCheck(ctx, db, pool.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// HealthCheck pings the pool within timeout; /readyz uses it.
func HealthCheck(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// TxReadCommitted is the isolation used for balance postings; the conditional
// UPDATE guards the balance, so stronger isolation only adds conflicts.
var TxReadCommitted = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// TxFunc is the unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// WithTx runs fn inside one transaction. fn's error or panic rolls back; otherwise the
// commit error, if any, is returned.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("commit tx: %w", cErr)
		}
	}()

	return fn(ctx, tx)
}

// TxRetry bounds how often a whole transaction is replayed after a storage conflict.
type TxRetry struct {
	Attempts  int
	Backoff   time.Duration
	Retryable func(error) bool
}

// WithTxRetry runs fn in a fresh transaction per attempt while it fails with an error
// accepted by r.Retryable (serialization failures and deadlocks by default).
func WithTxRetry(ctx context.Context, db *sql.DB, opts *sql.TxOptions, r TxRetry, fn TxFunc) error {
	retryable := r.Retryable
	if retryable == nil {
		retryable = IsRetryableConflict
	}
	return RetryConflicts(ctx, r.Attempts, r.Backoff, retryable, func() error {
		return WithTx(ctx, db, opts, fn)
	})
}
