package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vtu-platform/internal/metrics"
	"vtu-platform/pkg/logger"
	"vtu-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NOTE: This store assumes the tables from migrations/001_init.sql:
// - wallets (UNIQUE user_id, CHECK balance >= 0)
// - wallet_postings (PRIMARY KEY reference)

const (
	postingAttempts = 3
	postingBackoff  = 15 * time.Millisecond
)

var errPostingRace = errors.New("wallet: concurrent posting with same reference")

// PostgresStore implements Store with conditional updates; no row is read and then
// written back from the application.
type PostgresStore struct {
	db      *sql.DB
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewPostgresStore(db *sql.DB, m *metrics.Metrics) *PostgresStore {
	return &PostgresStore{db: db, metrics: m, clock: time.Now}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	return scanWallet(s.db.QueryRowContext(ctx, selectWalletSQL+` WHERE user_id = $1`, userID))
}

func (s *PostgresStore) Open(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	const q = `
INSERT INTO wallets (id, user_id, balance, total_deposits, deposit_count, created_at, updated_at)
VALUES ($1, $2, 0, 0, 0, $3, $3)
ON CONFLICT (user_id) DO NOTHING
`
	now := s.clock().UTC()
	if _, err := s.db.ExecContext(ctx, q, uuid.NewString(), userID, now); err != nil {
		return Wallet{}, fmt.Errorf("open wallet: %w", err)
	}
	return s.Get(ctx, userID)
}

func (s *PostgresStore) Credit(ctx context.Context, p Posting) (PostingResult, error) {
	res, err := s.post(ctx, DirectionCredit, p)
	s.metrics.RecordWalletPosting(string(DirectionCredit), postingResultLabel(res, err))
	return res, err
}

func (s *PostgresStore) Debit(ctx context.Context, p Posting) (PostingResult, error) {
	res, err := s.post(ctx, DirectionDebit, p)
	s.metrics.RecordWalletPosting(string(DirectionDebit), postingResultLabel(res, err))
	return res, err
}

func (s *PostgresStore) post(ctx context.Context, d Direction, p Posting) (PostingResult, error) {
	if err := validatePosting(p); err != nil {
		return PostingResult{}, err
	}

	var out PostingResult
	retry := utils.TxRetry{Attempts: postingAttempts, Backoff: postingBackoff, Retryable: isPostingConflict}
	err := utils.WithTxRetry(ctx, s.db, utils.TxReadCommitted, retry, func(ctx context.Context, tx *sql.Tx) error {
		if existing, ok, err := findPosting(ctx, tx, p.Reference); err != nil {
			return err
		} else if ok {
			out, err = existing.replay(d, p)
			return err
		}

		now := s.clock().UTC()
		var (
			walletID   string
			newBalance decimal.Decimal
			err        error
		)
		if d == DirectionCredit {
			walletID, newBalance, err = creditBalance(ctx, tx, p, now)
		} else {
			walletID, newBalance, err = debitBalance(ctx, tx, p, now)
		}
		if err != nil {
			return err
		}

		out = PostingResult{WalletID: walletID, NewBalance: newBalance, Applied: true}
		if d == DirectionCredit {
			out.PreviousBalance = newBalance.Sub(p.Amount)
		} else {
			out.PreviousBalance = newBalance.Add(p.Amount)
		}
		return insertPosting(ctx, tx, storedPosting{
			Reference: p.Reference,
			WalletID:  walletID,
			UserID:    p.UserID,
			Direction: d,
			Amount:    p.Amount,
			Result:    out,
		}, now)
	})
	if err != nil {
		if isPostingConflict(err) {
			logger.From(ctx).Warn("wallet posting conflict persisted", "user_id", p.UserID, "reference", p.Reference, "err", err)
			return PostingResult{}, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return PostingResult{}, err
	}
	return out, nil
}

func creditBalance(ctx context.Context, tx *sql.Tx, p Posting, now time.Time) (string, decimal.Decimal, error) {
	const q = `
UPDATE wallets
SET balance = balance + $2,
    total_deposits = total_deposits + CASE WHEN $3 THEN $2 ELSE 0 END,
    deposit_count = deposit_count + CASE WHEN $3 THEN 1 ELSE 0 END,
    last_transaction_date = $4,
    updated_at = $4
WHERE user_id = $1
RETURNING id, balance
`
	var (
		id  string
		bal decimal.Decimal
	)
	if err := tx.QueryRowContext(ctx, q, p.UserID, p.Amount, p.CountsAsDeposit, now).Scan(&id, &bal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", decimal.Decimal{}, ErrWalletNotFound
		}
		return "", decimal.Decimal{}, err
	}
	return id, bal, nil
}

func debitBalance(ctx context.Context, tx *sql.Tx, p Posting, now time.Time) (string, decimal.Decimal, error) {
	// The balance guard and the subtraction are one statement.
	const q = `
UPDATE wallets
SET balance = balance - $2,
    last_transaction_date = $3,
    updated_at = $3
WHERE user_id = $1 AND balance >= $2
RETURNING id, balance
`
	var (
		id  string
		bal decimal.Decimal
	)
	err := tx.QueryRowContext(ctx, q, p.UserID, p.Amount, now).Scan(&id, &bal)
	if err == nil {
		return id, bal, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", decimal.Decimal{}, err
	}

	// Nothing updated: either no wallet or not enough funds.
	var current decimal.Decimal
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, p.UserID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", decimal.Decimal{}, ErrWalletNotFound
		}
		return "", decimal.Decimal{}, err
	}
	return "", decimal.Decimal{}, &InsufficientBalanceError{Balance: current, Required: p.Amount}
}

func findPosting(ctx context.Context, tx *sql.Tx, reference string) (storedPosting, bool, error) {
	const q = `
SELECT reference, wallet_id, user_id, direction, amount, previous_balance, new_balance
FROM wallet_postings
WHERE reference = $1
`
	var sp storedPosting
	err := tx.QueryRowContext(ctx, q, reference).Scan(
		&sp.Reference,
		&sp.WalletID,
		&sp.UserID,
		&sp.Direction,
		&sp.Amount,
		&sp.Result.PreviousBalance,
		&sp.Result.NewBalance,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storedPosting{}, false, nil
		}
		return storedPosting{}, false, err
	}
	sp.Result.WalletID = sp.WalletID
	return sp, true, nil
}

func insertPosting(ctx context.Context, tx *sql.Tx, sp storedPosting, now time.Time) error {
	const q = `
INSERT INTO wallet_postings (
  reference, wallet_id, user_id, direction, amount, previous_balance, new_balance, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (reference) DO NOTHING
`
	res, err := tx.ExecContext(ctx, q,
		sp.Reference,
		sp.WalletID,
		sp.UserID,
		sp.Direction,
		sp.Amount,
		sp.Result.PreviousBalance,
		sp.Result.NewBalance,
		now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Another transaction posted this reference first; roll back and replay it.
		return errPostingRace
	}
	return nil
}

const selectWalletSQL = `
SELECT id, user_id, balance, total_deposits, deposit_count, last_transaction_date, created_at, updated_at
FROM wallets`

func scanWallet(row *sql.Row) (Wallet, error) {
	var (
		w    Wallet
		last sql.NullTime
	)
	if err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Balance,
		&w.Stats.TotalDeposits,
		&w.Stats.DepositCount,
		&last,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	if last.Valid {
		t := last.Time
		w.LastTransactionDate = &t
	}
	return w, nil
}

func isPostingConflict(err error) bool {
	return errors.Is(err, errPostingRace) || utils.IsRetryableConflict(err)
}

func postingResultLabel(res PostingResult, err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case err != nil:
		return "error"
	case !res.Applied:
		return "replayed"
	default:
		return "applied"
	}
}
