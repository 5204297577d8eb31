package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"vtu-platform/pkg/utils"
)

// PostgresRepo stores transactions in the transactions table (metadata as JSONB,
// UNIQUE reference).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const transactionColumns = `id, wallet_id, user_id, type, amount, previous_balance, new_balance, category, status,
reference, description, metadata, processed_at, completed_at, failed_at, created_at, updated_at`

func (r *PostgresRepo) Insert(ctx context.Context, t Transaction) error {
	q := `INSERT INTO transactions (` + transactionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err := r.db.ExecContext(ctx, q,
		t.ID,
		nullString(t.WalletID),
		t.UserID,
		t.Type,
		t.Amount,
		t.PreviousBalance,
		t.NewBalance,
		t.Category,
		t.Status,
		t.Reference,
		t.Description,
		t.Metadata,
		t.ProcessedAt,
		t.CompletedAt,
		t.FailedAt,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Transaction, error) {
	return scanTransaction(r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *PostgresRepo) GetByReference(ctx context.Context, reference string) (Transaction, error) {
	return scanTransaction(r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference))
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.UserID != "" {
		add("user_id", f.UserID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.Category != "" {
		add("category", f.Category)
	}
	if f.Type != "" {
		add("type", f.Type)
	}

	q := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Update(ctx context.Context, id string, fn func(t *Transaction) error) (Transaction, error) {
	var out Transaction
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the row to serialize concurrent status changes on one transaction.
		t, err := scanTransaction(tx.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return err
		}
		const q = `
UPDATE transactions
SET wallet_id = $2, previous_balance = $3, new_balance = $4, status = $5, description = $6, metadata = $7,
    processed_at = $8, completed_at = $9, failed_at = $10, updated_at = $11
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, q,
			t.ID,
			nullString(t.WalletID),
			t.PreviousBalance,
			t.NewBalance,
			t.Status,
			t.Description,
			t.Metadata,
			t.ProcessedAt,
			t.CompletedAt,
			t.FailedAt,
			t.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		out = t
		return nil
	})
	return out, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		t        Transaction
		walletID sql.NullString
	)
	var processed, completed, failed sql.NullTime
	if err := row.Scan(
		&t.ID,
		&walletID,
		&t.UserID,
		&t.Type,
		&t.Amount,
		&t.PreviousBalance,
		&t.NewBalance,
		&t.Category,
		&t.Status,
		&t.Reference,
		&t.Description,
		&t.Metadata,
		&processed,
		&completed,
		&failed,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	t.WalletID = walletID.String
	t.ProcessedAt = timePtr(processed)
	t.CompletedAt = timePtr(completed)
	t.FailedAt = timePtr(failed)
	return t, nil
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
