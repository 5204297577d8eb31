package audit

import (
	"context"
	"database/sql"
	"fmt"

	"vtu-platform/pkg/utils"
)

// PostgresRepo appends to audit_events. It never updates or deletes rows.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, user_id, transaction_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, COALESCE(NULLIF($9, '')::jsonb, '{}'::jsonb), $10)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.UserID,
		e.TransactionID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateEvent, e.ID)
		}
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
