package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresCatalog reads the vtu_services table.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) Lookup(ctx context.Context, serviceType string) (Service, error) {
	const q = `
SELECT service_type, name, enabled, COALESCE(disabled_reason, ''), min_amount, max_amount, updated_at
FROM vtu_services
WHERE service_type = $1
`
	var s Service
	err := c.db.QueryRowContext(ctx, q, serviceType).Scan(
		&s.Type,
		&s.Name,
		&s.Enabled,
		&s.DisabledReason,
		&s.MinAmount,
		&s.MaxAmount,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Service{}, ErrUnknownService
		}
		return Service{}, fmt.Errorf("lookup service %q: %w", serviceType, err)
	}
	return s, nil
}
