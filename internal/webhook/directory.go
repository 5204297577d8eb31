package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

var ErrAccountNotFound = errors.New("virtual account not found")

// Directory maps gateway virtual accounts to the users that own them.
type Directory interface {
	// ResolveUser accepts an account number or an account reference.
	ResolveUser(ctx context.Context, account string) (string, error)
}

// PostgresDirectory reads virtual_accounts.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) ResolveUser(ctx context.Context, account string) (string, error) {
	const q = `
SELECT user_id
FROM virtual_accounts
WHERE account_number = $1 OR account_reference = $1
LIMIT 1
`
	var userID string
	if err := d.db.QueryRowContext(ctx, q, account).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("resolve virtual account: %w", err)
	}
	return userID, nil
}

// MemoryDirectory is an in-memory Directory for tests and local runs.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{accounts: make(map[string]string)}
}

// Assign maps each of keys (account number, account reference) to userID.
func (d *MemoryDirectory) Assign(userID string, keys ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		d.accounts[k] = userID
	}
}

func (d *MemoryDirectory) ResolveUser(ctx context.Context, account string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	userID, ok := d.accounts[account]
	if !ok || account == "" {
		return "", ErrAccountNotFound
	}
	return userID, nil
}
