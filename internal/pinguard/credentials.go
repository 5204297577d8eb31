package pinguard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CredentialStore holds bcrypt hashes of transaction PINs.
type CredentialStore interface {
	// PinHash returns ErrPinNotSet when the user never set a PIN.
	PinHash(ctx context.Context, userID string) (string, error)
	SetPinHash(ctx context.Context, userID, hash string) error
}

// PostgresCredentialStore reads user_credentials.
type PostgresCredentialStore struct {
	db *sql.DB
}

func NewPostgresCredentialStore(db *sql.DB) *PostgresCredentialStore {
	return &PostgresCredentialStore{db: db}
}

func (s *PostgresCredentialStore) PinHash(ctx context.Context, userID string) (string, error) {
	const q = `SELECT transaction_pin_hash FROM user_credentials WHERE user_id = $1`
	var hash sql.NullString
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrPinNotSet
		}
		return "", fmt.Errorf("load pin hash: %w", err)
	}
	if !hash.Valid || hash.String == "" {
		return "", ErrPinNotSet
	}
	return hash.String, nil
}

func (s *PostgresCredentialStore) SetPinHash(ctx context.Context, userID, hash string) error {
	const q = `
INSERT INTO user_credentials (user_id, transaction_pin_hash, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE
SET transaction_pin_hash = EXCLUDED.transaction_pin_hash,
    updated_at = EXCLUDED.updated_at
`
	if _, err := s.db.ExecContext(ctx, q, userID, hash, time.Now().UTC()); err != nil {
		return fmt.Errorf("store pin hash: %w", err)
	}
	return nil
}

// MemoryCredentialStore is an in-memory CredentialStore for tests.
type MemoryCredentialStore struct {
	mu     sync.Mutex
	hashes map[string]string
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{hashes: make(map[string]string)}
}

func (s *MemoryCredentialStore) PinHash(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[userID]
	if !ok {
		return "", ErrPinNotSet
	}
	return h, nil
}

func (s *MemoryCredentialStore) SetPinHash(ctx context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[userID] = hash
	return nil
}
