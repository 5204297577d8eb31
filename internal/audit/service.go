package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// Audit is internal-only; records are never exposed on user routes. Callers treat
// audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrInvalidEvent   = errors.New("audit: invalid event")
	ErrDuplicateEvent = errors.New("audit: event already recorded")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorUserID == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records a status change an admin made to a transaction.
func (s *Service) LogAdminAction(ctx context.Context, actor Actor, transactionID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeAdminAction,
		ActorUserID:   actor.UserID,
		ActorRole:     actor.Role,
		IPAddress:     actor.IP,
		TransactionID: transactionID,
		Message:       message,
		Metadata:      metadata,
	})
}

// LogManualPosting records an admin credit or debit against a user's wallet.
func (s *Service) LogManualPosting(ctx context.Context, actor Actor, userID, transactionID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeManualPosting,
		ActorUserID:   actor.UserID,
		ActorRole:     actor.Role,
		IPAddress:     actor.IP,
		UserID:        userID,
		TransactionID: transactionID,
		Message:       message,
		Metadata:      metadata,
	})
}
