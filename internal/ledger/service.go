package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vtu-platform/internal/metrics"
	"vtu-platform/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultMaxRetries caps Service.Retry per transaction.
const DefaultMaxRetries = 3

// Service owns the transaction lifecycle. It never touches wallet balances; callers that
// move money post to the wallet store first and record the outcome here.
type Service struct {
	repo       Repository
	metrics    *metrics.Metrics
	maxRetries int
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, m *metrics.Metrics, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{repo: repo, metrics: m, maxRetries: maxRetries, clock: time.Now}
}

// Create writes a new record. The caller-supplied reference must be unused.
func (s *Service) Create(ctx context.Context, d Draft) (Transaction, error) {
	status, ok := initialStatus(d.Status)
	if !ok {
		return Transaction{}, fmt.Errorf("%w: cannot create in status %q", ErrInvalidDraft, d.Status)
	}
	if err := validateDraft(d, status); err != nil {
		return Transaction{}, err
	}

	now := s.clock().UTC()
	t := Transaction{
		ID:              uuid.NewString(),
		WalletID:        d.WalletID,
		UserID:          d.UserID,
		Type:            d.Type,
		Amount:          d.Amount,
		PreviousBalance: d.PreviousBalance,
		NewBalance:      d.NewBalance,
		Category:        d.Category,
		Status:          status,
		Reference:       d.Reference,
		Description:     d.Description,
		Metadata:        d.Metadata.clone(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	stampStatus(&t, status, now)

	if err := s.repo.Insert(ctx, t); err != nil {
		if !errors.Is(err, ErrDuplicateReference) {
			logger.From(ctx).Error("transaction insert failed", "reference", d.Reference, "err", err)
		}
		return Transaction{}, err
	}
	logger.From(ctx).Info("transaction created",
		"transaction_id", t.ID,
		"reference", t.Reference,
		"user_id", t.UserID,
		"category", t.Category,
		"status", t.Status,
	)
	return t, nil
}

// Transition moves a record along a legal edge and records who/when/why in the
// admin action trail. A record reaches completed here only if its balances already
// reflect a posting; settling a pending purchase goes through Complete.
func (s *Service) Transition(ctx context.Context, id string, to Status, reason string, actor Actor) (Transaction, error) {
	t, err := s.repo.Update(ctx, id, func(t *Transaction) error {
		if err := checkTransition(t.Status, to, reason); err != nil {
			return err
		}
		if to == StatusCompleted {
			if err := checkBalances(t.Type, t.Amount, t.PreviousBalance, t.NewBalance); err != nil {
				return fmt.Errorf("%w: %s", ErrUnsettled, err)
			}
		}
		s.apply(t, ActionStatusChange, to, reason, actor)
		return nil
	})
	s.metrics.RecordTransition(string(to), metrics.Result(err))
	if err != nil {
		return Transaction{}, err
	}
	logger.From(ctx).Info("transaction transitioned", "transaction_id", id, "to", to, "actor", actor.ID)
	return t, nil
}

// Settlement carries the wallet outcome of a pending record that is now completed.
type Settlement struct {
	WalletID        string
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	// Metadata, if set, edits typed fields (provider reference, messages) in the same write.
	Metadata func(m *Metadata)
}

// Complete moves a pending record to completed and stamps the balances captured by the
// wallet posting that settled it.
func (s *Service) Complete(ctx context.Context, id string, st Settlement, actor Actor) (Transaction, error) {
	t, err := s.repo.Update(ctx, id, func(t *Transaction) error {
		if err := checkTransition(t.Status, StatusCompleted, ""); err != nil {
			return err
		}
		if err := checkBalances(t.Type, t.Amount, st.PreviousBalance, st.NewBalance); err != nil {
			return err
		}
		if st.WalletID != "" {
			t.WalletID = st.WalletID
		}
		t.PreviousBalance = st.PreviousBalance
		t.NewBalance = st.NewBalance
		if st.Metadata != nil {
			st.Metadata(&t.Metadata)
		}
		s.apply(t, ActionStatusChange, StatusCompleted, "", actor)
		return nil
	})
	s.metrics.RecordTransition(string(StatusCompleted), metrics.Result(err))
	return t, err
}

// Fail moves a pending record to failed, recording the reason and optional metadata edits.
func (s *Service) Fail(ctx context.Context, id, reason string, actor Actor, edit func(m *Metadata)) (Transaction, error) {
	t, err := s.repo.Update(ctx, id, func(t *Transaction) error {
		if err := checkTransition(t.Status, StatusFailed, reason); err != nil {
			return err
		}
		if edit != nil {
			edit(&t.Metadata)
		}
		s.apply(t, ActionStatusChange, StatusFailed, reason, actor)
		return nil
	})
	s.metrics.RecordTransition(string(StatusFailed), metrics.Result(err))
	return t, err
}

// Retry moves a failed record back to pending. It never re-applies a wallet posting;
// re-running fulfillment is the caller's job.
func (s *Service) Retry(ctx context.Context, id string, actor Actor) (Transaction, error) {
	t, err := s.repo.Update(ctx, id, func(t *Transaction) error {
		if t.Status != StatusFailed {
			return &InvalidTransitionError{From: t.Status, To: StatusPending}
		}
		n := t.Metadata.Retries()
		if n >= s.maxRetries {
			return &RetryLimitExceededError{RetryCount: n, Max: s.maxRetries}
		}
		n++
		t.Metadata.RetryCount = &n
		t.FailedAt = nil
		s.apply(t, ActionRetry, StatusPending, fmt.Sprintf("retry %d of %d", n, s.maxRetries), actor)
		return nil
	})
	s.metrics.RecordTransition(string(StatusPending), metrics.Result(err))
	if err != nil {
		return Transaction{}, err
	}
	logger.From(ctx).Info("transaction retried", "transaction_id", id, "retry_count", t.Metadata.Retries(), "actor", actor.ID)
	return t, nil
}

// SoftDelete cancels a record while preserving it. Completed funding and payment
// records are under compliance hold and can never leave completed.
func (s *Service) SoftDelete(ctx context.Context, id, reason string, actor Actor) (Transaction, error) {
	t, err := s.repo.Update(ctx, id, func(t *Transaction) error {
		if err := checkSoftDelete(*t, reason); err != nil {
			return err
		}
		s.apply(t, ActionSoftDelete, StatusCancelled, reason, actor)
		return nil
	})
	s.metrics.RecordTransition(string(StatusCancelled), metrics.Result(err))
	if err != nil {
		if errors.Is(err, ErrComplianceHold) {
			logger.From(ctx).Warn("soft delete blocked by compliance hold", "transaction_id", id, "actor", actor.ID)
		}
		return Transaction{}, err
	}
	logger.From(ctx).Info("transaction soft-deleted", "transaction_id", id, "actor", actor.ID)
	return t, nil
}

// Annotate appends notifications to a record without changing its status.
func (s *Service) Annotate(ctx context.Context, id string, notes ...Notification) (Transaction, error) {
	return s.repo.Update(ctx, id, func(t *Transaction) error {
		now := s.clock().UTC()
		for _, n := range notes {
			if n.At.IsZero() {
				n.At = now
			}
			t.Metadata.AppendNotification(n)
		}
		t.UpdatedAt = now
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id string) (Transaction, error) {
	if id == "" {
		return Transaction{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByReference(ctx context.Context, reference string) (Transaction, error) {
	if reference == "" {
		return Transaction{}, ErrNotFound
	}
	return s.repo.GetByReference(ctx, reference)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Transaction, error) {
	return s.repo.List(ctx, f.normalized())
}

// apply sets the target status, stamps timestamps and reasons, and appends the audit entry.
func (s *Service) apply(t *Transaction, action string, to Status, reason string, actor Actor) {
	now := s.clock().UTC()
	from := t.Status
	t.Status = to
	t.UpdatedAt = now
	stampStatus(t, to, now)
	switch to {
	case StatusFailed:
		if reason != "" {
			t.Metadata.FailureReason = reason
		}
	case StatusCancelled:
		t.Metadata.CancellationReason = reason
	}
	t.Metadata.appendAction(AdminAction{
		Action:     action,
		Actor:      actor,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		At:         now,
	})
}

func stampStatus(t *Transaction, s Status, now time.Time) {
	switch s {
	case StatusCompleted:
		t.CompletedAt = &now
		t.ProcessedAt = &now
	case StatusFailed:
		t.FailedAt = &now
		t.ProcessedAt = &now
	case StatusCancelled:
		if t.ProcessedAt == nil {
			t.ProcessedAt = &now
		}
	}
}

func validateDraft(d Draft, status Status) error {
	switch {
	case d.UserID == "":
		return fmt.Errorf("%w: userId required", ErrInvalidDraft)
	case d.Reference == "":
		return fmt.Errorf("%w: reference required", ErrInvalidDraft)
	case !d.Type.Valid():
		return fmt.Errorf("%w: type %q", ErrInvalidDraft, d.Type)
	case !d.Category.Valid():
		return fmt.Errorf("%w: category %q", ErrInvalidDraft, d.Category)
	case !d.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidDraft)
	}
	if status == StatusCompleted {
		return checkBalances(d.Type, d.Amount, d.PreviousBalance, d.NewBalance)
	}
	return nil
}

// checkBalances enforces newBalance = previousBalance ± amount for settled records.
func checkBalances(typ Type, amount, prev, next decimal.Decimal) error {
	want, sign := prev.Add(amount), "+"
	if typ == TypeDebit {
		want, sign = prev.Sub(amount), "-"
	}
	if !want.Equal(next) {
		return fmt.Errorf("%w: newBalance %s != previousBalance %s %s %s", ErrInvalidDraft, next, prev, sign, amount)
	}
	return nil
}
