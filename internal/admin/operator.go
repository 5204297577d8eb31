package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vtu-platform/internal/audit"
	"vtu-platform/internal/ledger"
	"vtu-platform/internal/metrics"
	"vtu-platform/internal/purchase"
	"vtu-platform/pkg/logger"

	"github.com/google/uuid"
)

// MaxBulkItems caps the number of transactions one bulk request may touch.
const MaxBulkItems = 100

var (
	ErrEmptySelection = errors.New("admin: no transaction ids given")
	ErrTooManyItems   = fmt.Errorf("admin: at most %d transactions per request", MaxBulkItems)
)

// AuditLogger records internal-only audit events. audit.Service implements it.
type AuditLogger interface {
	LogAdminAction(ctx context.Context, actor audit.Actor, transactionID, message, metadata string) error
	LogManualPosting(ctx context.Context, actor audit.Actor, userID, transactionID, message, metadata string) error
}

// Resumer re-runs fulfillment for a payment record moved back to pending.
type Resumer interface {
	Resume(ctx context.Context, transactionID string) (purchase.Result, error)
}

// Operator carries out admin changes to transactions and wallets.
//
// Status changes go through the ledger's state machine, so an admin can never replay a
// balance delta or take a completed funding/payment record out of completed. Every
// successful operation is audited; audit failures are logged and never fail the call.
type Operator struct {
	wallets WalletPoster
	ledger  *ledger.Service
	audit   AuditLogger
	resumer Resumer
	metrics *metrics.Metrics

	clock        func() time.Time
	newReference func() string
}

// NewOperator wires an Operator. resumer may be nil, in which case Retry never resumes.
func NewOperator(wallets WalletPoster, ledgerSvc *ledger.Service, auditLog AuditLogger, resumer Resumer, m *metrics.Metrics) *Operator {
	o := &Operator{
		wallets: wallets,
		ledger:  ledgerSvc,
		audit:   auditLog,
		resumer: resumer,
		metrics: m,
		clock:   time.Now,
	}
	o.newReference = o.generateReference
	return o
}

// ItemResult is the per-transaction outcome of a bulk operation.
type ItemResult struct {
	ID          string              `json:"id"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Error       string              `json:"error,omitempty"`
	err         error
}

// Err returns the underlying error for the item, if any.
func (r ItemResult) Err() error { return r.err }

// BulkTransition moves each record to status `to`. Items succeed or fail independently.
func (o *Operator) BulkTransition(ctx context.Context, actor audit.Actor, ids []string, to ledger.Status, reason string) ([]ItemResult, error) {
	return o.bulk(ctx, "bulk_transition", ids, func(id string) (ledger.Transaction, error) {
		return o.transition(ctx, actor, id, to, reason)
	})
}

// Cancel moves a pending or failed record to cancelled. A reason is required.
func (o *Operator) Cancel(ctx context.Context, actor audit.Actor, id, reason string) (ledger.Transaction, error) {
	t, err := o.transition(ctx, actor, id, ledger.StatusCancelled, reason)
	o.metrics.RecordAdminOperation("cancel", metrics.Result(err))
	return t, err
}

func (o *Operator) transition(ctx context.Context, actor audit.Actor, id string, to ledger.Status, reason string) (ledger.Transaction, error) {
	t, err := o.ledger.Transition(ctx, id, to, reason, ledgerActor(actor))
	if err != nil {
		return ledger.Transaction{}, err
	}
	o.logAction(ctx, actor, t.ID, "status changed to "+string(to), map[string]any{"to": to, "reason": reason})
	return t, nil
}

// RetryOutcome reports a retry and, when requested, the resumed fulfillment.
type RetryOutcome struct {
	Transaction ledger.Transaction `json:"transaction"`
	Resumed     bool               `json:"resumed"`
	ResumeError string             `json:"resumeError,omitempty"`
}

// Retry moves a failed record back to pending. With resume set, payment records are
// handed to the purchase pipeline, which completes or fails them again in place.
func (o *Operator) Retry(ctx context.Context, actor audit.Actor, id string, resume bool) (RetryOutcome, error) {
	t, err := o.ledger.Retry(ctx, id, ledgerActor(actor))
	o.metrics.RecordAdminOperation("retry", metrics.Result(err))
	if err != nil {
		return RetryOutcome{}, err
	}
	o.logAction(ctx, actor, t.ID, "retried", map[string]any{"retryCount": t.Metadata.Retries(), "resume": resume})

	out := RetryOutcome{Transaction: t}
	if !resume || o.resumer == nil || t.Category != ledger.CategoryPayment {
		return out, nil
	}

	res, rerr := o.resumer.Resume(ctx, t.ID)
	out.Resumed = true
	if rerr != nil {
		logger.From(ctx).Warn("resume after retry failed", "transaction_id", t.ID, "err", rerr)
		out.ResumeError = rerr.Error()
		if latest, err := o.ledger.Get(ctx, t.ID); err == nil {
			out.Transaction = latest
		}
		return out, nil
	}
	out.Transaction = res.Transaction
	return out, nil
}

// SoftDelete cancels a record while preserving it.
func (o *Operator) SoftDelete(ctx context.Context, actor audit.Actor, id, reason string) (ledger.Transaction, error) {
	t, err := o.softDelete(ctx, actor, id, reason)
	o.metrics.RecordAdminOperation("soft_delete", metrics.Result(err))
	return t, err
}

// BulkSoftDelete soft-deletes each record independently.
func (o *Operator) BulkSoftDelete(ctx context.Context, actor audit.Actor, ids []string, reason string) ([]ItemResult, error) {
	return o.bulk(ctx, "bulk_soft_delete", ids, func(id string) (ledger.Transaction, error) {
		return o.softDelete(ctx, actor, id, reason)
	})
}

func (o *Operator) softDelete(ctx context.Context, actor audit.Actor, id, reason string) (ledger.Transaction, error) {
	t, err := o.ledger.SoftDelete(ctx, id, reason, ledgerActor(actor))
	if err != nil {
		return ledger.Transaction{}, err
	}
	o.logAction(ctx, actor, t.ID, "soft deleted", map[string]any{"reason": reason})
	return t, nil
}

func (o *Operator) bulk(ctx context.Context, op string, ids []string, fn func(id string) (ledger.Transaction, error)) ([]ItemResult, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, ErrEmptySelection
	}
	if len(ids) > MaxBulkItems {
		return nil, ErrTooManyItems
	}

	results := make([]ItemResult, 0, len(ids))
	failed := 0
	for _, id := range ids {
		t, err := fn(id)
		o.metrics.RecordAdminOperation(op, metrics.Result(err))
		if err != nil {
			failed++
			results = append(results, ItemResult{ID: id, Error: err.Error(), err: err})
			continue
		}
		results = append(results, ItemResult{ID: id, Transaction: &t})
	}
	logger.From(ctx).Info("bulk admin operation", "operation", op, "items", len(ids), "failed", failed)
	return results, nil
}

func (o *Operator) logAction(ctx context.Context, actor audit.Actor, transactionID, message string, details map[string]any) {
	if o.audit == nil {
		return
	}
	if err := o.audit.LogAdminAction(ctx, actor, transactionID, message, encodeDetails(details)); err != nil {
		logger.From(ctx).Warn("audit write failed", "transaction_id", transactionID, "err", err)
	}
}

func (o *Operator) generateReference() string {
	return fmt.Sprintf("ADM-%d-%s", o.clock().UnixMilli(), strings.ToUpper(uuid.NewString()[:8]))
}

func ledgerActor(a audit.Actor) ledger.Actor {
	return ledger.Actor{ID: a.UserID, Role: a.Role}
}

func encodeDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	b, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(b)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
