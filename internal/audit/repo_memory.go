package audit

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepo keeps events in append order for tests and local runs. Like the
// audit_events primary key, an id can be written only once.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	ids    map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{ids: make(map[string]struct{})} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ids[e.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, e.ID)
	}
	r.ids[e.ID] = struct{}{}
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of every event in append order.
func (r *MemoryRepo) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

// ForTransaction returns the trail of admin activity on one ledger record.
func (r *MemoryRepo) ForTransaction(transactionID string) []Event {
	return r.filter(func(e Event) bool { return e.TransactionID == transactionID })
}

// ForUser returns manual postings made against a user's wallet.
func (r *MemoryRepo) ForUser(userID string) []Event {
	return r.filter(func(e Event) bool { return e.UserID == userID })
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
