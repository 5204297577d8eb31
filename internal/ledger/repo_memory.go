package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is a simple in-memory Repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	byID  map[string]Transaction
	byRef map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Transaction), byRef: make(map[string]string)}
}

func (r *MemoryRepo) Insert(ctx context.Context, t Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byRef[t.Reference]; ok {
		return ErrDuplicateReference
	}
	t.Metadata = t.Metadata.clone()
	r.byID[t.ID] = t
	r.byRef[t.Reference] = t.ID
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	t.Metadata = t.Metadata.clone()
	return t, nil
}

func (r *MemoryRepo) GetByReference(ctx context.Context, reference string) (Transaction, error) {
	r.mu.Lock()
	id, ok := r.byRef[reference]
	r.mu.Unlock()
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *MemoryRepo) List(ctx context.Context, f Filter) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Transaction, 0)
	for _, t := range r.byID {
		if f.UserID != "" && t.UserID != f.UserID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		t.Metadata = t.Metadata.clone()
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset >= len(out) {
		return []Transaction{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, fn func(t *Transaction) error) (Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	next := cur
	next.Metadata = cur.Metadata.clone()
	if err := fn(&next); err != nil {
		return Transaction{}, err
	}
	r.byID[id] = next
	next.Metadata = next.Metadata.clone()
	return next, nil
}
