package ledger

import "context"

// Repository persists transactions.
//
// Insert must enforce reference uniqueness at the storage layer and report a clash as
// ErrDuplicateReference. Update must run fn and write its result as one unit with the
// row locked, so concurrent status changes are serialized.
type Repository interface {
	Insert(ctx context.Context, t Transaction) error
	Get(ctx context.Context, id string) (Transaction, error)
	GetByReference(ctx context.Context, reference string) (Transaction, error)
	List(ctx context.Context, f Filter) ([]Transaction, error)
	Update(ctx context.Context, id string, fn func(t *Transaction) error) (Transaction, error)
}
