package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
//
// Storage: table audit_events, INSERT-only.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated admin causing the event.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP when available.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Target identifiers (optional, depending on the event type).
	UserID        string `json:"user_id,omitempty" db:"user_id"`
	TransactionID string `json:"transaction_id,omitempty" db:"transaction_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAdminAction   EventType = "admin_action"
	EventTypeManualPosting EventType = "manual_posting"
)

// Actor identifies who performed an audited operation.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
