package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Metadata holds typed audit and business fields of a transaction.
// AdminActions and Notifications are append-only.
type Metadata struct {
	// RetryCount is absent until the first retry.
	RetryCount         *int   `json:"retryCount,omitempty"`
	FailureReason      string `json:"failureReason,omitempty"`
	CancellationReason string `json:"cancellationReason,omitempty"`

	// OrderReference is our purchase correlation id: sent to the provider and used as the
	// wallet posting key, so one order is debited at most once.
	OrderReference    string            `json:"orderReference,omitempty"`
	ServiceType       string            `json:"serviceType,omitempty"`
	ServiceParameters map[string]string `json:"serviceParameters,omitempty"`
	ProviderReference string            `json:"providerReference,omitempty"`
	ProviderMessage   string            `json:"providerMessage,omitempty"`
	// Fulfilled marks an order the provider delivered; it must never be re-sent.
	Fulfilled         bool              `json:"fulfilled,omitempty"`

	Gateway *GatewayInfo `json:"gateway,omitempty"`

	AdminActions  []AdminAction  `json:"adminActions,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// GatewayInfo correlates a credit with the payment gateway event that caused it.
type GatewayInfo struct {
	GatewayReference   string          `json:"gatewayReference"`
	PaymentReference   string          `json:"paymentReference,omitempty"`
	DestinationAccount string          `json:"destinationAccount,omitempty"`
	AmountPaid         decimal.Decimal `json:"amountPaid"`
	PaymentStatus      string          `json:"paymentStatus"`
	PaidOn             *time.Time      `json:"paidOn,omitempty"`
}

type AdminAction struct {
	Action     string    `json:"action"`
	Actor      Actor     `json:"actor"`
	FromStatus Status    `json:"fromStatus,omitempty"`
	ToStatus   Status    `json:"toStatus,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

type Notification struct {
	Event   string    `json:"event"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Admin action names.
const (
	ActionCreate       = "create"
	ActionStatusChange = "status_change"
	ActionRetry        = "retry"
	ActionSoftDelete   = "soft_delete"
	ActionManualFund   = "manual_fund"
	ActionManualDebit  = "manual_debit"
)

// Retries returns the retry counter, treating an absent counter as zero.
func (m Metadata) Retries() int {
	if m.RetryCount == nil {
		return 0
	}
	return *m.RetryCount
}

func (m *Metadata) appendAction(a AdminAction) {
	m.AdminActions = append(m.AdminActions, a)
}

// AppendNotification records an outbound notification event on the trail.
func (m *Metadata) AppendNotification(n Notification) {
	m.Notifications = append(m.Notifications, n)
}

// clone deep-copies slices, maps and pointers so stored records never alias caller values.
func (m Metadata) clone() Metadata {
	out := m
	if m.RetryCount != nil {
		n := *m.RetryCount
		out.RetryCount = &n
	}
	if m.ServiceParameters != nil {
		out.ServiceParameters = make(map[string]string, len(m.ServiceParameters))
		for k, v := range m.ServiceParameters {
			out.ServiceParameters[k] = v
		}
	}
	if m.Gateway != nil {
		g := *m.Gateway
		out.Gateway = &g
	}
	out.AdminActions = append([]AdminAction(nil), m.AdminActions...)
	out.Notifications = append([]Notification(nil), m.Notifications...)
	return out
}

// Value stores Metadata as JSONB.
func (m Metadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Scan reads Metadata from a JSONB column.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("ledger: cannot scan %T into Metadata", src)
	}
}
