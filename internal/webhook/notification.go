package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw request body.
const SignatureHeader = "X-Gateway-Signature"

var ErrInvalidPayload = errors.New("invalid webhook payload")

// Notification is the gateway-agnostic funding event.
type Notification struct {
	EventType          string
	GatewayReference   string
	PaymentReference   string
	AmountPaid         decimal.Decimal
	PaymentStatus      string
	DestinationAccount string
	PaidOn             *time.Time
}

// envelope is the gateway's collection-notification body.
type envelope struct {
	EventType string `json:"eventType"`
	EventData struct {
		TransactionReference string          `json:"transactionReference"`
		PaymentReference     string          `json:"paymentReference"`
		AmountPaid           decimal.Decimal `json:"amountPaid"`
		PaymentStatus        string          `json:"paymentStatus"`
		PaidOn               string          `json:"paidOn"`
		Product              struct {
			Reference string `json:"reference"`
		} `json:"product"`
		DestinationAccountInformation struct {
			AccountNumber string `json:"accountNumber"`
		} `json:"destinationAccountInformation"`
	} `json:"eventData"`
}

// paidOnLayouts are the timestamp formats gateways are known to send.
var paidOnLayouts = []string{time.RFC3339, "2006-01-02 15:04:05.000", "2006-01-02 15:04:05", "02/01/2006 03:04:05 PM"}

// ParseNotification decodes the gateway envelope.
func ParseNotification(body []byte) (Notification, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	data := env.EventData
	n := Notification{
		EventType:          env.EventType,
		GatewayReference:   strings.TrimSpace(data.TransactionReference),
		PaymentReference:   strings.TrimSpace(data.PaymentReference),
		AmountPaid:         data.AmountPaid,
		PaymentStatus:      strings.ToUpper(strings.TrimSpace(data.PaymentStatus)),
		DestinationAccount: strings.TrimSpace(data.DestinationAccountInformation.AccountNumber),
	}
	// Reserved-account payments may identify the account by its reference instead.
	if n.DestinationAccount == "" {
		n.DestinationAccount = strings.TrimSpace(data.Product.Reference)
	}
	if data.PaidOn != "" {
		for _, layout := range paidOnLayouts {
			if t, err := time.Parse(layout, data.PaidOn); err == nil {
				t = t.UTC()
				n.PaidOn = &t
				break
			}
		}
	}
	if n.GatewayReference == "" {
		return Notification{}, fmt.Errorf("%w: transactionReference is required", ErrInvalidPayload)
	}
	return n, nil
}

// VerifySignature reports whether signature is the hex HMAC-SHA512 of body under secret.
func VerifySignature(body []byte, secret, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign computes the signature VerifySignature expects; used by tests and tooling.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
