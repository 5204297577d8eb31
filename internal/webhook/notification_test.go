package webhook

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

const samplePayload = `{
  "eventType": "SUCCESSFUL_TRANSACTION",
  "eventData": {
    "transactionReference": "MNFY|20260301|000123",
    "paymentReference": "MNFY|20260301|000123",
    "amountPaid": "500.00",
    "paymentStatus": "paid",
    "paidOn": "2026-03-01 10:15:02.000",
    "product": {"reference": "ACC-REF-U1", "type": "RESERVED_ACCOUNT"},
    "destinationAccountInformation": {"bankCode": "035", "accountNumber": "9900000001"}
  }
}`

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(samplePayload))
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	if n.GatewayReference != "MNFY|20260301|000123" {
		t.Fatalf("unexpected reference %q", n.GatewayReference)
	}
	if !n.AmountPaid.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("unexpected amount %s", n.AmountPaid)
	}
	if n.PaymentStatus != "PAID" {
		t.Fatalf("expected normalized status, got %q", n.PaymentStatus)
	}
	if n.DestinationAccount != "9900000001" {
		t.Fatalf("unexpected account %q", n.DestinationAccount)
	}
	if n.PaidOn == nil || n.PaidOn.Hour() != 10 {
		t.Fatalf("unexpected paidOn %v", n.PaidOn)
	}
}

func TestParseNotification_FallsBackToAccountReference(t *testing.T) {
	body := `{"eventData":{"transactionReference":"GW1","amountPaid":100,"paymentStatus":"PAID","product":{"reference":"ACC-REF-U1"}}}`
	n, err := ParseNotification([]byte(body))
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	if n.DestinationAccount != "ACC-REF-U1" {
		t.Fatalf("expected account reference, got %q", n.DestinationAccount)
	}
}

func TestParseNotification_Invalid(t *testing.T) {
	for _, body := range []string{`not json`, `{"eventData":{"amountPaid":"10"}}`} {
		if _, err := ParseNotification([]byte(body)); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("body %q: expected ErrInvalidPayload, got %v", body, err)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(samplePayload)
	sig := Sign(body, "whsec")

	if !VerifySignature(body, "whsec", sig) {
		t.Fatalf("expected valid signature")
	}
	if VerifySignature(body, "other", sig) {
		t.Fatalf("expected mismatch for wrong secret")
	}
	if VerifySignature(append(body, ' '), "whsec", sig) {
		t.Fatalf("expected mismatch for modified body")
	}
	if VerifySignature(body, "whsec", "zz") || VerifySignature(body, "", sig) {
		t.Fatalf("expected rejection for malformed input")
	}
}
