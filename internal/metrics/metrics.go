package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing,
// so domain services can run without instrumentation in tests.
type Metrics struct {
	walletPostingsTotal    *prometheus.CounterVec
	ledgerTransitionsTotal *prometheus.CounterVec
	pinVerificationsTotal  *prometheus.CounterVec
	pinLockoutActivations  prometheus.Counter
	purchasesTotal         *prometheus.CounterVec
	providerLatencySeconds *prometheus.HistogramVec
	webhookEventsTotal     *prometheus.CounterVec
	adminOperationsTotal   *prometheus.CounterVec
}

// New registers all collectors on reg. Pass prometheus.DefaultRegisterer in the process
// and prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		walletPostingsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vtu",
				Subsystem: "wallet",
				Name:      "postings_total",
				Help:      "Wallet balance postings partitioned by direction and result.",
			},
			[]string{"direction", "result"},
		),
		ledgerTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vtu",
				Subsystem: "ledger",
				Name:      "transitions_total",
				Help:      "Transaction status transitions partitioned by target status and result.",
			},
			[]string{"to", "result"},
		),
		pinVerificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vtu",
				Subsystem: "pin",
				Name:      "verifications_total",
				Help:      "Transaction PIN verifications partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		pinLockoutActivations: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "vtu",
				Subsystem: "pin",
				Name:      "lockout_activations_total",
				Help:      "Number of times a user was locked out after consecutive PIN failures.",
			},
		),
		purchasesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vtu",
				Subsystem: "purchase",
				Name:      "requests_total",
				Help:      "Purchase attempts partitioned by service type and result.",
			},
			[]string{"service_type", "result"},
		),
		providerLatencySeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "vtu",
				Subsystem: "provider",
				Name:      "fulfill_duration_seconds",
				Help:      "Fulfillment provider call latency.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "result"},
		),
		webhookEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vtu",
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Payment gateway webhook deliveries partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		adminOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vtu",
				Subsystem: "admin",
				Name:      "operations_total",
				Help:      "Admin transaction operations partitioned by action and result.",
			},
			[]string{"action", "result"},
		),
	}
}

func (m *Metrics) RecordWalletPosting(direction, result string) {
	if m == nil {
		return
	}
	m.walletPostingsTotal.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) RecordTransition(to, result string) {
	if m == nil {
		return
	}
	m.ledgerTransitionsTotal.WithLabelValues(to, result).Inc()
}

func (m *Metrics) RecordPinVerification(outcome string) {
	if m == nil {
		return
	}
	m.pinVerificationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordPinLockout() {
	if m == nil {
		return
	}
	m.pinLockoutActivations.Inc()
}

func (m *Metrics) RecordPurchase(serviceType, result string) {
	if m == nil {
		return
	}
	m.purchasesTotal.WithLabelValues(serviceType, result).Inc()
}

func (m *Metrics) ObserveProviderCall(provider, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatencySeconds.WithLabelValues(provider, result).Observe(d.Seconds())
}

func (m *Metrics) RecordWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordAdminOperation(action, result string) {
	if m == nil {
		return
	}
	m.adminOperationsTotal.WithLabelValues(action, result).Inc()
}

// Result maps an error to the "ok"/"error" label used across collectors.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
