package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeNoAccount   = "no_account"
	outcomeUnchanged   = "unchanged"
	outcomeUpdated     = "updated"
	outcomeSuperseded  = "superseded"
	outcomeDegraded    = "degraded"
	outcomeInvalidated = "invalidated"

	resultApplied   = "applied"
	resultDuplicate = "duplicate"
	resultStale     = "stale"
	resultIgnored   = "ignored"
	resultFailed    = "failed"
)

// Metrics holds the billing Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	reconcile *prometheus.CounterVec
	webhook   *prometheus.CounterVec
	checkout  *prometheus.CounterVec
	provider  *prometheus.HistogramVec
}

// NewMetrics registers the billing collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reconcile: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachkit_billing_reconcile_total",
			Help: "Payout account reconciliations by outcome.",
		}, []string{"outcome"}),
		webhook: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachkit_billing_webhook_events_total",
			Help: "Webhook events processed by type and result.",
		}, []string{"type", "result"}),
		checkout: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachkit_billing_checkout_sessions_total",
			Help: "Checkout session requests by kind and result.",
		}, []string{"kind", "result"}),
		provider: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coachkit_billing_provider_request_duration_seconds",
			Help:    "Payment provider call latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

func (m *Metrics) reconciled(outcome string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(outcome).Inc()
}

func (m *Metrics) webhookEvent(eventType EventType, result string) {
	if m == nil {
		return
	}
	m.webhook.WithLabelValues(string(eventType), result).Inc()
}

func (m *Metrics) checkoutSession(kind CheckoutKind, result string) {
	if m == nil {
		return
	}
	m.checkout.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) observeProvider(op string, seconds float64) {
	if m == nil {
		return
	}
	m.provider.WithLabelValues(op).Observe(seconds)
}
