package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "storepay"

// Metrics groups the payment engine collectors. A nil *Metrics is valid and
// records nothing, which keeps unit tests free of registry plumbing.
type Metrics struct {
	Registry *prometheus.Registry

	WebhookEvents     *prometheus.CounterVec
	IntentTransitions *prometheus.CounterVec
	LedgerPostings    *prometheus.CounterVec
	Settlements       *prometheus.CounterVec
	FulfillmentTasks  *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by provider and processing outcome.",
		}, []string{"provider", "outcome"}),
		IntentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_transitions_total",
			Help:      "Payment intent status transitions.",
		}, []string{"provider", "status"}),
		LedgerPostings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_postings_total",
			Help:      "Ledger entry insert attempts by type and result.",
		}, []string{"type", "result"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement lifecycle events.",
		}, []string{"event"}),
		FulfillmentTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_tasks_total",
			Help:      "Side-effect task executions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_seconds",
			Help:      "Outbound provider API latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation", "result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.WebhookEvents,
		m.IntentTransitions,
		m.LedgerPostings,
		m.Settlements,
		m.FulfillmentTasks,
		m.ProviderLatency,
	)
	return m
}

func (m *Metrics) Webhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Transition(provider, status string) {
	if m == nil {
		return
	}
	m.IntentTransitions.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) Ledger(entryType, result string) {
	if m == nil {
		return
	}
	m.LedgerPostings.WithLabelValues(entryType, result).Inc()
}

func (m *Metrics) Settlement(event string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(event).Inc()
}

func (m *Metrics) Fulfillment(kind, outcome string) {
	if m == nil {
		return
	}
	m.FulfillmentTasks.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveProvider(provider, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderLatency.WithLabelValues(provider, operation, result).Observe(time.Since(started).Seconds())
}
