package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for tax-processing observability.
type BusinessMetrics struct {
	// Calculation flow
	CalculationsFetched  prometheus.Counter
	CalculationCacheHits prometheus.Counter
	TaxLinesDegraded     prometheus.Counter

	// Transaction lifecycle
	TransactionsCreated prometheus.Counter
	ReversalsCreated    prometheus.Counter

	// Webhooks and event delivery
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// External API performance
	StripeAPILatency *prometheus.HistogramVec
}

// NewBusinessMetrics creates and registers all business metrics
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "stripetax"
	}

	subsystem := "business"

	m := &BusinessMetrics{
		CalculationsFetched: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tax_calculations_fetched_total",
				Help:      "Total tax calculations fetched from the remote provider",
			},
		),
		CalculationCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tax_calculation_cache_hits_total",
				Help:      "Total tax calculations served from cache",
			},
		),
		TaxLinesDegraded: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tax_lines_degraded_total",
				Help:      "Total tax line requests answered with zero rates because the cart was not calculable",
			},
		),
		TransactionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tax_transactions_created_total",
				Help:      "Total tax transactions committed after payment",
			},
		),
		ReversalsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tax_reversals_created_total",
				Help:      "Total tax transaction reversals created for refunds",
			},
		),
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total webhook events received, by event type",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhook events processed successfully, by event type",
			},
			[]string{"event_type"},
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook events that failed processing, by event type",
			},
			[]string{"event_type"},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook handler duration in seconds, by event type",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
		StripeAPILatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stripe_api_duration_seconds",
				Help:      "Stripe API call duration in seconds, by operation",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	return m
}

// Business is the global metrics instance, set once at startup via Init.
// Callers must nil-check before recording.
var Business *BusinessMetrics

// Init registers the business metrics under the given namespace.
func Init(namespace string) {
	Business = NewBusinessMetrics(namespace)
}
