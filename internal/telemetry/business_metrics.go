package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for billing-level observability.
// Most metrics carry an account_id label so each billing account can be
// charted separately.
type BusinessMetrics struct {
	// Customer identity resolution
	CustomersResolved *prometheus.CounterVec
	ResolutionFailed  *prometheus.CounterVec
	MappingsUpserted  *prometheus.CounterVec

	// Invoice workflow
	InvoicesCreated  *prometheus.CounterVec
	InvoiceAmount    *prometheus.HistogramVec
	InvoiceFailed    *prometheus.CounterVec
	RollbackFailed   *prometheus.CounterVec
	WorkflowDuration *prometheus.HistogramVec

	// Webhooks
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Background reverse-index repair
	ReverseIndexRetries *prometheus.CounterVec
	ReverseIndexPending prometheus.Gauge

	// Admin bootstrap
	BootstrapPromotions *prometheus.CounterVec

	// Event bus
	EventsPublished *prometheus.CounterVec
}

// NewBusinessMetrics creates and registers the metrics on the default registry.
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "tuition"
	}

	subsystem := "billing"

	m := &BusinessMetrics{
		// =======================================================================
		// Customer Identity
		// =======================================================================
		CustomersResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "customers_resolved_total",
				Help:      "Customer resolutions by outcome",
			},
			[]string{"account_id", "outcome"}, // outcome: cached, matched, created, concurrent
		),
		ResolutionFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "customer_resolution_failed_total",
				Help:      "Customer resolutions that failed against the provider or store",
			},
			[]string{"account_id"},
		),
		MappingsUpserted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "mappings_upserted_total",
				Help:      "Manual customer mapping upserts",
			},
			[]string{"account_id"},
		),

		// =======================================================================
		// Invoice Workflow
		// =======================================================================
		InvoicesCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_finalized_total",
				Help:      "Invoices finalized through the workflow",
			},
			[]string{"account_id"},
		),
		InvoiceAmount: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoice_amount_minor_units",
				Help:      "Finalized invoice amounts in minor currency units",
				Buckets:   []float64{1000, 2500, 5000, 10000, 25000, 50000, 100000, 250000},
			},
			[]string{"account_id", "currency"},
		),
		InvoiceFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoice_workflow_failed_total",
				Help:      "Invoice workflows that returned an error, by error kind",
			},
			[]string{"account_id", "kind"},
		),
		RollbackFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rollback_failed_total",
				Help:      "Compensating actions that failed; each may leave an orphaned provider object",
			},
			[]string{"account_id", "action"},
		),
		WorkflowDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoice_workflow_duration_seconds",
				Help:      "End-to-end invoice workflow duration",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"account_id", "outcome"},
		),

		// =======================================================================
		// Webhooks
		// =======================================================================
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_received_total",
				Help:      "Verified webhook events received",
			},
			[]string{"account_id", "event_type"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_processed_total",
				Help:      "Webhook events processed by outcome",
			},
			[]string{"account_id", "event_type", "outcome"}, // outcome: applied, stale, duplicate, ignored
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_failed_total",
				Help:      "Webhook deliveries rejected or failed",
			},
			[]string{"account_id", "reason"},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processing_seconds",
				Help:      "Webhook processing duration",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"account_id"},
		),

		// =======================================================================
		// Reverse Index Repair
		// =======================================================================
		ReverseIndexRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reverse_index_retries_total",
				Help:      "Reverse index retry attempts by outcome",
			},
			[]string{"outcome"}, // outcome: succeeded, retrying, dropped
		),
		ReverseIndexPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reverse_index_pending",
				Help:      "Reverse index writes waiting for retry",
			},
		),

		// =======================================================================
		// Admin Bootstrap
		// =======================================================================
		BootstrapPromotions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "bootstrap_promotions_total",
				Help:      "First-admin promotion attempts by outcome",
			},
			[]string{"outcome"}, // outcome: promoted, forbidden, error
		),

		// =======================================================================
		// Event Bus
		// =======================================================================
		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_published_total",
				Help:      "Domain events published to the bus",
			},
			[]string{"subject", "outcome"},
		),
	}

	return m
}

// Global instance for easy access from services and handlers
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace)
	return Business
}
