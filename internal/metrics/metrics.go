package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncDuration is the wall time of one account sync task
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail_triage_sync_duration_seconds",
			Help:    "Account sync duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7m
		},
		[]string{"provider", "status"},
	)

	// MessagesProcessed counts stored messages by outcome
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_triage_messages_processed_total",
			Help: "Total number of messages processed during sync",
		},
		[]string{"provider", "status"}, // status: created, duplicate, failed
	)

	// Categorizations counts categorization results by category and source
	Categorizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_triage_categorizations_total",
			Help: "Total number of categorizations",
		},
		[]string{"category", "source"},
	)

	// ProviderCallDuration is the latency of provider API calls
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail_triage_provider_call_duration_seconds",
			Help:    "Provider API call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"provider", "operation", "status"},
	)

	// ActionsApplied counts messages touched by category actions
	ActionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_triage_actions_applied_total",
			Help: "Total number of messages touched by category actions",
		},
		[]string{"provider", "category"},
	)

	// WebhookEvents counts push notifications by provider and outcome
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_triage_webhook_events_total",
			Help: "Total number of push notifications received",
		},
		[]string{"provider", "status"}, // status: accepted, duplicate, ignored, failed
	)
)

// RecordSyncDuration records one account sync task
func RecordSyncDuration(provider, status string, duration time.Duration) {
	SyncDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
}

// IncrementMessagesProcessed counts a processed message
func IncrementMessagesProcessed(provider, status string) {
	MessagesProcessed.WithLabelValues(provider, status).Inc()
}

// IncrementCategorization counts a categorization result
func IncrementCategorization(category, source string) {
	Categorizations.WithLabelValues(category, source).Inc()
}

// RecordProviderCall records a provider API call
func RecordProviderCall(provider, operation, status string, duration time.Duration) {
	ProviderCallDuration.WithLabelValues(provider, operation, status).Observe(duration.Seconds())
}

// AddActionsApplied counts messages touched for a category
func AddActionsApplied(provider, category string, n int) {
	ActionsApplied.WithLabelValues(provider, category).Add(float64(n))
}

// IncrementWebhookEvent counts a push notification
func IncrementWebhookEvent(provider, status string) {
	WebhookEvents.WithLabelValues(provider, status).Inc()
}
