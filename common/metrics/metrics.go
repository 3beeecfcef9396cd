package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	permissionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_permission_checks_total",
			Help: "Permission checks by outcome.",
		},
		[]string{"granted"},
	)

	webhookAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_webhook_attempts_total",
			Help: "Webhook delivery attempts by outcome (delivered, retry, exhausted).",
		},
		[]string{"outcome"},
	)

	webhookAttemptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_webhook_attempt_duration_seconds",
			Help:    "Latency of a single webhook delivery attempt.",
			Buckets: prometheus.DefBuckets,
		},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_events_published_total",
			Help: "Events appended to the event log by kind.",
		},
		[]string{"kind"},
	)

	subscriptionsDeactivated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_subscriptions_deactivated_total",
			Help: "Webhook subscriptions auto-deactivated after repeated failures.",
		},
	)
)

// Init registers collectors in the default registry. Call once per process.
func Init() {
	prometheus.MustRegister(
		permissionChecks,
		webhookAttempts,
		webhookAttemptDuration,
		eventsPublished,
		subscriptionsDeactivated,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func PermissionCheck(granted bool) {
	permissionChecks.WithLabelValues(strconv.FormatBool(granted)).Inc()
}

func WebhookAttempt(outcome string, elapsed time.Duration) {
	webhookAttempts.WithLabelValues(outcome).Inc()
	webhookAttemptDuration.Observe(elapsed.Seconds())
}

func EventPublished(kind string) {
	eventsPublished.WithLabelValues(kind).Inc()
}

func SubscriptionDeactivated() {
	subscriptionsDeactivated.Inc()
}
