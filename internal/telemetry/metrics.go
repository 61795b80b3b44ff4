package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// offers

	OffersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "offers",
		Name:      "created_total",
		Help:      "Offers opened, labelled by attempt number and creator.",
	}, []string{"attempt", "created_by"})

	AcceptOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "offers",
		Name:      "accept_total",
		Help:      "Accept requests by outcome (accepted, offer_unavailable, not_eligible, expired, not_found, error).",
	}, []string{"outcome"})

	OffersClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "offers",
		Name:      "closed_total",
		Help:      "Offers closed without acceptance, by terminal status.",
	}, []string{"status"})

	EscalationsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "escalation",
		Name:      "triggered_total",
		Help:      "Attempts skipped because no staff was eligible.",
	}, []string{"attempt"})

	EscalationsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "escalation",
		Name:      "exhausted_total",
		Help:      "Jobs left pending after the last attempt.",
	})

	SweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Subsystem: "escalation",
		Name:      "sweep_duration_seconds",
		Help:      "Time spent in one expiry sweep.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	// notifications

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Notification side effects by kind and result.",
	}, []string{"kind", "result"})

	DeliveriesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "worker",
		Name:      "deliveries_total",
		Help:      "Notification envelopes handled by the delivery worker, by outcome.",
	}, []string{"outcome"})

	// audit

	AuditWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "audit",
		Name:      "writes_total",
		Help:      "Audit events by write path (direct, buffered, flushed, dropped).",
	}, []string{"path"})

	AuditBufferDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dispatch",
		Subsystem: "audit",
		Name:      "buffer_depth",
		Help:      "Audit events waiting in the retry buffer.",
	})

	// http

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	HTTPDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Accept requests rejected by the rate limiter.",
	})
)

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
