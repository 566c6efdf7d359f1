package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure|locked).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todomaster_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// OAuthCallbacks counts federated login callbacks by provider and outcome.
	OAuthCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todomaster_oauth_callbacks_total",
			Help: "Total number of OAuth callbacks",
		},
		[]string{"provider", "result"},
	)

	// SecurityEvents counts recorded security events by type.
	SecurityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todomaster_security_events_total",
			Help: "Total number of recorded security events",
		},
		[]string{"type"},
	)

	// SecurityAlerts counts raised security alerts by level and type.
	SecurityAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todomaster_security_alerts_total",
			Help: "Total number of raised security alerts",
		},
		[]string{"level", "type"},
	)

	// SecurityEventsDropped counts events discarded because the dispatch queue was full.
	SecurityEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "todomaster_security_events_dropped_total",
			Help: "Security events dropped due to a full dispatch queue",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "todomaster_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
