package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatch"

var (
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "status_transitions_total", Help: "Accepted emergency status transitions by target status"},
		[]string{"to"},
	)
	GateResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "gate_resolutions_total", Help: "Confirmation gates resolved, by gate and source (requester, facility, timeout)"},
		[]string{"gate", "source"},
	)
	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "side_effect_failures_total", Help: "Best-effort side table writes that failed"},
		[]string{"table"},
	)
	ReconcileRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reconcile_repairs_total", Help: "Side table repairs applied by reconciliation"},
		[]string{"kind"},
	)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "audit_events_total", Help: "Audit events handed to the publisher, by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
