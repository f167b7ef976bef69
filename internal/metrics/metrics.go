package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admission decisions by outcome (accepted | rejected) and error kind.
	AdmissionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afp_admission_decisions_total",
			Help: "Total number of admission decisions by outcome and rejection kind.",
		},
		[]string{"outcome", "kind"},
	)

	// Registration, listing and reveal transitions by outcome.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afp_transitions_total",
			Help: "Total number of lifecycle transitions by step and outcome.",
		},
		[]string{"step", "outcome"},
	)

	// Outbound calls to the chain, metadata store, exchange and registry.
	ExternalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afp_external_calls_total",
			Help: "Total number of external calls by target, operation and result.",
		},
		[]string{"target", "operation", "result"},
	)

	ExternalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "afp_external_call_duration_seconds",
			Help:    "Duration of external calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms → ~40s
		},
		[]string{"target", "operation"},
	)

	// Tracks NATS messages published by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages processed.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	// Cache hits and misses for token decimals.
	CacheAccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afp_cache_access_total",
			Help: "Number of cache hits/misses by cache.",
		},
		[]string{"cache", "result"}, // hit | miss
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afp_errors_total",
			Help: "Count of errors by component.",
		},
		[]string{"component", "reason"},
	)
)

// ObserveCall records the duration and result of an external call.
func ObserveCall(target, operation string, start time.Time, err error) {
	ExternalCallDuration.WithLabelValues(target, operation).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	ExternalCallsTotal.WithLabelValues(target, operation, result).Inc()
}

func IncAdmission(outcome, kind string) {
	AdmissionTotal.WithLabelValues(outcome, kind).Inc()
}

func IncTransition(step, outcome string) {
	TransitionsTotal.WithLabelValues(step, outcome).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncCache(cache, result string) {
	CacheAccess.WithLabelValues(cache, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}
