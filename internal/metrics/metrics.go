// Package metrics provides Prometheus instrumentation for the entries API.
// It exposes counters for gate decisions and detected attacks, gauges for the
// size of the in-memory abuse state, and a histogram for HTTP latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GateDecisions counts abuse gate outcomes, labeled by outcome:
	// "allowed", "rate_limited", "blocked", "attack_detected", "cooldown"
	// or "reported".
	GateDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "securelog_gate_decisions_total",
		Help: "Total number of abuse gate decisions",
	}, []string{"outcome"})

	// AttacksDetected counts content classified as an attack, by kind.
	AttacksDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "securelog_attacks_detected_total",
		Help: "Total number of submissions classified as attacks",
	}, []string{"kind"})

	// ActiveBlocks tracks the number of block entries held in memory.
	ActiveBlocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "securelog_blocks",
		Help: "Current number of tracked IP blocks",
	})

	// TrackedCooldowns tracks the number of cooldown entries held in memory.
	TrackedCooldowns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "securelog_cooldowns",
		Help: "Current number of tracked submission cooldowns",
	})

	// RateWindows tracks the number of open rate limiter windows.
	RateWindows = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "securelog_rate_windows",
		Help: "Current number of tracked rate limit windows",
	})

	// SweepEvictions counts entries reclaimed by the sweeper, by kind:
	// "block", "cooldown" or "window".
	SweepEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "securelog_sweep_evictions_total",
		Help: "Total number of expired entries removed by the sweeper",
	}, []string{"kind"})

	// AuditEvents counts abuse events by delivery result:
	// "published", "failed" or "dropped".
	AuditEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "securelog_audit_events_total",
		Help: "Total number of abuse events handled by the dispatcher",
	}, []string{"result"})

	// StreamConnections tracks open cooldown status websocket streams.
	StreamConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "securelog_stream_connections",
		Help: "Current number of open cooldown status streams",
	})

	// RequestLatency records HTTP handler latency in seconds.
	RequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "securelog_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(
		GateDecisions,
		AttacksDetected,
		ActiveBlocks,
		TrackedCooldowns,
		RateWindows,
		SweepEvictions,
		AuditEvents,
		StreamConnections,
		RequestLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
