// Package metrics defines the Prometheus metrics exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransferBytes counts payload bytes moved by the transfer endpoints,
	// by direction.
	TransferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedcheck_transfer_bytes_total",
			Help: "Payload bytes moved by the transfer endpoints.",
		},
		[]string{"direction"},
	)

	// SpeedTests counts delegated measurements by provider and outcome.
	SpeedTests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedcheck_speed_tests_total",
			Help: "Measurements run through a measurement provider.",
		},
		[]string{"provider", "result"},
	)

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedcheck_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		},
	)

	// SocketSessions counts socket sessions by the last phase they reached
	// and outcome.
	SocketSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedcheck_socket_sessions_total",
			Help: "Socket sessions by last phase and outcome.",
		},
		[]string{"phase", "result"},
	)

	// PhaseDuration is the duration of socket phases.
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speedcheck_socket_phase_duration_seconds",
			Help:    "Duration of socket session phases.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"phase"},
	)
)
