// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breakers guard feed providers; the label is "feed:<provider url>".
var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zupass_feed_breaker_state",
		Help: "Feed provider breaker state: 0 closed, 1 half-open, 2 open",
	}, []string{"breaker"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zupass_feed_breaker_trips_total",
		Help: "Feed provider breaker transitions to open",
	}, []string{"breaker", "reason"}) // reason=threshold_exceeded|half_open_failure
)

var breakerStateCodes = map[string]float64{"closed": 0, "half-open": 1, "open": 2}

// SetCircuitBreakerState publishes state for breaker. Unknown states are
// dropped.
func SetCircuitBreakerState(breaker, state string) {
	if code, ok := breakerStateCodes[state]; ok {
		breakerState.WithLabelValues(breaker).Set(code)
	}
}

func RecordCircuitBreakerTrip(breaker, reason string) {
	breakerTrips.WithLabelValues(breaker, reason).Inc()
}
