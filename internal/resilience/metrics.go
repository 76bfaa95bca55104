package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker and retry collectors, labelled by BreakerSettings.Target.
var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Breaker position per target: 0 closed, 1 open, 2 half-open.",
	}, []string{"target"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_transitions_total",
		Help: "Breaker state changes per target.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_opened_total",
		Help: "Times a breaker opened per target.",
	}, []string{"target"})

	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbound_retries_total",
		Help: "Outbound HTTP attempts after the first, per target.",
	}, []string{"target"})
)

func countRetry(cl HTTPClient) {
	target := "unknown"
	if cl.Breaker != nil && cl.Breaker.cfg.Target != "" {
		target = cl.Breaker.cfg.Target
	}
	RetriesTotal.WithLabelValues(target).Inc()
}
