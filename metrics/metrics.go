// Package metrics holds the process-wide Prometheus collectors. They are
// registered on the default registry and served by httpapi's /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SessionsRunning tracks live bot sessions in the registry.
	SessionsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "botforge_sessions_running",
		Help: "Number of live bot polling sessions",
	})

	// UpdatesHandled counts inbound messaging updates by trigger kind.
	UpdatesHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botforge_updates_handled_total",
		Help: "Total inbound updates dispatched to the interpreter",
	}, []string{"kind"})

	// AIRequests counts AI bridge delegations by provider.
	AIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botforge_ai_requests_total",
		Help: "Total free-text misses delegated to the AI bridge",
	}, []string{"provider"})

	// SessionStarts counts session start attempts by outcome.
	SessionStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botforge_session_starts_total",
		Help: "Total session start attempts",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(SessionsRunning, UpdatesHandled, AIRequests, SessionStarts)
}
