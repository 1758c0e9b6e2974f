// Package metrics provides Prometheus instrumentation for the Drift
// matchmaking engine: gauges for queue depth and live sessions, counters
// for joins, matches and scheduler failures.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Match kinds for the MatchesTotal counter.
const (
	MatchHuman    = "human"
	MatchRescue   = "rescue"
	MatchFallback = "fallback"
)

var (
	// QueueSize tracks the number of users waiting across all queues.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drift_queue_size",
		Help: "Current number of users waiting in matching queues",
	})

	// AISessions tracks the number of users paired with the synthetic partner.
	AISessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drift_ai_sessions",
		Help: "Current number of sessions backed by the synthetic partner",
	})

	// JoinsTotal counts join requests, labeled by outcome: "matched",
	// "queued", or "error".
	JoinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_joins_total",
		Help: "Total join requests processed",
	}, []string{"outcome"})

	// MatchesTotal counts established sessions by kind: "human", "rescue",
	// or "fallback".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_matches_total",
		Help: "Total sessions established",
	}, []string{"kind"})

	// CancelsTotal counts queue cancellations, including moderation evictions.
	CancelsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drift_cancels_total",
		Help: "Total queue cancellations",
	})

	// SchedulerErrors counts failed fallback-scheduler iterations.
	SchedulerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drift_scheduler_errors_total",
		Help: "Total failed fallback scheduler iterations",
	})
)

func init() {
	prometheus.MustRegister(
		QueueSize,
		AISessions,
		JoinsTotal,
		MatchesTotal,
		CancelsTotal,
		SchedulerErrors,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
