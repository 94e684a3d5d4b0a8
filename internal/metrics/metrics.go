// Package metrics exposes the server's Prometheus counters and
// histograms. It has no dependency on internal/server so it can be
// scraped from a separate admin listener without pulling in the DNS
// protocol stack.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dnsscienced_queries_total", Help: "Total DNS queries received"},
		[]string{"transport"},
	)
	AnswersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dnsscienced_answers_total", Help: "Total DNS answers sent, by rcode"},
		[]string{"rcode"},
	)
	RRLActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dnsscienced_rrl_actions_total", Help: "Total RRL verdicts, by action"},
		[]string{"action"},
	)
	AnswerCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dnsscienced_answer_cache_lookups_total", Help: "Answer cache lookups, by outcome"},
		[]string{"outcome"},
	)
	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "dnsscienced_query_duration_seconds", Help: "Time to build a response", Buckets: prometheus.DefBuckets},
	)
	QPSLimiterRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dnsscienced_qps_limiter_rejections_total", Help: "Queries dropped by the per-client QPS limiter"},
	)
	QPSLimiterTrackedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dnsscienced_qps_limiter_tracked_clients", Help: "Distinct client IPs currently holding a QPS token bucket"},
	)
)

func init() {
	prometheus.MustRegister(QueriesTotal, AnswersTotal, RRLActionsTotal, AnswerCacheLookups, QueryDuration,
		QPSLimiterRejectionsTotal, QPSLimiterTrackedClients)
}

// ObserveDuration records how long it took to build a response, measured
// from start to now.
func ObserveDuration(start time.Time) {
	QueryDuration.Observe(time.Since(start).Seconds())
}
