// Package metrics provides Prometheus instrumentation for Heartline. It
// exposes counters and histograms for match searches, chat throughput,
// moderation and HTTP latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MatchSearchesTotal counts match searches by outcome: "matched",
	// "empty" or "error".
	MatchSearchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartline_match_searches_total",
		Help: "Total number of match searches",
	}, []string{"outcome"})

	// MatchRejectionsTotal counts candidates dropped by each filter.
	MatchRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartline_match_rejections_total",
		Help: "Candidates rejected during match searches, by filter",
	}, []string{"reason"})

	// MatchPoolSize records the number of candidates considered per search.
	MatchPoolSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "heartline_match_pool_size",
		Help:    "Candidates considered per match search",
		Buckets: prometheus.ExponentialBuckets(10, 4, 7),
	})

	// MatchResultSize records the number of matches returned per search.
	MatchResultSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "heartline_match_result_size",
		Help:    "Matches returned per match search",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
	})

	// MatchDuration records the time spent serving a match search.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "heartline_match_duration_seconds",
		Help:    "Time spent serving a match search",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// MessagesTotal counts chat messages by type: "sent", "blocked", "read".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartline_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"type"})

	// ModerationFlagsTotal counts messages flagged by the moderator.
	ModerationFlagsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartline_moderation_flags_total",
		Help: "Messages flagged by content moderation",
	}, []string{"reason"})

	// SuspensionsTotal counts suspensions applied, by trigger.
	SuspensionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartline_suspensions_total",
		Help: "Account suspensions applied",
	}, []string{"trigger"})

	// WSConnections tracks open websocket event streams.
	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heartline_ws_connections",
		Help: "Current number of websocket event streams",
	})

	// HTTPRequestDuration records API latency by route pattern and status.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heartline_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(
		MatchSearchesTotal,
		MatchRejectionsTotal,
		MatchPoolSize,
		MatchResultSize,
		MatchDuration,
		MessagesTotal,
		ModerationFlagsTotal,
		SuspensionsTotal,
		WSConnections,
		HTTPRequestDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
