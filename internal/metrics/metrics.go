// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	queries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nanoq",
			Name:      "queries_total",
			Help:      "Queries executed, by action and where tier",
		},
		[]string{"action", "tier"},
	)
	query_errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nanoq",
			Name:      "query_errors_total",
			Help:      "Queries that ended in an error, by action and error kind",
		},
		[]string{"action", "kind"},
	)
	query_duration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nanoq",
			Name:      "query_duration_seconds",
			Help:      "Query execution time",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"action"},
	)
	index_writes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nanoq",
			Name:      "index_writes_total",
			Help:      "Secondary index entries added or removed",
		},
		[]string{"table", "op"},
	)
	connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nanoq",
			Name:      "connections",
			Help:      "Open websocket sessions",
		},
	)
)

func ObserveQuery(action, tier string, seconds float64) {
	if tier == "" {
		tier = "n/a"
	}
	queries.WithLabelValues(action, tier).Inc()
	query_duration.WithLabelValues(action).Observe(seconds)
}

func QueryError(action, kind string) {
	query_errors.WithLabelValues(action, kind).Inc()
}

func IndexWrite(table, op string) {
	index_writes.WithLabelValues(table, op).Inc()
}

func ConnectionOpened() { connections.Inc() }
func ConnectionClosed() { connections.Dec() }

// Handler serves /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
