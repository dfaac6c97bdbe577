// Package metrics defines the Prometheus collectors for the search index and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fib"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CacheReadsTotal    *prometheus.CounterVec
	CacheWritesTotal   *prometheus.CounterVec
	QueriesTotal       *prometheus.CounterVec
	QueryStepsTotal    prometheus.Counter
	QueryMatchesTotal  prometheus.Counter
	ActiveQueries      prometheus.Gauge
	Records            *prometheus.GaugeVec
	CompactionsTotal   prometheus.Counter
	CompactionDuration prometheus.Histogram
	BulkIndexedTotal   *prometheus.CounterVec
	ToolCallsTotal     *prometheus.CounterVec
	AuthRejectedTotal  *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CacheReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_reads_total",
				Help:      "Cache retrievals by result (hit, miss, corrupt, consumed, error).",
			},
			[]string{"result"},
		),
		CacheWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_writes_total",
				Help:      "Background cache writes by status.",
			},
			[]string{"status"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Search queries by outcome (started, done, cancelled).",
			},
			[]string{"outcome"},
		),
		QueryStepsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_steps_total",
				Help:      "Records visited by query steps.",
			},
		),
		QueryMatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_matches_total",
				Help:      "Results yielded by query steps.",
			},
		),
		ActiveQueries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_queries",
				Help:      "Queries currently holding a cursor.",
			},
		),
		Records: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "records",
				Help:      "Index records by state (live, tombstoned, uncached, failed).",
			},
			[]string{"state"},
		),
		CompactionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compactions_total",
				Help:      "Completed compaction passes.",
			},
		),
		CompactionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compaction_duration_seconds",
				Help:      "Time spent rebuilding the record collection.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		BulkIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bulk_indexed_total",
				Help:      "Assets processed by bulk indexing by status.",
			},
			[]string{"status"},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "MCP tool invocations by tool and status.",
			},
			[]string{"tool", "status"},
		),
		AuthRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_rejected_total",
				Help:      "HTTP requests rejected by authentication, by scheme.",
			},
			[]string{"scheme"},
		),
	}

	m.registry.MustRegister(
		m.CacheReadsTotal,
		m.CacheWritesTotal,
		m.QueriesTotal,
		m.QueryStepsTotal,
		m.QueryMatchesTotal,
		m.ActiveQueries,
		m.Records,
		m.CompactionsTotal,
		m.CompactionDuration,
		m.BulkIndexedTotal,
		m.ToolCallsTotal,
		m.AuthRejectedTotal,
	)

	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheRead(result string) {
	if m == nil {
		return
	}
	m.CacheReadsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheWrite(err error) {
	if m == nil {
		return
	}
	m.CacheWritesTotal.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) Query(outcome string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	switch outcome {
	case "started":
		m.ActiveQueries.Inc()
	case "done", "cancelled":
		m.ActiveQueries.Dec()
	}
}

// QueryStep records one visited record and whether it matched.
func (m *Metrics) QueryStep(matched bool) {
	if m == nil {
		return
	}
	m.QueryStepsTotal.Inc()
	if matched {
		m.QueryMatchesTotal.Inc()
	}
}

// SetRecords publishes a snapshot of record counts.
func (m *Metrics) SetRecords(live, tombstoned, uncached, failed int) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues("live").Set(float64(live))
	m.Records.WithLabelValues("tombstoned").Set(float64(tombstoned))
	m.Records.WithLabelValues("uncached").Set(float64(uncached))
	m.Records.WithLabelValues("failed").Set(float64(failed))
}

func (m *Metrics) Compaction(d time.Duration) {
	if m == nil {
		return
	}
	m.CompactionsTotal.Inc()
	m.CompactionDuration.Observe(d.Seconds())
}

func (m *Metrics) BulkIndexed(err error) {
	if m == nil {
		return
	}
	m.BulkIndexedTotal.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) ToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status(err)).Inc()
}

func (m *Metrics) AuthRejected(scheme string) {
	if m == nil {
		return
	}
	m.AuthRejectedTotal.WithLabelValues(scheme).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
