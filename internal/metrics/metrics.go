// Package metrics exposes Prometheus collectors for fetches, extractions
// and HTTP traffic on a dedicated registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smiledash"

// Metrics groups every collector the application records.
type Metrics struct {
	registry *prometheus.Registry

	FetchDuration   *prometheus.HistogramVec
	FetchBytes      prometheus.Histogram
	Loads           *prometheus.CounterVec
	CacheHits       prometheus.Counter
	Fallbacks       prometheus.Counter
	Warnings        prometheus.Counter
	LastSuccess     prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent downloading the workbook.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"backend", "outcome"}),
		FetchBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_bytes",
			Help:      "Size of downloaded workbooks.",
			Buckets:   prometheus.ExponentialBuckets(4096, 4, 8),
		}),
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_loads_total",
			Help:      "Report loads by outcome (ok, fetch_error, parse_error, landmark_not_found).",
		}, []string{"outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_cache_hits_total",
			Help:      "Report loads answered from cache.",
		}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_fallbacks_total",
			Help:      "Extractions that used the fallback summary.",
		}),
		Warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_warnings_total",
			Help:      "Extraction warnings emitted.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful extraction.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "ReportExtracted events by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FetchDuration, m.FetchBytes, m.Loads, m.CacheHits, m.Fallbacks,
		m.Warnings, m.LastSuccess, m.EventsPublished, m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFetch records one download attempt.
func (m *Metrics) ObserveFetch(backend string, d time.Duration, bytes int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.FetchDuration.WithLabelValues(backend, outcome).Observe(d.Seconds())
	if err == nil {
		m.FetchBytes.Observe(float64(bytes))
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
