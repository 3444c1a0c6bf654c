package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kagiapi"

// Metrics 服务指标
type Metrics struct {
	registry *prometheus.Registry

	SearchRequests *prometheus.CounterVec
	SearchDuration *prometheus.HistogramVec
	SearchResults  prometheus.Histogram
	FetchRequests  *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
}

// New 创建指标集合并注册到独立的 registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SearchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Upstream search requests by engine and outcome.",
		}, []string{"engine", "status"}),
		SearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Time spent driving the browser for one search.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"engine"}),
		SearchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of results returned per search.",
			Buckets:   prometheus.LinearBuckets(0, 5, 8),
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Page fetch requests by outcome.",
		}, []string{"status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SearchRequests,
		m.SearchDuration,
		m.SearchResults,
		m.FetchRequests,
		m.HTTPRequests,
	)
	return m
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
