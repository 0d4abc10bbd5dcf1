package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the service exposes on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration,
		AnalyzeTotal, AnalyzeDuration,
		TagsReturned, VisionFailures,
		FetchedBytes,
	)
}

var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "picturetagger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	},
	[]string{"route", "code"},
)

var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "picturetagger_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route"},
)

// AnalyzeTotal counts pipeline runs by outcome: ok, or the rejection code.
var AnalyzeTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "picturetagger_analyze_total",
		Help: "Tag pipeline runs by outcome.",
	},
	[]string{"outcome"},
)

var AnalyzeDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "picturetagger_analyze_duration_seconds",
		Help:    "Tag pipeline latency in seconds.",
		Buckets: prometheus.DefBuckets,
	},
)

var TagsReturned = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "picturetagger_tags_returned",
		Help:    "Number of tags returned per successful run.",
		Buckets: prometheus.LinearBuckets(1, 2, 10),
	},
)

var VisionFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "picturetagger_vision_failures_total",
		Help: "Vision backend failures absorbed by the pipeline.",
	},
)

// FetchedBytes observes the size of every image payload acquired, by source kind.
var FetchedBytes = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "picturetagger_fetched_bytes",
		Help:    "Image payload size in bytes by source.",
		Buckets: prometheus.ExponentialBuckets(4096, 4, 8),
	},
	[]string{"source"},
)

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
