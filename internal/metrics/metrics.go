package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sequencer_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Pipeline metrics
	BundlesBuilt = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sequencer_bundles_built_total",
			Help: "Total bundles built and signed",
		},
	)

	EntitiesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_entities_written_total",
			Help: "Total entities uploaded and indexed",
		},
		[]string{"kind"}, // "message" or "process"
	)

	PipelineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_pipeline_errors_total",
			Help: "Pipeline failures by operation and error kind",
		},
		[]string{"op", "kind"},
	)

	// Upload metrics
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_uploads_total",
			Help: "Upload attempts by result",
		},
		[]string{"result"}, // "ok", "retry", "rejected", "failed", "cached"
	)

	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sequencer_upload_duration_seconds",
			Help:    "Upload latency including retries",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Infrastructure metrics
	GatewayLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sequencer_gateway_latency_seconds",
			Help:    "Ledger gateway query latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sequencer_store_latency_seconds",
			Help:    "Durable store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"op"},
	)

	ReceiptCacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_receipt_cache_errors_total",
			Help: "Receipt cache failures by operation",
		},
		[]string{"op"}, // "get", "put"
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_rate_limited_total",
			Help: "Requests refused by the rate limiter, by subject kind",
		},
		[]string{"subject"}, // "ip", "owner"
	)
)
