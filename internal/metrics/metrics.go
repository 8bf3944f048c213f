package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AnalyzeJobs counts finished analyze jobs by outcome: analyzed,
	// skipped, failed.
	AnalyzeJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doomscroller",
		Name:      "analyze_jobs_total",
		Help:      "Analyze jobs by outcome.",
	}, []string{"outcome"})

	// AnalyzeVerdicts counts verdicts attached to analyzed videos.
	AnalyzeVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doomscroller",
		Name:      "analyze_verdicts_total",
		Help:      "Verdicts by label.",
	}, []string{"label"})

	// ExtractionPath counts which ladder rung produced frames.
	ExtractionPath = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doomscroller",
		Name:      "extraction_path_total",
		Help:      "Frame extractions by successful path or failure kind.",
	}, []string{"path"})

	// InferenceLatency observes classifier round-trip time in seconds.
	InferenceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "doomscroller",
		Name:      "inference_latency_seconds",
		Help:      "Classifier batch latency.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// DiscoveryEnqueued counts videos enqueued per discovery sweep.
	DiscoveryEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doomscroller",
		Name:      "discovery_enqueued_total",
		Help:      "Videos enqueued by discovery sweeps.",
	})

	// DeepScanJobs counts deep-scan jobs by outcome.
	DeepScanJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doomscroller",
		Name:      "deepscan_jobs_total",
		Help:      "Deep-scan jobs by outcome.",
	}, []string{"outcome"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
