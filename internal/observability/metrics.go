// Package observability exposes Prometheus metrics for the conversion
// pipeline. Registration is process-global via promauto; scraping is left to
// whatever serves the metrics endpoint.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serverReadHeaderTimeout = 5 * time.Second

var (
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiobook_tts_requests_total",
		Help: "Total TTS generation attempts by outcome",
	}, []string{"outcome"})

	ttsRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audiobook_tts_retries_total",
		Help: "Total TTS generation retries after transient failures",
	})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiobook_cache_lookups_total",
		Help: "Total audio cache lookups by result",
	}, []string{"result"})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiobook_jobs_finished_total",
		Help: "Total jobs reaching a terminal status",
	}, []string{"status"})

	chunksGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audiobook_chunks_generated_total",
		Help: "Total chunks synthesized by the TTS service (cache misses)",
	})
)

// RecordTTSRequest counts one generation attempt with its outcome
// ("success", "transient", "permanent").
func RecordTTSRequest(outcome string) {
	ttsRequests.WithLabelValues(outcome).Inc()
}

// RecordTTSRetry counts one backoff-and-retry cycle.
func RecordTTSRetry() {
	ttsRetries.Inc()
}

// RecordCacheLookup counts one cache lookup ("hit" or "miss").
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordJobFinished counts one job reaching a terminal status.
func RecordJobFinished(status string) {
	jobsFinished.WithLabelValues(status).Inc()
}

// RecordChunkGenerated counts one freshly synthesized chunk.
func RecordChunkGenerated() {
	chunksGenerated.Inc()
}

// NewMetricsServer builds an HTTP server exposing /metrics on addr. The
// caller owns its lifecycle.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: serverReadHeaderTimeout,
	}
}
