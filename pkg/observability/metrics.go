// Package observability provides Prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// LLM METRICS
// =============================================================================

var (
	llmAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critics_llm_attempts_total",
			Help: "Total number of streamed completion attempts",
		},
		[]string{"provider", "outcome"}, // outcome: success, retry, error
	)

	llmRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critics_llm_retries_total",
			Help: "Total number of reissued completion requests by cause",
		},
		[]string{"reason"}, // reason: timeout, blank_stream, finish_reason, transport, payload_shape
	)

	llmChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critics_llm_chunks_total",
			Help: "Total number of stream chunks received",
		},
		[]string{"provider"},
	)

	llmCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "critics_llm_call_duration_seconds",
			Help:    "Duration of a chat call including retries",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider", "status"},
	)
)

// =============================================================================
// LOOP METRICS
// =============================================================================

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critics_runs_total",
			Help: "Total number of convergence runs by terminal status",
		},
		[]string{"status"}, // status: converged, exhausted, failed
	)

	runProposals = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "critics_run_proposals",
			Help:    "Proposals consumed per finished run",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 20, 50},
		},
	)

	verdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critics_verdicts_total",
			Help: "Total number of reviewer verdicts",
		},
		[]string{"kind", "passed"},
	)

	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critics_verifications_total",
			Help: "Total number of verification outcomes",
		},
		[]string{"outcome"}, // outcome: passed, compile_failed, test_failed, error
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordAttempt records one streamed completion attempt.
func RecordAttempt(provider, outcome string) {
	llmAttemptsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordRetry records the cause of a reissued request.
func RecordRetry(reason string) {
	llmRetriesTotal.WithLabelValues(reason).Inc()
}

// RecordChunk records a received stream chunk.
func RecordChunk(provider string) {
	llmChunksTotal.WithLabelValues(provider).Inc()
}

// RecordCall records a finished chat call.
func RecordCall(provider, status string, d time.Duration) {
	llmCallDurationSeconds.WithLabelValues(provider, status).Observe(d.Seconds())
}

// RecordVerdict records one reviewer verdict.
func RecordVerdict(kind string, passed bool) {
	p := "false"
	if passed {
		p = "true"
	}
	verdictsTotal.WithLabelValues(kind, p).Inc()
}

// RecordVerification records the outcome of one compile-and-test pass.
func RecordVerification(outcome string) {
	verificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordRun records a finished run.
func RecordRun(status string, proposals int) {
	runsTotal.WithLabelValues(status).Inc()
	if proposals > 0 {
		runProposals.Observe(float64(proposals))
	}
}

// ServeMetrics exposes the default registry on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Metrics server shutdown failed", "error", err)
		}
	}()

	slog.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
