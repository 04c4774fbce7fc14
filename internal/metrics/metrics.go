// Package metrics holds the prometheus collectors the pipeline updates.
// Collectors are package-level so any component can record without
// plumbing; they are only exposed once Register is called.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PostingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpipe_postings_total",
			Help: "Postings processed per source and outcome.",
		},
		[]string{"source", "outcome"},
	)
	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobpipe_batch_duration_seconds",
			Help:    "Wall time of one ingestion batch.",
			Buckets: []float64{5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"source"},
	)
	LLMAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpipe_llm_attempts_total",
			Help: "Classification provider calls by result (ok, error, invalid).",
		},
		[]string{"provider", "result", "fallback"},
	)
	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpipe_llm_cost_usd_total",
			Help: "Accumulated provider cost in USD.",
		},
		[]string{"provider"},
	)
	LLMLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobpipe_llm_latency_seconds",
			Help:    "Latency of a single provider call.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
		[]string{"provider"},
	)
	URLChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpipe_url_checks_total",
			Help: "URL liveness checks by resulting status.",
		},
		[]string{"status"},
	)
	URLEscalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpipe_url_browser_escalations_total",
			Help: "Blocked URLs retried in a headless browser, by resulting status.",
		},
		[]string{"status"},
	)
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpipe_errors_total",
			Help: "Errors by type.",
		},
		[]string{"type"},
	)
)

var registerOnce sync.Once

// Register adds every collector to reg. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			PostingsTotal,
			BatchDuration,
			LLMAttempts,
			LLMCost,
			LLMLatency,
			URLChecks,
			URLEscalations,
			ErrorsTotal,
		)
	})
}

// Serve registers the collectors with the default registry and exposes
// them on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	Register(prometheus.DefaultRegisterer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
