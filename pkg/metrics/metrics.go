// Package metrics exports Prometheus counters and histograms derived from
// trace events.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ormasoftchile/stockpipe/pkg/trace"
)

// Recorder turns trace events into metrics.
type Recorder struct {
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	uploads  *prometheus.CounterVec
}

// NewRecorder registers the stockpipe metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockpipe_steps_total",
			Help: "Steps finished, by kind and status",
		}, []string{"kind", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockpipe_step_duration_seconds",
			Help:    "Duration of executed steps",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"kind"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockpipe_runs_total",
			Help: "Pipeline runs finished, by status",
		}, []string{"status"}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockpipe_uploads_total",
			Help: "Uploads finished, by target and status",
		}, []string{"target", "status"}),
	}
}

// Observe records one trace event. It matches the engine's Observer signature.
func (r *Recorder) Observe(evt trace.Event) {
	switch evt.Type {
	case trace.EventStepComplete:
		kind, status := evt.String("kind"), evt.String("status")
		r.steps.WithLabelValues(kind, status).Inc()
		if status != string(trace.StatusSkipped) {
			if secs, ok := evt.Data["seconds"].(float64); ok {
				r.duration.WithLabelValues(kind).Observe(secs)
			}
		}
	case trace.EventRunComplete:
		r.runs.WithLabelValues(evt.String("status")).Inc()
	case trace.EventUpload:
		if stage := evt.String("stage"); stage == "done" || stage == "failed" {
			status := string(trace.StatusSuccess)
			if stage == "failed" {
				status = string(trace.StatusFailed)
			}
			r.uploads.WithLabelValues(evt.String("target"), status).Inc()
		}
	}
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	started := time.Now()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok " + time.Since(started).Round(time.Second).String()))
	})

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
