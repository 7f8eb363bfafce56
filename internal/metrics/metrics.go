// Package metrics exposes Prometheus collectors for mirror runs and the serve API.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/report"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Recorder owns a registry and the mirror collectors registered on it.
type Recorder struct {
	registry *prometheus.Registry

	listingFiles        *prometheus.GaugeVec
	listingErrorsTotal  *prometheus.CounterVec
	transfersTotal      *prometheus.CounterVec
	bytesUploadedTotal  prometheus.Counter
	runsTotal           *prometheus.CounterVec
	runDurationSeconds  prometheus.Histogram
	lastSuccessSeconds  prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		listingFiles: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mirror_listing_files",
				Help: "Files matched in the most recent listing of each subdirectory.",
			},
			[]string{"subdir"},
		),
		listingErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_listing_errors_total",
				Help: "Total listing fetches that failed, labeled by subdirectory.",
			},
			[]string{"subdir"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_transfers_total",
				Help: "Total object operations, labeled by operation and result.",
			},
			[]string{"op", "result"},
		),
		bytesUploadedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mirror_bytes_uploaded_total",
				Help: "Total bytes written to the object store.",
			},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_runs_total",
				Help: "Total mirror runs, labeled by terminal status.",
			},
			[]string{"status"},
		),
		runDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mirror_run_duration_seconds",
				Help:    "Histogram of mirror run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		lastSuccessSeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirror_last_success_timestamp_seconds",
				Help: "Unix time the last run finished without failures.",
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns an http.Handler for exposing the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveListing records the outcome of one subdirectory listing.
func (r *Recorder) ObserveListing(subdir string, files int, err error) {
	if err != nil {
		r.listingErrorsTotal.WithLabelValues(subdir).Inc()
		r.listingFiles.WithLabelValues(subdir).Set(0)
		return
	}
	r.listingFiles.WithLabelValues(subdir).Set(float64(files))
}

// ObserveTransfer records a single upload, delete or verify.
func (r *Recorder) ObserveTransfer(op string, bytes int, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	r.transfersTotal.WithLabelValues(op, result).Inc()
	if err == nil && bytes > 0 {
		r.bytesUploadedTotal.Add(float64(bytes))
	}
}

// ObserveRun records the terminal state of a run.
func (r *Recorder) ObserveRun(summary report.Summary) {
	r.runsTotal.WithLabelValues(string(summary.Status)).Inc()
	r.runDurationSeconds.Observe(summary.Duration().Seconds())
	if summary.Status == report.StatusSucceeded {
		r.lastSuccessSeconds.Set(float64(summary.FinishedAt.Unix()))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (r *Recorder) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends the registry to a Pushgateway; batch runs exit before a scrape.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job string) error {
	if err := push.New(gatewayURL, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
