// Package metrics implements the MetricsRecorder collaborator with
// Prometheus counters/histograms, each call site wrapped so a metrics
// failure never propagates to the build's execution path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"time"
)

// Registry holds chengisd's Prometheus collectors. Unlike the teacher's
// package-level singleton, it is constructed explicitly and threaded
// through the runtime wiring root — no process-wide global state.
type Registry struct {
	registry *prometheus.Registry

	buildStarts      prometheus.Counter
	buildCompletions *prometheus.HistogramVec
	stageDurations   *prometheus.HistogramVec
	stepDurations    *prometheus.HistogramVec
	cacheResults     *prometheus.CounterVec
	eventBusDepth    prometheus.Gauge
	approvalWaits    prometheus.Histogram
}

// New constructs and registers chengisd's metrics.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		buildStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chengis",
			Subsystem: "builds",
			Name:      "started_total",
			Help:      "Total number of builds started.",
		}),
		buildCompletions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chengis",
			Subsystem: "builds",
			Name:      "completion_duration_seconds",
			Help:      "Duration of completed builds by terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"status"}),
		stageDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chengis",
			Subsystem: "stages",
			Name:      "duration_seconds",
			Help:      "Duration of stage execution by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"status"}),
		stepDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chengis",
			Subsystem: "steps",
			Name:      "duration_seconds",
			Help:      "Duration of step execution by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"status"}),
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chengis",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Artifact cache lookups by hit/miss.",
		}, []string{"result"}),
		eventBusDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chengis",
			Subsystem: "eventbus",
			Name:      "queue_depth",
			Help:      "Current depth of the event bus main channel.",
		}),
		approvalWaits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chengis",
			Subsystem: "approvals",
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting at an approval gate.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}

	reg.MustRegister(
		r.buildStarts,
		r.buildCompletions,
		r.stageDurations,
		r.stepDurations,
		r.cacheResults,
		r.eventBusDepth,
		r.approvalWaits,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return r
}

// Handler exposes the registered metrics for scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) RecordBuildStart() {
	r.buildStarts.Inc()
}

func (r *Registry) RecordBuildCompletion(status string, d time.Duration) {
	r.buildCompletions.WithLabelValues(status).Observe(d.Seconds())
}

func (r *Registry) RecordStageDuration(status string, d time.Duration) {
	r.stageDurations.WithLabelValues(status).Observe(d.Seconds())
}

func (r *Registry) RecordStepDuration(status string, d time.Duration) {
	r.stepDurations.WithLabelValues(status).Observe(d.Seconds())
}

func (r *Registry) RecordCacheResult(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheResults.WithLabelValues(result).Inc()
}

func (r *Registry) RecordEventBusDepth(depth int) {
	r.eventBusDepth.Set(float64(depth))
}

func (r *Registry) RecordApprovalWait(d time.Duration) {
	r.approvalWaits.Observe(d.Seconds())
}
