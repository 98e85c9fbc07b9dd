package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	passesTotal          *prometheus.CounterVec
	pixelsProcessedTotal prometheus.Counter
	bytesWrittenTotal    prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepfry",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Fry jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deepfry",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Wall time spent on each fry job.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deepfry",
			Subsystem: "worker",
			Name:      "active_jobs",
			Help:      "Fry jobs currently holding a worker slot.",
		}),
		passesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepfry",
			Subsystem: "worker",
			Name:      "passes_total",
			Help:      "Bit-change passes applied, by operation.",
		}, []string{"operation"}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepfry",
			Subsystem: "usage",
			Name:      "pixels_processed_total",
			Help:      "Pixels times passes across successful jobs.",
		}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepfry",
			Subsystem: "usage",
			Name:      "bytes_written_total",
			Help:      "Encoded output bytes across successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepfry",
			Subsystem: "usage",
			Name:      "compute_time_ms_total",
			Help:      "Compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.passesTotal,
		m.pixelsProcessedTotal,
		m.bytesWrittenTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
