// Package metrics exposes pipeline metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spectra"

// Metrics holds every pipeline collector. A nil *Metrics is valid and records nothing,
// so packages can be used without a registry (CLI, tests).
type Metrics struct {
	registry *prometheus.Registry

	NativeCalls        *prometheus.CounterVec
	NativeDuration     prometheus.Histogram
	NativeWaiting      prometheus.Gauge
	FramesDecoded      prometheus.Counter
	DecodeErrors       prometheus.Counter
	BatchesPersisted   *prometheus.CounterVec
	DumpBytes          *prometheus.CounterVec
	StatisticsFailures prometheus.Counter
	LogDropped         prometheus.Counter
	RequestDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them, with the Go and process collectors,
// on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		NativeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "native",
				Name:      "calls_total",
				Help:      "Engine calls by outcome (ok, failed, incomplete)",
			},
			[]string{"result"},
		),
		NativeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "native",
				Name:      "call_duration_seconds",
				Help:      "Wall time spent inside processImageWrapper",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		NativeWaiting: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "native",
				Name:      "waiting",
				Help:      "Callers queued for the engine slot",
			},
		),
		FramesDecoded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feature",
				Name:      "frames_decoded_total",
				Help:      "Frames decoded from Feature.dat files",
			},
		),
		DecodeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feature",
				Name:      "decode_errors_total",
				Help:      "Feature.dat files rejected as malformed",
			},
		),
		BatchesPersisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "batches_total",
				Help:      "Frame batches written, by sink and outcome",
			},
			[]string{"sink", "result"},
		),
		DumpBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dump",
				Name:      "bytes_written_total",
				Help:      "Bytes written to SQL dump files",
			},
			[]string{"kind"},
		),
		StatisticsFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stats",
				Name:      "append_failures_total",
				Help:      "Statistics rows that could not be appended",
			},
		),
		LogDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "logtail",
				Name:      "dropped_total",
				Help:      "Log lines dropped because a subscriber was full",
			},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route and status",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.NativeCalls,
		m.NativeDuration,
		m.NativeWaiting,
		m.FramesDecoded,
		m.DecodeErrors,
		m.BatchesPersisted,
		m.DumpBytes,
		m.StatisticsFailures,
		m.LogDropped,
		m.RequestDuration,
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordNativeCall counts one engine call and its duration.
func (m *Metrics) RecordNativeCall(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.NativeCalls.WithLabelValues(result).Inc()
	m.NativeDuration.Observe(d.Seconds())
}

// NativeQueued adjusts the number of callers waiting for the engine.
func (m *Metrics) NativeQueued(delta int) {
	if m == nil {
		return
	}
	m.NativeWaiting.Add(float64(delta))
}

// RecordDecode counts decoded frames, or a decode failure when err is non-nil.
func (m *Metrics) RecordDecode(frames int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DecodeErrors.Inc()
		return
	}
	m.FramesDecoded.Add(float64(frames))
}

// RecordBatch counts one batch written to sink (db, import, frame_data).
func (m *Metrics) RecordBatch(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BatchesPersisted.WithLabelValues(sink, result).Inc()
}

// RecordDumpBytes adds n bytes to the dump counter of kind.
func (m *Metrics) RecordDumpBytes(kind string, n int64) {
	if m == nil {
		return
	}
	m.DumpBytes.WithLabelValues(kind).Add(float64(n))
}

// RecordStatisticsFailure counts a swallowed statistics error.
func (m *Metrics) RecordStatisticsFailure() {
	if m == nil {
		return
	}
	m.StatisticsFailures.Inc()
}

// RecordLogDropped counts log lines dropped by the tail broadcaster.
func (m *Metrics) RecordLogDropped(n uint64) {
	if m == nil {
		return
	}
	m.LogDropped.Add(float64(n))
}

// RecordRequest observes one HTTP request.
func (m *Metrics) RecordRequest(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, status).Observe(d.Seconds())
}
