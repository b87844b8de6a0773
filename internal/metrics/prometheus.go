// Package metrics exposes Prometheus metrics for the recognition pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the pipeline's metrics. A nil *Manager is valid and records nothing.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	enabled          bool
	registry         *prometheus.Registry

	recognitionRequests *prometheus.CounterVec
	facesProcessed      *prometheus.CounterVec
	attendanceWrites    *prometheus.CounterVec
	capabilityLatency   *prometheus.HistogramVec
	pendingOperations   prometheus.Gauge
	workerActive        prometheus.Gauge
}

// NewManager creates a metrics manager on its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "face_attendance",
		histogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		enabled:          true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.recognitionRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "recognition_requests_total",
		Help:      "Recognition requests by outcome",
	}, []string{"outcome"})

	m.facesProcessed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "faces_total",
		Help:      "Detected faces by status (recognized, not_recognized, rejected)",
	}, []string{"status"})

	m.attendanceWrites = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "attendance_outcomes_total",
		Help:      "Attendance reconciliation outcomes",
	}, []string{"outcome"})

	m.capabilityLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "capability_call_duration_seconds",
		Help:      "Latency of face capability calls",
		Buckets:   m.histogramBuckets,
	}, []string{"operation", "result"})

	m.pendingOperations = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "pending_operations",
		Help:      "Collection operations waiting for retry",
	})

	m.workerActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "worker_active_jobs",
		Help:      "Capability calls currently running in the worker pool",
	})
}

func (m *Manager) on() bool {
	return m != nil && m.enabled
}

// RecordRequest counts a finished recognition request.
func (m *Manager) RecordRequest(outcome string) {
	if !m.on() {
		return
	}
	m.recognitionRequests.WithLabelValues(outcome).Inc()
}

// RecordFace counts one face by status.
func (m *Manager) RecordFace(status string) {
	if !m.on() {
		return
	}
	m.facesProcessed.WithLabelValues(status).Inc()
}

// RecordAttendance counts one reconciliation outcome.
func (m *Manager) RecordAttendance(outcome string) {
	if !m.on() {
		return
	}
	m.attendanceWrites.WithLabelValues(outcome).Inc()
}

// ObserveCapability records the duration of one capability call.
func (m *Manager) ObserveCapability(operation string, start time.Time, err error) {
	if !m.on() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.capabilityLatency.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}

// SetPendingOperations sets the retry backlog gauge.
func (m *Manager) SetPendingOperations(n int64) {
	if !m.on() {
		return
	}
	m.pendingOperations.Set(float64(n))
}

// SetWorkerActive sets the active worker gauge.
func (m *Manager) SetWorkerActive(n int) {
	if !m.on() {
		return
	}
	m.workerActive.Set(float64(n))
}

// Registry returns the registry the metrics live on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
