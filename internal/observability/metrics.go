package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	framesIngestedTotal   *prometheus.CounterVec
	degradedFramesTotal   prometheus.Counter
	snapshotsEscalated    *prometheus.CounterVec
	snapshotUploadsTotal  *prometheus.CounterVec
	monitorClientsActive  prometheus.Gauge
	frameProcessingMillis prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		framesIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frames_ingested_total",
			Help: "Frames handled by the ingestion endpoint by outcome.",
		}, []string{"outcome"})

		degradedFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "degraded_frames_total",
			Help: "Frames scored with the degraded-mode fallback.",
		})

		snapshotsEscalated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshots_escalated_total",
			Help: "Suspicious snapshots created from high severity alerts.",
		}, []string{"event_code"})

		snapshotUploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_uploads_total",
			Help: "Snapshot image uploads by result.",
		}, []string{"result"})

		monitorClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_clients_active",
			Help: "Live monitor subscribers currently connected.",
		})

		frameProcessingMillis = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frame_processing_milliseconds",
			Help:    "Server-side processing time of accepted frames.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 7500},
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			framesIngestedTotal,
			degradedFramesTotal,
			snapshotsEscalated,
			snapshotUploadsTotal,
			monitorClientsActive,
			frameProcessingMillis,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// FramesIngested counts ingestion outcomes (scored, degraded, duplicate, rejected_*).
func FramesIngested() *prometheus.CounterVec {
	RegisterMetrics()
	return framesIngestedTotal
}

// DegradedFrames counts frames scored by the fallback.
func DegradedFrames() prometheus.Counter {
	RegisterMetrics()
	return degradedFramesTotal
}

// SnapshotsEscalated counts created snapshots per event code.
func SnapshotsEscalated() *prometheus.CounterVec {
	RegisterMetrics()
	return snapshotsEscalated
}

// SnapshotUploads counts upload worker results.
func SnapshotUploads() *prometheus.CounterVec {
	RegisterMetrics()
	return snapshotUploadsTotal
}

// MonitorClients tracks connected monitor subscribers.
func MonitorClients() prometheus.Gauge {
	RegisterMetrics()
	return monitorClientsActive
}

// FrameProcessing observes processing time of accepted frames in milliseconds.
func FrameProcessing() prometheus.Histogram {
	RegisterMetrics()
	return frameProcessingMillis
}
