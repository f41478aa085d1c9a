package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rc"

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_processed_total",
		Help:      "Total number of frames run through recognition",
	}, []string{"camera_id"})

	FramesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_skipped_total",
		Help:      "Frames dropped before recognition",
	}, []string{"camera_id", "reason"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"camera_id"})

	FacesRecognized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "faces_recognized_total",
		Help:      "Total number of faces matched against a class index",
	}, []string{"camera_id"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Number of pending frame tasks in queue",
	})

	ActiveCameras = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_cameras",
		Help:      "Number of cameras currently ingesting",
	})

	RecognitionEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "recognition_enabled",
		Help:      "1 while a class period is active",
	})

	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_emitted_total",
		Help:      "Match events handed to the dispatcher",
	}, []string{"camera_id", "kind"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Match events dropped because the dispatch buffer was full",
	})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Duration of roster sync per scope",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"scope"})

	SyncChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_changes_total",
		Help:      "Identities added, updated or deleted by roster sync",
	}, []string{"scope", "kind"})

	SyncFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_failures_total",
		Help:      "Scopes whose roster sync failed",
	}, []string{"scope"})

	AssetFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "asset_failures_total",
		Help:      "Reference media that failed to download or embed",
	}, []string{"asset_type", "stage"})

	IndexBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_builds_total",
		Help:      "Index build attempts by result",
	}, []string{"kind", "result"})

	IndexVectors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_vectors",
		Help:      "Vectors in the most recent index build",
	}, []string{"scope", "kind"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
