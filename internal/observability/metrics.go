package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendengine",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"stream_id"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendengine",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"stream_id"})

	FacesRecognized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendengine",
		Name:      "faces_recognized_total",
		Help:      "Total number of faces matched against the identity gallery",
	}, []string{"stream_id"})

	// InferenceDuration is labeled per pipeline stage so each stage's
	// cost can be told apart in a latency breakdown.
	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendengine",
		Name:      "inference_duration_seconds",
		Help:      "Duration of per-stage pipeline processing",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendengine",
		Name:      "recognition_queue_depth",
		Help:      "Number of pending recognition events awaiting attendance processing",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendengine",
		Name:      "active_streams",
		Help:      "Number of currently active client detection streams",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendengine",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendengine",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	AttendanceEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendengine",
		Name:      "attendance_events_total",
		Help:      "Attendance events processed by the state machine, by outcome",
	}, []string{"outcome"})
)
