package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vw",
		Name:      "jobs_processed_total",
		Help:      "Total number of detection jobs by outcome",
	}, []string{"outcome"})

	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vw",
		Name:      "frames_processed_total",
		Help:      "Total number of video frames run through the detector",
	})

	DetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vw",
		Name:      "detections_total",
		Help:      "Total number of vessel detections by class",
	}, []string{"class"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vw",
		Name:      "inference_duration_seconds",
		Help:      "Duration of detection stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vw",
		Name:      "queue_depth",
		Help:      "Number of pending file tasks in queue",
	})

	WatcherSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vw",
		Name:      "watcher_submissions_total",
		Help:      "File submissions made by the directory watcher by outcome",
	}, []string{"outcome"})

	WatcherDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vw",
		Name:      "watcher_dropped_total",
		Help:      "Files dropped because the watcher hand-off queue was full",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vw",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vw",
		Name:      "status_feed_subscribers",
		Help:      "Number of active status feed subscribers",
	})
)
