package detect

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/your-org/vesselwatch/internal/config"
	"github.com/your-org/vesselwatch/internal/models"
	"github.com/your-org/vesselwatch/internal/observability"
)

type boxFunc func(img image.Image) ([]box, error)

// ONNXEngine shares one loaded model across sessions. Each session gets its own tracker.
type ONNXEngine struct {
	detector *Detector
	labels   []string
	trackCfg config.TrackingConfig
}

// NewONNXEngine loads the detection model. The ONNX Runtime environment must
// already be initialised.
func NewONNXEngine(cfg config.DetectorConfig, trackCfg config.TrackingConfig) (*ONNXEngine, error) {
	labels := cfg.ClassNames
	if len(labels) == 0 {
		labels = make([]string, len(models.VesselClasses))
		for i, c := range models.VesselClasses {
			labels[i] = string(c)
		}
	}

	modelPath := filepath.Join(cfg.ModelsDir, cfg.Model)
	slog.Info("loading detection model", "path", modelPath, "classes", len(labels))

	det, err := NewDetector(modelPath, cfg.InputSize, len(labels),
		float32(cfg.ConfidenceThreshold), float32(cfg.NMSThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	for _, l := range labels {
		if _, ok := models.ParseVesselClass(l); !ok {
			slog.Warn("model label outside vessel taxonomy, detections will be Unknown", "label", l)
		}
	}

	return &ONNXEngine{detector: det, labels: labels, trackCfg: trackCfg}, nil
}

func (e *ONNXEngine) NewSession() (Session, error) {
	return newSession(e.detector.DetectImage, e.labels, e.trackCfg), nil
}

func (e *ONNXEngine) Close() {
	e.detector.Close()
}

type trackingSession struct {
	detect  boxFunc
	labels  []string
	tracker *Tracker
}

func newSession(detect boxFunc, labels []string, trackCfg config.TrackingConfig) *trackingSession {
	return &trackingSession{
		detect:  detect,
		labels:  labels,
		tracker: NewTracker(trackCfg.MaxAge, trackCfg.MinHits, float32(trackCfg.IoUThreshold)),
	}
}

func (s *trackingSession) Detect(ctx context.Context, frame image.Image) ([]models.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	boxes, err := s.detect(frame)
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	start = time.Now()
	tracked := s.tracker.Update(boxes)
	observability.InferenceDuration.WithLabelValues("track").Observe(time.Since(start).Seconds())

	out := make([]models.Detection, 0, len(tracked))
	for _, tb := range tracked {
		out = append(out, s.toDetection(tb))
	}
	return out, nil
}

func (s *trackingSession) toDetection(tb TrackedBox) models.Detection {
	label := ""
	if tb.Box.Class >= 0 && tb.Box.Class < len(s.labels) {
		label = s.labels[tb.Box.Class]
	}
	class, known := models.ParseVesselClass(label)

	d := models.Detection{
		TrackID:    tb.TrackID,
		Class:      class,
		Confidence: tb.Box.Confidence,
		BBox: models.BBox{
			X1: tb.Box.BBox[0],
			Y1: tb.Box.BBox[1],
			X2: tb.Box.BBox[2],
			Y2: tb.Box.BBox[3],
		},
	}
	if !known {
		d.RawLabel = label
	}
	return d
}

func (s *trackingSession) Close() {}
