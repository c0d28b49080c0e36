package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/vesselwatch/internal/detect"
	"github.com/your-org/vesselwatch/internal/models"
	"github.com/your-org/vesselwatch/internal/observability"
	"github.com/your-org/vesselwatch/internal/queue"
	"github.com/your-org/vesselwatch/internal/storage"
	"github.com/your-org/vesselwatch/internal/video"
)

// Archiver copies a finished video and its detections to long-term storage.
type Archiver interface {
	ArchiveVideo(ctx context.Context, location, filename, localPath string, dets models.FrameDetections) error
}

type Stores interface {
	storage.LocationStore
	storage.VideoStore
	storage.StatusStore
}

type Option func(*Processor)

// WithArchiver uploads each finished video. Archive failures are logged only.
func WithArchiver(a Archiver) Option {
	return func(p *Processor) { p.archiver = a }
}

// WithKeepPartial controls whether detections gathered before a failure are saved.
func WithKeepPartial(keep bool) Option {
	return func(p *Processor) { p.keepPartial = keep }
}

// Processor runs one video file through detection:
// locate → record → iterate frames → finalize.
type Processor struct {
	store       Stores
	engine      detect.Engine
	source      video.Source
	archiver    Archiver
	keepPartial bool
}

func NewProcessor(store Stores, engine detect.Engine, source video.Source, opts ...Option) *Processor {
	p := &Processor{
		store:       store,
		engine:      engine,
		source:      source,
		keepPartial: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one process_file job. Errors wrapped with queue.Permanent
// must not be retried: the file is unusable or the job already ended as failed.
func (p *Processor) Process(ctx context.Context, filePath string) error {
	filename := filepath.Base(filePath)
	log := slog.With("file", filename)

	locationName, startTime, err := ParseFilename(filename)
	if err != nil {
		log.Error("reject video", "error", err)
		observability.JobsProcessed.WithLabelValues("malformed").Inc()
		return queue.Permanent(err)
	}

	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			observability.JobsProcessed.WithLabelValues("missing").Inc()
			return queue.Permanent(fmt.Errorf("video file: %w", err))
		}
		return fmt.Errorf("stat video file: %w", err)
	}

	// locating
	loc, err := p.store.GetOrCreateLocation(ctx, locationName)
	if err != nil {
		return err
	}

	// recording
	id := models.VideoID(loc.Name, filename)
	log = log.With("video_id", id)

	status, err := p.store.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if status != nil && status.Status.IsTerminal() {
		log.Info("video already processed, skipping", "status", status.Status)
		observability.JobsProcessed.WithLabelValues("skipped").Inc()
		return nil
	}

	if err := p.ensureRecord(ctx, id, loc.ID, filename, startTime); err != nil {
		return err
	}
	if status == nil {
		if _, err := p.store.CreateStatus(ctx, id, filename); err != nil && !errors.Is(err, storage.ErrDuplicate) {
			return err
		}
	} else {
		log.Info("restarting interrupted run", "progress", status.Progress)
	}

	// iterating
	started := time.Now()
	dets, frames, fps, runErr := p.iterate(ctx, id, filePath)
	var srcErr *SourceError
	if errors.As(runErr, &srcErr) {
		log.Error("video source unavailable, will retry", "error", runErr)
		observability.JobsProcessed.WithLabelValues("retry").Inc()
		return runErr
	}
	if runErr != nil {
		return p.fail(ctx, log, id, dets, runErr)
	}

	// finalizing
	if ok, err := p.store.ReplaceDetections(ctx, id, dets); err != nil || !ok {
		return p.fail(ctx, log, id, nil, recordErr("save detections", err))
	}
	if fps > 0 {
		end := startTime.Add(time.Duration(float64(frames) / fps * float64(time.Second)))
		if ok, err := p.store.UpdateVideo(ctx, id, models.VideoUpdate{EndTime: &end}); err != nil || !ok {
			return p.fail(ctx, log, id, nil, recordErr("set end time", err))
		}
	}
	ok, err := p.store.UpdateStatus(ctx, id, models.JobStatusDone, 100)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	if !ok {
		return queue.Permanent(fmt.Errorf("mark done: %w", errStatusGone))
	}

	observability.JobsProcessed.WithLabelValues("done").Inc()
	log.Info("video processed",
		"frames", frames,
		"detections", dets.Count(),
		"duration", time.Since(started).Round(time.Millisecond),
	)

	if p.archiver != nil {
		if err := p.archiver.ArchiveVideo(ctx, loc.Name, filename, filePath, dets); err != nil {
			log.Error("archive video", "error", err)
		}
	}
	return nil
}

// ensureRecord creates the video record unless an earlier delivery already did.
func (p *Processor) ensureRecord(ctx context.Context, id, locationID uuid.UUID, filename string, start time.Time) error {
	existing, err := p.store.GetVideo(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	_, err = p.store.CreateVideo(ctx, &models.VideoRecord{
		ID:                id,
		LocationID:        locationID,
		Filename:          filename,
		StartTime:         start,
		DetectionsByFrame: models.FrameDetections{},
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicate) {
		return err
	}
	return nil
}

// iterate runs the engine over every frame. On error it returns the
// detections gathered so far.
func (p *Processor) iterate(ctx context.Context, id uuid.UUID, filePath string) (models.FrameDetections, int, float64, error) {
	acc := models.FrameDetections{}

	frames, err := p.source.Open(ctx, filePath)
	if err != nil {
		return acc, 0, 0, &SourceError{Err: err}
	}
	defer frames.Close()

	total := frames.Count()
	if total == 0 {
		return acc, 0, frames.FPS(), nil
	}

	session, err := p.engine.NewSession()
	if err != nil {
		return acc, 0, 0, &EngineError{Frame: -1, Err: err}
	}
	defer session.Close()

	processed := 0
	for i := 0; i < total; i++ {
		img, err := frames.Next()
		if errors.Is(err, io.EOF) {
			slog.Warn("video ended before reported frame count", "video_id", id, "frames", i, "expected", total)
			break
		}
		if err != nil {
			return acc, processed, 0, err
		}

		found, err := session.Detect(ctx, img)
		if err != nil {
			return acc, processed, 0, &EngineError{Frame: i, Err: err}
		}
		if len(found) > 0 {
			acc[i] = found
			for _, d := range found {
				observability.DetectionsTotal.WithLabelValues(string(d.Class)).Inc()
			}
		}
		processed++
		observability.FramesProcessed.Inc()

		progress := float64(i) / float64(total) * 100
		ok, err := p.store.UpdateStatus(ctx, id, models.JobStatusProcessing, progress)
		if err != nil {
			return acc, processed, 0, fmt.Errorf("update progress: %w", err)
		}
		if !ok {
			return acc, processed, 0, errStatusGone
		}
	}
	return acc, processed, frames.FPS(), nil
}

// fail marks the job failed. Partial detections are kept when configured.
// A job whose status was set to failed is not retried.
func (p *Processor) fail(ctx context.Context, log *slog.Logger, id uuid.UUID, partial models.FrameDetections, cause error) error {
	if ctx.Err() != nil {
		// Shutdown mid-run: leave the status processing so redelivery restarts it.
		log.Warn("video processing interrupted", "error", cause)
		return cause
	}
	log.Error("video processing failed", "error", cause)
	observability.JobsProcessed.WithLabelValues("failed").Inc()

	if p.keepPartial && len(partial) > 0 {
		if _, err := p.store.ReplaceDetections(ctx, id, partial); err != nil {
			log.Error("save partial detections", "error", err)
		}
	}

	ok, err := p.store.UpdateStatus(ctx, id, models.JobStatusFailed, 0)
	if err != nil {
		log.Error("mark failed", "error", err)
		return cause
	}
	if !ok {
		log.Warn("status missing or final, leaving as is")
	}
	return queue.Permanent(cause)
}

func recordErr(op string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: video record missing", op)
}
