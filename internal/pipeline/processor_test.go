package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vesselwatch/internal/detect"
	"github.com/your-org/vesselwatch/internal/models"
	"github.com/your-org/vesselwatch/internal/queue"
	"github.com/your-org/vesselwatch/internal/storage"
	"github.com/your-org/vesselwatch/internal/video"
)

const testVideo = "Putney 2024-05-01_14_03_59_000000 cam1.mp4"

// recordingStore captures every status the store accepted.
type recordingStore struct {
	*storage.MemoryStore

	mu      sync.Mutex
	history []models.VideoStatus
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: storage.NewMemoryStore()}
}

func (r *recordingStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, progress float64) (bool, error) {
	ok, err := r.MemoryStore.UpdateStatus(ctx, id, status, progress)
	if ok {
		cur, _ := r.MemoryStore.GetStatus(ctx, id)
		r.mu.Lock()
		r.history = append(r.history, *cur)
		r.mu.Unlock()
	}
	return ok, err
}

type fakeSource struct {
	frames  int
	fps     float64
	openErr error
}

func (s fakeSource) Open(_ context.Context, path string) (video.Frames, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &fakeFrames{total: s.frames, fps: s.fps}, nil
}

type fakeFrames struct {
	total, read int
	fps         float64
}

func (f *fakeFrames) Count() int   { return f.total }
func (f *fakeFrames) FPS() float64 { return f.fps }
func (f *fakeFrames) Close() error { return nil }
func (f *fakeFrames) Next() (image.Image, error) {
	if f.read >= f.total {
		return nil, io.EOF
	}
	f.read++
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

// stubEngine returns k detections on frame hitFrame and fails on failAt.
type stubEngine struct {
	k        int
	hitFrame int
	failAt   int

	mu       sync.Mutex
	sessions int
	calls    int
}

func (e *stubEngine) NewSession() (detect.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions++
	return &stubSession{engine: e}, nil
}

type stubSession struct {
	engine *stubEngine
	frame  int
}

func (s *stubSession) Detect(context.Context, image.Image) ([]models.Detection, error) {
	e := s.engine
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	i := s.frame
	s.frame++
	if i == e.failAt {
		return nil, errors.New("gpu fell over")
	}
	if i != e.hitFrame {
		return nil, nil
	}
	out := make([]models.Detection, e.k)
	for j := range out {
		out[j] = models.Detection{
			TrackID:    fmt.Sprint(j + 1),
			Class:      models.VesselRowingBoat,
			Confidence: 0.8,
			BBox:       models.BBox{X1: 1, Y1: 1, X2: 5, Y2: 5},
		}
	}
	return out, nil
}

func (s *stubSession) Close() {}

type stubArchiver struct {
	calls []string
	dets  models.FrameDetections
}

func (a *stubArchiver) ArchiveVideo(_ context.Context, location, filename, _ string, dets models.FrameDetections) error {
	a.calls = append(a.calls, location+"/"+filename)
	a.dets = dets
	return nil
}

func videoFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))
	return path
}

func videoID() uuid.UUID {
	return models.VideoID("Putney", testVideo)
}

func TestProcessRecordsDetectionsOnHitFrame(t *testing.T) {
	store := newRecordingStore()
	engine := &stubEngine{k: 3, hitFrame: 2, failAt: -1}
	p := NewProcessor(store, engine, fakeSource{frames: 5})
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, videoFile(t, testVideo)))

	rec, err := store.GetVideo(ctx, videoID())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, testVideo, rec.Filename)
	assert.Equal(t, time.Date(2024, 5, 1, 14, 3, 59, 0, time.UTC), rec.StartTime)
	assert.Nil(t, rec.EndTime)

	assert.Len(t, rec.DetectionsByFrame[2], 3)
	for i := 0; i < 5; i++ {
		if i != 2 {
			assert.Empty(t, rec.DetectionsByFrame[i], "frame %d", i)
		}
	}

	loc, err := store.GetLocationByName(ctx, "Putney")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, loc.ID, rec.LocationID)
	assert.Equal(t, 5, engine.calls)
}

func TestProcessProgressIsMonotonicAndEndsDone(t *testing.T) {
	store := newRecordingStore()
	p := NewProcessor(store, &stubEngine{failAt: -1, hitFrame: -1}, fakeSource{frames: 8})

	require.NoError(t, p.Process(context.Background(), videoFile(t, testVideo)))

	require.NotEmpty(t, store.history)
	doneCount := 0
	for i, st := range store.history {
		if i > 0 {
			assert.GreaterOrEqual(t, st.Progress, store.history[i-1].Progress)
		}
		if st.Status == models.JobStatusDone {
			doneCount++
		}
	}
	last := store.history[len(store.history)-1]
	assert.Equal(t, models.JobStatusDone, last.Status)
	assert.Equal(t, 100.0, last.Progress)
	assert.Equal(t, 1, doneCount)
}

func TestProcessEmptyVideo(t *testing.T) {
	store := newRecordingStore()
	engine := &stubEngine{failAt: -1, hitFrame: -1}
	p := NewProcessor(store, engine, fakeSource{frames: 0})
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, videoFile(t, testVideo)))

	st, err := store.GetStatus(ctx, videoID())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, st.Status)
	assert.Equal(t, 100.0, st.Progress)

	rec, err := store.GetVideo(ctx, videoID())
	require.NoError(t, err)
	assert.Empty(t, rec.DetectionsByFrame)
	assert.Zero(t, engine.sessions)
}

func TestProcessSetsEndTimeFromFPS(t *testing.T) {
	store := newRecordingStore()
	p := NewProcessor(store, &stubEngine{failAt: -1, hitFrame: -1}, fakeSource{frames: 50, fps: 25})
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, videoFile(t, testVideo)))

	rec, err := store.GetVideo(ctx, videoID())
	require.NoError(t, err)
	require.NotNil(t, rec.EndTime)
	assert.Equal(t, rec.StartTime.Add(2*time.Second), *rec.EndTime)
}

func TestProcessMalformedFilenameCreatesNothing(t *testing.T) {
	store := newRecordingStore()
	engine := &stubEngine{failAt: -1, hitFrame: -1}
	p := NewProcessor(store, engine, fakeSource{frames: 3})
	ctx := context.Background()

	err := p.Process(ctx, videoFile(t, "Putney-no-timestamp.mp4"))
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
	var mf *MalformedFilenameError
	assert.ErrorAs(t, err, &mf)

	locs, _ := store.ListLocations(ctx)
	assert.Empty(t, locs)
	statuses, _ := store.ListStatuses(ctx)
	assert.Empty(t, statuses)
	assert.Zero(t, engine.calls)
}

func TestProcessMissingFileIsPermanent(t *testing.T) {
	store := newRecordingStore()
	p := NewProcessor(store, &stubEngine{failAt: -1, hitFrame: -1}, fakeSource{frames: 3})

	err := p.Process(context.Background(), filepath.Join(t.TempDir(), testVideo))
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestProcessSourceUnavailableIsRetried(t *testing.T) {
	store := newRecordingStore()
	engine := &stubEngine{failAt: -1, hitFrame: -1}
	probeErr := fmt.Errorf("run ffprobe: %w", exec.ErrNotFound)
	p := NewProcessor(store, engine, fakeSource{frames: 3, openErr: probeErr})

	err := p.Process(context.Background(), videoFile(t, testVideo))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, exec.ErrNotFound)
	var srcErr *SourceError
	assert.ErrorAs(t, err, &srcErr)

	st, err := store.GetStatus(context.Background(), videoID())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, st.Status)
	assert.Zero(t, st.Progress)
	assert.Zero(t, engine.calls)

	// Fixed worker: the next delivery runs the video to completion.
	p = NewProcessor(store, engine, fakeSource{frames: 3})
	require.NoError(t, p.Process(context.Background(), videoFile(t, testVideo)))
	st, err = store.GetStatus(context.Background(), videoID())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, st.Status)
	assert.Equal(t, 3, engine.calls)
}

func TestProcessEngineFailureKeepsPartial(t *testing.T) {
	store := newRecordingStore()
	engine := &stubEngine{k: 2, hitFrame: 1, failAt: 3}
	p := NewProcessor(store, engine, fakeSource{frames: 6})
	ctx := context.Background()

	err := p.Process(ctx, videoFile(t, testVideo))
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 3, ee.Frame)

	st, err := store.GetStatus(ctx, videoID())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, st.Status)
	assert.InDelta(t, 2.0/6.0*100, st.Progress, 1e-9)

	rec, err := store.GetVideo(ctx, videoID())
	require.NoError(t, err)
	assert.Len(t, rec.DetectionsByFrame[1], 2)
}

func TestProcessEngineFailureAllOrNothing(t *testing.T) {
	store := newRecordingStore()
	engine := &stubEngine{k: 2, hitFrame: 1, failAt: 3}
	p := NewProcessor(store, engine, fakeSource{frames: 6}, WithKeepPartial(false))
	ctx := context.Background()

	require.Error(t, p.Process(ctx, videoFile(t, testVideo)))

	st, err := store.GetStatus(ctx, videoID())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, st.Status)

	rec, err := store.GetVideo(ctx, videoID())
	require.NoError(t, err)
	assert.Empty(t, rec.DetectionsByFrame)
}

func TestProcessRedeliveryAfterDoneIsSkipped(t *testing.T) {
	store := newRecordingStore()
	engine := &stubEngine{k: 1, hitFrame: 0, failAt: -1}
	p := NewProcessor(store, engine, fakeSource{frames: 2})
	ctx := context.Background()
	path := videoFile(t, testVideo)

	require.NoError(t, p.Process(ctx, path))
	require.NoError(t, p.Process(ctx, path))

	assert.Equal(t, 1, engine.sessions)
	statuses, _ := store.ListStatuses(ctx)
	assert.Len(t, statuses, 1)
	locs, _ := store.ListLocations(ctx)
	assert.Len(t, locs, 1)
}

func TestProcessRedeliveryResumesInterruptedRun(t *testing.T) {
	store := newRecordingStore()
	ctx := context.Background()
	path := videoFile(t, testVideo)

	// A previous delivery got this far before the worker died.
	loc, err := store.GetOrCreateLocation(ctx, "Putney")
	require.NoError(t, err)
	_, err = store.CreateVideo(ctx, &models.VideoRecord{ID: videoID(), LocationID: loc.ID, Filename: testVideo})
	require.NoError(t, err)
	_, err = store.CreateStatus(ctx, videoID(), testVideo)
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, videoID(), models.JobStatusProcessing, 60)
	require.NoError(t, err)

	engine := &stubEngine{k: 1, hitFrame: 3, failAt: -1}
	p := NewProcessor(store, engine, fakeSource{frames: 4})
	require.NoError(t, p.Process(ctx, path))

	for _, st := range store.history {
		assert.GreaterOrEqual(t, st.Progress, 60.0)
	}
	st, err := store.GetStatus(ctx, videoID())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, st.Status)

	rec, err := store.GetVideo(ctx, videoID())
	require.NoError(t, err)
	assert.Len(t, rec.DetectionsByFrame[3], 1)
}

func TestProcessArchivesFinishedVideo(t *testing.T) {
	store := newRecordingStore()
	archiver := &stubArchiver{}
	p := NewProcessor(store, &stubEngine{k: 1, hitFrame: 0, failAt: -1}, fakeSource{frames: 1}, WithArchiver(archiver))

	require.NoError(t, p.Process(context.Background(), videoFile(t, testVideo)))

	assert.Equal(t, []string{"Putney/" + testVideo}, archiver.calls)
	assert.Equal(t, 1, archiver.dets.Count())
}

func TestProcessCancelledLeavesStatusProcessing(t *testing.T) {
	store := newRecordingStore()
	ctx, cancel := context.WithCancel(context.Background())
	engine := &cancellingEngine{cancel: cancel}
	p := NewProcessor(store, engine, fakeSource{frames: 3})

	err := p.Process(ctx, videoFile(t, testVideo))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))

	st, err := store.GetStatus(context.Background(), videoID())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, st.Status)
}

// cancellingEngine cancels the job context on the first frame, as a shutdown would.
type cancellingEngine struct {
	cancel context.CancelFunc
}

func (e *cancellingEngine) NewSession() (detect.Session, error) { return e, nil }
func (e *cancellingEngine) Close()                              {}
func (e *cancellingEngine) Detect(ctx context.Context, _ image.Image) ([]models.Detection, error) {
	e.cancel()
	return nil, ctx.Err()
}
