package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vesselwatch/internal/models"
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

func TestGetOrCreateLocationIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.GetOrCreateLocation(ctx, "Putney")
	require.NoError(t, err)
	second, err := s.GetOrCreateLocation(ctx, "Putney")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Zero(t, first.Latitude)
	assert.Zero(t, first.Longitude)
}

func TestGetOrCreateLocationConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const n = 32
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loc, err := s.GetOrCreateLocation(ctx, "Hammersmith")
			if assert.NoError(t, err) {
				ids[i] = loc.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	locs, err := s.ListLocations(ctx)
	require.NoError(t, err)
	assert.Len(t, locs, 1)
}

func TestMissingReadsReturnNil(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	loc, err := s.GetLocation(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, loc)

	v, err := s.GetVideo(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, v)

	st, err := s.GetStatus(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestUpdatesOnMissingReturnFalse(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	name := "x"

	ok, err := s.UpdateLocation(ctx, uuid.New(), models.LocationUpdate{Name: &name})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UpdateVideo(ctx, uuid.New(), models.VideoUpdate{})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ReplaceDetections(ctx, uuid.New(), models.FrameDetections{})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UpdateStatus(ctx, uuid.New(), models.JobStatusDone, 100)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DeleteLocation(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateLocationRenameConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, _ := s.GetOrCreateLocation(ctx, "A")
	_, _ = s.GetOrCreateLocation(ctx, "B")

	taken := "B"
	_, err := s.UpdateLocation(ctx, a.ID, models.LocationUpdate{Name: &taken})
	assert.ErrorIs(t, err, ErrDuplicate)

	renamed, lat := "C", 51.47
	ok, err := s.UpdateLocation(ctx, a.ID, models.LocationUpdate{Name: &renamed, Latitude: &lat})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetLocationByName(ctx, "C")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, 51.47, got.Latitude)

	old, err := s.GetLocationByName(ctx, "A")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestCreateVideoDuplicateID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := uuid.New()

	got, err := s.CreateVideo(ctx, &models.VideoRecord{ID: id, Filename: "a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = s.CreateVideo(ctx, &models.VideoRecord{ID: id, Filename: "a.mp4"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestReplaceDetectionsIsolatesCaller(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.CreateVideo(ctx, &models.VideoRecord{Filename: "a.mp4"})
	require.NoError(t, err)

	dets := models.FrameDetections{3: {{TrackID: "1", Class: models.VesselRIB}}}
	ok, err := s.ReplaceDetections(ctx, id, dets)
	require.NoError(t, err)
	require.True(t, ok)

	dets[3][0].TrackID = "mutated"
	dets[4] = nil

	v, err := s.GetVideo(ctx, id)
	require.NoError(t, err)
	require.Len(t, v.DetectionsByFrame, 1)
	assert.Equal(t, "1", v.DetectionsByFrame[3][0].TrackID)
}

func TestStatusTerminalIsImmutable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := uuid.New()

	st, err := s.CreateStatus(ctx, id, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, st.Status)
	assert.Zero(t, st.Progress)

	ok, err := s.UpdateStatus(ctx, id, models.JobStatusDone, 100)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.UpdateStatus(ctx, id, models.JobStatusProcessing, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, got.Status)
	assert.Equal(t, 100.0, got.Progress)
}

func TestStatusProgressNeverDecreases(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := uuid.New()

	_, err := s.CreateStatus(ctx, id, "a.mp4")
	require.NoError(t, err)

	for _, p := range []float64{10, 40, 20, 150} {
		_, err := s.UpdateStatus(ctx, id, models.JobStatusProcessing, p)
		require.NoError(t, err)
	}

	got, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Progress)

	_, err = s.CreateStatus(ctx, id, "a.mp4")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestStatusUpdatedAtAdvances(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := base
	s.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	id := uuid.New()
	created, err := s.CreateStatus(ctx, id, "a.mp4")
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, id, models.JobStatusProcessing, 5)
	require.NoError(t, err)

	got, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
}

func TestListStatusesNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tick := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	older, newer := uuid.New(), uuid.New()
	_, _ = s.CreateStatus(ctx, older, "old.mp4")
	_, _ = s.CreateStatus(ctx, newer, "new.mp4")

	list, err := s.ListStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer, list[0].ID)
	assert.Equal(t, older, list[1].ID)
}

func TestDeleteLocationInUse(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	used, _ := s.GetOrCreateLocation(ctx, "Putney")
	empty, _ := s.GetOrCreateLocation(ctx, "Barnes")
	_, err := s.CreateVideo(ctx, &models.VideoRecord{LocationID: used.ID, Filename: "a.mp4"})
	require.NoError(t, err)

	ok, err := s.DeleteLocation(ctx, used.ID)
	assert.ErrorIs(t, err, ErrInUse)
	assert.False(t, ok)
	got, err := s.GetLocation(ctx, used.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)

	ok, err = s.DeleteLocation(ctx, empty.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = s.GetLocationByName(ctx, "Barnes")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetVideoByFilename(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	putney, _ := s.GetOrCreateLocation(ctx, "Putney")
	barnes, _ := s.GetOrCreateLocation(ctx, "Barnes")
	id, err := s.CreateVideo(ctx, &models.VideoRecord{LocationID: putney.ID, Filename: "a.mp4"})
	require.NoError(t, err)
	_, err = s.CreateVideo(ctx, &models.VideoRecord{LocationID: barnes.ID, Filename: "a.mp4"})
	require.NoError(t, err)

	got, err := s.GetVideoByFilename(ctx, putney.ID, "a.mp4")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)

	got, err = s.GetVideoByFilename(ctx, putney.ID, "b.mp4")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.GetVideoByFilename(ctx, uuid.New(), "a.mp4")
	require.NoError(t, err)
	assert.Nil(t, got)
}
