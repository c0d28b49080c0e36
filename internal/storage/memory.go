package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/vesselwatch/internal/models"
)

// MemoryStore keeps everything in process memory. It backs tests and
// single-process local runs. All returned values are copies.
type MemoryStore struct {
	mu        sync.RWMutex
	locations map[uuid.UUID]*models.Location
	byName    map[string]uuid.UUID
	videos    map[uuid.UUID]*models.VideoRecord
	statuses  map[uuid.UUID]*models.VideoStatus

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: make(map[uuid.UUID]*models.Location),
		byName:    make(map[string]uuid.UUID),
		videos:    make(map[uuid.UUID]*models.VideoRecord),
		statuses:  make(map[uuid.UUID]*models.VideoStatus),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// --- Locations ---

func (s *MemoryStore) GetOrCreateLocation(_ context.Context, name string) (*models.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byName[name]; ok {
		loc := *s.locations[id]
		return &loc, nil
	}
	loc := &models.Location{ID: uuid.New(), Name: name, CreatedAt: s.now()}
	s.locations[loc.ID] = loc
	s.byName[name] = loc.ID
	out := *loc
	return &out, nil
}

func (s *MemoryStore) GetLocation(_ context.Context, id uuid.UUID) (*models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.locations[id]
	if !ok {
		return nil, nil
	}
	out := *loc
	return &out, nil
}

func (s *MemoryStore) GetLocationByName(_ context.Context, name string) (*models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, nil
	}
	out := *s.locations[id]
	return &out, nil
}

func (s *MemoryStore) ListLocations(context.Context) ([]models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Location, 0, len(s.locations))
	for _, loc := range s.locations {
		out = append(out, *loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateLocation(_ context.Context, id uuid.UUID, upd models.LocationUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.locations[id]
	if !ok {
		return false, nil
	}
	if upd.Name != nil && *upd.Name != loc.Name {
		if _, taken := s.byName[*upd.Name]; taken {
			return false, ErrDuplicate
		}
		delete(s.byName, loc.Name)
		loc.Name = *upd.Name
		s.byName[loc.Name] = id
	}
	if upd.Latitude != nil {
		loc.Latitude = *upd.Latitude
	}
	if upd.Longitude != nil {
		loc.Longitude = *upd.Longitude
	}
	return true, nil
}

func (s *MemoryStore) DeleteLocation(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.locations[id]
	if !ok {
		return false, nil
	}
	for _, v := range s.videos {
		if v.LocationID == id {
			return false, ErrInUse
		}
	}
	delete(s.byName, loc.Name)
	delete(s.locations, id)
	return true, nil
}

// --- Videos ---

func (s *MemoryStore) CreateVideo(_ context.Context, v *models.VideoRecord) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := copyVideo(v)
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, exists := s.videos[rec.ID]; exists {
		return uuid.Nil, ErrDuplicate
	}
	if rec.DetectionsByFrame == nil {
		rec.DetectionsByFrame = models.FrameDetections{}
	}
	now := s.now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	s.videos[rec.ID] = rec
	return rec.ID, nil
}

func (s *MemoryStore) GetVideo(_ context.Context, id uuid.UUID) (*models.VideoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.videos[id]
	if !ok {
		return nil, nil
	}
	return copyVideo(v), nil
}

func (s *MemoryStore) GetVideoByFilename(_ context.Context, locationID uuid.UUID, filename string) (*models.VideoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.videos {
		if v.LocationID == locationID && v.Filename == filename {
			return copyVideo(v), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) UpdateVideo(_ context.Context, id uuid.UUID, upd models.VideoUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.videos[id]
	if !ok {
		return false, nil
	}
	if upd.EndTime != nil {
		t := *upd.EndTime
		v.EndTime = &t
	}
	v.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) ReplaceDetections(_ context.Context, id uuid.UUID, dets models.FrameDetections) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.videos[id]
	if !ok {
		return false, nil
	}
	v.DetectionsByFrame = copyDetections(dets)
	v.UpdatedAt = s.now()
	return true, nil
}

// --- Statuses ---

func (s *MemoryStore) CreateStatus(_ context.Context, id uuid.UUID, filename string) (*models.VideoStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.statuses[id]; exists {
		return nil, ErrDuplicate
	}
	now := s.now()
	st := &models.VideoStatus{
		ID:        id,
		Filename:  filename,
		Status:    models.JobStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.statuses[id] = st
	out := *st
	return &out, nil
}

func (s *MemoryStore) GetStatus(_ context.Context, id uuid.UUID) (*models.VideoStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statuses[id]
	if !ok {
		return nil, nil
	}
	out := *st
	return &out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status models.JobStatus, progress float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[id]
	if !ok || st.Status.IsTerminal() {
		return false, nil
	}
	st.Status = status
	if p := clampProgress(progress); p > st.Progress {
		st.Progress = p
	}
	st.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) ListStatuses(context.Context) ([]models.VideoStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.VideoStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func copyVideo(v *models.VideoRecord) *models.VideoRecord {
	out := *v
	if v.EndTime != nil {
		t := *v.EndTime
		out.EndTime = &t
	}
	out.DetectionsByFrame = copyDetections(v.DetectionsByFrame)
	return &out
}

func copyDetections(in models.FrameDetections) models.FrameDetections {
	if in == nil {
		return nil
	}
	out := make(models.FrameDetections, len(in))
	for idx, dets := range in {
		out[idx] = append([]models.Detection(nil), dets...)
	}
	return out
}
