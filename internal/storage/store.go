package storage

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"

	"github.com/your-org/vesselwatch/internal/models"
)

var (
	// ErrDuplicate is returned by create operations when the id or unique key is already taken.
	ErrDuplicate = errors.New("duplicate record")
	// ErrInUse is returned when deleting a location that videos still reference.
	ErrInUse = errors.New("record in use")
)

// Read operations return (nil, nil) when the key is missing.
// Update and delete operations return false when no record was modified.

type LocationStore interface {
	GetOrCreateLocation(ctx context.Context, name string) (*models.Location, error)
	GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error)
	GetLocationByName(ctx context.Context, name string) (*models.Location, error)
	ListLocations(ctx context.Context) ([]models.Location, error)
	UpdateLocation(ctx context.Context, id uuid.UUID, upd models.LocationUpdate) (bool, error)
	// DeleteLocation fails with ErrInUse while any video belongs to the location.
	DeleteLocation(ctx context.Context, id uuid.UUID) (bool, error)
}

type VideoStore interface {
	// CreateVideo inserts v and returns its id. A zero v.ID is replaced by a random one.
	CreateVideo(ctx context.Context, v *models.VideoRecord) (uuid.UUID, error)
	GetVideo(ctx context.Context, id uuid.UUID) (*models.VideoRecord, error)
	GetVideoByFilename(ctx context.Context, locationID uuid.UUID, filename string) (*models.VideoRecord, error)
	UpdateVideo(ctx context.Context, id uuid.UUID, upd models.VideoUpdate) (bool, error)
	// ReplaceDetections swaps the whole detections mapping in a single write.
	ReplaceDetections(ctx context.Context, id uuid.UUID, dets models.FrameDetections) (bool, error)
}

type StatusStore interface {
	// CreateStatus inserts a processing status with zero progress.
	CreateStatus(ctx context.Context, id uuid.UUID, filename string) (*models.VideoStatus, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*models.VideoStatus, error)
	// UpdateStatus returns false when the record is missing or already terminal.
	// Progress never decreases.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, progress float64) (bool, error)
	ListStatuses(ctx context.Context) ([]models.VideoStatus, error)
}

// Store is the full persistence surface used by the API and the worker.
type Store interface {
	LocationStore
	VideoStore
	StatusStore
	Ping(ctx context.Context) error
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0 || math.IsNaN(p):
		return 0
	case p > 100:
		return 100
	}
	return p
}
