package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/vesselwatch/internal/models"
)

type VideoResponse struct {
	ID                uuid.UUID              `json:"id"`
	LocationID        uuid.UUID              `json:"location_id"`
	Filename          string                 `json:"filename"`
	StartTime         time.Time              `json:"start_time"`
	EndTime           *time.Time             `json:"end_time,omitempty"`
	DetectionsByFrame models.FrameDetections `json:"detections_by_frame"`
	Frames            int                    `json:"frames_with_detections"`
	Detections        int                    `json:"detections"`
}

type StatusResponse struct {
	ID        uuid.UUID `json:"id"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	Progress  float64   `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type StatusListResponse struct {
	Statuses []StatusResponse `json:"statuses"`
	Total    int              `json:"total"`
}

func VideoToResponse(v *models.VideoRecord) VideoResponse {
	dets := v.DetectionsByFrame
	if dets == nil {
		dets = models.FrameDetections{}
	}
	return VideoResponse{
		ID:                v.ID,
		LocationID:        v.LocationID,
		Filename:          v.Filename,
		StartTime:         v.StartTime,
		EndTime:           v.EndTime,
		DetectionsByFrame: dets,
		Frames:            len(dets),
		Detections:        dets.Count(),
	}
}

func StatusToResponse(s *models.VideoStatus) StatusResponse {
	return StatusResponse{
		ID:        s.ID,
		Filename:  s.Filename,
		Status:    string(s.Status),
		Progress:  s.Progress,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// StatusesToResponse keeps an empty list as [] on the wire.
func StatusesToResponse(list []models.VideoStatus) []StatusResponse {
	out := make([]StatusResponse, 0, len(list))
	for i := range list {
		out = append(out, StatusToResponse(&list[i]))
	}
	return out
}
