package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// BBox is an axis-aligned box in pixel coordinates.
type BBox struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// Detection is one tracked object instance within one frame.
type Detection struct {
	TrackID    string      `json:"track_id"`
	Class      VesselClass `json:"class"`
	RawLabel   string      `json:"raw_label,omitempty"` // model label, kept when Class is unknown
	Confidence float32     `json:"confidence"`
	BBox       BBox        `json:"bbox"`
	Speed      *float64    `json:"speed,omitempty"`
	Direction  *string     `json:"direction,omitempty"`
}

// FrameDetections maps a frame index to the detections found in that frame.
// Indices need not be contiguous. Serialized as a JSON object keyed by the decimal index.
type FrameDetections map[int][]Detection

// MarshalJSON writes keys as decimal strings in ascending order.
func (f FrameDetections) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	raw := make(map[string][]Detection, len(f))
	for idx, dets := range f {
		if dets == nil {
			dets = []Detection{}
		}
		raw[strconv.Itoa(idx)] = dets
	}
	return json.Marshal(raw)
}

// UnmarshalJSON rejects keys that are not non-negative integers.
func (f *FrameDetections) UnmarshalJSON(data []byte) error {
	var raw map[string][]Detection
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(FrameDetections, len(raw))
	for key, dets := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return fmt.Errorf("invalid frame index %q", key)
		}
		out[idx] = dets
	}
	*f = out
	return nil
}

// Frames returns the frame indices in ascending order.
func (f FrameDetections) Frames() []int {
	idx := make([]int, 0, len(f))
	for i := range f {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Count returns the total number of detections across all frames.
func (f FrameDetections) Count() int {
	n := 0
	for _, dets := range f {
		n += len(dets)
	}
	return n
}

// VideoRecord is one ingested video and its accumulated detections.
type VideoRecord struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	LocationID        uuid.UUID       `json:"location_id" db:"location_id"`
	Filename          string          `json:"filename" db:"filename"`
	StartTime         time.Time       `json:"start_time" db:"start_time"`
	EndTime           *time.Time      `json:"end_time,omitempty" db:"end_time"`
	DetectionsByFrame FrameDetections `json:"detections_by_frame" db:"detections_by_frame"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// VideoUpdate carries the mutable metadata fields of a VideoRecord.
type VideoUpdate struct {
	EndTime *time.Time
}

var videoNamespace = uuid.MustParse("8a0f3c52-6f7e-4d0b-9b65-3f1f9e4b2c71")

// VideoID derives the id of a video from its location and filename, so that
// reprocessing the same file resolves to the same record.
func VideoID(locationName, filename string) uuid.UUID {
	return uuid.NewSHA1(videoNamespace, []byte(locationName+"/"+filename))
}
