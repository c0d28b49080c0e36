package detect

import (
	"strconv"
	"sync"
)

// Track represents one vessel followed across frames.
type Track struct {
	ID              string
	BBox            [4]float32
	Class           int
	Confidence      float32
	Hits            int // number of matched detections
	TimeSinceUpdate int // frames since last detection match
}

// Tracker implements a simple SORT-like IoU tracker. Track ids are small
// integers counted from 1 and are only meaningful within one tracker.
type Tracker struct {
	mu           sync.Mutex
	tracks       []*Track // creation order
	nextID       int
	maxAge       int // max frames without detection before track is removed
	minHits      int // min hits before track is reported
	iouThreshold float32
}

func NewTracker(maxAge, minHits int, iouThreshold float32) *Tracker {
	if minHits < 1 {
		minHits = 1
	}
	return &Tracker{
		maxAge:       maxAge,
		minHits:      minHits,
		iouThreshold: iouThreshold,
	}
}

type TrackedBox struct {
	TrackID string
	Box     box
}

// Update matches boxes to existing tracks, starts tracks for the rest and
// returns the boxes whose track is confirmed, in input order.
func (t *Tracker) Update(boxes []box) []TrackedBox {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tr := range t.tracks {
		tr.TimeSinceUpdate++
	}

	assigned := make([]*Track, len(boxes))
	matched := make(map[*Track]bool, len(t.tracks))

	for bi, b := range boxes {
		bestIoU := t.iouThreshold
		var best *Track

		for _, tr := range t.tracks {
			if matched[tr] {
				continue
			}
			if v := iou(b.BBox, tr.BBox); v > bestIoU {
				bestIoU = v
				best = tr
			}
		}

		if best != nil {
			best.BBox = b.BBox
			best.Class = b.Class
			best.Confidence = b.Confidence
			best.Hits++
			best.TimeSinceUpdate = 0
			matched[best] = true
			assigned[bi] = best
		}
	}

	for bi, b := range boxes {
		if assigned[bi] != nil {
			continue
		}
		t.nextID++
		tr := &Track{
			ID:         strconv.Itoa(t.nextID),
			BBox:       b.BBox,
			Class:      b.Class,
			Confidence: b.Confidence,
			Hits:       1,
		}
		t.tracks = append(t.tracks, tr)
		assigned[bi] = tr
	}

	live := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.TimeSinceUpdate <= t.maxAge {
			live = append(live, tr)
		}
	}
	t.tracks = live

	out := make([]TrackedBox, 0, len(boxes))
	for bi, b := range boxes {
		if assigned[bi].Hits >= t.minHits {
			out = append(out, TrackedBox{TrackID: assigned[bi].ID, Box: b})
		}
	}
	return out
}

// TrackCount returns the number of active tracks.
func (t *Tracker) TrackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}
