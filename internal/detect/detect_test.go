package detect

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vesselwatch/internal/config"
	"github.com/your-org/vesselwatch/internal/models"
)

func TestIoU(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-6)
	assert.InDelta(t, 0.0, iou(a, [4]float32{20, 20, 30, 30}), 1e-6)
	assert.InDelta(t, 25.0/175.0, iou(a, [4]float32{5, 5, 15, 15}), 1e-6)
}

func TestNMSPerClass(t *testing.T) {
	boxes := []box{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.6, Class: 0},
		{BBox: [4]float32{1, 1, 10, 10}, Confidence: 0.9, Class: 0},
		{BBox: [4]float32{1, 1, 10, 10}, Confidence: 0.8, Class: 1},
	}

	kept := nms(boxes, 0.5)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Confidence)
	assert.Equal(t, 1, kept[1].Class)
}

func TestDecodeOutput(t *testing.T) {
	const classes, anchors, size = 2, 3, 100
	out := make([]float32, (4+classes)*anchors)
	set := func(row, a int, v float32) { out[row*anchors+a] = v }

	// anchor 1: centre (50,40) 20x10, class 1 at 0.8
	set(0, 1, 50)
	set(1, 1, 40)
	set(2, 1, 20)
	set(3, 1, 10)
	set(4, 1, 0.1)
	set(5, 1, 0.8)
	// anchor 2: below threshold
	set(4, 2, 0.2)

	boxes := decodeOutput(out, classes, anchors, size, 200, 100, 0.25)
	require.Len(t, boxes, 1)
	assert.Equal(t, 1, boxes[0].Class)
	assert.Equal(t, float32(0.8), boxes[0].Confidence)
	assert.Equal(t, [4]float32{80, 35, 120, 45}, boxes[0].BBox)

	assert.Nil(t, decodeOutput(out[:5], classes, anchors, size, 200, 100, 0.25))
}

func TestAnchorCount(t *testing.T) {
	assert.Equal(t, 8400, anchorCount(640))
}

func TestTrackerStableIDs(t *testing.T) {
	tr := NewTracker(2, 1, 0.3)

	first := tr.Update([]box{
		{BBox: [4]float32{0, 0, 10, 10}},
		{BBox: [4]float32{50, 50, 60, 60}},
	})
	require.Len(t, first, 2)
	assert.Equal(t, "1", first[0].TrackID)
	assert.Equal(t, "2", first[1].TrackID)

	second := tr.Update([]box{
		{BBox: [4]float32{51, 51, 61, 61}},
		{BBox: [4]float32{1, 1, 11, 11}},
	})
	require.Len(t, second, 2)
	assert.Equal(t, "2", second[0].TrackID)
	assert.Equal(t, "1", second[1].TrackID)
}

func TestTrackerExpiresStaleTracks(t *testing.T) {
	tr := NewTracker(1, 1, 0.3)
	tr.Update([]box{{BBox: [4]float32{0, 0, 10, 10}}})
	tr.Update(nil)
	tr.Update(nil)
	assert.Equal(t, 0, tr.TrackCount())

	again := tr.Update([]box{{BBox: [4]float32{0, 0, 10, 10}}})
	require.Len(t, again, 1)
	assert.Equal(t, "2", again[0].TrackID)
}

func TestTrackerMinHits(t *testing.T) {
	tr := NewTracker(5, 2, 0.3)
	assert.Empty(t, tr.Update([]box{{BBox: [4]float32{0, 0, 10, 10}}}))
	assert.Len(t, tr.Update([]box{{BBox: [4]float32{0, 0, 10, 10}}}), 1)
}

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

func TestSessionMapsLabels(t *testing.T) {
	labels := []string{"Yacht", "hovercraft"}
	calls := 0
	s := newSession(func(image.Image) ([]box, error) {
		calls++
		return []box{
			{BBox: [4]float32{0, 0, 2, 2}, Confidence: 0.9, Class: 0},
			{BBox: [4]float32{3, 3, 4, 4}, Confidence: 0.7, Class: 1},
		}, nil
	}, labels, config.TrackingConfig{MaxAge: 5, MinHits: 1, IoUThreshold: 0.3})

	dets, err := s.Detect(context.Background(), testFrame())
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, 1, calls)

	assert.Equal(t, models.VesselYacht, dets[0].Class)
	assert.Empty(t, dets[0].RawLabel)
	assert.Equal(t, models.BBox{X1: 0, Y1: 0, X2: 2, Y2: 2}, dets[0].BBox)

	assert.Equal(t, models.VesselUnknown, dets[1].Class)
	assert.Equal(t, "hovercraft", dets[1].RawLabel)
	assert.NotEqual(t, dets[0].TrackID, dets[1].TrackID)
}

func TestSessionPropagatesErrors(t *testing.T) {
	boom := errors.New("inference failed")
	s := newSession(func(image.Image) ([]box, error) { return nil, boom },
		nil, config.TrackingConfig{MaxAge: 1, MinHits: 1, IoUThreshold: 0.3})

	_, err := s.Detect(context.Background(), testFrame())
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Detect(ctx, testFrame())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImageToFloat32CHW(t *testing.T) {
	data := imageToFloat32CHW(testFrame(), 4, 4)
	require.Len(t, data, 3*4*4)
	assert.InDelta(t, 1.0, data[0*16+1*4+1], 1e-6)
	assert.InDelta(t, 0.0, data[1*16+1*4+1], 1e-6)
	assert.InDelta(t, 0.0, data[0], 1e-6)
}
