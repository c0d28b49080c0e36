package detect

import (
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// box is one raw detector output in original image pixel coordinates.
type box struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	Class      int
}

// Detector runs a YOLOv8-style single-output detector using ONNX Runtime.
type Detector struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputSize    int
	numClasses   int
	numAnchors   int
	threshold    float32
	nmsThreshold float32
}

// YOLOv8 heads
var strides = []int{8, 16, 32}

func anchorCount(inputSize int) int {
	n := 0
	for _, s := range strides {
		n += (inputSize / s) * (inputSize / s)
	}
	return n
}

// NewDetector loads the ONNX model. The model takes "images" [1,3,S,S] and
// produces "output0" [1, 4+numClasses, anchors] with cx,cy,w,h rows first.
// opts may be nil (ORT defaults).
func NewDetector(modelPath string, inputSize, numClasses int, threshold, nmsThreshold float32, opts *ort.SessionOptions) (*Detector, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("detector needs at least one class")
	}
	anchors := anchorCount(inputSize)

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputSize), int64(inputSize)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+numClasses), int64(anchors)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputSize:    inputSize,
		numClasses:   numClasses,
		numAnchors:   anchors,
		threshold:    threshold,
		nmsThreshold: nmsThreshold,
	}, nil
}

// DetectImage preprocesses img and runs detection.
func (d *Detector) DetectImage(img image.Image) ([]box, error) {
	b := img.Bounds()
	return d.Detect(imageToFloat32CHW(img, d.inputSize, d.inputSize), b.Dx(), b.Dy())
}

// Detect runs detection on a preprocessed CHW image.
// origW/origH are the original image dimensions for coordinate scaling.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]box, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	boxes := decodeOutput(d.outputTensor.GetData(), d.numClasses, d.numAnchors, d.inputSize, origW, origH, d.threshold)
	return nms(boxes, d.nmsThreshold), nil
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}

// decodeOutput reads the [4+C][A] output: row k holds value k for every anchor.
func decodeOutput(out []float32, numClasses, numAnchors, inputSize, origW, origH int, threshold float32) []box {
	if len(out) < (4+numClasses)*numAnchors {
		return nil
	}

	scaleW := float32(origW) / float32(inputSize)
	scaleH := float32(origH) / float32(inputSize)

	var boxes []box
	for a := 0; a < numAnchors; a++ {
		best, bestScore := -1, threshold
		for c := 0; c < numClasses; c++ {
			if s := out[(4+c)*numAnchors+a]; s >= bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 {
			continue
		}

		cx := out[0*numAnchors+a]
		cy := out[1*numAnchors+a]
		w := out[2*numAnchors+a]
		h := out[3*numAnchors+a]

		boxes = append(boxes, box{
			BBox: [4]float32{
				clampF((cx-w/2)*scaleW, 0, float32(origW)),
				clampF((cy-h/2)*scaleH, 0, float32(origH)),
				clampF((cx+w/2)*scaleW, 0, float32(origW)),
				clampF((cy+h/2)*scaleH, 0, float32(origH)),
			},
			Confidence: bestScore,
			Class:      best,
		})
	}
	return boxes
}

// nms performs per-class Non-Maximum Suppression.
func nms(boxes []box, iouThreshold float32) []box {
	if len(boxes) == 0 {
		return boxes
	}

	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].Confidence > boxes[j].Confidence
	})

	keep := make([]bool, len(boxes))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(boxes); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(boxes); j++ {
			if !keep[j] || boxes[j].Class != boxes[i].Class {
				continue
			}
			if iou(boxes[i].BBox, boxes[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []box
	for i, b := range boxes {
		if keep[i] {
			result = append(result, b)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
