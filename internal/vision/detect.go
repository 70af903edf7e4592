package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/suriai/attendengine/internal/models"
)

// stride configuration for the RetinaFace-style det_10g graph.
var strides = []int{8, 16, 32}

// anchorsPerStride is the number of anchors per pixel at each stride.
const anchorsPerStride = 2

// DetectorConfig is the subset of config the Detector reads (detector.*).
type DetectorConfig struct {
	ScoreThreshold float32
	NMSThreshold   float32
	TopK           int
	MinFaceSize    float32
}

// Detector runs single-shot anchor-based face detection (RetinaFace-style)
// via ONNX Runtime. Faces below MinFaceSize are still returned, pre-marked
// too_small so liveness scoring can short-circuit.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	cfg           DetectorConfig
	inputW        int
	inputH        int
}

// NewDetector loads the detection ONNX model. opts may be nil (ORT
// defaults) or a pre-configured *ort.SessionOptions shared with other
// sessions on the same thread pool.
func NewDetector(modelPath string, cfg DetectorConfig, opts *ort.SessionOptions) (*Detector, error) {
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output shapes follow the stride-8/16/32 anchor grid of a 640x640
	// input: N = (640/stride)^2 * anchorsPerStride per stride.
	type outputSpec struct {
		name  string
		shape ort.Shape
	}

	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
		{"454", ort.NewShape(12800, 10)},
		{"477", ort.NewShape(3200, 10)},
		{"500", ort.NewShape(800, 10)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))

	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %d (%s): %w", i, spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	if cfg.NMSThreshold == 0 {
		cfg.NMSThreshold = 0.4
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		cfg:           cfg,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// ErrInvalidInput is returned for zero-area frames.
var ErrInvalidInput = fmt.Errorf("invalid input: zero-area frame")

// Detect runs face detection on a preprocessed, letterboxed image.
// imgData must be CHW format [3, inputH, inputW], normalized. origW/origH
// are the original frame dimensions used to rescale coordinates back.
//
// Returned detections whose width or height is below cfg.MinFaceSize are
// still included, with the matching tooSmall[i] set so the caller can
// short-circuit liveness scoring for them without dropping the face from
// the response.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]models.Detection, []bool, error) {
	if origW <= 0 || origH <= 0 {
		return nil, nil, ErrInvalidInput
	}

	inputSlice := d.inputTensor.GetData()
	copy(inputSlice, imgData)

	if err := d.session.Run(); err != nil {
		return nil, nil, fmt.Errorf("run detection: %w", err)
	}

	raw := d.parseDetections(origW, origH)
	raw = nms(raw, d.cfg.NMSThreshold)

	sort.Slice(raw, func(i, j int) bool { return raw[i].Confidence > raw[j].Confidence })
	if d.cfg.TopK > 0 && len(raw) > d.cfg.TopK {
		raw = raw[:d.cfg.TopK]
	}

	tooSmall := make([]bool, len(raw))
	for i, r := range raw {
		tooSmall[i] = r.BBox.Width < d.cfg.MinFaceSize || r.BBox.Height < d.cfg.MinFaceSize
	}

	return raw, tooSmall, nil
}

// parseDetections decodes anchor-based outputs at strides 8, 16, 32 into
// top-left-origin width/height boxes plus 5 landmarks.
func (d *Detector) parseDetections(origW, origH int) []models.Detection {
	var detections []models.Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+3].GetData()
		landmarks := d.outputTensors[si+6].GetData()

		fmW := d.inputW / stride
		fmH := d.inputH / stride

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					score := scores[idx]

					if score >= d.cfg.ScoreThreshold {
						anchorX := float32(cx) * float32(stride)
						anchorY := float32(cy) * float32(stride)
						st := float32(stride)

						// Boxes are deliberately left unclipped: alignment
						// and the min-face-size gate both want the true
						// extent, even when it crosses the frame edge.
						x1 := (anchorX - bboxes[idx*4+0]*st) * scaleW
						y1 := (anchorY - bboxes[idx*4+1]*st) * scaleH
						x2 := (anchorX + bboxes[idx*4+2]*st) * scaleW
						y2 := (anchorY + bboxes[idx*4+3]*st) * scaleH

						var lm [5]models.Point
						for li := 0; li < 5; li++ {
							lm[li] = models.Point{
								X: (anchorX + landmarks[idx*10+li*2]*st) * scaleW,
								Y: (anchorY + landmarks[idx*10+li*2+1]*st) * scaleH,
							}
						}

						detections = append(detections, models.Detection{
							BBox: models.BBox{
								X:      x1,
								Y:      y1,
								Width:  x2 - x1,
								Height: y2 - y1,
							},
							Confidence: score,
							Landmarks:  lm,
						})
					}
					idx++
				}
			}
		}
	}

	return detections
}

// InputSize returns the model's expected input dimensions.
func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms performs greedy Non-Maximum Suppression on detections, highest
// confidence first.
func nms(detections []models.Detection, iouThreshold float32) []models.Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if !keep[j] {
				continue
			}
			if bboxIoU(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []models.Detection
	for i, det := range detections {
		if keep[i] {
			result = append(result, det)
		}
	}
	return result
}

func bboxIoU(a, b models.BBox) float32 {
	ax1, ay1, ax2, ay2 := a.X, a.Y, a.X+a.Width, a.Y+a.Height
	bx1, by1, bx2, by2 := b.X, b.Y, b.X+b.Width, b.Y+b.Height

	x1 := float32(math.Max(float64(ax1), float64(bx1)))
	y1 := float32(math.Max(float64(ay1), float64(by1)))
	x2 := float32(math.Min(float64(ax2), float64(bx2)))
	y2 := float32(math.Min(float64(ay2), float64(by2)))

	inter := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))
	areaA := a.Width * a.Height
	areaB := b.Width * b.Height
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
