package vision

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/suriai/attendengine/internal/models"
	"github.com/suriai/attendengine/internal/observability"
)

// LivenessConfig is the subset of config the LivenessScorer reads
// (liveness.*).
type LivenessConfig struct {
	ConfidenceThreshold float32
	BBoxInc             float32
	ModelImgSize        int
	EnableSmoothing     bool
	Alpha               float32
	MaxStaleFrames      int
	CleanupInterval     int
}

// LivenessScorer runs the 3-class (live/print/replay) anti-spoof model and
// optionally smooths scores over time for confirmed tracks.
type LivenessScorer struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	cfg          LivenessConfig
	smoother     *TemporalSmoother
}

// NewLivenessScorer loads the liveness ONNX model. opts may be nil.
func NewLivenessScorer(modelPath string, cfg LivenessConfig, opts *ort.SessionOptions) (*LivenessScorer, error) {
	size := cfg.ModelImgSize
	if size == 0 {
		size = 80
	}

	inputShape := ort.NewShape(1, 3, int64(size), int64(size))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create liveness input tensor: %w", err)
	}

	// 3 logits: live, print, replay.
	outputShape := ort.NewShape(1, 3)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create liveness output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create liveness session: %w", err)
	}

	var smoother *TemporalSmoother
	if cfg.EnableSmoothing {
		smoother = NewTemporalSmoother(cfg.Alpha, cfg.MaxStaleFrames, cfg.CleanupInterval)
	}

	return &LivenessScorer{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		cfg:          cfg,
		smoother:     smoother,
	}, nil
}

func (s *LivenessScorer) Close() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
}

// ExpandAndCrop expands bbox to a square of side max(w,h)*bbox_inc centered
// on the bbox center, then clips to the frame using reflection padding
// where the expansion crosses the boundary, so edge detections never
// index out of range.
func (s *LivenessScorer) ExpandAndCrop(img image.Image, bbox models.BBox) image.Image {
	return expandSquareReflect(img, bbox, s.cfg.BBoxInc)
}

// Score runs liveness scoring on a single expanded-and-cropped face image.
// trackID is used for temporal smoothing when enabled; pass 0 (or any
// value < 1) to disable smoothing for a particular call even if the
// scorer has smoothing enabled (unconfirmed tracks are never smoothed).
func (s *LivenessScorer) Score(crop image.Image, trackID int64, frameNumber int64) (models.LivenessVerdict, error) {
	start := time.Now()
	defer func() {
		observability.InferenceDuration.WithLabelValues("liveness").Observe(time.Since(start).Seconds())
	}()

	size := s.cfg.ModelImgSize
	if size == 0 {
		size = 80
	}

	data := resizeAndPadCHW(crop, size)
	copy(s.inputTensor.GetData(), data)

	if err := s.session.Run(); err != nil {
		return models.LivenessVerdict{Status: models.LivenessError}, fmt.Errorf("run liveness: %w", err)
	}

	logits := s.outputTensor.GetData()
	if len(logits) < 3 {
		return models.LivenessVerdict{Status: models.LivenessError}, fmt.Errorf("unexpected liveness output size: %d", len(logits))
	}

	p := softmax3(logits[0], logits[1], logits[2])
	liveScore := p[0]
	spoofScore := p[1] + p[2]

	if s.smoother != nil && trackID >= 1 {
		liveScore, spoofScore = s.smoother.Smooth(trackID, liveScore, spoofScore, frameNumber)
	}

	confidence := liveScore
	isReal := liveScore >= s.cfg.ConfidenceThreshold
	status := models.LivenessSpoof
	if isReal {
		status = models.LivenessLive
		confidence = liveScore
	} else {
		confidence = spoofScore
	}

	return models.LivenessVerdict{
		IsReal:     isReal,
		LiveScore:  liveScore,
		SpoofScore: spoofScore,
		Confidence: confidence,
		Status:     status,
	}, nil
}

// CleanupStale evicts smoothing state for tracks not seen within
// max_stale_frames, and for any provisional (negative) track ID, gated by
// cleanup_interval unless force is set.
func (s *LivenessScorer) CleanupStale(force bool) {
	if s.smoother != nil {
		s.smoother.CleanupStaleTracks(force)
	}
}

func softmax3(a, b, c float32) [3]float32 {
	max := a
	if b > max {
		max = b
	}
	if c > max {
		max = c
	}
	ea := math.Exp(float64(a - max))
	eb := math.Exp(float64(b - max))
	ec := math.Exp(float64(c - max))
	sum := ea + eb + ec
	return [3]float32{float32(ea / sum), float32(eb / sum), float32(ec / sum)}
}

// expandSquareReflect expands bbox to a square of side max(w,h)*inc
// centered on the bbox's center, then samples it out of img using
// reflection ("mirror") padding wherever the square falls outside the
// frame.
func expandSquareReflect(img image.Image, bbox models.BBox, inc float32) *image.RGBA {
	bounds := img.Bounds()
	realW, realH := bounds.Dx(), bounds.Dy()

	maxDim := bbox.Width
	if bbox.Height > maxDim {
		maxDim = bbox.Height
	}
	side := maxDim * inc
	xc := bbox.X + bbox.Width/2
	yc := bbox.Y + bbox.Height/2

	x0 := xc - side/2
	y0 := yc - side/2

	sideI := int(side)
	if sideI < 1 {
		sideI = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, sideI, sideI))
	for oy := 0; oy < sideI; oy++ {
		srcY := int(y0) + oy
		ry := reflectCoord(srcY, realH)
		for ox := 0; ox < sideI; ox++ {
			srcX := int(x0) + ox
			rx := reflectCoord(srcX, realW)
			c := img.At(bounds.Min.X+rx, bounds.Min.Y+ry)
			r, g, b, a := c.RGBA()
			out.SetRGBA(ox, oy, color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)})
		}
	}
	return out
}

// reflectCoord maps an out-of-range coordinate back into [0, n) by
// mirroring at the borders (OpenCV BORDER_REFLECT_101 style), so a
// coordinate one pixel outside the edge reflects to one pixel inside it.
func reflectCoord(v, n int) int {
	if n <= 1 {
		return 0
	}
	period := 2 * (n - 1)
	v = v % period
	if v < 0 {
		v += period
	}
	if v >= n {
		v = period - v
	}
	return v
}

// resizeAndPadCHW resizes img to fit within size x size preserving aspect
// ratio, then zero-pads to the target square and converts to [0,1]
// normalized CHW float32. Unlike the liveness crop's own boundary
// handling, this final letterbox step uses constant zero padding.
func resizeAndPadCHW(img image.Image, size int) []float32 {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	ratio := float64(size) / math.Max(float64(srcW), float64(srcH))
	scaledW := int(float64(srcW) * ratio)
	scaledH := int(float64(srcH) * ratio)
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}

	deltaW := size - scaledW
	deltaH := size - scaledH
	left := deltaW / 2
	top := deltaH / 2

	data := make([]float32, 3*size*size)
	planeSize := size * size

	for y := 0; y < scaledH; y++ {
		srcY := bounds.Min.Y + y*srcH/scaledH
		oy := y + top
		if oy < 0 || oy >= size {
			continue
		}
		for x := 0; x < scaledW; x++ {
			srcX := bounds.Min.X + x*srcW/scaledW
			ox := x + left
			if ox < 0 || ox >= size {
				continue
			}
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			idx := oy*size + ox
			data[idx] = float32(r>>8) / 255.0
			data[planeSize+idx] = float32(g>>8) / 255.0
			data[2*planeSize+idx] = float32(b>>8) / 255.0
		}
	}

	return data
}

// trackSmoothState is the per-track smoothing record: last smoothed
// scores plus the frame they were observed on.
type trackSmoothState struct {
	live, spoof float32
	hasValue    bool
	lastFrame   int64
}

// TemporalSmoother applies an exponential moving average to liveness
// scores per confirmed track, so a single noisy frame cannot flip the
// reported verdict.
type TemporalSmoother struct {
	mu               sync.Mutex
	alpha            float32
	maxStaleFrames   int
	cleanupInterval  int
	currentFrame     int64
	lastCleanupFrame int64
	states           map[int64]*trackSmoothState
}

// NewTemporalSmoother constructs a smoother with alpha clamped to [0, 1].
func NewTemporalSmoother(alpha float32, maxStaleFrames, cleanupInterval int) *TemporalSmoother {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return &TemporalSmoother{
		alpha:           alpha,
		maxStaleFrames:  maxStaleFrames,
		cleanupInterval: cleanupInterval,
		states:          make(map[int64]*trackSmoothState),
	}
}

// Smooth returns the EMA-smoothed (live, spoof) scores for trackID, seeding
// the series with the raw values on first observation.
func (t *TemporalSmoother) Smooth(trackID int64, liveScore, spoofScore float32, frameNumber int64) (float32, float32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if frameNumber < 0 {
		frameNumber = 0
	}
	if frameNumber < t.currentFrame {
		frameNumber = t.currentFrame
	}
	t.currentFrame = frameNumber

	state, ok := t.states[trackID]
	if !ok {
		state = &trackSmoothState{}
		t.states[trackID] = state
	}

	var smoothedLive, smoothedSpoof float32
	if !state.hasValue {
		smoothedLive = liveScore
		smoothedSpoof = spoofScore
	} else {
		smoothedLive = t.alpha*liveScore + (1-t.alpha)*state.live
		smoothedSpoof = t.alpha*spoofScore + (1-t.alpha)*state.spoof
	}

	state.live = smoothedLive
	state.spoof = smoothedSpoof
	state.hasValue = true
	state.lastFrame = frameNumber

	return smoothedLive, smoothedSpoof
}

// CleanupStaleTracks evicts state for tracks unseen for more than
// max_stale_frames, and unconditionally evicts any provisional (negative)
// track ID, since those never represent a stable identity to smooth
// across. Runs at most once per cleanup_interval frames unless force is
// set.
func (t *TemporalSmoother) CleanupStaleTracks(force bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !force && t.lastCleanupFrame > 0 && (t.currentFrame-t.lastCleanupFrame) < int64(t.cleanupInterval) {
		return
	}

	for trackID, state := range t.states {
		if trackID < 0 || t.currentFrame-state.lastFrame > int64(t.maxStaleFrames) {
			delete(t.states, trackID)
		}
	}

	t.lastCleanupFrame = t.currentFrame
}

// Reset clears all smoothing state.
func (t *TemporalSmoother) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = make(map[int64]*trackSmoothState)
	t.currentFrame = 0
	t.lastCleanupFrame = 0
}
