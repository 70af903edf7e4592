package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/suriai/attendengine/internal/models"
	"github.com/suriai/attendengine/internal/observability"
)

// ErrInferenceTimeout is returned when a single inference call exceeds
// its configured wall-clock budget.
var ErrInferenceTimeout = errors.New("vision: inference timeout")

// PipelineConfig bundles the tunables the orchestrator itself needs,
// beyond the per-component configs the shared models already carry.
type PipelineConfig struct {
	InferenceTimeout time.Duration
}

// RecognitionCandidate is a face the orchestrator decided should be
// routed on to the attendance state machine: confirmed track, live, and
// matched against the gallery.
type RecognitionCandidate struct {
	PersonID   string
	Confidence float32
}

// Pipeline wires the shared, stateless vision components (Detector,
// LivenessScorer, Embedder, Recognizer) into the per-frame sequence. It
// holds no per-stream state; the caller supplies a *Tracker it owns
// exclusively for its stream.
type Pipeline struct {
	detector   *Detector
	liveness   *LivenessScorer
	embedder   *Embedder
	recognizer *Recognizer
	cfg        PipelineConfig
}

// NewPipeline constructs the orchestrator from already-initialized shared
// components.
func NewPipeline(detector *Detector, liveness *LivenessScorer, embedder *Embedder, recognizer *Recognizer, cfg PipelineConfig) *Pipeline {
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = 3 * time.Second
	}
	return &Pipeline{
		detector:   detector,
		liveness:   liveness,
		embedder:   embedder,
		recognizer: recognizer,
		cfg:        cfg,
	}
}

// ProcessFrame runs detect, align, liveness scoring, embedding, tracking
// and recognition over one decoded frame, for the given stream's Tracker
// (owned exclusively by the caller). frameNumber feeds liveness temporal
// smoothing.
// allowedPersonIDs restricts recognition to a group's members; nil means
// unrestricted.
//
// Returns one FaceResult per detected face, plus the subset that should
// be routed to the attendance state machine (confirmed track, is_real,
// and a recognized person_id).
func (p *Pipeline) ProcessFrame(ctx context.Context, tracker *Tracker, img image.Image, frameNumber int64, allowedPersonIDs map[string]bool) ([]models.FaceResult, []RecognitionCandidate, error) {
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	detW, detH := p.detector.InputSize()
	detInput := preprocessForDetection(img, detW, detH)

	var detections []models.Detection
	var tooSmall []bool
	detStart := time.Now()
	err := p.runWithTimeout(ctx, func() error {
		var detErr error
		detections, tooSmall, detErr = p.detector.Detect(detInput, origW, origH)
		return detErr
	})
	observability.InferenceDuration.WithLabelValues("detector").Observe(time.Since(detStart).Seconds())
	if err != nil {
		return nil, nil, fmt.Errorf("detect: %w", err)
	}

	boxes := make([]models.BBox, len(detections))
	for i, d := range detections {
		boxes[i] = d.BBox
	}

	// For every non-too-small face, produce both crops: the liveness
	// square expansion and the 112x112 recognition alignment.
	livenessCrops := make([]image.Image, len(detections))
	embedInputs := make([][]float32, len(detections))

	embW, _ := p.embedder.InputSize()
	alignStart := time.Now()
	for i, d := range detections {
		if tooSmall[i] {
			continue
		}
		livenessCrops[i] = p.liveness.ExpandAndCrop(img, d.BBox)
		aligned := AlignFace(img, d.Landmarks, embW)
		embedInputs[i] = preprocessAlignedForEmbedding(aligned)
	}
	observability.InferenceDuration.WithLabelValues("aligner").Observe(time.Since(alignStart).Seconds())

	var rawEmbeddings [][]float32
	embStart := time.Now()
	err = p.runWithTimeout(ctx, func() error {
		var embErr error
		rawEmbeddings, embErr = p.embedder.EmbedBatch(embedInputs)
		return embErr
	})
	observability.InferenceDuration.WithLabelValues("embedder").Observe(time.Since(embStart).Seconds())
	if err != nil {
		return nil, nil, fmt.Errorf("embed: %w", err)
	}

	// Attach track IDs to every detection; embeddings are absent for
	// too-small/skipped faces.
	trackStart := time.Now()
	trackIDs := tracker.Update(boxes, rawEmbeddings)
	observability.InferenceDuration.WithLabelValues("tracker").Observe(time.Since(trackStart).Seconds())

	results := make([]models.FaceResult, len(detections))
	var candidates []RecognitionCandidate

	for i, d := range detections {
		trackID := trackIDs[i]

		var verdict models.LivenessVerdict
		if tooSmall[i] {
			verdict = models.LivenessVerdict{Status: models.LivenessTooSmall, IsReal: false}
		} else {
			v, livenessErr := p.liveness.Score(livenessCrops[i], trackID, frameNumber)
			if livenessErr != nil {
				verdict = models.LivenessVerdict{Status: models.LivenessError}
			} else {
				verdict = v
			}
		}

		result := models.FaceResult{
			BBox:       d.BBox,
			Confidence: d.Confidence,
			Landmarks5: d.Landmarks,
			Liveness:   &verdict,
		}
		if trackID != 0 {
			result.TrackID = &trackID
		}

		if trackID >= 1 && verdict.IsReal && rawEmbeddings[i] != nil {
			personID, similarity, recErr := p.recognizer.Recognize(ctx, rawEmbeddings[i], allowedPersonIDs)
			if recErr == nil && personID != "" {
				pid := personID
				sim := similarity
				result.PersonID = &pid
				result.Similarity = &sim
				candidates = append(candidates, RecognitionCandidate{PersonID: pid, Confidence: similarity})
			}
		}

		results[i] = result
	}

	p.liveness.CleanupStale(false)

	return results, candidates, nil
}

// FlushTracker performs the single empty-detection update the
// orchestrator must run when a stream closes, so in-flight tracks age
// out on a clean schedule rather than freezing mid-life.
func (p *Pipeline) FlushTracker(tracker *Tracker) {
	tracker.Update(nil, nil)
}

// runWithTimeout runs fn to completion or returns ErrInferenceTimeout
// once ctx's deadline (bounded additionally by cfg.InferenceTimeout)
// elapses. The ORT call itself cannot be preempted mid-run, so a timed
// out goroutine is left to finish in the background; its result is
// simply discarded.
func (p *Pipeline) runWithTimeout(ctx context.Context, fn func() error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.cfg.InferenceTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		return ErrInferenceTimeout
	}
}
