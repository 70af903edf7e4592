package vision

import (
	"errors"
	"fmt"
	"image"
)

// ErrNoFaceFound is returned by EmbedSingleFace when the detector finds no
// face in the supplied image (gallery registration needs exactly one
// subject per photo, unlike the per-frame pipeline which tracks many).
var ErrNoFaceFound = errors.New("vision: no face found in image")

// Enroller extracts a single 512-D embedding from a still image for
// gallery registration and bulk enrollment tooling. It reuses the same
// Detector and Embedder sessions the per-frame Pipeline shares, since
// both are safe for concurrent Run calls.
type Enroller struct {
	detector *Detector
	embedder *Embedder
}

// NewEnroller constructs an Enroller over already-initialized shared
// detector/embedder sessions.
func NewEnroller(detector *Detector, embedder *Embedder) *Enroller {
	return &Enroller{detector: detector, embedder: embedder}
}

// EmbedSingleFace detects faces in img, picks the highest-confidence one
// (ties broken by larger bbox area, matching a human's intuition of "the
// subject" in an enrollment photo), aligns it, and returns its
// L2-normalized embedding together with the detector's confidence.
func (e *Enroller) EmbedSingleFace(img image.Image) ([]float32, float32, error) {
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	detW, detH := e.detector.InputSize()
	detInput := preprocessForDetection(img, detW, detH)

	detections, _, err := e.detector.Detect(detInput, origW, origH)
	if err != nil {
		return nil, 0, fmt.Errorf("detect: %w", err)
	}
	if len(detections) == 0 {
		return nil, 0, ErrNoFaceFound
	}

	best := detections[0]
	bestArea := best.BBox.Width * best.BBox.Height
	for _, d := range detections[1:] {
		area := d.BBox.Width * d.BBox.Height
		if d.Confidence > best.Confidence || (d.Confidence == best.Confidence && area > bestArea) {
			best = d
			bestArea = area
		}
	}

	embW, _ := e.embedder.InputSize()
	aligned := AlignFace(img, best.Landmarks, embW)
	embInput := preprocessAlignedForEmbedding(aligned)

	embedding, err := e.embedder.Extract(embInput)
	if err != nil {
		return nil, 0, fmt.Errorf("embed: %w", err)
	}

	return embedding, best.Confidence, nil
}
