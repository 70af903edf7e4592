package vision

import (
	"testing"

	"github.com/suriai/attendengine/internal/models"
)

func TestNMS_SuppressesOverlapping(t *testing.T) {
	dets := []models.Detection{
		{BBox: models.BBox{X: 0, Y: 0, Width: 20, Height: 20}, Confidence: 0.9},
		{BBox: models.BBox{X: 2, Y: 2, Width: 20, Height: 20}, Confidence: 0.8},
		{BBox: models.BBox{X: 100, Y: 100, Width: 20, Height: 20}, Confidence: 0.7},
	}

	kept := nms(dets, 0.4)
	if len(kept) != 2 {
		t.Fatalf("expected 2 detections after suppression, got %d: %v", len(kept), kept)
	}
	if kept[0].Confidence != 0.9 {
		t.Errorf("expected the higher-confidence overlapping box to survive, got %v", kept[0])
	}
}

func TestNMS_EmptyInput(t *testing.T) {
	if kept := nms(nil, 0.4); len(kept) != 0 {
		t.Errorf("expected empty result for empty input, got %v", kept)
	}
}

func TestNMS_NonOverlappingAllSurvive(t *testing.T) {
	dets := []models.Detection{
		{BBox: models.BBox{X: 0, Y: 0, Width: 10, Height: 10}, Confidence: 0.9},
		{BBox: models.BBox{X: 100, Y: 100, Width: 10, Height: 10}, Confidence: 0.8},
	}
	kept := nms(dets, 0.4)
	if len(kept) != 2 {
		t.Errorf("expected both non-overlapping detections to survive, got %d", len(kept))
	}
}

func TestDetect_ZeroAreaFrameRejected(t *testing.T) {
	d := &Detector{cfg: DetectorConfig{}}
	_, _, err := d.Detect(nil, 0, 100)
	if err != ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput for zero width, got %v", err)
	}
	_, _, err = d.Detect(nil, 100, 0)
	if err != ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput for zero height, got %v", err)
	}
}
