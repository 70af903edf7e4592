package vision

import (
	"testing"

	"github.com/suriai/attendengine/internal/models"
)

func testTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxAge:            5,
		NInit:             3,
		MaxIOUDistance:    0.7,
		MaxCosineDistance: 0.3,
		FeatureBudget:     10,
		AppearanceWeight:  0.7,
		MotionWeight:      0.3,
	}
}

// TestTracker_ConfirmLifecycle: 30 identical frames
// with two fixed, well-separated boxes confirm into exactly two tracks
// with IDs that never change across frames once assigned.
func TestTracker_ConfirmLifecycle(t *testing.T) {
	tr := NewTracker(testTrackerConfig())

	boxA := models.BBox{X: 10, Y: 10, Width: 50, Height: 50}
	boxB := models.BBox{X: 300, Y: 300, Width: 50, Height: 50}

	var idsA, idsB []int64
	for frame := 0; frame < 30; frame++ {
		ids := tr.Update([]models.BBox{boxA, boxB}, [][]float32{nil, nil})
		if len(ids) != 2 {
			t.Fatalf("frame %d: expected 2 ids, got %d", frame, len(ids))
		}
		idsA = append(idsA, ids[0])
		idsB = append(idsB, ids[1])
	}

	// Both tracks reach n_init hits on frame n_init-1; before that the
	// detections carry provisional negative IDs.
	confirmedFrom := testTrackerConfig().NInit - 1
	for i := 0; i < confirmedFrom; i++ {
		if idsA[i] >= 0 || idsB[i] >= 0 {
			t.Errorf("frame %d: expected provisional negative ids before confirmation, got %d and %d", i, idsA[i], idsB[i])
		}
	}

	for i := confirmedFrom + 1; i < len(idsA); i++ {
		if idsA[i] != idsA[confirmedFrom] {
			t.Errorf("track A id changed across frames: %v", idsA)
			break
		}
	}
	for i := confirmedFrom + 1; i < len(idsB); i++ {
		if idsB[i] != idsB[confirmedFrom] {
			t.Errorf("track B id changed across frames: %v", idsB)
			break
		}
	}

	if idsA[confirmedFrom] <= 0 {
		t.Errorf("expected track A to be confirmed (positive id) after 30 frames, got %d", idsA[confirmedFrom])
	}
	if idsB[confirmedFrom] <= 0 {
		t.Errorf("expected track B to be confirmed (positive id) after 30 frames, got %d", idsB[confirmedFrom])
	}
	if idsA[confirmedFrom] == idsB[confirmedFrom] {
		t.Errorf("expected distinct track ids, both got %d", idsA[confirmedFrom])
	}

	tracked := make(map[int64]bool)
	for _, id := range idsA[confirmedFrom:] {
		tracked[id] = true
	}
	if len(tracked) != 1 {
		t.Errorf("expected exactly one stable id for track A, saw %v", tracked)
	}
}

func TestTracker_ProvisionalIDNegativeBeforeConfirm(t *testing.T) {
	cfg := testTrackerConfig()
	cfg.NInit = 3
	tr := NewTracker(cfg)

	box := models.BBox{X: 10, Y: 10, Width: 50, Height: 50}

	ids := tr.Update([]models.BBox{box}, [][]float32{nil})
	if ids[0] >= 0 {
		t.Errorf("expected a negative provisional id on the first frame, got %d", ids[0])
	}
}

func TestTracker_ExpiresAfterMaxAge(t *testing.T) {
	cfg := testTrackerConfig()
	cfg.MaxAge = 2
	cfg.NInit = 1
	tr := NewTracker(cfg)

	box := models.BBox{X: 10, Y: 10, Width: 50, Height: 50}
	tr.Update([]models.BBox{box}, [][]float32{nil})

	for i := 0; i < cfg.MaxAge+2; i++ {
		tr.Update(nil, nil)
	}

	if len(tr.tracks) != 0 {
		t.Errorf("expected track to be dropped after exceeding max_age with no updates, got %d tracks", len(tr.tracks))
	}
}

func TestBboxIoU(t *testing.T) {
	a := models.BBox{X: 0, Y: 0, Width: 10, Height: 10}
	b := models.BBox{X: 5, Y: 0, Width: 10, Height: 10}

	iou := bboxIoU(a, b)
	// intersection = 5x10 = 50, union = 100+100-50 = 150
	want := float32(50.0 / 150.0)
	if !almostEqual(iou, want) {
		t.Errorf("bboxIoU = %v, want %v", iou, want)
	}
}

func TestBboxIoU_Identical(t *testing.T) {
	a := models.BBox{X: 0, Y: 0, Width: 10, Height: 10}
	if iou := bboxIoU(a, a); !almostEqual(iou, 1.0) {
		t.Errorf("identical boxes should have IoU 1, got %v", iou)
	}
}

func TestBboxIoU_NonOverlapping(t *testing.T) {
	a := models.BBox{X: 0, Y: 0, Width: 10, Height: 10}
	b := models.BBox{X: 100, Y: 100, Width: 10, Height: 10}
	if iou := bboxIoU(a, b); iou != 0 {
		t.Errorf("non-overlapping boxes should have IoU 0, got %v", iou)
	}
}

func TestCosineDistance(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	if d := cosineDistance(a, b); d > 1e-5 {
		t.Errorf("identical vectors should have ~0 cosine distance, got %v", d)
	}

	c := []float32{0, 1, 0}
	if d := cosineDistance(a, c); d < 0.99 || d > 1.01 {
		t.Errorf("orthogonal vectors should have ~1 cosine distance, got %v", d)
	}
}
