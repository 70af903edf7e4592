package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPoint_MarshalsAsPair(t *testing.T) {
	p := Point{X: 12.5, Y: 30}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "[12.5,30]" {
		t.Errorf("expected [x,y] pair on the wire, got %s", data)
	}

	var back Point
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != p {
		t.Errorf("round trip mismatch: %+v vs %+v", back, p)
	}
}

func TestFaceResult_OmitsUncomputedFields(t *testing.T) {
	r := FaceResult{
		BBox:       BBox{X: 1, Y: 2, Width: 3, Height: 4},
		Confidence: 0.9,
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	for _, field := range []string{"track_id", "person_id", "similarity", "liveness"} {
		if strings.Contains(s, field) {
			t.Errorf("uncomputed field %q should be absent from the wire, got %s", field, s)
		}
	}
	if !strings.Contains(s, `"landmarks_5":[[0,0],[0,0],[0,0],[0,0],[0,0]]`) {
		t.Errorf("expected landmarks_5 as five [x,y] pairs, got %s", s)
	}
}
