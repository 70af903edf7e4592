package models

import "encoding/json"

// BBox is a top-left-origin pixel rectangle; float precision is retained
// until display.
type BBox struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// Point is a single 2D landmark in frame pixel coordinates. On the wire
// it is a two-element [x, y] array, matching the landmarks_5 shape the
// detection_response schema carries.
type Point struct {
	X float32
	Y float32
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float32{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var arr [2]float32
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	p.X, p.Y = arr[0], arr[1]
	return nil
}

// LivenessStatus enumerates the outcomes of liveness scoring.
type LivenessStatus string

const (
	LivenessLive     LivenessStatus = "live"
	LivenessSpoof    LivenessStatus = "spoof"
	LivenessTooSmall LivenessStatus = "too_small"
	LivenessError    LivenessStatus = "error"
)

// LivenessVerdict is the per-face anti-spoof result, optionally smoothed
// across frames for a confirmed track.
type LivenessVerdict struct {
	IsReal     bool           `json:"is_real"`
	LiveScore  float32        `json:"live_score"`
	SpoofScore float32        `json:"spoof_score"`
	Confidence float32        `json:"confidence"`
	Status     LivenessStatus `json:"status"`
}

// Detection is a single detected face before tracking/recognition are
// attached.
type Detection struct {
	BBox       BBox
	Confidence float32
	Landmarks  [5]Point
}

// FaceResult is the single stable per-face schema the pipeline emits to
// clients. Absent
// optional fields encode "not computed", never "failed".
type FaceResult struct {
	BBox       BBox             `json:"bbox"`
	Confidence float32          `json:"confidence"`
	Landmarks5 [5]Point         `json:"landmarks_5"`
	Liveness   *LivenessVerdict `json:"liveness,omitempty"`
	TrackID    *int64           `json:"track_id,omitempty"`
	PersonID   *string          `json:"person_id,omitempty"`
	Similarity *float32         `json:"similarity,omitempty"`
}
