package vision

import (
	"math"
	"sync"

	"github.com/suriai/attendengine/internal/models"
)

// TrackerConfig is the subset of config the Tracker reads (tracker.*).
type TrackerConfig struct {
	MaxAge            int
	NInit             int
	MaxIOUDistance    float32
	MaxCosineDistance float32
	FeatureBudget     int
	AppearanceWeight  float32
	MotionWeight      float32
}

type trackLifecycle int

const (
	trackTentative trackLifecycle = iota
	trackConfirmed
)

// track is a single Deep-SORT track: Kalman motion state plus a bounded
// ring of recent appearance features.
type track struct {
	id              int64
	kf              *kalmanFilter
	state           trackLifecycle
	hits            int
	hitStreak       int
	age             int
	timeSinceUpdate int
	features        [][]float32
	featureBudget   int
}

func newTrack(id int64, bbox models.BBox, feature []float32, featureBudget int) *track {
	cx, cy, s, r := bboxToZ(bbox)
	t := &track{
		id:            id,
		kf:            newKalmanFilter(cx, cy, s, r),
		state:         trackTentative,
		hits:          1,
		hitStreak:     1,
		featureBudget: featureBudget,
	}
	if feature != nil {
		t.features = append(t.features, feature)
	}
	return t
}

func (t *track) predict() {
	t.kf.predict()
	t.age++
	if t.timeSinceUpdate > 0 {
		t.hitStreak = 0
	}
	t.timeSinceUpdate++
}

func (t *track) update(bbox models.BBox, feature []float32) {
	t.timeSinceUpdate = 0
	t.hits++
	t.hitStreak++

	cx, cy, s, r := bboxToZ(bbox)
	t.kf.update(cx, cy, s, r)

	if feature != nil {
		t.features = append(t.features, feature)
		if len(t.features) > t.featureBudget {
			t.features = t.features[1:]
		}
	}
}

// markMissed is called when the track received no detection this frame.
// predict already advanced timeSinceUpdate; only the streak resets here.
func (t *track) markMissed() {
	if t.timeSinceUpdate > 0 {
		t.hitStreak = 0
	}
}

func (t *track) isConfirmed() bool { return t.state == trackConfirmed }
func (t *track) isTentative() bool { return t.state == trackTentative }

func (t *track) getState() models.BBox {
	cx, cy, s, r := t.kf.state()
	return zToBBox(cx, cy, s, r)
}

// getFeature returns the L2-normalized mean of the track's feature ring,
// or nil if the track has never received an embedding.
func (t *track) getFeature() []float32 {
	if len(t.features) == 0 {
		return nil
	}
	dim := len(t.features[0])
	mean := make([]float32, dim)
	for _, f := range t.features {
		for i, v := range f {
			mean[i] += v
		}
	}
	n := float32(len(t.features))
	for i := range mean {
		mean[i] /= n
	}
	normalize(mean)
	return mean
}

func bboxToZ(b models.BBox) (cx, cy, s, r float64) {
	w, h := float64(b.Width), float64(b.Height)
	cx = float64(b.X) + w/2
	cy = float64(b.Y) + h/2
	s = w * h
	r = w / (h + 1e-6)
	return
}

func zToBBox(cx, cy, s, r float64) models.BBox {
	w := math.Sqrt(s * r)
	h := s / (w + 1e-6)
	return models.BBox{
		X:      float32(cx - w/2),
		Y:      float32(cy - h/2),
		Width:  float32(w),
		Height: float32(h),
	}
}

// Tracker is the per-stream Deep-SORT tracker: Kalman prediction, cascade
// appearance+motion matching for confirmed tracks, IoU-only matching for
// tentative tracks, birth/death lifecycle. One Tracker
// instance belongs exclusively to one stream's orchestrator.
type Tracker struct {
	mu     sync.Mutex
	cfg    TrackerConfig
	tracks []*track
	nextID int64
}

// NewTracker constructs a tracker with the given configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.AppearanceWeight == 0 && cfg.MotionWeight == 0 {
		cfg.AppearanceWeight = 0.7
		cfg.MotionWeight = 0.3
	}
	if cfg.FeatureBudget == 0 {
		cfg.FeatureBudget = 100
	}
	return &Tracker{cfg: cfg, nextID: 1}
}

// Update advances the tracker by one frame. dets and features are
// index-aligned (features[i] may be nil when no embedding was produced
// for that detection, e.g. a too-small face). Must be called once per
// frame even with zero detections, so existing tracks age out correctly.
//
// Returns, per input detection, the assigned track ID: >= 1 once the
// track is confirmed (hits >= n_init), or a provisional negative ID while
// still tentative.
func (tr *Tracker) Update(dets []models.BBox, features [][]float32) []int64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for _, t := range tr.tracks {
		t.predict()
	}

	matches, unmatchedDets, unmatchedTracks := tr.match(dets, features)

	detTrack := make([]*track, len(dets))

	for _, m := range matches {
		detIdx, trackIdx := m[0], m[1]
		t := tr.tracks[trackIdx]
		t.update(dets[detIdx], features[detIdx])
		detTrack[detIdx] = t
	}

	for _, trackIdx := range unmatchedTracks {
		tr.tracks[trackIdx].markMissed()
	}

	for _, detIdx := range unmatchedDets {
		t := newTrack(tr.nextID, dets[detIdx], features[detIdx], tr.cfg.FeatureBudget)
		tr.nextID++
		tr.tracks = append(tr.tracks, t)
		detTrack[detIdx] = t
	}

	for _, t := range tr.tracks {
		if t.isTentative() && t.hits >= tr.cfg.NInit {
			t.state = trackConfirmed
		}
	}

	kept := tr.tracks[:0]
	for _, t := range tr.tracks {
		if t.timeSinceUpdate <= tr.cfg.MaxAge {
			kept = append(kept, t)
		}
	}
	tr.tracks = kept

	ids := make([]int64, len(dets))
	for i, t := range detTrack {
		if t == nil {
			continue
		}
		if t.isConfirmed() {
			ids[i] = t.id
		} else {
			// Provisional per-frame ID: -(detection_index + 1). Never a
			// stable identity; downstream skips smoothing and attendance
			// for negative IDs.
			ids[i] = -(int64(i) + 1)
		}
	}
	return ids
}

// match implements the two-stage association: an appearance+motion
// cascade over confirmed tracks (prioritizing recently-updated ones),
// then an IoU-only pass covering tentative tracks and cascade leftovers.
func (tr *Tracker) match(dets []models.BBox, features [][]float32) (matches [][2]int, unmatchedDets, unmatchedTracks []int) {
	if len(tr.tracks) == 0 {
		unmatchedDets = indexRange(len(dets))
		return nil, unmatchedDets, nil
	}

	var confirmedIdx, tentativeIdx []int
	for i, t := range tr.tracks {
		if t.isConfirmed() {
			confirmedIdx = append(confirmedIdx, i)
		} else if t.isTentative() {
			tentativeIdx = append(tentativeIdx, i)
		}
	}

	matchesA, unmatchedDetsA, unmatchedTracksA := tr.matchingCascade(dets, features, confirmedIdx)

	iouTrackIndices := append(append([]int{}, tentativeIdx...), unmatchedTracksA...)
	matchesB, unmatchedDetsB, unmatchedTracksB := tr.iouMatching(dets, iouTrackIndices, unmatchedDetsA)

	matches = append(matchesA, matchesB...)
	unmatchedDets = unmatchedDetsB

	// iouTrackIndices already covers every candidate the cascade left
	// unmatched, so its leftovers are the full unmatched-track set.
	unmatchedTracks = unmatchedTracksB

	return matches, unmatchedDets, unmatchedTracks
}

func (tr *Tracker) matchingCascade(dets []models.BBox, features [][]float32, trackIndices []int) (matches [][2]int, unmatchedDets, unmatchedTracks []int) {
	if len(trackIndices) == 0 {
		return nil, indexRange(len(dets)), nil
	}

	unmatchedDets = indexRange(len(dets))

	for level := 0; level < tr.cfg.MaxAge; level++ {
		if len(unmatchedDets) == 0 {
			break
		}

		var levelIndices []int
		for _, k := range trackIndices {
			if tr.tracks[k].timeSinceUpdate == 1+level {
				levelIndices = append(levelIndices, k)
			}
		}
		if len(levelIndices) == 0 {
			continue
		}

		localDets := make([]models.BBox, len(unmatchedDets))
		localFeatures := make([][]float32, len(unmatchedDets))
		for i, d := range unmatchedDets {
			localDets[i] = dets[d]
			localFeatures[i] = features[d]
		}

		localMatches, _, _ := tr.appearanceMatching(localDets, localFeatures, levelIndices)

		matchedLocal := make(map[int]bool, len(localMatches))
		for _, m := range localMatches {
			matches = append(matches, [2]int{unmatchedDets[m[0]], m[1]})
			matchedLocal[m[0]] = true
		}

		var remaining []int
		for i, d := range unmatchedDets {
			if !matchedLocal[i] {
				remaining = append(remaining, d)
			}
		}
		unmatchedDets = remaining
	}

	matchedTracks := make(map[int]bool, len(matches))
	for _, m := range matches {
		matchedTracks[m[1]] = true
	}
	for _, k := range trackIndices {
		if !matchedTracks[k] {
			unmatchedTracks = append(unmatchedTracks, k)
		}
	}

	return matches, unmatchedDets, unmatchedTracks
}

// appearanceMatching computes the weighted appearance+motion cost matrix
// over (dets x trackIndices) and solves it. dets/features here are
// already the caller's local (possibly already-filtered) slices; the
// returned det index is local to that slice.
func (tr *Tracker) appearanceMatching(dets []models.BBox, features [][]float32, trackIndices []int) (matches [][2]int, unmatchedDets, unmatchedTracks []int) {
	if len(trackIndices) == 0 || len(dets) == 0 {
		return nil, indexRange(len(dets)), trackIndices
	}

	cost := make([][]float64, len(dets))
	for i := range cost {
		cost[i] = make([]float64, len(trackIndices))
	}

	for i, d := range dets {
		for j, tIdx := range trackIndices {
			t := tr.tracks[tIdx]
			motionCost := 1 - float64(bboxIoU(d, t.getState()))

			detFeat := features[i]
			trackFeat := t.getFeature()

			var c float64
			gated := motionCost > float64(tr.cfg.MaxIOUDistance)

			if detFeat != nil && trackFeat != nil {
				appCost := cosineDistance(detFeat, trackFeat)
				if appCost > float64(tr.cfg.MaxCosineDistance) {
					gated = true
				}
				c = float64(tr.cfg.AppearanceWeight)*appCost + float64(tr.cfg.MotionWeight)*motionCost
			} else {
				c = motionCost
			}

			if gated {
				cost[i][j] = infCost
			} else {
				cost[i][j] = c
			}
		}
	}

	raw := solveAssignment(cost)
	matchedDetSet := make(map[int]bool, len(raw))
	matchedTrackSet := make(map[int]bool, len(raw))
	for _, m := range raw {
		matches = append(matches, [2]int{m[0], trackIndices[m[1]]})
		matchedDetSet[m[0]] = true
		matchedTrackSet[trackIndices[m[1]]] = true
	}

	for i := range dets {
		if !matchedDetSet[i] {
			unmatchedDets = append(unmatchedDets, i)
		}
	}
	for _, tIdx := range trackIndices {
		if !matchedTrackSet[tIdx] {
			unmatchedTracks = append(unmatchedTracks, tIdx)
		}
	}

	return matches, unmatchedDets, unmatchedTracks
}

// iouMatching matches detectionIndices (global indices into dets) against
// trackIndices (global indices into tr.tracks) using IoU-only cost, for
// tentative tracks and cascade leftovers.
func (tr *Tracker) iouMatching(dets []models.BBox, trackIndices, detectionIndices []int) (matches [][2]int, unmatchedDets, unmatchedTracks []int) {
	if len(trackIndices) == 0 || len(detectionIndices) == 0 {
		return nil, detectionIndices, trackIndices
	}

	cost := make([][]float64, len(detectionIndices))
	for i, d := range detectionIndices {
		cost[i] = make([]float64, len(trackIndices))
		for j, tIdx := range trackIndices {
			c := 1 - float64(bboxIoU(dets[d], tr.tracks[tIdx].getState()))
			if c > float64(tr.cfg.MaxIOUDistance) {
				c = infCost
			}
			cost[i][j] = c
		}
	}

	raw := solveAssignment(cost)
	matchedDetSet := make(map[int]bool, len(raw))
	matchedTrackSet := make(map[int]bool, len(raw))
	for _, m := range raw {
		matches = append(matches, [2]int{detectionIndices[m[0]], trackIndices[m[1]]})
		matchedDetSet[m[0]] = true
		matchedTrackSet[trackIndices[m[1]]] = true
	}

	for i, d := range detectionIndices {
		if !matchedDetSet[i] {
			unmatchedDets = append(unmatchedDets, d)
		}
	}
	for _, tIdx := range trackIndices {
		if !matchedTrackSet[tIdx] {
			unmatchedTracks = append(unmatchedTracks, tIdx)
		}
	}

	return matches, unmatchedDets, unmatchedTracks
}

func indexRange(n int) []int {
	if n == 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// cosineDistance returns 1 - cosine_similarity between two (already
// typically L2-normalized) feature vectors, renormalizing defensively.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na)*math.Sqrt(nb) + 1e-6
	return 1 - dot/denom
}
