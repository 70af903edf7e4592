package vision

import "testing"

func almostEqual(a, b float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-4
}

// TestTemporalSmoother_EMASequence: with alpha=0.5, raw live scores
// [0.9, 0.2, 0.2, 0.2] smooth to
// [0.9, 0.55, 0.375, 0.2875], flipping is_real from true to false once the
// smoothed score drops below a 0.5 threshold.
func TestTemporalSmoother_EMASequence(t *testing.T) {
	s := NewTemporalSmoother(0.5, 30, 10)

	raw := []float32{0.9, 0.2, 0.2, 0.2}
	wantSmoothed := []float32{0.9, 0.55, 0.375, 0.2875}
	wantIsReal := []bool{true, true, false, false}

	const threshold = 0.5

	for i, r := range raw {
		live, _ := s.Smooth(1, r, 1-r, int64(i))
		if !almostEqual(live, wantSmoothed[i]) {
			t.Errorf("frame %d: smoothed live score = %v, want %v", i, live, wantSmoothed[i])
		}
		isReal := live >= threshold
		if isReal != wantIsReal[i] {
			t.Errorf("frame %d: is_real = %v, want %v", i, isReal, wantIsReal[i])
		}
	}
}

func TestTemporalSmoother_FirstObservationSeedsRaw(t *testing.T) {
	s := NewTemporalSmoother(0.3, 30, 10)
	live, spoof := s.Smooth(5, 0.7, 0.3, 0)
	if live != 0.7 || spoof != 0.3 {
		t.Errorf("first observation should seed raw values, got live=%v spoof=%v", live, spoof)
	}
}

func TestTemporalSmoother_AlphaClamped(t *testing.T) {
	s := NewTemporalSmoother(1.5, 30, 10)
	if s.alpha != 1 {
		t.Errorf("expected alpha clamped to 1, got %v", s.alpha)
	}
	s2 := NewTemporalSmoother(-0.5, 30, 10)
	if s2.alpha != 0 {
		t.Errorf("expected alpha clamped to 0, got %v", s2.alpha)
	}
}

func TestTemporalSmoother_CleanupStaleTracks(t *testing.T) {
	s := NewTemporalSmoother(0.5, 5, 1)

	s.Smooth(1, 0.9, 0.1, 0)
	s.Smooth(2, 0.9, 0.1, 0)
	s.Smooth(-7, 0.9, 0.1, 0) // provisional track

	s.Smooth(1, 0.9, 0.1, 10) // keeps track 1 fresh at frame 10

	s.CleanupStaleTracks(true)

	if _, ok := s.states[1]; !ok {
		t.Error("expected fresh track 1 to survive cleanup")
	}
	if _, ok := s.states[2]; ok {
		t.Error("expected stale track 2 to be evicted")
	}
	if _, ok := s.states[-7]; ok {
		t.Error("expected provisional (negative) track ID to be evicted unconditionally")
	}
}

func TestTemporalSmoother_CleanupRespectsInterval(t *testing.T) {
	s := NewTemporalSmoother(0.5, 5, 100)
	s.Smooth(1, 0.9, 0.1, 1)
	s.CleanupStaleTracks(true) // last cleanup at frame 1

	// Track 1 is now stale (19 frames > max_stale_frames), but only 19 of
	// the 100-frame cleanup interval have passed, so it must survive.
	s.Smooth(2, 0.9, 0.1, 20)
	s.CleanupStaleTracks(false)

	if _, ok := s.states[1]; !ok {
		t.Error("cleanup ran before cleanup_interval elapsed and evicted state prematurely")
	}
}

func TestTemporalSmoother_Reset(t *testing.T) {
	s := NewTemporalSmoother(0.5, 5, 10)
	s.Smooth(1, 0.9, 0.1, 0)
	s.Reset()
	if len(s.states) != 0 {
		t.Error("expected Reset to clear all track state")
	}
}

func TestReflectCoord(t *testing.T) {
	tests := []struct {
		v, n, want int
	}{
		{5, 10, 5},
		{-1, 10, 1},
		{10, 10, 8},
		{0, 10, 0},
		{9, 10, 9},
	}
	for _, tt := range tests {
		got := reflectCoord(tt.v, tt.n)
		if got != tt.want {
			t.Errorf("reflectCoord(%d, %d) = %d, want %d", tt.v, tt.n, got, tt.want)
		}
	}
}

func TestSoftmax3_SumsToOne(t *testing.T) {
	p := softmax3(2.0, 1.0, 0.1)
	sum := p[0] + p[1] + p[2]
	if !almostEqual(sum, 1.0) {
		t.Errorf("softmax3 output should sum to 1, got %v (%v)", sum, p)
	}
	if p[0] <= p[1] || p[1] <= p[2] {
		t.Errorf("softmax3 should preserve input ordering, got %v", p)
	}
}
