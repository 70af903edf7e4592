package stream

import (
	"testing"

	"github.com/suriai/attendengine/internal/vision"
)

func TestSession_SubmitNewestWins(t *testing.T) {
	s := &Session{ID: "s1"}

	if dropped := s.Submit("frame-1"); dropped {
		t.Error("first submit should not drop anything")
	}
	if dropped := s.Submit("frame-2"); !dropped {
		t.Error("second submit before a take should report the stale frame dropped")
	}

	got, ok := s.TakePending()
	if !ok || got != "frame-2" {
		t.Errorf("expected the newest frame to survive, got %v (ok=%v)", got, ok)
	}

	if _, ok := s.TakePending(); ok {
		t.Error("slot should be empty after a take")
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()
	cfg := vision.TrackerConfig{MaxAge: 5, NInit: 3}

	sess := r.Register("conn-1", "g1", cfg)
	if sess.Tracker == nil {
		t.Fatal("expected a fresh tracker per session")
	}
	if r.Get("conn-1") != sess {
		t.Error("expected Get to return the registered session")
	}
	if r.Count() != 1 {
		t.Errorf("expected count 1, got %d", r.Count())
	}

	r.Unregister("conn-1")
	if r.Get("conn-1") != nil {
		t.Error("expected session to be gone after Unregister")
	}
	if r.Count() != 0 {
		t.Errorf("expected count 0 after unregister, got %d", r.Count())
	}
}

func TestSession_FrameNumbersMonotonic(t *testing.T) {
	s := &Session{ID: "s1"}
	prev := s.NextFrameNumber()
	for i := 0; i < 10; i++ {
		n := s.NextFrameNumber()
		if n <= prev {
			t.Fatalf("frame numbers must be strictly increasing: %d then %d", prev, n)
		}
		prev = n
	}
}
