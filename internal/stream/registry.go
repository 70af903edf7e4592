// Package stream tracks the per-connection state a live detection stream
// needs across frames: its own Tracker instance, a monotonic frame
// counter for liveness smoothing, and a bounded "latest frame" slot that
// realizes the newest-wins backpressure policy.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/suriai/attendengine/internal/vision"
)

// Session is the per-connection state an orchestrator task owns
// exclusively: its Tracker and a frame sequence counter.
type Session struct {
	ID      string
	Tracker *vision.Tracker
	GroupID string

	frameSeq int64

	mu         sync.Mutex
	pending    any
	hasPending bool
}

// NextFrameNumber returns a monotonically increasing sequence number for
// this session, fed to LivenessScorer.Score as the smoothing clock.
func (s *Session) NextFrameNumber() int64 {
	return atomic.AddInt64(&s.frameSeq, 1)
}

// Submit installs data (caller-defined request type) as the session's
// pending frame, replacing whatever was queued and not yet picked up
// (newest-wins). Returns true if a not-yet-processed frame was dropped.
func (s *Session) Submit(data any) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped = s.hasPending
	s.pending = data
	s.hasPending = true
	return dropped
}

// TakePending atomically removes and returns the pending frame, if any.
func (s *Session) TakePending() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPending {
		return nil, false
	}
	data := s.pending
	s.pending = nil
	s.hasPending = false
	return data, true
}

// Registry tracks every live connection's Session, keyed by connection ID
//.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register creates and stores a new Session for id, owning a fresh
// Tracker built from cfg.
func (r *Registry) Register(id, groupID string, cfg vision.TrackerConfig) *Session {
	sess := &Session{ID: id, Tracker: vision.NewTracker(cfg), GroupID: groupID}
	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()
	return sess
}

// Unregister removes id's Session from the registry. The caller is
// responsible for flushing the tracker first.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get returns id's Session, or nil if it is not (or no longer) registered.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Count returns the number of currently registered sessions, for the
// active_streams gauge.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
