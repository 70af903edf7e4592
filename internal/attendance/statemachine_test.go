package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/suriai/attendengine/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	members  map[string]*models.Member
	groups   map[string]*models.Group
	settings models.Settings
	records  map[string][]models.AttendanceRecord // by person_id
	sessions map[string]*models.Session           // by person_id+date
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		members:  make(map[string]*models.Member),
		groups:   make(map[string]*models.Group),
		settings: models.DefaultSettings(),
		records:  make(map[string][]models.AttendanceRecord),
		sessions: make(map[string]*models.Session),
	}
}

func (f *fakeStore) GetMember(ctx context.Context, personID string) (*models.Member, error) {
	return f.members[personID], nil
}

func (f *fakeStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	return f.groups[id], nil
}

func (f *fakeStore) GetSettings(ctx context.Context) (models.Settings, error) {
	return f.settings, nil
}

func (f *fakeStore) ListRecordsSince(ctx context.Context, personID string, since time.Time) ([]models.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AttendanceRecord
	for _, r := range f.records[personID] {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateRecord(ctx context.Context, r *models.AttendanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[r.PersonID] = append(f.records[r.PersonID], *r)
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, personID, date string) (*models.Session, error) {
	return f.sessions[personID+"|"+date], nil
}

func (f *fakeStore) UpsertSession(ctx context.Context, sess *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sess
	f.sessions[sess.PersonID+"|"+sess.Date] = &cp
	return nil
}

func newTestStateMachine() (*StateMachine, *fakeStore) {
	store := newFakeStore()
	store.groups["g1"] = &models.Group{ID: "g1", Name: "Group 1", ClassStartTime: "09:00", LateThresholdMinutes: 10, LateThresholdEnabled: true, Active: true}
	store.members["p1"] = &models.Member{PersonID: "p1", GroupID: "g1", Name: "Alice", Active: true, JoinedAt: time.Now().AddDate(0, -1, 0)}
	sm := NewStateMachine(store, nil)
	return sm, store
}

// TestProcessEvent_FirstOnTimeCheckIn: a first sighting inside the
// on-time window creates a record and an on-time session.
func TestProcessEvent_FirstOnTimeCheckIn(t *testing.T) {
	sm, _ := newTestStateMachine()

	ts := time.Date(2026, 7, 29, 9, 2, 0, 0, time.Local)
	outcome, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.95, ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Processed() {
		t.Fatalf("expected event to be accepted, got %+v", outcome)
	}
	if outcome.RecordID == "" {
		t.Error("expected a record id to be assigned")
	}
}

// TestProcessEvent_EarliestWinsInSessionUpsert: a later correction that
// arrives with an earlier timestamp than the previously stored check-in
// still leaves the earliest check-in time in the session ProcessEvent
// upserts; with both cooldowns at zero, ProcessEvent accepts both sightings.
func TestProcessEvent_EarliestWinsInSessionUpsert(t *testing.T) {
	sm, store := newTestStateMachine()

	first := time.Date(2026, 7, 29, 9, 5, 0, 0, time.Local)
	outcome, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.9, first)
	if err != nil || !outcome.Processed() {
		t.Fatalf("first event should be accepted: %+v, err=%v", outcome, err)
	}

	store.settings.AttendanceCooldownSeconds = 0
	store.settings.RelogCooldownSeconds = 0

	earlier := time.Date(2026, 7, 29, 8, 58, 0, 0, time.Local)
	outcome2, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.9, earlier)
	if err != nil || !outcome2.Processed() {
		t.Fatalf("second event should be accepted: %+v, err=%v", outcome2, err)
	}

	sess := store.sessions["p1|2026-07-29"]
	if sess == nil || sess.CheckInTime == nil {
		t.Fatal("expected a session with a check-in time")
	}
	if !sess.CheckInTime.Equal(earlier) {
		t.Errorf("expected earliest-wins check-in time %v, got %v", earlier, *sess.CheckInTime)
	}
}

// TestProcessEvent_CooldownActive: a second sighting 4s after the first,
// with a 10s cooldown, is rejected with ~6s remaining.
func TestProcessEvent_CooldownActive(t *testing.T) {
	sm, store := newTestStateMachine()
	store.settings.AttendanceCooldownSeconds = 10
	store.settings.RelogCooldownSeconds = 1800

	base := time.Date(2026, 7, 29, 9, 0, 0, 0, time.Local)
	if _, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.9, base); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	next := base.Add(4 * time.Second)
	outcome, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.9, next)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Processed() {
		t.Fatalf("expected cooldown rejection, got accepted: %+v", outcome)
	}
	if outcome.Kind != OutcomeCooldownActive {
		t.Errorf("expected OutcomeCooldownActive, got %v", outcome.Kind)
	}
	if int(outcome.RemainingSeconds+0.5) != 6 {
		t.Errorf("expected ~6 remaining seconds, got %v", outcome.RemainingSeconds)
	}
}

// TestProcessEvent_DuplicateLogBlocked: a sighting past the short
// cooldown but inside the re-log window is rejected without a write.
func TestProcessEvent_DuplicateLogBlocked(t *testing.T) {
	sm, store := newTestStateMachine()
	store.settings.AttendanceCooldownSeconds = 10
	store.settings.RelogCooldownSeconds = 1800

	base := time.Date(2026, 7, 29, 9, 0, 0, 0, time.Local)
	if _, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.9, base); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	next := base.Add(20 * time.Second)
	outcome, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.9, next)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Processed() {
		t.Fatalf("expected duplicate-log rejection, got accepted: %+v", outcome)
	}
	if outcome.Kind != OutcomeDuplicateLogBlocked {
		t.Errorf("expected OutcomeDuplicateLogBlocked, got %v", outcome.Kind)
	}
	if outcome.RemainingSeconds < 790 {
		t.Errorf("expected remaining_seconds >= 790, got %v", outcome.RemainingSeconds)
	}
}

// TestProcessEvent_HistoricalSourceTag: a
// backdated event triggering a cooldown/relog rejection is tagged
// "historical" rather than left indistinguishable from a live rejection.
func TestProcessEvent_HistoricalSourceTag(t *testing.T) {
	sm, store := newTestStateMachine()
	store.settings.AttendanceCooldownSeconds = 10
	store.settings.RelogCooldownSeconds = 1800

	backdated := time.Now().Add(-2 * time.Hour)
	if _, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.9, backdated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.9, backdated.Add(5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Processed() {
		t.Fatalf("expected rejection, got accepted: %+v", outcome)
	}
	if outcome.Source != "historical" {
		t.Errorf("expected Source=\"historical\" for a backdated rejection, got %q", outcome.Source)
	}
}

func TestProcessEvent_LiveRejectionHasNoHistoricalTag(t *testing.T) {
	sm, store := newTestStateMachine()
	store.settings.AttendanceCooldownSeconds = 10
	store.settings.RelogCooldownSeconds = 1800

	now := time.Now()
	if _, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.9, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.9, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Processed() {
		t.Fatalf("expected rejection, got accepted: %+v", outcome)
	}
	if outcome.Source != "" {
		t.Errorf("expected no historical tag on a live rejection, got %q", outcome.Source)
	}
}

func TestProcessEvent_MemberNotFound(t *testing.T) {
	sm, _ := newTestStateMachine()
	_, err := sm.ProcessEvent(context.Background(), "unknown", "g1", 0.9, time.Now())
	if err != ErrMemberNotFound {
		t.Errorf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestProcessEvent_GroupNotFound(t *testing.T) {
	sm, _ := newTestStateMachine()
	_, err := sm.ProcessEvent(context.Background(), "p1", "unknown", 0.9, time.Now())
	if err != ErrGroupNotFound {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestProcessEvent_LatenessComputed(t *testing.T) {
	sm, store := newTestStateMachine()
	ts := time.Date(2026, 7, 29, 9, 25, 0, 0, time.Local)

	if _, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.9, ts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess := store.sessions["p1|2026-07-29"]
	if sess == nil {
		t.Fatal("expected session to be created")
	}
	if !sess.IsLate {
		t.Error("expected check-in 25 minutes after a 10-minute threshold to be late")
	}
	if sess.LateMinutes == nil || *sess.LateMinutes != 15 {
		t.Errorf("expected late_minutes=15, got %v", sess.LateMinutes)
	}
}

func TestProcessEvent_SerializesPerPerson(t *testing.T) {
	sm, store := newTestStateMachine()
	store.settings.AttendanceCooldownSeconds = 0
	store.settings.RelogCooldownSeconds = 0

	var wg sync.WaitGroup
	accepted := 0
	var mu sync.Mutex

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ts := time.Now().Add(time.Duration(i) * time.Millisecond)
			outcome, err := sm.ProcessEvent(context.Background(), "p1", "g1", 0.9, ts)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if outcome.Processed() {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if accepted != 20 {
		t.Errorf("expected all 20 concurrent events (cooldown disabled) to be accepted, got %d", accepted)
	}
}
