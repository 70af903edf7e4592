package attendance

import (
	"testing"
	"time"

	"github.com/suriai/attendengine/internal/models"
)

func testGroup() models.Group {
	return models.Group{
		ID:                   "g1",
		Name:                 "Group 1",
		ClassStartTime:       "09:00",
		LateThresholdMinutes: 10,
		LateThresholdEnabled: true,
		Active:               true,
	}
}

func TestRecomputeSessions_PresentOnTime(t *testing.T) {
	group := testGroup()
	members := []models.Member{
		{PersonID: "p1", GroupID: "g1", Active: true, JoinedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)},
	}
	records := []models.AttendanceRecord{
		{PersonID: "p1", GroupID: "g1", Timestamp: time.Date(2026, 7, 29, 9, 2, 0, 0, time.Local)},
	}

	sessions := RecomputeSessions(group, members, records, nil, "2026-07-29")
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Status != models.SessionPresent {
		t.Errorf("expected present status, got %v", sessions[0].Status)
	}
	if sessions[0].IsLate {
		t.Error("expected on-time check-in to not be late")
	}
}

func TestRecomputeSessions_AbsentWithNoRecords(t *testing.T) {
	group := testGroup()
	members := []models.Member{
		{PersonID: "p1", GroupID: "g1", Active: true, JoinedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)},
	}

	sessions := RecomputeSessions(group, members, nil, nil, "2026-07-29")
	if len(sessions) != 1 || sessions[0].Status != models.SessionAbsent {
		t.Fatalf("expected 1 absent session, got %+v", sessions)
	}
	if sessions[0].CheckInTime != nil {
		t.Error("expected nil check-in time for an absent session")
	}
}

func TestRecomputeSessions_EarliestRecordWins(t *testing.T) {
	group := testGroup()
	members := []models.Member{
		{PersonID: "p1", GroupID: "g1", Active: true, JoinedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)},
	}
	records := []models.AttendanceRecord{
		{PersonID: "p1", GroupID: "g1", Timestamp: time.Date(2026, 7, 29, 9, 10, 0, 0, time.Local)},
		{PersonID: "p1", GroupID: "g1", Timestamp: time.Date(2026, 7, 29, 8, 55, 0, 0, time.Local)},
		{PersonID: "p1", GroupID: "g1", Timestamp: time.Date(2026, 7, 29, 9, 20, 0, 0, time.Local)},
	}

	sessions := RecomputeSessions(group, members, records, nil, "2026-07-29")
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	want := time.Date(2026, 7, 29, 8, 55, 0, 0, time.Local)
	if sessions[0].CheckInTime == nil || !sessions[0].CheckInTime.Equal(want) {
		t.Errorf("expected earliest record %v to win, got %v", want, sessions[0].CheckInTime)
	}
}

func TestRecomputeSessions_SkipsMembersJoinedAfterDate(t *testing.T) {
	group := testGroup()
	members := []models.Member{
		{PersonID: "p1", GroupID: "g1", Active: true, JoinedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.Local)},
	}

	sessions := RecomputeSessions(group, members, nil, nil, "2026-07-29")
	if len(sessions) != 0 {
		t.Errorf("expected no session for a member who joined after the date, got %+v", sessions)
	}
}

func TestRecomputeSessions_SkipsInactiveMembers(t *testing.T) {
	group := testGroup()
	members := []models.Member{
		{PersonID: "p1", GroupID: "g1", Active: false, JoinedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)},
	}

	sessions := RecomputeSessions(group, members, nil, nil, "2026-07-29")
	if len(sessions) != 0 {
		t.Errorf("expected no session for an inactive member, got %+v", sessions)
	}
}

func TestRecomputeSessions_PreservesExistingSessionID(t *testing.T) {
	group := testGroup()
	members := []models.Member{
		{PersonID: "p1", GroupID: "g1", Active: true, JoinedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)},
	}
	existing := map[string]models.Session{
		"p1": {ID: "existing-id-123", PersonID: "p1", GroupID: "g1", Date: "2026-07-29"},
	}

	sessions := RecomputeSessions(group, members, nil, existing, "2026-07-29")
	if len(sessions) != 1 || sessions[0].ID != "existing-id-123" {
		t.Errorf("expected existing session ID to be preserved, got %+v", sessions)
	}
}

// TestRecomputeSessions_Idempotent: recomputing twice
// from the same inputs (feeding the first run's output back in as
// `existing`) produces byte-equal sessions modulo the preserved IDs.
func TestRecomputeSessions_Idempotent(t *testing.T) {
	group := testGroup()
	members := []models.Member{
		{PersonID: "p1", GroupID: "g1", Active: true, JoinedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)},
		{PersonID: "p2", GroupID: "g1", Active: true, JoinedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)},
	}
	records := []models.AttendanceRecord{
		{PersonID: "p1", GroupID: "g1", Timestamp: time.Date(2026, 7, 29, 9, 25, 0, 0, time.Local)},
	}

	first := RecomputeSessions(group, members, records, nil, "2026-07-29")

	existing := make(map[string]models.Session, len(first))
	for _, s := range first {
		existing[s.PersonID] = s
	}

	second := RecomputeSessions(group, members, records, existing, "2026-07-29")

	if len(first) != len(second) {
		t.Fatalf("expected stable session count, got %d then %d", len(first), len(second))
	}
	byPerson := make(map[string]models.Session, len(first))
	for _, s := range first {
		byPerson[s.PersonID] = s
	}
	for _, s := range second {
		prev, ok := byPerson[s.PersonID]
		if !ok {
			t.Fatalf("person %s missing from first run", s.PersonID)
		}
		if prev.ID != s.ID {
			t.Errorf("session ID changed across recomputation for %s: %s -> %s", s.PersonID, prev.ID, s.ID)
		}
		if prev.Status != s.Status || prev.IsLate != s.IsLate {
			t.Errorf("recomputation is not idempotent for %s: %+v vs %+v", s.PersonID, prev, s)
		}
		if (prev.CheckInTime == nil) != (s.CheckInTime == nil) {
			t.Errorf("check-in presence changed across recomputation for %s", s.PersonID)
		}
		if prev.CheckInTime != nil && s.CheckInTime != nil && !prev.CheckInTime.Equal(*s.CheckInTime) {
			t.Errorf("check-in time changed across recomputation for %s: %v vs %v", s.PersonID, prev.CheckInTime, s.CheckInTime)
		}
	}
}

func TestRecomputeSessions_InvalidDateReturnsNil(t *testing.T) {
	group := testGroup()
	sessions := RecomputeSessions(group, nil, nil, nil, "not-a-date")
	if sessions != nil {
		t.Errorf("expected nil for an unparseable date, got %+v", sessions)
	}
}
