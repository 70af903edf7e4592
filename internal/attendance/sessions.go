package attendance

import (
	"time"

	"github.com/suriai/attendengine/internal/models"
	"github.com/suriai/attendengine/internal/ulid"
)

// RecomputeSessions is the pure function backing session-range reads and
// stats: given every record for a
// (group, date) and the group's active members, derive each member's
// session deterministically rather than trusting whatever happens to be
// stored. Existing session IDs are preserved when present; otherwise a
// fresh ULID is assigned.
func RecomputeSessions(group models.Group, members []models.Member, records []models.AttendanceRecord, existing map[string]models.Session, date string) []models.Session {
	day, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		return nil
	}

	earliest := make(map[string]time.Time)
	for _, r := range records {
		if r.Timestamp.Format("2006-01-02") != date {
			continue
		}
		cur, ok := earliest[r.PersonID]
		if !ok || r.Timestamp.Before(cur) {
			earliest[r.PersonID] = r.Timestamp
		}
	}

	var sessions []models.Session
	for _, m := range members {
		if !m.Active {
			continue
		}
		joinedDate := m.JoinedAt.Format("2006-01-02")
		if joinedDate > date {
			continue
		}
		if day.After(time.Now()) {
			continue
		}

		sess := models.Session{PersonID: m.PersonID, GroupID: group.ID, Date: date, Status: models.SessionAbsent}
		if prior, ok := existing[m.PersonID]; ok {
			sess.ID = prior.ID
		} else {
			sess.ID = ulid.New()
		}

		if checkIn, ok := earliest[m.PersonID]; ok {
			ci := checkIn
			sess.CheckInTime = &ci
			sess.Status = models.SessionPresent
			sess.IsLate, sess.LateMinutes = computeLateness(group, checkIn)
		}

		sessions = append(sessions, sess)
	}

	return sessions
}
