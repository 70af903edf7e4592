// Package attendance implements the attendance state machine: cooldown
// enforcement, earliest-check-in preservation, late-minute computation,
// session upsert, and real-time broadcast.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/suriai/attendengine/internal/models"
	"github.com/suriai/attendengine/internal/ulid"
)

// ErrMemberNotFound and ErrGroupNotFound surface as Go errors. They are
// distinct from the structured CooldownActive / DuplicateLogBlocked
// rejections, which are normal operating outcomes, not failures.
var (
	ErrMemberNotFound = errors.New("attendance: member not found")
	ErrGroupNotFound  = errors.New("attendance: group not found")
)

// OutcomeKind distinguishes the four shapes ProcessEvent can return.
// Rejections are results, never errors or panics.
type OutcomeKind string

const (
	OutcomeAccepted            OutcomeKind = "accepted"
	OutcomeCooldownActive      OutcomeKind = "cooldown_active"
	OutcomeDuplicateLogBlocked OutcomeKind = "duplicate_log_blocked"
	OutcomeRejected            OutcomeKind = "rejected"
)

// EventOutcome is the result of ProcessEvent.
type EventOutcome struct {
	Kind             OutcomeKind
	RecordID         string
	RemainingSeconds float64
	Reason           string
	// Source is set to "historical" when a cooldown/relog rejection was
	// triggered by a backdated or clock-skewed event rather than live
	// traffic.
	Source string
}

// historicalSlack bounds how far behind wall-clock an event's timestamp
// can be before a cooldown/relog rejection is tagged "historical" for
// observability.
const historicalSlack = 5 * time.Second

// Processed reports the user-visible processed flag: true only when a
// record was written.
func (o EventOutcome) Processed() bool {
	return o.Kind == OutcomeAccepted
}

// Store is the persistence collaborator the state machine needs (backed
// by *storage.PostgresStore in production).
type Store interface {
	GetMember(ctx context.Context, personID string) (*models.Member, error)
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	GetSettings(ctx context.Context) (models.Settings, error)
	ListRecordsSince(ctx context.Context, personID string, since time.Time) ([]models.AttendanceRecord, error)
	CreateRecord(ctx context.Context, r *models.AttendanceRecord) error
	GetSession(ctx context.Context, personID, date string) (*models.Session, error)
	UpsertSession(ctx context.Context, sess *models.Session) error
}

// StateMachine applies the attendance rules to incoming sightings, with
// per-person serialization of the cooldown check+write pair and a
// bounded, non-blocking broadcast hand-off.
type StateMachine struct {
	store Store
	bc    *broadcaster

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewStateMachine constructs a StateMachine. notify is called for every
// accepted event, from the broadcaster's own goroutine — never from the
// caller of ProcessEvent, so a slow notify implementation cannot add
// latency to the event path.
func NewStateMachine(store Store, notify func(models.AttendanceNotification)) *StateMachine {
	sm := &StateMachine{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
	sm.bc = newBroadcaster(256, notify)
	return sm
}

func (sm *StateMachine) lockFor(personID string) *sync.Mutex {
	sm.locksMu.Lock()
	defer sm.locksMu.Unlock()
	l, ok := sm.locks[personID]
	if !ok {
		l = &sync.Mutex{}
		sm.locks[personID] = l
	}
	return l
}

// ProcessEvent runs the cooldown scan, record append, session upsert and
// broadcast for one sighting. timestamp defaults to time.Now() when zero.
func (sm *StateMachine) ProcessEvent(ctx context.Context, personID, groupID string, confidence float32, timestamp time.Time) (EventOutcome, error) {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	// Step 1: load member.
	member, err := sm.store.GetMember(ctx, personID)
	if err != nil {
		return EventOutcome{}, fmt.Errorf("load member: %w", err)
	}
	if member == nil {
		return EventOutcome{}, ErrMemberNotFound
	}

	group, err := sm.store.GetGroup(ctx, groupID)
	if err != nil {
		return EventOutcome{}, fmt.Errorf("load group: %w", err)
	}
	if group == nil {
		return EventOutcome{}, ErrGroupNotFound
	}

	// Step 2: load settings.
	settings, err := sm.store.GetSettings(ctx)
	if err != nil {
		return EventOutcome{}, fmt.Errorf("load settings: %w", err)
	}
	cooldown := time.Duration(settings.AttendanceCooldownSeconds) * time.Second
	relog := time.Duration(settings.RelogCooldownSeconds) * time.Second
	window := cooldown
	if relog > window {
		window = relog
	}

	// Serialize the check+write pair per person.
	lock := sm.lockFor(personID)
	lock.Lock()
	defer lock.Unlock()

	// Step 3: cooldown / relog-cooldown scan, most-recent-first.
	since := timestamp.Add(-window)
	recent, err := sm.store.ListRecordsSince(ctx, personID, since)
	if err != nil {
		return EventOutcome{}, fmt.Errorf("list recent records: %w", err)
	}

	historical := ""
	if time.Since(timestamp) > historicalSlack {
		historical = "historical"
	}

	for _, rec := range recent {
		delta := timestamp.Sub(rec.Timestamp)
		if delta < 0 {
			delta = -delta
		}
		deltaSeconds := delta.Seconds()

		if deltaSeconds < float64(settings.AttendanceCooldownSeconds) {
			remaining := float64(settings.AttendanceCooldownSeconds) - deltaSeconds
			return EventOutcome{
				Kind:             OutcomeCooldownActive,
				RemainingSeconds: remaining,
				Reason:           fmt.Sprintf("cooldown active, %s remaining", formatRemaining(remaining)),
				Source:           historical,
			}, nil
		}
		if deltaSeconds < float64(settings.RelogCooldownSeconds) {
			remaining := float64(settings.RelogCooldownSeconds) - deltaSeconds
			return EventOutcome{
				Kind:             OutcomeDuplicateLogBlocked,
				RemainingSeconds: remaining,
				Reason:           fmt.Sprintf("duplicate log blocked, %s remaining", formatRemaining(remaining)),
				Source:           historical,
			}, nil
		}
	}

	// Step 4: append the immutable record.
	record := &models.AttendanceRecord{
		ID:         ulid.New(),
		PersonID:   personID,
		GroupID:    groupID,
		Timestamp:  timestamp,
		Confidence: confidence,
	}
	if err := sm.store.CreateRecord(ctx, record); err != nil {
		return EventOutcome{}, fmt.Errorf("create record: %w", err)
	}

	// Step 5: upsert the day's session.
	date := timestamp.Format("2006-01-02")
	existing, err := sm.store.GetSession(ctx, personID, date)
	if err != nil {
		return EventOutcome{}, fmt.Errorf("load existing session: %w", err)
	}

	checkInTime := timestamp
	sessionID := ulid.New()
	if existing != nil {
		sessionID = existing.ID
		if existing.CheckInTime != nil && existing.CheckInTime.Before(checkInTime) {
			checkInTime = *existing.CheckInTime
		}
	}

	isLate, lateMinutes := computeLateness(*group, checkInTime)

	sess := &models.Session{
		ID:          sessionID,
		PersonID:    personID,
		GroupID:     groupID,
		Date:        date,
		CheckInTime: &checkInTime,
		Status:      models.SessionPresent,
		IsLate:      isLate,
		LateMinutes: lateMinutes,
	}
	if err := sm.store.UpsertSession(ctx, sess); err != nil {
		return EventOutcome{}, fmt.Errorf("upsert session: %w", err)
	}

	// Step 6: broadcast, bounded and non-blocking.
	sm.bc.publish(models.AttendanceNotification{
		ID:         record.ID,
		PersonID:   personID,
		GroupID:    groupID,
		Timestamp:  timestamp,
		Confidence: confidence,
		MemberName: member.Name,
	})

	return EventOutcome{Kind: OutcomeAccepted, RecordID: record.ID}, nil
}

// computeLateness applies group's class_start_time / late_threshold_minutes
// / late_threshold_enabled to checkInTime.
func computeLateness(group models.Group, checkInTime time.Time) (bool, *int) {
	if !group.LateThresholdEnabled {
		return false, nil
	}

	hh, mm, ok := parseHHMM(group.ClassStartTime)
	if !ok {
		return false, nil
	}

	loc := checkInTime.Location()
	dayStart := time.Date(checkInTime.Year(), checkInTime.Month(), checkInTime.Day(), hh, mm, 0, 0, loc)

	deltaMinutes := int(checkInTime.Sub(dayStart).Minutes())
	isLate := deltaMinutes >= group.LateThresholdMinutes
	if !isLate {
		return false, nil
	}

	late := deltaMinutes - group.LateThresholdMinutes
	if late < 0 {
		late = 0
	}
	return true, &late
}

func parseHHMM(s string) (hh, mm int, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return h, m, true
}

func formatRemaining(seconds float64) string {
	return strconv.Itoa(int(seconds+0.5)) + "s"
}

// broadcaster decouples ProcessEvent's caller from the latency of
// whatever notify does (e.g. a NATS publish), via a bounded channel and
// a single consuming goroutine. A full channel drops the notification
// rather than blocking the event path.
type broadcaster struct {
	ch chan models.AttendanceNotification
}

func newBroadcaster(capacity int, notify func(models.AttendanceNotification)) *broadcaster {
	b := &broadcaster{ch: make(chan models.AttendanceNotification, capacity)}
	if notify == nil {
		notify = func(models.AttendanceNotification) {}
	}
	go func() {
		for n := range b.ch {
			notify(n)
		}
	}()
	return b
}

func (b *broadcaster) publish(n models.AttendanceNotification) {
	select {
	case b.ch <- n:
	default:
		slog.Warn("attendance broadcast channel full, dropping notification", "person_id", n.PersonID)
	}
}
