package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/suriai/attendengine/internal/config"
	"github.com/suriai/attendengine/internal/models"
	"github.com/suriai/attendengine/internal/ulid"
)

// PostgresStore is the persistent-state collaborator (C10): append-only
// records, upsert-by-(person,date) sessions, and the gallery
// source-of-truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Groups ---

func (s *PostgresStore) CreateGroup(ctx context.Context, g *models.Group) error {
	if g.ID == "" {
		g.ID = ulid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO groups (id, name, description, class_start_time, late_threshold_minutes, late_threshold_enabled, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		g.ID, g.Name, g.Description, g.ClassStartTime, g.LateThresholdMinutes, g.LateThresholdEnabled, g.Active)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	g := &models.Group{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, class_start_time, late_threshold_minutes, late_threshold_enabled, active
		 FROM groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.ClassStartTime, &g.LateThresholdMinutes, &g.LateThresholdEnabled, &g.Active)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, class_start_time, late_threshold_minutes, late_threshold_enabled, active
		 FROM groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.ClassStartTime, &g.LateThresholdMinutes, &g.LateThresholdEnabled, &g.Active); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *PostgresStore) UpdateGroup(ctx context.Context, g *models.Group) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE groups SET name=$2, description=$3, class_start_time=$4, late_threshold_minutes=$5, late_threshold_enabled=$6, active=$7
		 WHERE id=$1`,
		g.ID, g.Name, g.Description, g.ClassStartTime, g.LateThresholdMinutes, g.LateThresholdEnabled, g.Active)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// --- Members ---

func (s *PostgresStore) CreateMember(ctx context.Context, m *models.Member) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO members (person_id, group_id, name, role, email, joined_at, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.PersonID, m.GroupID, m.Name, m.Role, m.Email, m.JoinedAt, m.Active)
	if err != nil {
		return fmt.Errorf("create member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMember(ctx context.Context, personID string) (*models.Member, error) {
	m := &models.Member{}
	err := s.pool.QueryRow(ctx,
		`SELECT person_id, group_id, name, role, email, joined_at, active FROM members WHERE person_id = $1`, personID,
	).Scan(&m.PersonID, &m.GroupID, &m.Name, &m.Role, &m.Email, &m.JoinedAt, &m.Active)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	var rows pgx.Rows
	var err error
	if groupID != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT person_id, group_id, name, role, email, joined_at, active FROM members WHERE group_id = $1 ORDER BY name`, groupID)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT person_id, group_id, name, role, email, joined_at, active FROM members ORDER BY name`)
	}
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.PersonID, &m.GroupID, &m.Name, &m.Role, &m.Email, &m.JoinedAt, &m.Active); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, nil
}

func (s *PostgresStore) UpdateMember(ctx context.Context, m *models.Member) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE members SET group_id=$2, name=$3, role=$4, email=$5, active=$6 WHERE person_id=$1`,
		m.PersonID, m.GroupID, m.Name, m.Role, m.Email, m.Active)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteMember(ctx context.Context, personID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM members WHERE person_id = $1`, personID)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// --- Records ---

func (s *PostgresStore) CreateRecord(ctx context.Context, r *models.AttendanceRecord) error {
	if r.ID == "" {
		r.ID = ulid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO records (id, person_id, group_id, timestamp, confidence, location, notes, is_manual, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.PersonID, r.GroupID, r.Timestamp, r.Confidence, r.Location, r.Notes, r.IsManual, r.CreatedBy)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

// ListRecordsSince returns records for personID with timestamp >= since,
// ordered most-recent-first — the window AttendanceStateMachine scans for
// cooldown enforcement.
func (s *PostgresStore) ListRecordsSince(ctx context.Context, personID string, since time.Time) ([]models.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, group_id, timestamp, confidence, location, notes, is_manual, created_by
		 FROM records WHERE person_id = $1 AND timestamp >= $2 ORDER BY timestamp DESC`,
		personID, since)
	if err != nil {
		return nil, fmt.Errorf("list records since: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var r models.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.PersonID, &r.GroupID, &r.Timestamp, &r.Confidence, &r.Location, &r.Notes, &r.IsManual, &r.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// ListRecords lists records for a group within [from, to], for session
// recomputation and reporting.
func (s *PostgresStore) ListRecords(ctx context.Context, groupID string, from, to time.Time, limit, offset int) ([]models.AttendanceRecord, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM records WHERE group_id = $1 AND timestamp >= $2 AND timestamp <= $3`,
		groupID, from, to).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, group_id, timestamp, confidence, location, notes, is_manual, created_by
		 FROM records WHERE group_id = $1 AND timestamp >= $2 AND timestamp <= $3
		 ORDER BY timestamp DESC LIMIT $4 OFFSET $5`,
		groupID, from, to, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var r models.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.PersonID, &r.GroupID, &r.Timestamp, &r.Confidence, &r.Location, &r.Notes, &r.IsManual, &r.CreatedBy); err != nil {
			return nil, 0, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, total, nil
}

// --- Sessions ---

// UpsertSession writes sess, preserving check_in_time as the minimum of
// the existing and new values. The
// insert races other writers for the same (person_id, date) key; the
// ON CONFLICT clause makes the upsert idempotent so a retry after a
// partial failure reconciles rather than double-writing.
func (s *PostgresStore) UpsertSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = ulid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, person_id, group_id, date, check_in_time, status, is_late, late_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (person_id, date) DO UPDATE SET
		   check_in_time = LEAST(sessions.check_in_time, EXCLUDED.check_in_time),
		   status = EXCLUDED.status,
		   is_late = EXCLUDED.is_late,
		   late_minutes = EXCLUDED.late_minutes`,
		sess.ID, sess.PersonID, sess.GroupID, sess.Date, sess.CheckInTime, sess.Status, sess.IsLate, sess.LateMinutes)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, personID, date string) (*models.Session, error) {
	sess := &models.Session{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, person_id, group_id, date, check_in_time, status, is_late, late_minutes
		 FROM sessions WHERE person_id = $1 AND date = $2`, personID, date,
	).Scan(&sess.ID, &sess.PersonID, &sess.GroupID, &sess.Date, &sess.CheckInTime, &sess.Status, &sess.IsLate, &sess.LateMinutes)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, groupID, date string) ([]models.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, group_id, date, check_in_time, status, is_late, late_minutes
		 FROM sessions WHERE group_id = $1 AND date = $2 ORDER BY person_id`, groupID, date)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.PersonID, &sess.GroupID, &sess.Date, &sess.CheckInTime, &sess.Status, &sess.IsLate, &sess.LateMinutes); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// --- Settings ---

func (s *PostgresStore) GetSettings(ctx context.Context) (models.Settings, error) {
	var set models.Settings
	err := s.pool.QueryRow(ctx,
		`SELECT attendance_cooldown_seconds, relog_cooldown_seconds FROM settings WHERE id = TRUE`,
	).Scan(&set.AttendanceCooldownSeconds, &set.RelogCooldownSeconds)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.DefaultSettings(), nil
		}
		return models.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return set, nil
}

func (s *PostgresStore) UpdateSettings(ctx context.Context, set models.Settings) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (id, attendance_cooldown_seconds, relog_cooldown_seconds)
		 VALUES (TRUE, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET attendance_cooldown_seconds = $1, relog_cooldown_seconds = $2`,
		set.AttendanceCooldownSeconds, set.RelogCooldownSeconds)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

// --- Faces (gallery source of truth) ---

// AddFace writes or replaces the gallery embedding for personID.
// person_id stays unique across active records.
func (s *PostgresStore) AddFace(ctx context.Context, personID string, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO faces (person_id, embedding, dimension) VALUES ($1, $2, $3)
		 ON CONFLICT (person_id) DO UPDATE SET embedding = $2, dimension = $3`,
		personID, vec, len(embedding))
	if err != nil {
		return fmt.Errorf("add face: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveFace(ctx context.Context, personID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM faces WHERE person_id = $1`, personID)
	if err != nil {
		return fmt.Errorf("remove face: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// RenameFace atomically moves an embedding from oldPersonID to
// newPersonID.
func (s *PostgresStore) RenameFace(ctx context.Context, oldPersonID, newPersonID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rename face: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE faces SET person_id = $2 WHERE person_id = $1`, oldPersonID, newPersonID)
	if err != nil {
		return fmt.Errorf("rename face: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ClearFaces(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE faces`)
	if err != nil {
		return fmt.Errorf("clear faces: %w", err)
	}
	return nil
}

// ListFaces returns every gallery entry, implementing
// vision.GalleryStore for the IdentityGallery's TTL-refresh reads.
func (s *PostgresStore) ListFaces(ctx context.Context) ([]models.PersonRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT person_id, embedding FROM faces`)
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	defer rows.Close()

	var records []models.PersonRecord
	for rows.Next() {
		var personID string
		var vec pgvector.Vector
		if err := rows.Scan(&personID, &vec); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		records = append(records, models.PersonRecord{PersonID: personID, Embedding: vec.Slice()})
	}
	return records, nil
}

// --- Stats ---

// GroupStats summarizes a group's attendance on a given date for the
// Stats endpoint.
type GroupStats struct {
	GroupID     string  `json:"group_id"`
	Date        string  `json:"date"`
	TotalActive int     `json:"total_active"`
	Present     int     `json:"present"`
	Late        int     `json:"late"`
	Absent      int     `json:"absent"`
	Rate        float64 `json:"attendance_rate"`
}

func (s *PostgresStore) GroupStats(ctx context.Context, groupID, date string) (GroupStats, error) {
	stats := GroupStats{GroupID: groupID, Date: date}
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM members WHERE group_id = $1 AND active = true`, groupID,
	).Scan(&stats.TotalActive); err != nil {
		return stats, fmt.Errorf("count active members: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, is_late FROM sessions WHERE group_id = $1 AND date = $2`, groupID, date)
	if err != nil {
		return stats, fmt.Errorf("query sessions for stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status models.SessionStatus
		var isLate bool
		if err := rows.Scan(&status, &isLate); err != nil {
			return stats, fmt.Errorf("scan session stats: %w", err)
		}
		if status == models.SessionPresent {
			stats.Present++
			if isLate {
				stats.Late++
			}
		}
	}
	stats.Absent = stats.TotalActive - stats.Present
	if stats.Absent < 0 {
		stats.Absent = 0
	}
	if stats.TotalActive > 0 {
		stats.Rate = float64(stats.Present) / float64(stats.TotalActive)
	}
	return stats, nil
}
