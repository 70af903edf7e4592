package models

import "time"

// AttendanceRecord is an immutable, append-only attendance sighting
//. Once written it is never mutated or
// deleted; sessions are derived from the set of records for a day.
type AttendanceRecord struct {
	ID         string    `json:"id"`
	PersonID   string    `json:"person_id"`
	GroupID    string    `json:"group_id"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float32   `json:"confidence"`
	Location   string    `json:"location,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	IsManual   bool      `json:"is_manual"`
	CreatedBy  string    `json:"created_by,omitempty"`
}
