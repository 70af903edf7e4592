package models

import "time"

// Member enrolls a person into a Group. JoinedAt gates session generation:
// no session is ever computed for a date before enrollment.
type Member struct {
	PersonID string    `json:"person_id"`
	GroupID  string    `json:"group_id"`
	Name     string    `json:"name"`
	Role     string    `json:"role,omitempty"`
	Email    string    `json:"email,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
	Active   bool      `json:"active"`
}
