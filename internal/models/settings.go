package models

// Settings holds the global cooldown configuration consumed by the
// attendance state machine. It is a
// singleton row in the persistent store.
type Settings struct {
	AttendanceCooldownSeconds int `json:"attendance_cooldown_seconds"`
	RelogCooldownSeconds      int `json:"relog_cooldown_seconds"`
}

// DefaultSettings is what GetSettings falls back to before the singleton
// row has ever been written.
func DefaultSettings() Settings {
	return Settings{
		AttendanceCooldownSeconds: 10,
		RelogCooldownSeconds:      1800,
	}
}
