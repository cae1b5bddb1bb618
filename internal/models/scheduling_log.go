package models

import "gorm.io/gorm"

// Severity levels for SchedulingLogEntry.
const (
	LogLevelInfo     = "INFO"
	LogLevelWarn     = "WARN"
	LogLevelError    = "ERROR"
	LogLevelCritical = "CRITICAL"
)

// SchedulingLogEntry is a write-only audit row emitted throughout a scheduling
// run. It is never read back to drive decisions, only queried by operators and
// by the "recent runs for this user" lookup.
type SchedulingLogEntry struct {
	gorm.Model
	ProcessID string `gorm:"index"`
	UserID    uint   `gorm:"index"`
	Level     string
	Category  string
	Operation string
	Message   string
	Details   string
}
