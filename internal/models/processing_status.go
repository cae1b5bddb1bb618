package models

import (
	"time"

	"gorm.io/gorm"
)

// Lifecycle states for ProcessingStatus.
const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Job types recorded on ProcessingStatus.
const (
	JobTypeScheduledRun = "SCHEDULED_RUN"
	JobTypeBatchFetch   = "BATCH_FETCH"
)

// ProcessingStatus is the durable record of one long-running job. It is
// created when the job starts, advanced as batches complete, and finalized to
// COMPLETED or FAILED exactly once. A row stuck in RUNNING past the staleness
// window is orphaned and gets reclaimed as FAILED by the cleanup sweep.
type ProcessingStatus struct {
	gorm.Model
	ProcessID      string `gorm:"uniqueIndex;not null"`
	UserID         uint   `gorm:"index;not null"`
	JobType        string `gorm:"not null"`
	Status         string `gorm:"index;not null;default:RUNNING"`
	TotalItems     int
	ProcessedItems int
	StartedAt      time.Time
	CompletedAt    *time.Time
	Details        string
	ErrorMessage   string
}
