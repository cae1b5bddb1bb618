package scheduler

import (
	"errors"
	"fmt"
	"math"
	"time"

	"portfolio-trader-go/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrProcessNotFound is returned by Get for an unknown process id.
var ErrProcessNotFound = errors.New("process not found")

// Tracker is the durable lifecycle record keeper for long-running jobs.
type Tracker struct {
	db *gorm.DB
}

// NewTracker creates a new process status tracker.
func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{db: db}
}

// Create registers a RUNNING status row for a new process id. It is an upsert:
// a caller retrying after a crash reuses the id without tripping the unique
// index, and the row resets to RUNNING.
func (t *Tracker) Create(processID string, userID uint, jobType string, totalItems int) error {
	row := models.ProcessingStatus{
		ProcessID:  processID,
		UserID:     userID,
		JobType:    jobType,
		Status:     models.StatusRunning,
		TotalItems: totalItems,
		StartedAt:  time.Now().UTC(),
	}
	err := t.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "process_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":          models.StatusRunning,
			"total_items":     totalItems,
			"processed_items": 0,
			"started_at":      row.StartedAt,
			"completed_at":    nil,
			"error_message":   "",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to create processing status %s: %w", processID, err)
	}
	return nil
}

// Advance adds processedDelta to the counter and optionally patches the
// free-form details. Plain last-writer-wins update; updates are sequential by
// design so no compare-and-swap is needed.
func (t *Tracker) Advance(processID string, processedDelta int, detailPatch string) error {
	updates := map[string]interface{}{
		"processed_items": gorm.Expr("processed_items + ?", processedDelta),
	}
	if detailPatch != "" {
		updates["details"] = detailPatch
	}
	err := t.db.Model(&models.ProcessingStatus{}).
		Where("process_id = ?", processID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to advance processing status %s: %w", processID, err)
	}
	return nil
}

// Complete finalizes a RUNNING process as COMPLETED.
func (t *Tracker) Complete(processID string) error {
	return t.finalize(processID, models.StatusCompleted, "")
}

// Fail finalizes a RUNNING process as FAILED with an operator-visible message.
func (t *Tracker) Fail(processID string, errorMessage string) error {
	return t.finalize(processID, models.StatusFailed, errorMessage)
}

func (t *Tracker) finalize(processID, status, errorMessage string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": &now,
	}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}
	// Finalization happens exactly once: a row already COMPLETED or FAILED is
	// left alone.
	err := t.db.Model(&models.ProcessingStatus{}).
		Where("process_id = ? AND status = ?", processID, models.StatusRunning).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to finalize processing status %s: %w", processID, err)
	}
	return nil
}

// ReclaimStale marks RUNNING rows without a progress update for longer than
// maxAge as FAILED, and returns how many were reclaimed.
func (t *Tracker) ReclaimStale(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	now := time.Now().UTC()
	result := t.db.Model(&models.ProcessingStatus{}).
		Where("status = ? AND updated_at < ?", models.StatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"completed_at":  &now,
			"error_message": fmt.Sprintf("reclaimed: no progress update for more than %s", maxAge),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reclaim stale processes: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CompletedSince reports whether the user already has a COMPLETED run of the
// given job type at or after the cutoff.
func (t *Tracker) CompletedSince(userID uint, jobType string, since time.Time) (bool, error) {
	var count int64
	err := t.db.Model(&models.ProcessingStatus{}).
		Where("user_id = ? AND job_type = ? AND status = ? AND completed_at >= ?",
			userID, jobType, models.StatusCompleted, since).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check completed runs: %w", err)
	}
	return count > 0, nil
}

// Progress is the externally visible view of one process.
type Progress struct {
	ProcessID       string `json:"process_id"`
	Status          string `json:"status"`
	ProcessedItems  int    `json:"processed_items"`
	TotalItems      int    `json:"total_items"`
	ProgressPercent int    `json:"progress_percent"`
	Error           string `json:"error,omitempty"`
}

// Get returns progress for a process id. An empty total is reported as 0%
// rather than dividing by zero.
func (t *Tracker) Get(processID string) (*Progress, error) {
	var row models.ProcessingStatus
	if err := t.db.Where("process_id = ?", processID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProcessNotFound
		}
		return nil, fmt.Errorf("failed to load processing status %s: %w", processID, err)
	}

	percent := 0
	if row.TotalItems > 0 {
		percent = int(math.Round(float64(row.ProcessedItems) / float64(row.TotalItems) * 100))
	}

	return &Progress{
		ProcessID:       row.ProcessID,
		Status:          row.Status,
		ProcessedItems:  row.ProcessedItems,
		TotalItems:      row.TotalItems,
		ProgressPercent: percent,
		Error:           row.ErrorMessage,
	}, nil
}
