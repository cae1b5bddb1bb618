package scheduler

import (
	"encoding/json"

	"portfolio-trader-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Log categories.
const (
	CategoryScheduler = "SCHEDULER"
	CategoryBatch     = "BATCH"
)

// Operation names used in scheduling log entries.
const (
	OpAlreadyCompleted = "ALREADY_COMPLETED"
	OpValidationFailed = "VALIDATION_FAILED"
	OpReclaim          = "RECLAIM"
	OpFetch            = "FETCH"
	OpAnalysis         = "ANALYSIS"
	OpCleanup          = "CLEANUP"
	OpBatchProgress    = "BATCH_PROGRESS"
	OpRunCompleted     = "RUN_COMPLETED"
	OpRunFailed        = "RUN_FAILED"
)

// LogWriter appends scheduling audit rows and mirrors them to the process log.
// It is write-only: a failed database insert is reported but never aborts the
// run it documents.
type LogWriter struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewLogWriter creates a new scheduling log writer.
func NewLogWriter(db *gorm.DB, log *zap.Logger) *LogWriter {
	return &LogWriter{db: db, logger: log}
}

// Write appends one entry. details may be nil.
func (w *LogWriter) Write(processID string, userID uint, level, category, operation, message string, details map[string]interface{}) {
	detailsJSON := ""
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = string(b)
		}
	}

	entry := models.SchedulingLogEntry{
		ProcessID: processID,
		UserID:    userID,
		Level:     level,
		Category:  category,
		Operation: operation,
		Message:   message,
		Details:   detailsJSON,
	}

	fields := []zap.Field{
		zap.String("process_id", processID),
		zap.Uint("user_id", userID),
		zap.String("category", category),
		zap.String("operation", operation),
	}
	switch level {
	case models.LogLevelError, models.LogLevelCritical:
		w.logger.Error(message, fields...)
	case models.LogLevelWarn:
		w.logger.Warn(message, fields...)
	default:
		w.logger.Info(message, fields...)
	}

	if err := w.db.Create(&entry).Error; err != nil {
		w.logger.Warn("Failed to persist scheduling log entry", zap.Error(err))
	}
}
