package scheduler

import (
	"context"
	"fmt"
	"time"

	"portfolio-trader-go/internal/analytics"
	"portfolio-trader-go/internal/config"
	"portfolio-trader-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Summary is the human-readable outcome of one scheduling invocation.
type Summary struct {
	UsersCompleted int `json:"users_completed"`
	UsersSkipped   int `json:"users_skipped"`
	UsersFailed    int `json:"users_failed"`
}

func (s *Summary) String() string {
	return fmt.Sprintf("scheduling run finished: %d completed, %d skipped, %d failed",
		s.UsersCompleted, s.UsersSkipped, s.UsersFailed)
}

// Orchestrator drives the once-per-day fetch → analyze → cleanup pipeline for
// every user with scheduling enabled. Users are processed sequentially, never
// in parallel, to bound database and provider load.
type Orchestrator struct {
	db        *gorm.DB
	logger    *zap.Logger
	cfg       config.Scheduler
	tracker   *Tracker
	logs      *LogWriter
	batch     *BatchProcessor
	analytics analytics.Provider
}

// NewOrchestrator creates a new scheduling orchestrator.
func NewOrchestrator(
	db *gorm.DB,
	log *zap.Logger,
	cfg config.Scheduler,
	tracker *Tracker,
	logs *LogWriter,
	batch *BatchProcessor,
	provider analytics.Provider,
) *Orchestrator {
	return &Orchestrator{
		db:        db,
		logger:    log,
		cfg:       cfg,
		tracker:   tracker,
		logs:      logs,
		batch:     batch,
		analytics: provider,
	}
}

// Run executes one scheduling pass. force bypasses the already-ran-today
// suppression. Only an error inside status bookkeeping itself aborts the
// whole invocation; per-user work already committed stands either way.
func (o *Orchestrator) Run(ctx context.Context, force bool) (*Summary, error) {
	staleness := time.Duration(o.cfg.StalenessMinutes) * time.Minute
	reclaimed, err := o.tracker.ReclaimStale(staleness)
	if err != nil {
		return nil, fmt.Errorf("stale process reclaim failed: %w", err)
	}
	if reclaimed > 0 {
		o.logs.Write("", 0, models.LogLevelWarn, CategoryScheduler, OpReclaim,
			fmt.Sprintf("Reclaimed %d orphaned RUNNING processes", reclaimed),
			map[string]interface{}{"reclaimed": reclaimed, "staleness_minutes": o.cfg.StalenessMinutes},
		)
	}

	var users []models.User
	err = o.withDBRetry(func() error {
		return o.db.Where("scheduling_enabled = ?", true).Order("id").Find(&users).Error
	})
	if err != nil {
		return nil, fmt.Errorf("could not load scheduled users: %w", err)
	}

	summary := &Summary{}
	for i := range users {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}
		o.runUser(ctx, &users[i], force, summary)
	}

	o.logger.Info("Scheduling pass finished",
		zap.Int("completed", summary.UsersCompleted),
		zap.Int("skipped", summary.UsersSkipped),
		zap.Int("failed", summary.UsersFailed),
	)
	return summary, nil
}

// runUser executes the pipeline for one user. Any failure here is contained
// to this user's iteration.
func (o *Orchestrator) runUser(ctx context.Context, user *models.User, force bool, summary *Summary) {
	dayStart := startOfUTCDay(time.Now())

	if !force {
		var done bool
		err := o.withDBRetry(func() error {
			var err error
			done, err = o.tracker.CompletedSince(user.ID, models.JobTypeScheduledRun, dayStart)
			return err
		})
		if err != nil {
			o.logger.Error("Could not check completed runs, skipping user",
				zap.Uint("user_id", user.ID), zap.Error(err))
			summary.UsersFailed++
			return
		}
		if done {
			o.logs.Write("", user.ID, models.LogLevelInfo, CategoryScheduler, OpAlreadyCompleted,
				"Run already completed today, skipping", nil)
			summary.UsersSkipped++
			return
		}
	}

	var instruments []models.Instrument
	err := o.withDBRetry(func() error {
		return o.db.Where("user_id = ?", user.ID).Order("id").Find(&instruments).Error
	})
	if err != nil {
		o.logger.Error("Could not load instruments, skipping user",
			zap.Uint("user_id", user.ID), zap.Error(err))
		summary.UsersFailed++
		return
	}

	if user.MarketDataAPIKey == "" || len(instruments) == 0 {
		o.logs.Write("", user.ID, models.LogLevelWarn, CategoryScheduler, OpValidationFailed,
			"User is missing market data credentials or has no instruments",
			map[string]interface{}{
				"has_credentials": user.MarketDataAPIKey != "",
				"instruments":     len(instruments),
			})
		summary.UsersSkipped++
		return
	}

	// The status row exists before any stage runs, so a crash mid-pipeline
	// leaves a visible RUNNING row for the staleness reclaimer. Together with
	// the ran-today check this is a best-effort lock: a narrow race between
	// the check and this create can still admit a duplicate run.
	processID := uuid.NewString()
	if err := o.tracker.Create(processID, user.ID, models.JobTypeScheduledRun, len(instruments)); err != nil {
		o.logger.Error("Could not create processing status, skipping user",
			zap.Uint("user_id", user.ID), zap.Error(err))
		summary.UsersFailed++
		return
	}

	// Stage failures are logged at stage granularity and do not block later
	// stages: a fetch failure must not leave old data uncleaned.
	if err := o.batch.Run(ctx, processID, user, instruments); err != nil {
		if ctx.Err() != nil {
			o.failRun(processID, user.ID, "cancelled during fetch", err)
			summary.UsersFailed++
			return
		}
		o.logs.Write(processID, user.ID, models.LogLevelError, CategoryScheduler, OpFetch,
			"Fetch stage failed", map[string]interface{}{"error": err.Error()})
	}

	if user.AnalyticsEnabled {
		if err := o.analytics.Analyze(ctx, user.ID, instruments); err != nil {
			o.logs.Write(processID, user.ID, models.LogLevelError, CategoryScheduler, OpAnalysis,
				"Analysis stage failed", map[string]interface{}{"error": err.Error()})
		}
	}

	if user.CleanupEnabled {
		if err := o.cleanup(user); err != nil {
			o.logs.Write(processID, user.ID, models.LogLevelError, CategoryScheduler, OpCleanup,
				"Cleanup stage failed", map[string]interface{}{"error": err.Error()})
		}
	}

	if err := o.tracker.Complete(processID); err != nil {
		o.failRun(processID, user.ID, "status finalization failed", err)
		summary.UsersFailed++
		return
	}

	o.logs.Write(processID, user.ID, models.LogLevelInfo, CategoryScheduler, OpRunCompleted,
		"Scheduled run completed", map[string]interface{}{"instruments": len(instruments)})
	summary.UsersCompleted++
}

func (o *Orchestrator) failRun(processID string, userID uint, reason string, cause error) {
	msg := fmt.Sprintf("%s: %v", reason, cause)
	if err := o.tracker.Fail(processID, msg); err != nil {
		o.logger.Error("Could not mark run FAILED", zap.String("process_id", processID), zap.Error(err))
	}
	o.logs.Write(processID, userID, models.LogLevelError, CategoryScheduler, OpRunFailed, msg, nil)
}

// cleanup purges data past the user's retention window plus aged-out audit
// rows. Price bars follow the user's own retention; status and log rows follow
// the operator-configured windows.
func (o *Orchestrator) cleanup(user *models.User) error {
	barCutoff := time.Now().UTC().AddDate(0, 0, -user.RetentionDays)
	err := o.db.
		Where("date < ? AND instrument_id IN (?)", barCutoff,
			o.db.Model(&models.Instrument{}).Select("id").Where("user_id = ?", user.ID)).
		Delete(&models.PriceBar{}).Error
	if err != nil {
		return fmt.Errorf("failed to purge old bars: %w", err)
	}

	statusCutoff := time.Now().UTC().AddDate(0, 0, -o.cfg.StatusRetentionDays)
	err = o.db.
		Where("user_id = ? AND status <> ? AND updated_at < ?", user.ID, models.StatusRunning, statusCutoff).
		Delete(&models.ProcessingStatus{}).Error
	if err != nil {
		return fmt.Errorf("failed to purge old statuses: %w", err)
	}

	logCutoff := time.Now().UTC().AddDate(0, 0, -o.cfg.LogRetentionDays)
	err = o.db.
		Where("user_id = ? AND created_at < ?", user.ID, logCutoff).
		Delete(&models.SchedulingLogEntry{}).Error
	if err != nil {
		return fmt.Errorf("failed to purge old log entries: %w", err)
	}
	return nil
}

// withDBRetry retries a database operation with doubling backoff. This covers
// database reads only; external API calls are never auto-retried here.
func (o *Orchestrator) withDBRetry(op func() error) error {
	attempts := o.cfg.DBRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := time.Duration(o.cfg.DBRetryBackoffMs) * time.Millisecond

	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i < attempts-1 {
			o.logger.Warn("Database operation failed, retrying",
				zap.Int("attempt", i+1), zap.Duration("backoff", backoff), zap.Error(err))
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return err
}

func startOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
