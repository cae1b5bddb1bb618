package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"portfolio-trader-go/internal/config"
	"portfolio-trader-go/internal/database"
	"portfolio-trader-go/internal/marketdata"
	"portfolio-trader-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MockMarketData is a mock implementation of marketdata.ClientInterface.
type MockMarketData struct {
	mock.Mock
}

func (m *MockMarketData) GetQuote(ctx context.Context, creds marketdata.Credentials, symbol string) (float64, error) {
	args := m.Called(ctx, creds, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockMarketData) GetDailyBars(ctx context.Context, creds marketdata.Credentials, symbol string, from, to time.Time) ([]marketdata.Bar, error) {
	args := m.Called(ctx, creds, symbol, from, to)
	var bars []marketdata.Bar
	if args.Get(0) != nil {
		bars = args.Get(0).([]marketdata.Bar)
	}
	return bars, args.Error(1)
}

// MockAnalytics is a mock implementation of analytics.Provider.
type MockAnalytics struct {
	mock.Mock
}

func (m *MockAnalytics) Analyze(ctx context.Context, userID uint, instruments []models.Instrument) error {
	args := m.Called(ctx, userID, instruments)
	return args.Error(0)
}

func testSchedulerConfig() config.Scheduler {
	return config.Scheduler{
		BatchSize:           2,
		BatchDelayMs:        0,
		StalenessMinutes:    60,
		HistoryDays:         5,
		DBRetryAttempts:     1,
		DBRetryBackoffMs:    1,
		LogRetentionDays:    30,
		StatusRetentionDays: 30,
	}
}

func setupSchedulerTest(t *testing.T) (*gorm.DB, *MockMarketData, *MockAnalytics, *Orchestrator) {
	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)

	log := zap.NewNop()
	tracker := NewTracker(db)
	logs := NewLogWriter(db, log)
	market := new(MockMarketData)
	provider := new(MockAnalytics)
	cfg := testSchedulerConfig()

	batch := NewBatchProcessor(db, log, market, tracker, logs, cfg.BatchSize, 0, cfg.HistoryDays)
	orch := NewOrchestrator(db, log, cfg, tracker, logs, batch, provider)
	return db, market, provider, orch
}

func seedScheduledUser(t *testing.T, db *gorm.DB, symbols []string) *models.User {
	user := &models.User{
		Name:              "bob",
		SchedulingEnabled: true,
		AnalyticsEnabled:  true,
		CleanupEnabled:    true,
		MarketDataAPIKey:  "key",
		RetentionDays:     30,
	}
	require.NoError(t, db.Create(user).Error)
	for _, symbol := range symbols {
		require.NoError(t, db.Create(&models.Instrument{UserID: user.ID, Symbol: symbol}).Error)
	}
	return user
}

func someBars(closePrice float64) []marketdata.Bar {
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	return []marketdata.Bar{
		{Date: yesterday.AddDate(0, 0, -1), Open: closePrice, High: closePrice, Low: closePrice, Close: closePrice - 1, Volume: 100},
		{Date: yesterday, Open: closePrice, High: closePrice + 1, Low: closePrice - 1, Close: closePrice, Volume: 120},
	}
}

func TestRun_HappyPath(t *testing.T) {
	db, market, provider, orch := setupSchedulerTest(t)
	user := seedScheduledUser(t, db, []string{"AAPL", "MSFT", "GOOG"})

	for _, symbol := range []string{"AAPL", "MSFT", "GOOG"} {
		market.On("GetDailyBars", mock.Anything, mock.Anything, symbol, mock.Anything, mock.Anything).
			Return(someBars(100), nil)
	}
	provider.On("Analyze", mock.Anything, user.ID, mock.Anything).Return(nil)

	summary, err := orch.Run(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.UsersCompleted)
	assert.Equal(t, 0, summary.UsersSkipped)
	assert.Equal(t, 0, summary.UsersFailed)

	var status models.ProcessingStatus
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&status).Error)
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, 3, status.TotalItems)
	assert.Equal(t, 3, status.ProcessedItems)
	assert.NotNil(t, status.CompletedAt)

	var barCount int64
	require.NoError(t, db.Model(&models.PriceBar{}).Count(&barCount).Error)
	assert.Equal(t, int64(6), barCount) // 3 symbols x 2 bars

	// the fetch stage refreshes the last observed price from the newest close
	var instrument models.Instrument
	require.NoError(t, db.Where("symbol = ?", "AAPL").First(&instrument).Error)
	assert.InDelta(t, 100.0, instrument.LastPrice, 0.001)

	market.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestRun_AlreadyCompletedTodaySkips(t *testing.T) {
	db, market, provider, orch := setupSchedulerTest(t)
	user := seedScheduledUser(t, db, []string{"AAPL"})

	// a COMPLETED run from earlier today
	tracker := NewTracker(db)
	require.NoError(t, tracker.Create("earlier", user.ID, models.JobTypeScheduledRun, 1))
	require.NoError(t, tracker.Complete("earlier"))

	summary, err := orch.Run(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.UsersCompleted)
	assert.Equal(t, 1, summary.UsersSkipped)

	// no new status row was created
	var statusCount int64
	require.NoError(t, db.Model(&models.ProcessingStatus{}).Where("user_id = ?", user.ID).Count(&statusCount).Error)
	assert.Equal(t, int64(1), statusCount)

	var entry models.SchedulingLogEntry
	require.NoError(t, db.Where("user_id = ? AND operation = ?", user.ID, OpAlreadyCompleted).First(&entry).Error)
	assert.Equal(t, models.LogLevelInfo, entry.Level)

	market.AssertNotCalled(t, "GetDailyBars", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	provider.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_ForceBypassesSuppression(t *testing.T) {
	db, market, provider, orch := setupSchedulerTest(t)
	user := seedScheduledUser(t, db, []string{"AAPL"})

	tracker := NewTracker(db)
	require.NoError(t, tracker.Create("earlier", user.ID, models.JobTypeScheduledRun, 1))
	require.NoError(t, tracker.Complete("earlier"))

	market.On("GetDailyBars", mock.Anything, mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Return(someBars(50), nil)
	provider.On("Analyze", mock.Anything, user.ID, mock.Anything).Return(nil)

	summary, err := orch.Run(context.Background(), true)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.UsersCompleted)

	var statusCount int64
	require.NoError(t, db.Model(&models.ProcessingStatus{}).Where("user_id = ?", user.ID).Count(&statusCount).Error)
	assert.Equal(t, int64(2), statusCount)
}

func TestRun_ValidationFailure(t *testing.T) {
	db, market, _, orch := setupSchedulerTest(t)

	noCreds := &models.User{Name: "carol", SchedulingEnabled: true, RetentionDays: 30}
	require.NoError(t, db.Create(noCreds).Error)
	require.NoError(t, db.Create(&models.Instrument{UserID: noCreds.ID, Symbol: "AAPL"}).Error)

	noInstruments := &models.User{Name: "dave", SchedulingEnabled: true, MarketDataAPIKey: "key", RetentionDays: 30}
	require.NoError(t, db.Create(noInstruments).Error)

	summary, err := orch.Run(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.UsersCompleted)
	assert.Equal(t, 2, summary.UsersSkipped)

	// validation fails before the status row is created
	var statusCount int64
	require.NoError(t, db.Model(&models.ProcessingStatus{}).Count(&statusCount).Error)
	assert.Equal(t, int64(0), statusCount)

	var entries []models.SchedulingLogEntry
	require.NoError(t, db.Where("operation = ?", OpValidationFailed).Find(&entries).Error)
	assert.Len(t, entries, 2)

	market.AssertNotCalled(t, "GetDailyBars", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_SymbolFailureDoesNotAbortBatch(t *testing.T) {
	db, market, provider, orch := setupSchedulerTest(t)
	user := seedScheduledUser(t, db, []string{"AAPL", "BAD", "GOOG"})

	market.On("GetDailyBars", mock.Anything, mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Return(someBars(100), nil)
	market.On("GetDailyBars", mock.Anything, mock.Anything, "BAD", mock.Anything, mock.Anything).
		Return(nil, errors.New("provider timeout"))
	market.On("GetDailyBars", mock.Anything, mock.Anything, "GOOG", mock.Anything, mock.Anything).
		Return(someBars(200), nil)
	provider.On("Analyze", mock.Anything, user.ID, mock.Anything).Return(nil)

	summary, err := orch.Run(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.UsersCompleted)

	// the failing symbol counts as processed, the run still completes
	var status models.ProcessingStatus
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&status).Error)
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, 3, status.ProcessedItems)

	var barCount int64
	require.NoError(t, db.Model(&models.PriceBar{}).Count(&barCount).Error)
	assert.Equal(t, int64(4), barCount) // two good symbols x 2 bars
}

func TestRun_AnalyticsFailureDoesNotBlockCompletion(t *testing.T) {
	db, market, provider, orch := setupSchedulerTest(t)
	user := seedScheduledUser(t, db, []string{"AAPL"})

	market.On("GetDailyBars", mock.Anything, mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Return(someBars(100), nil)
	provider.On("Analyze", mock.Anything, user.ID, mock.Anything).Return(errors.New("analysis broke"))

	summary, err := orch.Run(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.UsersCompleted)

	var status models.ProcessingStatus
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&status).Error)
	assert.Equal(t, models.StatusCompleted, status.Status)

	var entry models.SchedulingLogEntry
	require.NoError(t, db.Where("user_id = ? AND operation = ?", user.ID, OpAnalysis).First(&entry).Error)
	assert.Equal(t, models.LogLevelError, entry.Level)
}

func TestRun_ReclaimsStaleProcessesFirst(t *testing.T) {
	db, _, _, orch := setupSchedulerTest(t)

	tracker := NewTracker(db)
	require.NoError(t, tracker.Create("orphan", 99, models.JobTypeScheduledRun, 4))
	threeHoursAgo := time.Now().UTC().Add(-3 * time.Hour)
	require.NoError(t, db.Model(&models.ProcessingStatus{}).
		Where("process_id = ?", "orphan").
		UpdateColumn("updated_at", threeHoursAgo).Error)

	_, err := orch.Run(context.Background(), false)
	require.NoError(t, err)

	orphan, err := tracker.Get("orphan")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, orphan.Status)
}

func TestRun_CleanupPurgesOldBars(t *testing.T) {
	db, market, provider, orch := setupSchedulerTest(t)
	user := seedScheduledUser(t, db, []string{"AAPL"})

	var instrument models.Instrument
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&instrument).Error)

	old := models.PriceBar{InstrumentID: instrument.ID, Symbol: "AAPL", Date: time.Now().UTC().AddDate(0, 0, -40), Close: 1}
	recent := models.PriceBar{InstrumentID: instrument.ID, Symbol: "AAPL", Date: time.Now().UTC().AddDate(0, 0, -3), Close: 2}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Create(&recent).Error)

	market.On("GetDailyBars", mock.Anything, mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Return(someBars(100), nil)
	provider.On("Analyze", mock.Anything, user.ID, mock.Anything).Return(nil)

	_, err := orch.Run(context.Background(), false)
	require.NoError(t, err)

	var oldCount int64
	require.NoError(t, db.Model(&models.PriceBar{}).
		Where("date < ?", time.Now().UTC().AddDate(0, 0, -30)).
		Count(&oldCount).Error)
	assert.Equal(t, int64(0), oldCount)

	var remaining int64
	require.NoError(t, db.Model(&models.PriceBar{}).Count(&remaining).Error)
	assert.Greater(t, remaining, int64(0))
}
