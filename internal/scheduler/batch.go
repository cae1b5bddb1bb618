package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"portfolio-trader-go/internal/marketdata"
	"portfolio-trader-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultBatchSize bounds how many symbols hit the market data API back to
// back before the inter-batch delay.
const DefaultBatchSize = 5

// BatchProcessor refreshes market data for a user's instruments in fixed-size
// batches, reporting incremental progress as each batch lands. Batches run
// sequentially with a delay in between as backpressure against the provider's
// rate limits; do not parallelize them.
type BatchProcessor struct {
	db          *gorm.DB
	logger      *zap.Logger
	market      marketdata.ClientInterface
	tracker     *Tracker
	logs        *LogWriter
	batchSize   int
	batchDelay  time.Duration
	historyDays int
}

// NewBatchProcessor creates a new batch processor.
func NewBatchProcessor(
	db *gorm.DB,
	log *zap.Logger,
	market marketdata.ClientInterface,
	tracker *Tracker,
	logs *LogWriter,
	batchSize int,
	batchDelay time.Duration,
	historyDays int,
) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchProcessor{
		db:          db,
		logger:      log,
		market:      market,
		tracker:     tracker,
		logs:        logs,
		batchSize:   batchSize,
		batchDelay:  batchDelay,
		historyDays: historyDays,
	}
}

// Run fetches history for every instrument. A single symbol failing is logged
// and skipped; only cancellation or a tracker error aborts the job.
func (b *BatchProcessor) Run(ctx context.Context, processID string, user *models.User, instruments []models.Instrument) error {
	creds := marketdata.Credentials{
		APIKey:    user.MarketDataAPIKey,
		APISecret: user.MarketDataAPISecret,
	}

	total := len(instruments)
	processed := 0

	for start := 0; start < total; start += b.batchSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := start + b.batchSize
		if end > total {
			end = total
		}
		batch := instruments[start:end]

		for i := range batch {
			if err := b.fetchInstrument(ctx, creds, &batch[i]); err != nil {
				b.logger.Warn("Failed to refresh instrument, continuing batch",
					zap.String("process_id", processID),
					zap.String("symbol", batch[i].Symbol),
					zap.Error(err),
				)
			}
		}

		processed += len(batch)
		percent := int(math.Round(float64(processed) / float64(total) * 100))
		detail := fmt.Sprintf(`{"stage":"fetch","processed":%d,"total":%d}`, processed, total)
		if err := b.tracker.Advance(processID, len(batch), detail); err != nil {
			return err
		}
		b.logs.Write(processID, user.ID, models.LogLevelInfo, CategoryBatch, OpBatchProgress,
			fmt.Sprintf("Fetched %d/%d instruments (%d%%)", processed, total, percent),
			map[string]interface{}{"processed": processed, "total": total, "percent": percent},
		)

		if end < total && b.batchDelay > 0 {
			select {
			case <-time.After(b.batchDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

// fetchInstrument pulls history for one symbol, upserts its daily bars and
// refreshes the instrument's last observed price from the newest close.
func (b *BatchProcessor) fetchInstrument(ctx context.Context, creds marketdata.Credentials, instrument *models.Instrument) error {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -b.historyDays)

	bars, err := b.market.GetDailyBars(ctx, creds, instrument.Symbol, from, to)
	if err != nil {
		return fmt.Errorf("history fetch failed: %w", err)
	}
	if len(bars) == 0 {
		return nil
	}

	rows := make([]models.PriceBar, 0, len(bars))
	for _, bar := range bars {
		rows = append(rows, models.PriceBar{
			InstrumentID: instrument.ID,
			Symbol:       instrument.Symbol,
			Date:         bar.Date,
			Open:         bar.Open,
			High:         bar.High,
			Low:          bar.Low,
			Close:        bar.Close,
			Volume:       bar.Volume,
		})
	}
	err = b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instrument_id"}, {Name: "date"}},
		UpdateAll: true,
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to store bars: %w", err)
	}

	latest := bars[len(bars)-1]
	if latest.Close > 0 {
		err = b.db.Model(instrument).Update("last_price", latest.Close).Error
		if err != nil {
			return fmt.Errorf("failed to refresh last price: %w", err)
		}
	}
	return nil
}
