package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"portfolio-trader-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Provider derives analytics for a set of instruments from stored history.
// The numeric internals are pluggable; the pipeline only depends on this
// interface.
type Provider interface {
	Analyze(ctx context.Context, userID uint, instruments []models.Instrument) error
}

// Indicators computes moving averages and volatility over stored daily bars
// and upserts one IndicatorSnapshot per instrument.
type Indicators struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Provider = (*Indicators)(nil)

// NewIndicators creates the default analytics provider.
func NewIndicators(db *gorm.DB, log *zap.Logger) *Indicators {
	return &Indicators{db: db, logger: log}
}

// Analyze refreshes the snapshot for every instrument. A single instrument
// failing (usually: not enough history yet) is logged and skipped; the run as
// a whole only fails on a database error while saving.
func (p *Indicators) Analyze(ctx context.Context, userID uint, instruments []models.Instrument) error {
	for _, instrument := range instruments {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		snapshot, err := p.compute(instrument.ID)
		if err != nil {
			p.logger.Warn("Skipping analytics for instrument",
				zap.Uint("instrument_id", instrument.ID),
				zap.String("symbol", instrument.Symbol),
				zap.Error(err),
			)
			continue
		}

		err = p.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instrument_id"}},
			UpdateAll: true,
		}).Create(snapshot).Error
		if err != nil {
			return fmt.Errorf("failed to save indicator snapshot for instrument %d: %w", instrument.ID, err)
		}
	}
	return nil
}

func (p *Indicators) compute(instrumentID uint) (*models.IndicatorSnapshot, error) {
	var bars []models.PriceBar
	err := p.db.Where("instrument_id = ?", instrumentID).
		Order("date DESC").
		Limit(50).
		Find(&bars).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load bars: %w", err)
	}
	if len(bars) < 20 {
		return nil, fmt.Errorf("insufficient history: have %d bars, need 20", len(bars))
	}

	sma20 := mean(closes(bars[:20]))
	sma50 := 0.0
	if len(bars) >= 50 {
		sma50 = mean(closes(bars[:50]))
	}

	return &models.IndicatorSnapshot{
		InstrumentID: instrumentID,
		SMA20:        sma20,
		SMA50:        sma50,
		Volatility:   stddev(closes(bars[:20])),
		LastClose:    bars[0].Close,
		ComputedAt:   time.Now().UTC(),
	}, nil
}

func closes(bars []models.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
