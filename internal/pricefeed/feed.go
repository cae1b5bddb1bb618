package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"portfolio-trader-go/internal/autotrade"
	"portfolio-trader-go/internal/config"
	"portfolio-trader-go/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Tick is one live price observation from the stream.
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// Feed subscribes to the live price stream and hands each tick to the
// auto-trade orchestrator for every instrument tracking that symbol.
type Feed struct {
	cfg          config.PriceFeed
	db           *gorm.DB
	logger       *zap.Logger
	orchestrator *autotrade.Orchestrator
}

// NewFeed creates a new live price feed consumer.
func NewFeed(cfg config.PriceFeed, db *gorm.DB, log *zap.Logger, orch *autotrade.Orchestrator) *Feed {
	return &Feed{cfg: cfg, db: db, logger: log, orchestrator: orch}
}

// Run connects to the stream and dispatches ticks until the context is
// cancelled, reconnecting with a fixed backoff on any connection loss.
func (f *Feed) Run(ctx context.Context) {
	backoff := time.Duration(f.cfg.ReconnectBackoffMs) * time.Millisecond
	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				f.logger.Info("Price feed stopped")
				return
			}
			f.logger.Warn("Price feed connection lost, reconnecting",
				zap.Duration("backoff", backoff), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			f.logger.Info("Price feed stopped")
			return
		case <-time.After(backoff):
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.logger.Info("Price feed connected", zap.String("url", f.cfg.URL))

	// Unblock ReadMessage when the context is cancelled. The watcher must not
	// outlive this connection attempt or every reconnect leaks a goroutine.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var tick Tick
		if err := json.Unmarshal(message, &tick); err != nil {
			f.logger.Warn("Dropping malformed tick", zap.Error(err))
			continue
		}
		if tick.Symbol == "" || tick.Price <= 0 {
			continue
		}

		f.dispatch(ctx, tick)
	}
}

// dispatch fans the tick out to every instrument on that symbol. Instruments
// evaluate concurrently; the orchestrator serializes per instrument.
func (f *Feed) dispatch(ctx context.Context, tick Tick) {
	var ids []uint
	err := f.db.Model(&models.Instrument{}).
		Where("symbol = ?", tick.Symbol).
		Pluck("id", &ids).Error
	if err != nil {
		f.logger.Warn("Could not resolve instruments for tick",
			zap.String("symbol", tick.Symbol), zap.Error(err))
		return
	}

	for _, id := range ids {
		go func(instrumentID uint) {
			_, err := f.orchestrator.EvaluateTick(ctx, instrumentID, tick.Price)
			if err == nil {
				return
			}
			var consistency *autotrade.ConsistencyError
			var validation *autotrade.ValidationError
			switch {
			case errors.As(err, &consistency), errors.As(err, &validation):
				f.logger.Warn("Tick evaluation rejected",
					zap.Uint("instrument_id", instrumentID),
					zap.String("symbol", tick.Symbol),
					zap.Error(err))
			default:
				f.logger.Error("Tick evaluation failed",
					zap.Uint("instrument_id", instrumentID),
					zap.String("symbol", tick.Symbol),
					zap.Error(err))
			}
		}(id)
	}
}
