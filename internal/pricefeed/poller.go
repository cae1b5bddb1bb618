package pricefeed

import (
	"context"
	"errors"
	"time"

	"portfolio-trader-go/internal/autotrade"
	"portfolio-trader-go/internal/config"
	"portfolio-trader-go/internal/marketdata"
	"portfolio-trader-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Poller is the fallback tick source when no live stream is configured. It
// periodically pulls the latest quote for every auto-trading user's
// instruments and feeds it through the same evaluation path as stream ticks.
type Poller struct {
	cfg          config.PriceFeed
	db           *gorm.DB
	logger       *zap.Logger
	market       marketdata.ClientInterface
	orchestrator *autotrade.Orchestrator
}

// NewPoller creates a new quote poller.
func NewPoller(cfg config.PriceFeed, db *gorm.DB, log *zap.Logger, market marketdata.ClientInterface, orch *autotrade.Orchestrator) *Poller {
	return &Poller{cfg: cfg, db: db, logger: log, market: market, orchestrator: orch}
}

// Run polls quotes at the configured interval until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	interval := time.Duration(p.cfg.PollIntervalMs) * time.Millisecond
	p.logger.Info("Quote polling started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("Quote polling stopped")
			return
		case <-ticker.C:
		}
	}
}

// poll runs one pass over every auto-trading user. Quotes for different
// instruments fail independently; a provider error skips that instrument only.
func (p *Poller) poll(ctx context.Context) {
	var users []models.User
	err := p.db.
		Where("auto_trading_enabled = ? AND market_data_api_key <> ''", true).
		Order("id").
		Find(&users).Error
	if err != nil {
		p.logger.Warn("Could not load users for quote polling", zap.Error(err))
		return
	}

	for i := range users {
		user := &users[i]
		creds := marketdata.Credentials{
			APIKey:    user.MarketDataAPIKey,
			APISecret: user.MarketDataAPISecret,
		}

		var instruments []models.Instrument
		err := p.db.Where("user_id = ?", user.ID).Order("id").Find(&instruments).Error
		if err != nil {
			p.logger.Warn("Could not load instruments for quote polling",
				zap.Uint("user_id", user.ID), zap.Error(err))
			continue
		}

		for _, instrument := range instruments {
			if ctx.Err() != nil {
				return
			}

			price, err := p.market.GetQuote(ctx, creds, instrument.Symbol)
			if err != nil {
				p.logger.Warn("Quote fetch failed",
					zap.String("symbol", instrument.Symbol), zap.Error(err))
				continue
			}

			if _, err := p.orchestrator.EvaluateTick(ctx, instrument.ID, price); err != nil {
				var consistency *autotrade.ConsistencyError
				var validation *autotrade.ValidationError
				switch {
				case errors.As(err, &consistency), errors.As(err, &validation):
					p.logger.Warn("Quote evaluation rejected",
						zap.Uint("instrument_id", instrument.ID),
						zap.String("symbol", instrument.Symbol),
						zap.Error(err))
				default:
					p.logger.Error("Quote evaluation failed",
						zap.Uint("instrument_id", instrument.ID),
						zap.String("symbol", instrument.Symbol),
						zap.Error(err))
				}
			}
		}
	}
}
