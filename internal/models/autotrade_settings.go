package models

import "gorm.io/gorm"

// Trade directions for AutoTradeSettings.NextAction.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	// ActionError tags ledger rows written for failed executions.
	ActionError = "error"
)

// AutoTradeSettings configures automated trading for one instrument.
// NextAction is the state-machine cursor driving alternating buy/sell cycles;
// only the auto-trade orchestrator writes it after initial configuration.
type AutoTradeSettings struct {
	gorm.Model
	InstrumentID         uint    `gorm:"uniqueIndex;not null"`
	BuyThresholdPercent  float64 `gorm:"default:5"`
	SellThresholdPercent float64 `gorm:"default:5"`
	NextAction           string  `gorm:"default:buy"`
	OneTimeBuy           bool    `gorm:"default:false"`
	OneTimeSell          bool    `gorm:"default:false"`
	ContinuousTrading    bool    `gorm:"default:false"`
	TradeByShares        bool    `gorm:"default:true"`
	SharesAmount         float64
	TradeByValue         bool `gorm:"default:false"`
	ValueAmount          float64
}

// OppositeAction returns the flipped direction for the alternating cycle.
func OppositeAction(action string) string {
	if action == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}
