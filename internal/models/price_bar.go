package models

import (
	"time"

	"gorm.io/gorm"
)

// PriceBar is one day of historical market data for an instrument, written by
// the batch fetch stage and consumed by the analytics provider.
type PriceBar struct {
	gorm.Model
	InstrumentID uint      `gorm:"uniqueIndex:idx_bar_instrument_date;not null"`
	Symbol       string    `gorm:"index"`
	Date         time.Time `gorm:"uniqueIndex:idx_bar_instrument_date;not null"`
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
}
