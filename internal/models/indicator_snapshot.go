package models

import (
	"time"

	"gorm.io/gorm"
)

// IndicatorSnapshot holds the latest derived analytics for an instrument.
// One row per instrument, replaced on every analysis run.
type IndicatorSnapshot struct {
	gorm.Model
	InstrumentID uint `gorm:"uniqueIndex;not null"`
	SMA20        float64
	SMA50        float64
	Volatility   float64
	LastClose    float64
	ComputedAt   time.Time
}
