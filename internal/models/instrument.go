package models

import "gorm.io/gorm"

// Instrument represents one tracked asset held by a user.
// Quantity never goes negative; a sell that would overdraw it is rejected
// before any exchange call is made.
type Instrument struct {
	gorm.Model
	UserID          uint   `gorm:"index;not null"`
	Symbol          string `gorm:"index;not null"`
	Quantity        float64
	PurchasePrice   float64 // reference price thresholds are measured against
	LastPrice       float64
	AutoBuyEnabled  bool `gorm:"default:false"`
	AutoSellEnabled bool `gorm:"default:false"`
}
