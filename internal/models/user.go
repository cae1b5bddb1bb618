package models

import "gorm.io/gorm"

// User owns a set of tracked instruments and a cash balance.
type User struct {
	gorm.Model
	Name                string  `gorm:"uniqueIndex;not null"`
	CashBalance         float64 `gorm:"not null;default:0"`
	AutoTradingEnabled  bool    `gorm:"default:false"`
	SchedulingEnabled   bool    `gorm:"default:false"`
	AnalyticsEnabled    bool    `gorm:"default:true"`
	CleanupEnabled      bool    `gorm:"default:true"`
	MarketDataAPIKey    string
	MarketDataAPISecret string
	RetentionDays       int `gorm:"default:365"`
}
