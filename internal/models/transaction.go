package models

import (
	"time"

	"gorm.io/gorm"
)

// Transaction is an append-only ledger record, written exactly once per
// attempted trade. Failed attempts are kept with Action set to ActionError so
// they remain visible in history. Rows are never mutated after creation.
type Transaction struct {
	gorm.Model
	InstrumentID    uint   `gorm:"index;not null"`
	UserID          uint   `gorm:"index;not null"`
	Symbol          string `gorm:"not null"`
	Action          string `gorm:"not null"` // buy, sell or error
	Quantity        float64
	Price           float64
	Total           float64
	RequestPayload  string // JSON audit blob, see autotrade.RequestAudit
	ResponsePayload string // JSON audit blob, ResponseAudit or ErrorAudit
	ExpiresAt       *time.Time
}
