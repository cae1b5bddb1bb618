package autotrade

import (
	"fmt"

	"portfolio-trader-go/internal/logger"
	"portfolio-trader-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FlipDirective tells the ledger which cursor changes to persist together with
// a settled trade. The orchestrator decides; the ledger only writes.
type FlipDirective struct {
	Flip             bool
	ClearOneTimeBuy  bool
	ClearOneTimeSell bool
}

// Ledger appends immutable transaction records and applies the matching
// holdings/balance adjustments.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewLedger creates a new trade ledger writer.
func NewLedger(db *gorm.DB, log *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: log}
}

// RecordSuccess settles a confirmed execution as one durable unit: the
// transaction row, the instrument's quantity and reference price, the user's
// cash balance and the next-action cursor all commit together.
//
// If that unit cannot commit, the transaction row alone is written again
// standalone so a trade that moved money on the exchange is never lost, and
// the situation is logged for operator reconciliation.
func (l *Ledger) RecordSuccess(
	instrument *models.Instrument,
	settings *models.AutoTradeSettings,
	action string,
	executedQty, executedPrice float64,
	requestPayload, responsePayload string,
	flip FlipDirective,
) (*models.Transaction, error) {
	total := executedQty * executedPrice

	tx := &models.Transaction{
		InstrumentID:    instrument.ID,
		UserID:          instrument.UserID,
		Symbol:          instrument.Symbol,
		Action:          action,
		Quantity:        executedQty,
		Price:           executedPrice,
		Total:           total,
		RequestPayload:  requestPayload,
		ResponsePayload: responsePayload,
	}

	err := l.db.Transaction(func(dbtx *gorm.DB) error {
		if err := dbtx.Create(tx).Error; err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}

		newQuantity := instrument.Quantity
		if action == models.ActionBuy {
			newQuantity += executedQty
		} else {
			newQuantity -= executedQty
		}
		if newQuantity < 0 {
			// The orchestrator checks holdings before executing; hitting this
			// means the row changed underneath us.
			return fmt.Errorf("quantity for instrument %d would go negative (%f)", instrument.ID, newQuantity)
		}

		if err := dbtx.Model(instrument).Updates(map[string]interface{}{
			"quantity":       newQuantity,
			"purchase_price": executedPrice,
			"last_price":     executedPrice,
		}).Error; err != nil {
			return fmt.Errorf("failed to update holdings: %w", err)
		}

		var user models.User
		if err := dbtx.First(&user, instrument.UserID).Error; err != nil {
			return fmt.Errorf("failed to load user %d: %w", instrument.UserID, err)
		}
		newBalance := user.CashBalance
		if action == models.ActionBuy {
			newBalance -= total
		} else {
			newBalance += total
		}
		if newBalance < 0 {
			newBalance = 0 // non-negative floor
		}
		if err := dbtx.Model(&user).Update("cash_balance", newBalance).Error; err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		if settings != nil && (flip.Flip || flip.ClearOneTimeBuy || flip.ClearOneTimeSell) {
			updates := map[string]interface{}{}
			if flip.Flip {
				updates["next_action"] = models.OppositeAction(settings.NextAction)
			}
			if flip.ClearOneTimeBuy {
				updates["one_time_buy"] = false
			}
			if flip.ClearOneTimeSell {
				updates["one_time_sell"] = false
			}
			if err := dbtx.Model(settings).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to advance next action: %w", err)
			}
		}

		return nil
	})

	if err != nil {
		// Money has moved on the exchange. Make sure the ledger row survives
		// even though the settlement unit rolled back.
		l.logger.Error("Settlement failed after a confirmed execution; ledger may not reflect the trade",
			logger.Critical(),
			zap.Uint("instrument_id", instrument.ID),
			zap.String("symbol", instrument.Symbol),
			zap.String("action", action),
			zap.Error(err),
		)
		tx.ID = 0
		if insertErr := l.db.Create(tx).Error; insertErr != nil {
			l.logger.Error("Standalone transaction insert failed as well; trade exists only on the exchange",
				logger.Critical(),
				zap.Uint("instrument_id", instrument.ID),
				zap.Error(insertErr),
			)
			return nil, fmt.Errorf("settlement and fallback insert failed: %w", err)
		}
		return tx, fmt.Errorf("settlement failed, transaction recorded standalone: %w", err)
	}

	return tx, nil
}

// RecordFailure appends an error-tagged transaction for an attempt that did
// not fill. No holdings or balance are touched.
func (l *Ledger) RecordFailure(
	instrument *models.Instrument,
	requestPayload, errorPayload string,
) (*models.Transaction, error) {
	tx := &models.Transaction{
		InstrumentID:    instrument.ID,
		UserID:          instrument.UserID,
		Symbol:          instrument.Symbol,
		Action:          models.ActionError,
		RequestPayload:  requestPayload,
		ResponsePayload: errorPayload,
	}
	if err := l.db.Create(tx).Error; err != nil {
		return nil, fmt.Errorf("failed to append failed-trade transaction: %w", err)
	}
	return tx, nil
}
