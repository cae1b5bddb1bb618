package autotrade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"portfolio-trader-go/internal/exchange"
	"portfolio-trader-go/internal/logger"
	"portfolio-trader-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sizing modes recorded in the request audit.
const (
	sizingShares = "shares"
	sizingValue  = "value"
)

// Orchestrator evaluates live price ticks against each instrument's
// auto-trade settings and drives order execution and settlement.
//
// Ticks for different instruments may run concurrently; two ticks for the
// same instrument are serialized on a per-instrument mutex because the
// settlement math is not safe under concurrent execution.
type Orchestrator struct {
	db       *gorm.DB
	logger   *zap.Logger
	executor exchange.Executor
	ledger   *Ledger

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewOrchestrator creates a new auto-trade orchestrator.
func NewOrchestrator(db *gorm.DB, log *zap.Logger, executor exchange.Executor) *Orchestrator {
	return &Orchestrator{
		db:       db,
		logger:   log,
		executor: executor,
		ledger:   NewLedger(db, log),
		locks:    make(map[uint]*sync.Mutex),
	}
}

func (o *Orchestrator) lockFor(instrumentID uint) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[instrumentID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[instrumentID] = l
	}
	return l
}

// EvaluateTick processes one live price observation for an instrument. It
// records the price, decides whether the configured threshold was crossed in
// the next-action direction, and if so executes exactly one order. The
// returned transaction is nil when no trade was attempted.
func (o *Orchestrator) EvaluateTick(ctx context.Context, instrumentID uint, price float64) (*models.Transaction, error) {
	lock := o.lockFor(instrumentID)
	lock.Lock()
	defer lock.Unlock()

	var instrument models.Instrument
	if err := o.db.First(&instrument, instrumentID).Error; err != nil {
		return nil, fmt.Errorf("could not load instrument %d: %w", instrumentID, err)
	}

	// The observed price is recorded whether or not a trade follows.
	if err := o.db.Model(&instrument).Update("last_price", price).Error; err != nil {
		o.logger.Warn("Failed to record last price", zap.Uint("instrument_id", instrumentID), zap.Error(err))
	}
	instrument.LastPrice = price

	var user models.User
	if err := o.db.First(&user, instrument.UserID).Error; err != nil {
		return nil, fmt.Errorf("could not load user %d: %w", instrument.UserID, err)
	}
	if !user.AutoTradingEnabled {
		return nil, nil
	}
	if !instrument.AutoBuyEnabled && !instrument.AutoSellEnabled {
		return nil, nil
	}

	var settings models.AutoTradeSettings
	if err := o.db.Where("instrument_id = ?", instrumentID).First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // nothing configured for this instrument
		}
		return nil, fmt.Errorf("could not load auto-trade settings: %w", err)
	}

	action := settings.NextAction
	if action == models.ActionBuy && !instrument.AutoBuyEnabled {
		return nil, nil
	}
	if action == models.ActionSell && !instrument.AutoSellEnabled {
		return nil, nil
	}

	threshold := settings.BuyThresholdPercent
	if action == models.ActionSell {
		threshold = settings.SellThresholdPercent
	}

	triggered, err := ShouldTrigger(price, instrument.PurchasePrice, action, threshold)
	if err != nil {
		return nil, err
	}
	if !triggered {
		return nil, nil
	}

	quantity, sizingMode, err := tradeQuantity(&settings, price)
	if err != nil {
		return nil, err
	}

	flip := FlipDirective{
		Flip: settings.ContinuousTrading ||
			(action == models.ActionBuy && settings.OneTimeBuy) ||
			(action == models.ActionSell && settings.OneTimeSell),
		ClearOneTimeBuy:  action == models.ActionBuy && settings.OneTimeBuy,
		ClearOneTimeSell: action == models.ActionSell && settings.OneTimeSell,
	}

	return o.execute(ctx, &instrument, &user, &settings, action, quantity, price, sizingMode, flip)
}

// ExecuteManual runs a user-triggered trade for an instrument right now,
// bypassing the threshold check and the next-action cursor. The cursor is not
// flipped: manual trades do not advance the automated cycle.
func (o *Orchestrator) ExecuteManual(ctx context.Context, instrumentID uint, action string, quantity float64) (*models.Transaction, error) {
	if action != models.ActionBuy && action != models.ActionSell {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown action %q", action)}
	}
	if quantity <= 0 {
		return nil, &ValidationError{Reason: "quantity must be positive"}
	}

	lock := o.lockFor(instrumentID)
	lock.Lock()
	defer lock.Unlock()

	var instrument models.Instrument
	if err := o.db.First(&instrument, instrumentID).Error; err != nil {
		return nil, fmt.Errorf("could not load instrument %d: %w", instrumentID, err)
	}
	var user models.User
	if err := o.db.First(&user, instrument.UserID).Error; err != nil {
		return nil, fmt.Errorf("could not load user %d: %w", instrument.UserID, err)
	}

	price := instrument.LastPrice
	if price <= 0 {
		return nil, &ValidationError{Reason: "no observed price for instrument"}
	}

	return o.execute(ctx, &instrument, &user, nil, action, quantity, price, sizingShares, FlipDirective{})
}

// execute runs the consistency checks, calls the order port exactly once and
// settles the outcome through the ledger.
func (o *Orchestrator) execute(
	ctx context.Context,
	instrument *models.Instrument,
	user *models.User,
	settings *models.AutoTradeSettings,
	action string,
	quantity, price float64,
	sizingMode string,
	flip FlipDirective,
) (*models.Transaction, error) {
	l := o.logger.With(
		zap.Uint("instrument_id", instrument.ID),
		zap.String("symbol", instrument.Symbol),
		zap.String("action", action),
		zap.Float64("quantity", quantity),
		zap.Float64("price", price),
	)

	// Consistency checks come before any exchange call: a rejected trade has
	// zero side effects, not even an error row.
	if action == models.ActionSell && instrument.Quantity < quantity {
		return nil, &ConsistencyError{
			Reason: fmt.Sprintf("insufficient shares: held %f, requested %f", instrument.Quantity, quantity),
		}
	}
	if action == models.ActionBuy && user.CashBalance < quantity*price {
		return nil, &ConsistencyError{
			Reason: fmt.Sprintf("insufficient balance: have %f, need %f", user.CashBalance, quantity*price),
		}
	}

	side := exchange.OrderSideBuy
	if action == models.ActionSell {
		side = exchange.OrderSideSell
	}

	requestPayload := marshalAudit(RequestAudit{
		Kind:           AuditKindRequest,
		Symbol:         instrument.Symbol,
		Side:           side,
		Quantity:       quantity,
		ReferencePrice: price,
		SizingMode:     sizingMode,
		RequestedAt:    time.Now().UTC(),
	})

	l.Info("Executing trade...")

	execution, err := o.executor.Execute(ctx, exchange.Order{
		Symbol:         instrument.Symbol,
		Side:           side,
		Quantity:       quantity,
		ReferencePrice: price,
		Kind:           exchange.OrderKindMarket,
	})
	if err != nil {
		return o.settleFailure(instrument, requestPayload, err, l)
	}

	l.Info("Trade executed",
		zap.String("order_id", execution.OrderID),
		zap.Float64("executed_price", execution.ExecutedPrice),
		zap.Float64("executed_quantity", execution.ExecutedQuantity),
	)

	responsePayload := marshalAudit(ResponseAudit{
		Kind:             AuditKindResponse,
		OrderID:          execution.OrderID,
		ExecutedPrice:    execution.ExecutedPrice,
		ExecutedQuantity: execution.ExecutedQuantity,
		ReceivedAt:       time.Now().UTC(),
	})

	return o.ledger.RecordSuccess(
		instrument, settings, action,
		execution.ExecutedQuantity, execution.ExecutedPrice,
		requestPayload, responsePayload, flip,
	)
}

// settleFailure writes the error-tagged ledger row for a failed or ambiguous
// execution. Direction is not flipped; the cycle retries on a later tick.
func (o *Orchestrator) settleFailure(
	instrument *models.Instrument,
	requestPayload string,
	execErr error,
	l *zap.Logger,
) (*models.Transaction, error) {
	audit := ErrorAudit{
		Kind:     AuditKindError,
		Message:  execErr.Error(),
		FailedAt: time.Now().UTC(),
	}

	var rejection *exchange.RejectionError
	switch {
	case errors.As(execErr, &rejection):
		audit.Code = rejection.Code
		l.Warn("Order rejected by exchange", zap.String("code", rejection.Code), zap.Error(execErr))
	case errors.Is(execErr, exchange.ErrAmbiguous):
		audit.Code = "AMBIGUOUS"
		audit.Ambiguous = true
		// The order may have filled. Holdings are not touched; an operator has
		// to reconcile against the exchange before trading this instrument.
		l.Error("Order outcome ambiguous, manual reconciliation required", logger.Critical(), zap.Error(execErr))
	default:
		audit.Code = "TRANSPORT"
		l.Warn("Order transport failure", zap.Error(execErr))
	}

	tx, recordErr := o.ledger.RecordFailure(instrument, requestPayload, marshalAudit(audit))
	if recordErr != nil {
		l.Error("Failed to record failed trade", logger.Critical(), zap.Error(recordErr))
		return nil, fmt.Errorf("order failed (%v) and ledger write failed: %w", execErr, recordErr)
	}
	return tx, fmt.Errorf("order execution failed: %w", execErr)
}

// tradeQuantity derives the order size from the configured sizing mode.
func tradeQuantity(settings *models.AutoTradeSettings, price float64) (float64, string, error) {
	switch {
	case settings.TradeByShares && settings.SharesAmount > 0:
		return settings.SharesAmount, sizingShares, nil
	case settings.TradeByValue && settings.ValueAmount > 0:
		if price <= 0 {
			return 0, "", &ValidationError{Reason: "cannot size by value without a positive price"}
		}
		return settings.ValueAmount / price, sizingValue, nil
	default:
		return 0, "", &ValidationError{Reason: "no positive trade size configured"}
	}
}
