package exchange

import (
	"context"
	"errors"
	"fmt"
)

// Order sides and kinds.
const (
	OrderSideBuy    = "BUY"
	OrderSideSell   = "SELL"
	OrderKindMarket = "MARKET"
)

// Order is a signed order request handed to the execution port.
type Order struct {
	Symbol         string
	Side           string
	Quantity       float64
	ReferencePrice float64
	Kind           string
}

// Execution is the confirmation returned for a filled order.
type Execution struct {
	OrderID          string
	ExecutedPrice    float64
	ExecutedQuantity float64
}

// Executor is the order execution port. Implementations issue exactly one
// attempt per call; retry policy, if any, belongs to the caller.
type Executor interface {
	Execute(ctx context.Context, order Order) (*Execution, error)
}

// RejectionError is an exchange-level rejection (insufficient funds, unknown
// symbol, ...). The order definitively did not fill.
type RejectionError struct {
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected by exchange (%s): %s", e.Code, e.Message)
}

// ErrAmbiguous marks an order that was sent but produced no readable response.
// The order may or may not have filled; callers must surface it for manual
// reconciliation and never treat it as a plain failure or a success.
var ErrAmbiguous = errors.New("order outcome ambiguous: request sent but no response received")
