package exchange

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// DryRunExecutor simulates fills at the reference price without touching any
// exchange. Used when trading.dry_run is enabled.
type DryRunExecutor struct {
	logger *zap.Logger
	seq    atomic.Int64
}

var _ Executor = (*DryRunExecutor)(nil)

func NewDryRunExecutor(logger *zap.Logger) *DryRunExecutor {
	return &DryRunExecutor{logger: logger}
}

func (d *DryRunExecutor) Execute(_ context.Context, order Order) (*Execution, error) {
	id := d.seq.Add(1)
	d.logger.Warn("Dry run enabled. No real order will be placed.",
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.Float64("quantity", order.Quantity),
	)
	return &Execution{
		OrderID:          fmt.Sprintf("dry-%d", id),
		ExecutedPrice:    order.ReferencePrice,
		ExecutedQuantity: order.Quantity,
	}, nil
}
