package autotrade

import (
	"fmt"

	"portfolio-trader-go/internal/models"
)

// ShouldTrigger decides whether a price crossing warrants a trade in the given
// direction. For a sell watch the gain over the reference price must reach the
// threshold, for a buy watch the drop below it. Ties count as a trigger.
//
// A zero or negative reference price is invalid input and fails with a
// ValidationError rather than silently returning false.
func ShouldTrigger(currentPrice, referencePrice float64, action string, thresholdPercent float64) (bool, error) {
	if referencePrice <= 0 {
		return false, &ValidationError{
			Reason: fmt.Sprintf("reference price must be positive, got %f", referencePrice),
		}
	}

	switch action {
	case models.ActionSell:
		gainPercent := (currentPrice - referencePrice) / referencePrice * 100
		return gainPercent >= thresholdPercent, nil
	case models.ActionBuy:
		dropPercent := (referencePrice - currentPrice) / referencePrice * 100
		return dropPercent >= thresholdPercent, nil
	default:
		return false, &ValidationError{Reason: fmt.Sprintf("unknown action %q", action)}
	}
}
