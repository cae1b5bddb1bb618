package autotrade

import "fmt"

// ValidationError reports bad trade configuration (non-positive reference
// price, missing sizing amount). Never retried, surfaced to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid trade configuration: %s", e.Reason)
}

// ConsistencyError reports a trade that would corrupt holdings or balance
// (selling more than held, buying past the cash balance). Caught before any
// exchange call; no ledger row is written.
type ConsistencyError struct {
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("trade rejected: %s", e.Reason)
}
