package autotrade

import (
	"encoding/json"
	"time"
)

// Audit payload kinds. Every payload carries its kind so downstream tooling
// can parse the ledger columns without guessing.
const (
	AuditKindRequest  = "request"
	AuditKindResponse = "response"
	AuditKindError    = "error"
)

// RequestAudit records what was asked of the exchange.
type RequestAudit struct {
	Kind           string    `json:"kind"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Quantity       float64   `json:"quantity"`
	ReferencePrice float64   `json:"reference_price"`
	SizingMode     string    `json:"sizing_mode"`
	RequestedAt    time.Time `json:"requested_at"`
}

// ResponseAudit records a confirmed execution.
type ResponseAudit struct {
	Kind             string    `json:"kind"`
	OrderID          string    `json:"order_id"`
	ExecutedPrice    float64   `json:"executed_price"`
	ExecutedQuantity float64   `json:"executed_quantity"`
	ReceivedAt       time.Time `json:"received_at"`
}

// ErrorAudit records a failed or ambiguous execution attempt.
type ErrorAudit struct {
	Kind      string    `json:"kind"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Ambiguous bool      `json:"ambiguous"`
	FailedAt  time.Time `json:"failed_at"`
}

func marshalAudit(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Audit structs contain only plain fields; this cannot realistically fail.
		return `{"kind":"error","message":"audit marshal failed"}`
	}
	return string(b)
}
