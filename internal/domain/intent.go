package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus is the lifecycle state of an ExecutionIntent.
type IntentStatus string

const (
	IntentPending         IntentStatus = "PENDING"
	IntentPartiallyFilled IntentStatus = "PARTIALLY_FILLED"
	IntentFilled          IntentStatus = "FILLED"
	IntentFailed          IntentStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s IntentStatus) Terminal() bool {
	return s == IntentFilled || s == IntentPartiallyFilled || s == IntentFailed
}

// ExecutionIntent is an approved opportunity with allocated size. Created by
// the risk gate, mutated only by the execution coordinator, terminal once
// Status is Filled, PartiallyFilled or Failed.
type ExecutionIntent struct {
	ID            string          `json:"id"`
	Opportunity   Opportunity     `json:"opportunity"`
	AllocatedSize decimal.Decimal `json:"allocated_size"`
	Notional      decimal.Decimal `json:"notional"` // AllocatedSize * BuyPrice
	Status        IntentStatus    `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    time.Time       `json:"resolved_at"`
}
