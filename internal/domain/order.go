package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is one leg submitted to a venue. ClientOrderID is supplied by
// us so retried submissions are idempotent venue-side.
type OrderRequest struct {
	ClientOrderID string
	Venue         string
	Instrument    string
	Side          string // "BUY", "SELL"
	Price         decimal.Decimal
	Size          decimal.Decimal
	CreatedAt     time.Time
}

// OrderResult is the venue's terminal answer for a single order.
type OrderResult struct {
	ClientOrderID string
	VenueOrderID  string
	Status        string // FILLED, PARTIALLY_FILLED, REJECTED
	FilledSize    decimal.Decimal
	AvgPrice      decimal.Decimal
}

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderStatusFilled          = "FILLED"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusRejected        = "REJECTED"
)

// Filled reports whether the order filled in full.
func (r OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled
}

// AnyFill reports whether any quantity was executed.
func (r OrderResult) AnyFill() bool {
	return r.FilledSize.IsPositive()
}
