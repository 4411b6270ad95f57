package domain

import (
	"sync"

	"github.com/shopspring/decimal"
)

// FeeSchedule holds per-venue taker fee rates in percent. Rates change
// independently of prices, so the gate re-reads the schedule at evaluation
// time. Safe for concurrent use.
type FeeSchedule struct {
	mu         sync.RWMutex
	takerPct   map[string]decimal.Decimal
	defaultPct decimal.Decimal
}

// NewFeeSchedule creates a schedule with a fallback rate for venues without
// an explicit entry.
func NewFeeSchedule(defaultPct decimal.Decimal) *FeeSchedule {
	return &FeeSchedule{
		takerPct:   make(map[string]decimal.Decimal),
		defaultPct: defaultPct,
	}
}

// SetTakerPct sets the taker rate for a venue.
func (f *FeeSchedule) SetTakerPct(venue string, pct decimal.Decimal) {
	f.mu.Lock()
	f.takerPct[venue] = pct
	f.mu.Unlock()
}

// TakerPct returns the taker rate for a venue, falling back to the default.
func (f *FeeSchedule) TakerPct(venue string) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if pct, ok := f.takerPct[venue]; ok {
		return pct
	}
	return f.defaultPct
}

// PairFee returns the estimated per-unit cost of crossing both legs: the buy
// leg charged on the ask, the sell leg on the bid.
func (f *FeeSchedule) PairFee(buyVenue, sellVenue string, buyPrice, sellPrice decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	buyFee := buyPrice.Mul(f.TakerPct(buyVenue)).Div(hundred)
	sellFee := sellPrice.Mul(f.TakerPct(sellVenue)).Div(hundred)
	return buyFee.Add(sellFee)
}

// AvgPct returns the mean of the two venues' taker rates, used for rough
// profit estimates in notifications.
func (f *FeeSchedule) AvgPct(buyVenue, sellVenue string) decimal.Decimal {
	return f.TakerPct(buyVenue).Add(f.TakerPct(sellVenue)).Div(decimal.NewFromInt(2))
}
