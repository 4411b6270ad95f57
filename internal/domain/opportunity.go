package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a detected cross-venue price discrepancy: buy at BuyVenue's
// ask, sell at SellVenue's bid, with Edge already net of estimated fees.
// Derived data; it is only meaningful within the staleness tolerance of its
// constituent quotes.
type Opportunity struct {
	ID          string          `json:"id"`
	Instrument  string          `json:"instrument"`
	BuyVenue    string          `json:"buy_venue"`
	SellVenue   string          `json:"sell_venue"`
	BuyPrice    decimal.Decimal `json:"buy_price"`
	SellPrice   decimal.Decimal `json:"sell_price"`
	MaxSize     decimal.Decimal `json:"max_size"`
	Edge        decimal.Decimal `json:"edge"` // per unit, after fees
	BuySeq      uint64          `json:"buy_seq"`
	SellSeq     uint64          `json:"sell_seq"`
	BuyQuoteAt  time.Time       `json:"buy_quote_at"`
	SellQuoteAt time.Time       `json:"sell_quote_at"`
	DetectedAt  time.Time       `json:"detected_at"`
}

// PairKey identifies the (instrument, buy_venue, sell_venue) combination.
// Used for detection dedup and notification cooldowns.
func (o Opportunity) PairKey() string {
	return o.Instrument + "|" + o.BuyVenue + "|" + o.SellVenue
}

// SpreadPct returns the gross spread as a percentage of the buy price.
func (o Opportunity) SpreadPct() decimal.Decimal {
	if o.BuyPrice.IsZero() {
		return decimal.Zero
	}
	return o.SellPrice.Sub(o.BuyPrice).Div(o.BuyPrice).Mul(decimal.NewFromInt(100))
}

// Expired reports whether either constituent quote is past tolerance at now.
func (o Opportunity) Expired(now time.Time, tolerance time.Duration) bool {
	return now.Sub(o.BuyQuoteAt) > tolerance || now.Sub(o.SellQuoteAt) > tolerance
}

// ProfitEstimate is a quick what-if for a given notional trade amount.
type ProfitEstimate struct {
	Notional      decimal.Decimal `json:"notional"`
	Quantity      decimal.Decimal `json:"quantity"`
	GrossProfit   decimal.Decimal `json:"gross_profit"`
	EstimatedFees decimal.Decimal `json:"estimated_fees"`
	NetProfit     decimal.Decimal `json:"net_profit"`
	ROIPct        decimal.Decimal `json:"roi_pct"`
}

// EstimateProfit computes the expected outcome of deploying notional at the
// opportunity's prices, charging feePct of notional on each leg.
func (o Opportunity) EstimateProfit(notional, feePct decimal.Decimal) ProfitEstimate {
	if o.BuyPrice.IsZero() || notional.IsZero() {
		return ProfitEstimate{Notional: notional}
	}
	qty := notional.Div(o.BuyPrice)
	revenue := qty.Mul(o.SellPrice)
	gross := revenue.Sub(notional)
	fees := notional.Mul(feePct).Div(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(2))
	net := gross.Sub(fees)
	roi := net.Div(notional).Mul(decimal.NewFromInt(100))

	return ProfitEstimate{
		Notional:      notional,
		Quantity:      qty,
		GrossProfit:   gross,
		EstimatedFees: fees,
		NetProfit:     net,
		ROIPct:        roi,
	}
}

func (o Opportunity) String() string {
	return fmt.Sprintf("%s: buy %s@%s sell %s@%s edge=%s size=%s",
		o.Instrument, o.BuyVenue, o.BuyPrice, o.SellVenue, o.SellPrice, o.Edge, o.MaxSize)
}
