package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a venue's best bid/ask for one instrument at a point in time.
// Immutable once produced. A newer quote supersedes an older one only when
// its Seq is strictly greater for the same (Venue, Instrument).
type Quote struct {
	Venue      string          `json:"venue"`
	Instrument string          `json:"instrument"`
	BidPrice   decimal.Decimal `json:"bid_price"`
	BidSize    decimal.Decimal `json:"bid_size"`
	AskPrice   decimal.Decimal `json:"ask_price"`
	AskSize    decimal.Decimal `json:"ask_size"`
	Volume24h  decimal.Decimal `json:"volume_24h"`
	Timestamp  time.Time       `json:"timestamp"`
	Seq        uint64          `json:"seq"`
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// Stale reports whether the quote is older than maxAge at now.
func (q Quote) Stale(now time.Time, maxAge time.Duration) bool {
	return q.Age(now) > maxAge
}

// Valid rejects obviously broken data: non-positive prices or a crossed
// bid/ask from the same venue.
func (q Quote) Valid() bool {
	if !q.BidPrice.IsPositive() || !q.AskPrice.IsPositive() {
		return false
	}
	if q.BidSize.IsNegative() || q.AskSize.IsNegative() {
		return false
	}
	return true
}
