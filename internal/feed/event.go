package feed

import (
	"time"

	"arbitrage_go/internal/domain"
)

// EventType classifies events flowing from feed adapters to the aggregator.
type EventType int

const (
	// EventQuote carries a normalized quote with an adapter-assigned sequence.
	EventQuote EventType = iota + 1
	// EventDisconnected marks a venue feed as down; the aggregator excludes
	// its entries from snapshots until a fresh quote arrives.
	EventDisconnected
	// EventBackpressure signals that the adapter's bounded buffer overflowed
	// and the oldest quotes were dropped.
	EventBackpressure
)

// String returns the string representation of EventType
func (t EventType) String() string {
	switch t {
	case EventQuote:
		return "QUOTE"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventBackpressure:
		return "BACKPRESSURE"
	default:
		return "UNKNOWN"
	}
}

// Event is one message on the adapter → aggregator path.
type Event struct {
	Type  EventType
	Venue string
	Quote domain.Quote // set when Type == EventQuote
	At    time.Time
}
