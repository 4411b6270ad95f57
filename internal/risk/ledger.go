package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger tracks committed notional per instrument and per venue. A
// reservation either fits under every applicable limit or is refused as a
// whole; there is no partial reservation.
type Ledger struct {
	mu sync.Mutex

	perInstrumentLimit decimal.Decimal
	venueLimits        map[string]decimal.Decimal

	byInstrument map[string]decimal.Decimal
	byVenue      map[string]decimal.Decimal
}

// NewLedger creates a ledger. perInstrumentLimit applies to every instrument;
// venueLimits maps venue name to its notional ceiling (absent = unlimited).
func NewLedger(perInstrumentLimit decimal.Decimal, venueLimits map[string]decimal.Decimal) *Ledger {
	limits := make(map[string]decimal.Decimal, len(venueLimits))
	for venue, limit := range venueLimits {
		limits[venue] = limit
	}
	return &Ledger{
		perInstrumentLimit: perInstrumentLimit,
		venueLimits:        limits,
		byInstrument:       make(map[string]decimal.Decimal),
		byVenue:            make(map[string]decimal.Decimal),
	}
}

// Reservation is a held slice of exposure. Release returns it to the ledger
// and is safe to call more than once; only the first call has effect.
type Reservation struct {
	ledger     *Ledger
	instrument string
	buyVenue   string
	sellVenue  string
	notional   decimal.Decimal

	once sync.Once
}

// Notional returns the reserved amount.
func (r *Reservation) Notional() decimal.Decimal {
	return r.notional
}

// Release returns the reserved notional to the ledger. Idempotent.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.ledger.release(r)
	})
}

// Reserve atomically checks notional against the instrument limit and both
// venue limits, and commits it if all pass. Returns nil and a reason when
// the reservation would breach a limit.
func (l *Ledger) Reserve(instrument, buyVenue, sellVenue string, notional decimal.Decimal) (*Reservation, string) {
	if !notional.IsPositive() {
		return nil, "non-positive notional"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perInstrumentLimit.IsPositive() {
		if l.byInstrument[instrument].Add(notional).GreaterThan(l.perInstrumentLimit) {
			return nil, fmt.Sprintf("instrument %s: committed %s + %s exceeds limit %s",
				instrument, l.byInstrument[instrument], notional, l.perInstrumentLimit)
		}
	}
	for _, venue := range []string{buyVenue, sellVenue} {
		limit, ok := l.venueLimits[venue]
		if !ok || !limit.IsPositive() {
			continue
		}
		if l.byVenue[venue].Add(notional).GreaterThan(limit) {
			return nil, fmt.Sprintf("venue %s: committed %s + %s exceeds limit %s",
				venue, l.byVenue[venue], notional, limit)
		}
	}

	l.byInstrument[instrument] = l.byInstrument[instrument].Add(notional)
	l.byVenue[buyVenue] = l.byVenue[buyVenue].Add(notional)
	l.byVenue[sellVenue] = l.byVenue[sellVenue].Add(notional)

	return &Reservation{
		ledger:     l,
		instrument: instrument,
		buyVenue:   buyVenue,
		sellVenue:  sellVenue,
		notional:   notional,
	}, ""
}

func (l *Ledger) release(r *Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.byInstrument[r.instrument] = l.byInstrument[r.instrument].Sub(r.notional)
	l.byVenue[r.buyVenue] = l.byVenue[r.buyVenue].Sub(r.notional)
	l.byVenue[r.sellVenue] = l.byVenue[r.sellVenue].Sub(r.notional)
}

// Committed returns the current committed notional for an instrument.
func (l *Ledger) Committed(instrument string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byInstrument[instrument]
}

// CommittedVenue returns the current committed notional for a venue.
func (l *Ledger) CommittedVenue(venue string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byVenue[venue]
}
