package venue

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SimConfig tunes a simulated venue.
type SimConfig struct {
	// Basis-point bias applied to every mid price. Giving two sim venues
	// different biases produces persistent cross-venue discrepancies.
	PriceBiasBps int
	// Quote publish interval.
	Tick time.Duration
	// Probability in [0,1) that an order is rejected.
	RejectRate float64
	// Probability in [0,1) that an order fills only partially.
	PartialRate float64
	// Seed for the venue's price walk. Same seed, same walk.
	Seed int64
}

// Sim is a self-contained paper venue: it publishes a random-walk top of
// book and fills orders against its own quotes. Used for paper mode and
// end-to-end tests; no network involved.
type Sim struct {
	venue string
	cfg   SimConfig

	mu     sync.Mutex
	rng    *rand.Rand
	mids   map[string]decimal.Decimal
	orders map[string]domain.OrderResult // by client order ID
}

// NewSim creates a simulated venue. basePrices seeds the mid per instrument.
func NewSim(venue string, cfg SimConfig, basePrices map[string]decimal.Decimal) *Sim {
	if cfg.Tick <= 0 {
		cfg.Tick = 200 * time.Millisecond
	}
	mids := make(map[string]decimal.Decimal, len(basePrices))
	for instrument, price := range basePrices {
		mids[instrument] = price
	}
	return &Sim{
		venue:  venue,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		mids:   mids,
		orders: make(map[string]domain.OrderResult),
	}
}

// Venue returns the venue name.
func (s *Sim) Venue() string { return s.venue }

// StreamQuotes implements domain.QuoteStreamer: it publishes a fresh quote
// per instrument every tick until ctx is cancelled.
func (s *Sim) StreamQuotes(ctx context.Context, instruments []string, out chan<- domain.Quote) error {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	slog.Info("Simulated venue streaming",
		slog.String("venue", s.venue),
		slog.Int("instruments", len(instruments)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, instrument := range instruments {
				select {
				case out <- s.nextQuote(instrument):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// nextQuote advances the instrument's mid by a small random step and quotes
// a spread around it.
func (s *Sim) nextQuote(instrument string) domain.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()

	mid, ok := s.mids[instrument]
	if !ok {
		mid = decimal.NewFromInt(100)
	}

	// Random walk: +-10bps per tick, plus the venue's static bias.
	stepBps := decimal.NewFromInt(int64(s.rng.Intn(21) - 10))
	bias := decimal.NewFromInt(int64(s.cfg.PriceBiasBps))
	factor := decimal.NewFromInt(1).Add(stepBps.Add(bias).Div(decimal.NewFromInt(10_000)))
	mid = mid.Mul(factor)
	s.mids[instrument] = mid

	halfSpread := mid.Mul(decimal.NewFromFloat(0.0005)) // 5bps half-spread
	size := decimal.NewFromInt(int64(1 + s.rng.Intn(20)))

	return domain.Quote{
		Venue:      s.venue,
		Instrument: instrument,
		BidPrice:   mid.Sub(halfSpread),
		BidSize:    size,
		AskPrice:   mid.Add(halfSpread),
		AskSize:    size,
		Volume24h:  decimal.NewFromInt(1_000_000),
		Timestamp:  time.Now(),
	}
}

// PlaceOrder implements domain.OrderGateway. Fills at the requested price;
// resubmitting a known client order ID returns the original result.
func (s *Sim) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	select {
	case <-ctx.Done():
		return domain.OrderResult{}, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.orders[req.ClientOrderID]; ok {
		return prev, nil
	}

	roll := s.rng.Float64()
	result := domain.OrderResult{
		ClientOrderID: req.ClientOrderID,
		VenueOrderID:  uuid.NewString(),
	}

	switch {
	case roll < s.cfg.RejectRate:
		result.Status = domain.OrderStatusRejected
		result.FilledSize = decimal.Zero
	case roll < s.cfg.RejectRate+s.cfg.PartialRate:
		result.Status = domain.OrderStatusPartiallyFilled
		half := req.Size.Div(decimal.NewFromInt(2))
		result.FilledSize = half
		result.AvgPrice = req.Price
	default:
		result.Status = domain.OrderStatusFilled
		result.FilledSize = req.Size
		result.AvgPrice = req.Price
	}

	s.orders[req.ClientOrderID] = result
	return result, nil
}

// CancelOrder implements domain.OrderGateway. Simulated orders settle
// immediately, so cancel is a no-op for known orders.
func (s *Sim) CancelOrder(ctx context.Context, clientOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[clientOrderID]; !ok {
		return domain.NewFatalTransportError(s.venue, "cancel_order", domain.ErrVenueUnavailable)
	}
	return nil
}
