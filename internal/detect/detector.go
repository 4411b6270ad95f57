package detect

import (
	"context"
	"log/slog"
	"time"

	"arbitrage_go/internal/book"
	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config tunes a Detector.
type Config struct {
	Interval      time.Duration
	EdgeThreshold decimal.Decimal // per unit, after fees
	MaxSpreadPct  decimal.Decimal // spreads above this are treated as bad data
	MinVolume     decimal.Decimal // minimum 24h volume per leg, 0 disables
	Tolerance     time.Duration   // quote staleness tolerance
	Excluded      map[string]bool
	LatencyHints  map[string]int // venue -> ms, 0/absent = unknown
}

// Detector scans aggregator snapshots on a fixed cadence and emits the best
// profitable venue pair per instrument. Scanning on a timer rather than per
// update decouples compute cost from feed bursts; the scan itself is
// deterministic for a given book state.
type Detector struct {
	agg     *book.Aggregator
	fees    *domain.FeeSchedule
	cfg     Config
	out     chan<- domain.Opportunity
	auditor domain.Auditor

	// seen tracks the constituent sequences behind the last emission per
	// (instrument, buy, sell) pair. Touched only by the scan goroutine.
	seen map[string]seenPair

	stats Stats

	clock func() time.Time
}

type seenPair struct {
	buySeq  uint64
	sellSeq uint64
}

// New creates a detector writing opportunities to out.
func New(agg *book.Aggregator, fees *domain.FeeSchedule, cfg Config, out chan<- domain.Opportunity, auditor domain.Auditor) *Detector {
	return &Detector{
		agg:     agg,
		fees:    fees,
		cfg:     cfg,
		out:     out,
		auditor: auditor,
		seen:    make(map[string]seenPair),
		clock:   time.Now,
	}
}

// Run scans on the configured cadence until ctx is done.
func (d *Detector) Run(ctx context.Context) {
	slog.Info("Detector started",
		slog.Duration("interval", d.cfg.Interval),
		slog.String("edge_threshold", d.cfg.EdgeThreshold.String()))

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	overview := time.NewTicker(time.Minute)
	defer overview.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Detector stopping...", slog.String("session", d.stats.Summary()))
			return
		case <-overview.C:
			slog.Info("Market overview", slog.String("session", d.stats.Summary()))
		case <-ticker.C:
			opps := d.Scan()
			for _, opp := range opps {
				select {
				case <-ctx.Done():
					return
				case d.out <- opp:
				}
			}
		}
	}
}

// Scan performs one deterministic pass over all instruments and returns the
// opportunities found, best edge first per instrument. Deduplicated: a pair
// already emitted is skipped until either constituent quote changes.
func (d *Detector) Scan() []domain.Opportunity {
	now := d.clock()
	var opps []domain.Opportunity

	for _, instrument := range d.agg.Instruments() {
		if d.cfg.Excluded[instrument] {
			continue
		}

		snap := d.agg.Snapshot(instrument)
		opp, ok := d.bestPair(snap, now)
		if !ok {
			continue
		}

		key := opp.PairKey()
		if prev, dup := d.seen[key]; dup && prev.buySeq == opp.BuySeq && prev.sellSeq == opp.SellSeq {
			// Unchanged underlying quotes; already emitted.
			continue
		}
		d.seen[key] = seenPair{buySeq: opp.BuySeq, sellSeq: opp.SellSeq}

		infra.GlobalMetrics.RecordOpportunity()
		d.stats.recordOpportunity(opp)
		if d.auditor != nil {
			d.auditor.Record(domain.AuditOpportunityDetected, opp.ID, opp.Instrument, "", opp.String())
		}
		opps = append(opps, opp)
	}

	d.stats.recordCycle()
	return opps
}

// bestPair computes the maximum profitable (buy, sell) venue pair for one
// snapshot. Ties on edge break on larger size, then lower combined latency
// hint, then lexicographic venue order.
func (d *Detector) bestPair(snap book.Snapshot, now time.Time) (domain.Opportunity, bool) {
	if len(snap.Quotes) < 2 {
		return domain.Opportunity{}, false
	}

	var best domain.Opportunity
	found := false

	for _, buy := range snap.Quotes {
		if !d.legEligible(buy) {
			continue
		}
		for _, sell := range snap.Quotes {
			if sell.Venue == buy.Venue || !d.legEligible(sell) {
				continue
			}

			fee := d.fees.PairFee(buy.Venue, sell.Venue, buy.AskPrice, sell.BidPrice)
			edge := sell.BidPrice.Sub(buy.AskPrice).Sub(fee)
			if edge.LessThanOrEqual(d.cfg.EdgeThreshold) {
				continue
			}

			size := decimal.Min(buy.AskSize, sell.BidSize)
			if !size.IsPositive() {
				continue
			}

			cand := domain.Opportunity{
				ID:          uuid.NewString(),
				Instrument:  snap.Instrument,
				BuyVenue:    buy.Venue,
				SellVenue:   sell.Venue,
				BuyPrice:    buy.AskPrice,
				SellPrice:   sell.BidPrice,
				MaxSize:     size,
				Edge:        edge,
				BuySeq:      buy.Seq,
				SellSeq:     sell.Seq,
				BuyQuoteAt:  buy.Timestamp,
				SellQuoteAt: sell.Timestamp,
				DetectedAt:  now,
			}

			if d.suspicious(cand) {
				slog.Warn("Suspiciously wide spread, skipping",
					slog.String("instrument", cand.Instrument),
					slog.String("spread_pct", cand.SpreadPct().String()))
				continue
			}

			if !found || d.better(cand, best) {
				best = cand
				found = true
			}
		}
	}

	return best, found
}

func (d *Detector) legEligible(q domain.Quote) bool {
	if d.cfg.MinVolume.IsPositive() && q.Volume24h.LessThan(d.cfg.MinVolume) {
		return false
	}
	return q.Valid()
}

// suspicious flags spreads wide enough to indicate broken data rather than a
// real opportunity.
func (d *Detector) suspicious(opp domain.Opportunity) bool {
	if !d.cfg.MaxSpreadPct.IsPositive() {
		return false
	}
	return opp.SpreadPct().GreaterThan(d.cfg.MaxSpreadPct)
}

// better reports whether a beats b under the deterministic ordering.
func (d *Detector) better(a, b domain.Opportunity) bool {
	if !a.Edge.Equal(b.Edge) {
		return a.Edge.GreaterThan(b.Edge)
	}
	if !a.MaxSize.Equal(b.MaxSize) {
		return a.MaxSize.GreaterThan(b.MaxSize)
	}

	la, aKnown := d.pairLatency(a)
	lb, bKnown := d.pairLatency(b)
	if aKnown && bKnown && la != lb {
		return la < lb
	}

	if a.BuyVenue != b.BuyVenue {
		return a.BuyVenue < b.BuyVenue
	}
	return a.SellVenue < b.SellVenue
}

func (d *Detector) pairLatency(opp domain.Opportunity) (int, bool) {
	buy, okB := d.cfg.LatencyHints[opp.BuyVenue]
	sell, okS := d.cfg.LatencyHints[opp.SellVenue]
	if !okB || !okS || buy <= 0 || sell <= 0 {
		return 0, false
	}
	return buy + sell, true
}

// Stats returns a copy of the session statistics.
func (d *Detector) Stats() Stats {
	return d.stats.snapshot()
}
