package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"arbitrage_go/internal/book"
	"arbitrage_go/internal/circuit"
	"arbitrage_go/internal/detect"
	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/exec"
	"arbitrage_go/internal/feed"
	"arbitrage_go/internal/infra"
	"arbitrage_go/internal/risk"
	"arbitrage_go/internal/venue"

	"github.com/shopspring/decimal"
)

const (
	aggregatorInboxSize = 1024
	adapterBufferSize   = 256
	opportunityBuffer   = 64
	notifyBuffer        = 64

	breakerThreshold = 3
	breakerCooldown  = 30 * time.Second
)

// Pipeline wires the full detection and execution flow: feed adapters into
// the aggregator, the detector over aggregator snapshots, the risk gate on
// the detector's output, and the coordinator behind the gate. Notifications
// run on their own lane so a slow Telegram call never delays execution.
type Pipeline struct {
	cfg      *infra.Config
	boot     *Bootstrap
	agg      *book.Aggregator
	adapters []*feed.Adapter
	detector *detect.Detector
	gate     *risk.Gate
	coord    *exec.Coordinator
	poller   *risk.FeePoller

	opps     chan domain.Opportunity
	notifyCh chan domain.Opportunity

	wg sync.WaitGroup
}

// NewPipeline assembles the pipeline from bootstrapped components. A venue
// with a ws_url streams real market data; order entry always runs against
// the paper gateway. Venues without a ws_url are fully simulated, with a
// small per-venue price bias so discrepancies actually occur.
func NewPipeline(boot *Bootstrap) *Pipeline {
	cfg := boot.Config

	maxAge := time.Duration(cfg.Risk.MaxQuoteAgeSec) * time.Second
	agg := book.New(aggregatorInboxSize, maxAge, boot.Auditor)

	breakers := make(map[string]*circuit.Breaker, len(cfg.Venues))
	gateways := make(map[string]domain.OrderGateway, len(cfg.Venues))
	venueLimits := make(map[string]decimal.Decimal, len(cfg.Venues))
	latencyHints := make(map[string]int, len(cfg.Venues))
	adapters := make([]*feed.Adapter, 0, len(cfg.Venues))

	for i, vc := range cfg.Venues {
		breakers[vc.Name] = circuit.NewBreaker(vc.Name, breakerThreshold, breakerCooldown)
		if vc.ExposureLimit.IsPositive() {
			venueLimits[vc.Name] = vc.ExposureLimit
		}
		if vc.LatencyMSHint > 0 {
			latencyHints[vc.Name] = vc.LatencyMSHint
		}

		var paper domain.VenueClient = venue.NewSim(vc.Name, venue.SimConfig{
			PriceBiasBps: (i - len(cfg.Venues)/2) * 3,
			Seed:         int64(i + 1),
		}, basePrices(cfg.Instruments))
		gateways[vc.Name] = paper

		var streamer domain.QuoteStreamer = paper
		if vc.WSURL != "" {
			streamer = venue.NewWSStreamer(vc.Name, vc.WSURL)
		}
		adapters = append(adapters,
			feed.NewAdapter(streamer, cfg.Instruments, agg.Inbox(), adapterBufferSize))
	}

	interval := 500 * time.Millisecond
	if cfg.Detect.IntervalMS > 0 {
		interval = time.Duration(cfg.Detect.IntervalMS) * time.Millisecond
	}

	opps := make(chan domain.Opportunity, opportunityBuffer)
	detector := detect.New(agg, boot.Fees, detect.Config{
		Interval:      interval,
		EdgeThreshold: cfg.Detect.EdgeThreshold,
		MaxSpreadPct:  cfg.Detect.MaxSpreadPct,
		MinVolume:     cfg.Detect.MinVolume,
		Tolerance:     maxAge,
		Excluded:      cfg.ExcludedSet(),
		LatencyHints:  latencyHints,
	}, opps, boot.Auditor)

	ledger := risk.NewLedger(cfg.Risk.PerInstrumentLimit, venueLimits)
	gate := risk.NewGate(risk.GateConfig{
		MaxQuoteAge:      maxAge,
		EdgeThreshold:    cfg.Detect.EdgeThreshold,
		MaxOrderNotional: cfg.Risk.MaxOrderNotional,
	}, ledger, boot.Fees, breakers, boot.Auditor)

	coord := exec.New(exec.Config{
		LegTimeout:    time.Duration(cfg.Exec.LegTimeoutSec) * time.Second,
		UnwindRetries: cfg.Exec.UnwindRetries,
	}, gateways, breakers, boot.Auditor, boot.Notifier)

	var poller *risk.FeePoller
	if cfg.Fees.RefreshURL != "" {
		poller = risk.NewFeePoller(boot.Fees, cfg.Fees.RefreshURL, cfg.Fees.PollSec)
	}

	return &Pipeline{
		cfg:      cfg,
		boot:     boot,
		agg:      agg,
		adapters: adapters,
		detector: detector,
		gate:     gate,
		coord:    coord,
		poller:   poller,
		opps:     opps,
		notifyCh: make(chan domain.Opportunity, notifyBuffer),
	}
}

// Run starts every stage and blocks until ctx is cancelled, then drains in
// dependency order so no in-flight intent or audit record is lost.
func (p *Pipeline) Run(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.boot.Auditor.Run(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.agg.Run(ctx)
	}()

	for _, adapter := range p.adapters {
		adapter.Start(ctx)
	}

	if p.poller != nil {
		if err := p.poller.Start(ctx); err != nil {
			slog.Error("Failed to start fee poller", slog.Any("error", err))
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.detector.Run(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.gateLoop(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.notifyLoop(ctx)
	}()

	slog.Info("Pipeline running",
		slog.Int("venues", len(p.adapters)),
		slog.Int("instruments", len(p.cfg.Instruments)))

	<-ctx.Done()
	p.shutdown()
}

// gateLoop evaluates detected opportunities and hands approvals to the
// coordinator. Executions run concurrently; the gate never waits on a venue.
func (p *Pipeline) gateLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case opp := <-p.opps:
			select {
			case p.notifyCh <- opp:
			default:
				// Notification lane full; alerts are best-effort.
			}

			decision := p.gate.Evaluate(opp)
			if !decision.Approved {
				continue
			}
			p.coord.Launch(ctx, decision.Intent, decision.Reservation)
		}
	}
}

// notifyLoop batches queued opportunities and pushes them to Telegram off
// the hot path.
func (p *Pipeline) notifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case first := <-p.notifyCh:
			batch := []domain.Opportunity{first}
		drain:
			for len(batch) < notifyBuffer {
				select {
				case opp := <-p.notifyCh:
					batch = append(batch, opp)
				default:
					break drain
				}
			}
			p.boot.Notifier.NotifyOpportunities(ctx, batch)
		}
	}
}

func (p *Pipeline) shutdown() {
	slog.Info("Pipeline shutting down...")

	for _, adapter := range p.adapters {
		adapter.Stop()
	}
	if p.poller != nil {
		p.poller.Stop()
	}

	// Stop the loops first so nothing launches a new execution, then let the
	// in-flight ones settle (unwinds included) and make sure their audit
	// records hit the store.
	p.wg.Wait()
	p.coord.Wait()
	p.boot.Auditor.Flush()

	snap := infra.GlobalMetrics.Snapshot()
	slog.Info("Pipeline stopped",
		slog.Uint64("quotes_ingested", snap.QuotesIngested),
		slog.Uint64("opportunities", snap.Opportunities),
		slog.Uint64("intents_approved", snap.IntentsApproved),
		slog.Uint64("intents_filled", snap.IntentsFilled),
		slog.Uint64("intents_failed", snap.IntentsFailed),
		slog.Uint64("unwind_failures", snap.UnwindFailures))
}

// basePrices seeds simulated venues with plausible starting mids.
func basePrices(instruments []string) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(instruments))
	for i, instrument := range instruments {
		prices[instrument] = decimal.NewFromInt(int64(50 + 25*i))
	}
	return prices
}
