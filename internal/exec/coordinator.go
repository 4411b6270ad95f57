package exec

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"arbitrage_go/internal/circuit"
	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/infra"
	"arbitrage_go/internal/risk"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Config tunes the execution coordinator.
type Config struct {
	LegTimeout    time.Duration
	UnwindRetries int
}

// Coordinator turns approved intents into concurrent two-leg executions and
// reconciles the results. One leg failing never cancels the other: both run
// to their own completion, then the intent is settled from whatever filled.
type Coordinator struct {
	cfg      Config
	gateways map[string]domain.OrderGateway
	breakers map[string]*circuit.Breaker
	auditor  domain.Auditor
	alerter  domain.Alerter

	wg sync.WaitGroup

	clock func() time.Time
}

// legOutcome is the settled result of one leg, error included.
type legOutcome struct {
	req    domain.OrderRequest
	result domain.OrderResult
	err    error
}

// New creates a coordinator. gateways and breakers are keyed by venue name.
func New(cfg Config, gateways map[string]domain.OrderGateway, breakers map[string]*circuit.Breaker, auditor domain.Auditor, alerter domain.Alerter) *Coordinator {
	if cfg.LegTimeout <= 0 {
		cfg.LegTimeout = 10 * time.Second
	}
	if cfg.UnwindRetries <= 0 {
		cfg.UnwindRetries = 3
	}
	return &Coordinator{
		cfg:      cfg,
		gateways: gateways,
		breakers: breakers,
		auditor:  auditor,
		alerter:  alerter,
		clock:    time.Now,
	}
}

// Launch runs one intent on its own goroutine. The execution is registered
// with the coordinator before the goroutine starts, so a Wait that follows
// Launch always observes it.
func (c *Coordinator) Launch(ctx context.Context, intent domain.ExecutionIntent, reservation *risk.Reservation) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Execute(ctx, intent, reservation)
	}()
}

// Execute runs one intent to a terminal status and returns it. The
// reservation is released exactly when the intent reaches a terminal state,
// whatever path got it there. Safe to call from multiple goroutines.
func (c *Coordinator) Execute(ctx context.Context, intent domain.ExecutionIntent, reservation *risk.Reservation) domain.ExecutionIntent {
	defer func() {
		if reservation != nil {
			reservation.Release()
		}
	}()

	opp := intent.Opportunity
	buyReq := domain.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Venue:         opp.BuyVenue,
		Instrument:    opp.Instrument,
		Side:          domain.SideBuy,
		Price:         opp.BuyPrice,
		Size:          intent.AllocatedSize,
		CreatedAt:     c.clock(),
	}
	sellReq := domain.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Venue:         opp.SellVenue,
		Instrument:    opp.Instrument,
		Side:          domain.SideSell,
		Price:         opp.SellPrice,
		Size:          intent.AllocatedSize,
		CreatedAt:     c.clock(),
	}

	slog.Info("Executing intent",
		slog.String("intent_id", intent.ID),
		slog.String("instrument", opp.Instrument),
		slog.String("pair", opp.BuyVenue+"->"+opp.SellVenue),
		slog.String("size", intent.AllocatedSize.String()))

	var buy, sell legOutcome
	var g errgroup.Group
	g.Go(func() error {
		buy = c.placeLeg(ctx, intent.ID, buyReq)
		return nil
	})
	g.Go(func() error {
		sell = c.placeLeg(ctx, intent.ID, sellReq)
		return nil
	})
	_ = g.Wait()

	return c.reconcile(ctx, intent, buy, sell)
}

// placeLeg submits one order with its own timeout and records the outcome.
// Leg errors are returned in the outcome, never propagated as group errors:
// the sibling leg must not be cancelled.
func (c *Coordinator) placeLeg(ctx context.Context, intentID string, req domain.OrderRequest) legOutcome {
	gw, ok := c.gateways[req.Venue]
	if !ok {
		err := domain.NewFatalTransportError(req.Venue, "place_order", domain.ErrVenueUnavailable)
		c.auditLeg(intentID, req, domain.OrderResult{}, err)
		return legOutcome{req: req, err: err}
	}

	legCtx, cancel := context.WithTimeout(ctx, c.cfg.LegTimeout)
	defer cancel()

	result, err := gw.PlaceOrder(legCtx, req)
	if err != nil && legCtx.Err() != nil {
		// Timed out or shutting down with the order possibly resting at the
		// venue. Best-effort cancel; if it already matched, reconciliation
		// unwinds it.
		if cErr := gw.CancelOrder(context.WithoutCancel(ctx), req.ClientOrderID); cErr != nil {
			slog.Warn("Leg cancel failed",
				slog.String("venue", req.Venue),
				slog.String("client_order_id", req.ClientOrderID),
				slog.Any("error", cErr))
		}
	}
	c.recordBreaker(req.Venue, err)
	c.auditLeg(intentID, req, result, err)
	return legOutcome{req: req, result: result, err: err}
}

func (c *Coordinator) recordBreaker(venue string, err error) {
	br, ok := c.breakers[venue]
	if !ok {
		return
	}
	if err != nil {
		br.RecordFailure()
	} else {
		br.RecordSuccess()
	}
}

func (c *Coordinator) auditLeg(intentID string, req domain.OrderRequest, result domain.OrderResult, err error) {
	if c.auditor == nil {
		return
	}
	if err != nil {
		c.auditor.Record(domain.AuditLegFailed, intentID, req.Instrument, req.Venue,
			req.Side+" "+req.Size.String()+"@"+req.Price.String()+": "+err.Error())
		return
	}
	c.auditor.Record(domain.AuditLegFilled, intentID, req.Instrument, req.Venue,
		req.Side+" filled "+result.FilledSize.String()+"@"+result.AvgPrice.String()+" status="+result.Status)
}

// reconcile settles the intent from the two leg outcomes. The matched
// quantity is the minimum of the two fills; any excess on either side is
// unwound so the book ends flat.
func (c *Coordinator) reconcile(ctx context.Context, intent domain.ExecutionIntent, buy, sell legOutcome) domain.ExecutionIntent {
	buyFilled := decimal.Zero
	if buy.err == nil {
		buyFilled = buy.result.FilledSize
	}
	sellFilled := decimal.Zero
	if sell.err == nil {
		sellFilled = sell.result.FilledSize
	}

	matched := decimal.Min(buyFilled, sellFilled)
	unwindOK := true

	// Unwind runs even when ctx is already cancelled: an open one-sided
	// position must not survive shutdown.
	unwindCtx := context.WithoutCancel(ctx)
	if excess := buyFilled.Sub(matched); excess.IsPositive() {
		unwindOK = c.unwind(unwindCtx, intent, buy.req, domain.SideSell, excess) && unwindOK
	}
	if excess := sellFilled.Sub(matched); excess.IsPositive() {
		unwindOK = c.unwind(unwindCtx, intent, sell.req, domain.SideBuy, excess) && unwindOK
	}

	now := c.clock()
	intent.ResolvedAt = now

	switch {
	case matched.IsPositive() && matched.GreaterThanOrEqual(intent.AllocatedSize):
		intent.Status = domain.IntentFilled
	case matched.IsPositive():
		// Less than allocated matched, but the book is flat after unwind.
		intent.Status = domain.IntentPartiallyFilled
	default:
		intent.Status = domain.IntentFailed
	}
	if !unwindOK {
		intent.Status = domain.IntentFailed
	}

	c.settle(intent, matched, unwindOK)
	return intent
}

func (c *Coordinator) settle(intent domain.ExecutionIntent, matched decimal.Decimal, unwindOK bool) {
	switch intent.Status {
	case domain.IntentFilled, domain.IntentPartiallyFilled:
		infra.GlobalMetrics.RecordIntentFilled()
		if c.auditor != nil {
			c.auditor.Record(domain.AuditIntentFilled, intent.ID, intent.Opportunity.Instrument, "",
				"matched="+matched.String()+" status="+string(intent.Status))
		}
		slog.Info("Intent filled",
			slog.String("intent_id", intent.ID),
			slog.String("status", string(intent.Status)),
			slog.String("matched", matched.String()))
	default:
		infra.GlobalMetrics.RecordIntentFailed()
		if c.auditor != nil {
			detail := "matched=" + matched.String()
			if !unwindOK {
				detail += " unwind_failed"
			}
			c.auditor.Record(domain.AuditIntentFailed, intent.ID, intent.Opportunity.Instrument, "", detail)
		}
		slog.Warn("Intent failed",
			slog.String("intent_id", intent.ID),
			slog.String("matched", matched.String()),
			slog.Bool("unwind_ok", unwindOK))
	}
}

// unwind closes an unmatched fill by submitting the opposite side on the
// same venue, retrying with backoff up to the configured attempts. Returns
// false when the position could not be closed; that is an operator incident.
func (c *Coordinator) unwind(ctx context.Context, intent domain.ExecutionIntent, filled domain.OrderRequest, side string, size decimal.Decimal) bool {
	gw, ok := c.gateways[filled.Venue]
	if !ok {
		c.unwindFailed(ctx, intent, filled.Venue, size, "no gateway for venue")
		return false
	}

	for attempt := 1; attempt <= c.cfg.UnwindRetries; attempt++ {
		infra.GlobalMetrics.RecordUnwindAttempt()
		if c.auditor != nil {
			c.auditor.Record(domain.AuditUnwindAttempted, intent.ID, filled.Instrument, filled.Venue,
				side+" "+size.String()+" attempt="+strconv.Itoa(attempt))
		}

		req := domain.OrderRequest{
			ClientOrderID: uuid.NewString(),
			Venue:         filled.Venue,
			Instrument:    filled.Instrument,
			Side:          side,
			Price:         filled.Price,
			Size:          size,
			CreatedAt:     c.clock(),
		}

		legCtx, cancel := context.WithTimeout(ctx, c.cfg.LegTimeout)
		result, err := gw.PlaceOrder(legCtx, req)
		cancel()
		c.recordBreaker(filled.Venue, err)

		if err == nil && result.AnyFill() {
			size = size.Sub(result.FilledSize)
			if !size.IsPositive() {
				return true
			}
		}
		if err != nil {
			slog.Warn("Unwind attempt failed",
				slog.String("intent_id", intent.ID),
				slog.String("venue", filled.Venue),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		}

		if attempt < c.cfg.UnwindRetries {
			select {
			case <-ctx.Done():
				c.unwindFailed(ctx, intent, filled.Venue, size, "context cancelled")
				return false
			case <-time.After(infra.CalculateBackoff(attempt - 1)):
			}
		}
	}

	c.unwindFailed(ctx, intent, filled.Venue, size, "retries exhausted")
	return false
}

func (c *Coordinator) unwindFailed(ctx context.Context, intent domain.ExecutionIntent, venue string, size decimal.Decimal, why string) {
	infra.GlobalMetrics.RecordUnwindFailure()
	err := fmt.Errorf("%w: intent %s open %s %s on %s (%s)",
		domain.ErrUnwindFailure, intent.ID, size.String(), intent.Opportunity.Instrument, venue, why)
	if c.auditor != nil {
		c.auditor.Record(domain.AuditUnwindFailed, intent.ID, intent.Opportunity.Instrument, venue,
			"open position "+size.String()+": "+why)
	}
	slog.Error("MANUAL INTERVENTION REQUIRED",
		slog.Any("error", err),
		slog.String("intent_id", intent.ID),
		slog.String("venue", venue),
		slog.String("open_size", size.String()))
	if c.alerter != nil {
		c.alerter.Alert(ctx, err.Error())
	}
}

// Wait blocks until all launched executions have settled. Called on
// shutdown after the intent source has stopped launching.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
