package risk

import (
	"log/slog"
	"time"

	"arbitrage_go/internal/circuit"
	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Rejection reason codes recorded to the audit trail.
const (
	ReasonExpired            = "EXPIRED"
	ReasonExposureExceeded   = "EXPOSURE_EXCEEDED"
	ReasonEdgeBelowThreshold = "EDGE_BELOW_THRESHOLD"
	ReasonVenueUnavailable   = "VENUE_UNAVAILABLE"
)

// Decision is the outcome of a gate evaluation. On approval Intent and
// Reservation are set; the caller owns the reservation and must release it
// when the intent resolves.
type Decision struct {
	Approved    bool
	Reason      string
	Detail      string
	Intent      domain.ExecutionIntent
	Reservation *Reservation
}

// GateConfig tunes an execution gate.
type GateConfig struct {
	MaxQuoteAge      time.Duration
	EdgeThreshold    decimal.Decimal
	MaxOrderNotional decimal.Decimal // 0 disables the cap
}

// Gate decides whether a detected opportunity becomes an execution intent.
// All checks run against current state at evaluation time, not at detection
// time: fees may have moved and quotes may have aged since the scan.
type Gate struct {
	cfg      GateConfig
	ledger   *Ledger
	fees     *domain.FeeSchedule
	breakers map[string]*circuit.Breaker
	auditor  domain.Auditor

	clock func() time.Time
}

// NewGate creates a gate. breakers maps venue name to its order-entry
// circuit breaker; a venue with no breaker is always considered available.
func NewGate(cfg GateConfig, ledger *Ledger, fees *domain.FeeSchedule, breakers map[string]*circuit.Breaker, auditor domain.Auditor) *Gate {
	return &Gate{
		cfg:      cfg,
		ledger:   ledger,
		fees:     fees,
		breakers: breakers,
		auditor:  auditor,
		clock:    time.Now,
	}
}

// Evaluate runs the full check chain against one opportunity. Checks are
// ordered cheapest-first; the first failure wins and nothing is reserved.
func (g *Gate) Evaluate(opp domain.Opportunity) Decision {
	now := g.clock()

	if opp.Expired(now, g.cfg.MaxQuoteAge) {
		return g.reject(opp, ReasonExpired, "constituent quote older than "+g.cfg.MaxQuoteAge.String())
	}

	for _, venue := range []string{opp.BuyVenue, opp.SellVenue} {
		if br, ok := g.breakers[venue]; ok && !br.Allow() {
			return g.reject(opp, ReasonVenueUnavailable, "circuit open for "+venue)
		}
	}

	// Re-derive the edge with the fee schedule as of now.
	fee := g.fees.PairFee(opp.BuyVenue, opp.SellVenue, opp.BuyPrice, opp.SellPrice)
	edge := opp.SellPrice.Sub(opp.BuyPrice).Sub(fee)
	if edge.LessThanOrEqual(g.cfg.EdgeThreshold) {
		return g.reject(opp, ReasonEdgeBelowThreshold, "edge "+edge.String()+" at current fees")
	}

	size := opp.MaxSize
	notional := size.Mul(opp.BuyPrice)
	if g.cfg.MaxOrderNotional.IsPositive() && notional.GreaterThan(g.cfg.MaxOrderNotional) {
		// Scale the intent down to the notional cap rather than rejecting.
		size = g.cfg.MaxOrderNotional.Div(opp.BuyPrice)
		notional = g.cfg.MaxOrderNotional
	}

	res, why := g.ledger.Reserve(opp.Instrument, opp.BuyVenue, opp.SellVenue, notional)
	if res == nil {
		return g.reject(opp, ReasonExposureExceeded, why)
	}

	intent := domain.ExecutionIntent{
		ID:            uuid.NewString(),
		Opportunity:   opp,
		AllocatedSize: size,
		Notional:      notional,
		Status:        domain.IntentPending,
		CreatedAt:     now,
	}

	infra.GlobalMetrics.RecordApproval()
	if g.auditor != nil {
		g.auditor.Record(domain.AuditGateApproved, intent.ID, opp.Instrument, "", opp.String())
		g.auditor.Record(domain.AuditIntentPending, intent.ID, opp.Instrument, "",
			"size="+size.String()+" notional="+notional.String())
	}
	slog.Info("Intent approved",
		slog.String("intent_id", intent.ID),
		slog.String("instrument", opp.Instrument),
		slog.String("pair", opp.BuyVenue+"->"+opp.SellVenue),
		slog.String("size", size.String()),
		slog.String("notional", notional.String()))

	return Decision{Approved: true, Intent: intent, Reservation: res}
}

func (g *Gate) reject(opp domain.Opportunity, reason, detail string) Decision {
	infra.GlobalMetrics.RecordRejection()
	if g.auditor != nil {
		g.auditor.Record(domain.AuditGateRejected, opp.ID, opp.Instrument, "", reason+": "+detail)
	}
	slog.Debug("Opportunity rejected",
		slog.String("opportunity_id", opp.ID),
		slog.String("reason", reason),
		slog.String("detail", detail))
	return Decision{Approved: false, Reason: reason, Detail: detail}
}
