package risk

import (
	"testing"
	"time"

	"arbitrage_go/internal/circuit"
	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedAudit struct {
	kind   domain.AuditKind
	ref    string
	detail string
}

type fakeAuditor struct {
	records []recordedAudit
}

func (f *fakeAuditor) Record(kind domain.AuditKind, ref, instrument, venue, detail string) {
	f.records = append(f.records, recordedAudit{kind: kind, ref: ref, detail: detail})
}

func (f *fakeAuditor) kinds() []domain.AuditKind {
	out := make([]domain.AuditKind, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.kind)
	}
	return out
}

func testOpportunity(age time.Duration) domain.Opportunity {
	at := time.Now().Add(-age)
	return domain.Opportunity{
		ID:          "opp-1",
		Instrument:  "AVAX-USDT",
		BuyVenue:    "alpha",
		SellVenue:   "beta",
		BuyPrice:    d(100.0),
		SellPrice:   d(100.5),
		MaxSize:     d(5),
		Edge:        d(0.4),
		BuySeq:      1,
		SellSeq:     1,
		BuyQuoteAt:  at,
		SellQuoteAt: at,
		DetectedAt:  at,
	}
}

func newTestGate(cfg GateConfig, fees *domain.FeeSchedule, breakers map[string]*circuit.Breaker, auditor domain.Auditor) *Gate {
	if cfg.MaxQuoteAge == 0 {
		cfg.MaxQuoteAge = 5 * time.Second
	}
	ledger := NewLedger(d(10_000), nil)
	if fees == nil {
		fees = domain.NewFeeSchedule(decimal.Zero)
	}
	return NewGate(cfg, ledger, fees, breakers, auditor)
}

func TestGate_ApprovesAndReserves(t *testing.T) {
	auditor := &fakeAuditor{}
	gate := newTestGate(GateConfig{}, nil, nil, auditor)

	decision := gate.Evaluate(testOpportunity(0))
	require.True(t, decision.Approved, decision.Detail)
	require.NotNil(t, decision.Reservation)

	assert.Equal(t, domain.IntentPending, decision.Intent.Status)
	assert.True(t, decision.Intent.AllocatedSize.Equal(d(5)))
	assert.True(t, decision.Intent.Notional.Equal(d(500)), "notional = size * buy price")
	assert.Equal(t,
		[]domain.AuditKind{domain.AuditGateApproved, domain.AuditIntentPending},
		auditor.kinds())

	// Exposure is held until the reservation is released.
	assert.True(t, gate.ledger.Committed("AVAX-USDT").Equal(d(500)))
	decision.Reservation.Release()
	assert.True(t, gate.ledger.Committed("AVAX-USDT").IsZero())
}

func TestGate_RejectsExpiredOpportunity(t *testing.T) {
	auditor := &fakeAuditor{}
	gate := newTestGate(GateConfig{MaxQuoteAge: 5 * time.Second}, nil, nil, auditor)

	decision := gate.Evaluate(testOpportunity(30 * time.Second))
	require.False(t, decision.Approved)
	assert.Equal(t, ReasonExpired, decision.Reason)
	assert.Nil(t, decision.Reservation)
	assert.Equal(t, []domain.AuditKind{domain.AuditGateRejected}, auditor.kinds())
	assert.True(t, gate.ledger.Committed("AVAX-USDT").IsZero(), "rejection must not reserve")
}

func TestGate_RejectsWhenBreakerOpen(t *testing.T) {
	br := circuit.NewBreaker("beta", 1, time.Hour)
	br.RecordFailure()
	require.Equal(t, circuit.StateOpen, br.State())

	gate := newTestGate(GateConfig{}, nil, map[string]*circuit.Breaker{"beta": br}, nil)

	decision := gate.Evaluate(testOpportunity(0))
	require.False(t, decision.Approved)
	assert.Equal(t, ReasonVenueUnavailable, decision.Reason)
	assert.Contains(t, decision.Detail, "beta")
}

func TestGate_RejectsWhenFeesMovedAgainstEdge(t *testing.T) {
	// Edge was 0.4 net at detection; a fee bump to 0.5% per leg eats it.
	fees := domain.NewFeeSchedule(decimal.Zero)
	fees.SetTakerPct("alpha", d(0.5))
	fees.SetTakerPct("beta", d(0.5))

	gate := newTestGate(GateConfig{}, fees, nil, nil)

	decision := gate.Evaluate(testOpportunity(0))
	require.False(t, decision.Approved)
	assert.Equal(t, ReasonEdgeBelowThreshold, decision.Reason)
}

func TestGate_RejectsWhenExposureExhausted(t *testing.T) {
	gate := newTestGate(GateConfig{}, nil, nil, nil)

	first := gate.Evaluate(testOpportunity(0))
	require.True(t, first.Approved)

	// Drain the remaining instrument headroom.
	res, _ := gate.ledger.Reserve("AVAX-USDT", "alpha", "beta", d(9_400))
	require.NotNil(t, res)

	second := gate.Evaluate(testOpportunity(0))
	require.False(t, second.Approved)
	assert.Equal(t, ReasonExposureExceeded, second.Reason)

	// Releasing makes room again.
	res.Release()
	third := gate.Evaluate(testOpportunity(0))
	assert.True(t, third.Approved)
}

func TestGate_CapsSizeAtMaxOrderNotional(t *testing.T) {
	gate := newTestGate(GateConfig{MaxOrderNotional: d(200)}, nil, nil, nil)

	decision := gate.Evaluate(testOpportunity(0))
	require.True(t, decision.Approved)
	assert.True(t, decision.Intent.Notional.Equal(d(200)))
	assert.True(t, decision.Intent.AllocatedSize.Equal(d(2)), "200 notional at 100.0 buys 2 units")
}
