package detect

import (
	"fmt"
	"sync"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Stats accumulates per-session detection counters for the periodic market
// overview log and the shutdown summary.
type Stats struct {
	mu sync.Mutex

	StartedAt       time.Time
	CyclesCompleted uint64
	Opportunities   uint64
	BestSpreadPct   decimal.Decimal
	BestPair        string
}

func (s *Stats) recordCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	s.CyclesCompleted++
}

func (s *Stats) recordOpportunity(opp domain.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Opportunities++

	spread := opp.SpreadPct()
	if spread.GreaterThan(s.BestSpreadPct) {
		s.BestSpreadPct = spread
		s.BestPair = opp.PairKey()
	}
}

func (s *Stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		StartedAt:       s.StartedAt,
		CyclesCompleted: s.CyclesCompleted,
		Opportunities:   s.Opportunities,
		BestSpreadPct:   s.BestSpreadPct,
		BestPair:        s.BestPair,
	}
}

// Summary renders a one-line session recap.
func (s *Stats) Summary() string {
	snap := s.snapshot()

	runtime := time.Duration(0)
	if !snap.StartedAt.IsZero() {
		runtime = time.Since(snap.StartedAt).Round(time.Second)
	}

	perCycle := 0.0
	if snap.CyclesCompleted > 0 {
		perCycle = float64(snap.Opportunities) / float64(snap.CyclesCompleted)
	}

	return fmt.Sprintf("runtime=%s cycles=%d opportunities=%d avg_per_cycle=%.2f best_spread_pct=%s best_pair=%s",
		runtime, snap.CyclesCompleted, snap.Opportunities, perCycle,
		snap.BestSpreadPct.StringFixed(2), snap.BestPair)
}
