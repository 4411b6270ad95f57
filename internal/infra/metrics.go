package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	quotesIngested  atomic.Uint64
	quotesDropped   atomic.Uint64
	quotesRejected  atomic.Uint64 // stale sequence
	opportunities   atomic.Uint64
	intentsApproved atomic.Uint64
	intentsRejected atomic.Uint64
	intentsFilled   atomic.Uint64
	intentsFailed   atomic.Uint64
	unwindAttempts  atomic.Uint64
	unwindFailures  atomic.Uint64

	// Gauges
	activeFeeds  atomic.Int32
	auditBacklog atomic.Int64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

func (m *Metrics) RecordQuoteIngested() { m.quotesIngested.Add(1) }
func (m *Metrics) RecordQuoteDropped()  { m.quotesDropped.Add(1) }
func (m *Metrics) RecordQuoteRejected() { m.quotesRejected.Add(1) }
func (m *Metrics) RecordOpportunity()   { m.opportunities.Add(1) }
func (m *Metrics) RecordApproval()      { m.intentsApproved.Add(1) }
func (m *Metrics) RecordRejection()     { m.intentsRejected.Add(1) }
func (m *Metrics) RecordIntentFilled()  { m.intentsFilled.Add(1) }
func (m *Metrics) RecordIntentFailed()  { m.intentsFailed.Add(1) }
func (m *Metrics) RecordUnwindAttempt() { m.unwindAttempts.Add(1) }
func (m *Metrics) RecordUnwindFailure() { m.unwindFailures.Add(1) }

// IncrementFeeds increments active feed connections by 1.
func (m *Metrics) IncrementFeeds() { m.activeFeeds.Add(1) }

// DecrementFeeds decrements active feed connections by 1.
func (m *Metrics) DecrementFeeds() { m.activeFeeds.Add(-1) }

// SetAuditBacklog sets the current unflushed audit record count.
func (m *Metrics) SetAuditBacklog(depth int64) { m.auditBacklog.Store(depth) }

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	QuotesIngested  uint64
	QuotesDropped   uint64
	QuotesRejected  uint64
	Opportunities   uint64
	IntentsApproved uint64
	IntentsRejected uint64
	IntentsFilled   uint64
	IntentsFailed   uint64
	UnwindAttempts  uint64
	UnwindFailures  uint64
	ActiveFeeds     int32
	AuditBacklog    int64
	Timestamp       time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		QuotesIngested:  m.quotesIngested.Load(),
		QuotesDropped:   m.quotesDropped.Load(),
		QuotesRejected:  m.quotesRejected.Load(),
		Opportunities:   m.opportunities.Load(),
		IntentsApproved: m.intentsApproved.Load(),
		IntentsRejected: m.intentsRejected.Load(),
		IntentsFilled:   m.intentsFilled.Load(),
		IntentsFailed:   m.intentsFailed.Load(),
		UnwindAttempts:  m.unwindAttempts.Load(),
		UnwindFailures:  m.unwindFailures.Load(),
		ActiveFeeds:     m.activeFeeds.Load(),
		AuditBacklog:    m.auditBacklog.Load(),
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.quotesIngested.Store(0)
	m.quotesDropped.Store(0)
	m.quotesRejected.Store(0)
	m.opportunities.Store(0)
	m.intentsApproved.Store(0)
	m.intentsRejected.Store(0)
	m.intentsFilled.Store(0)
	m.intentsFailed.Store(0)
	m.unwindAttempts.Store(0)
	m.unwindFailures.Store(0)
	m.activeFeeds.Store(0)
	m.auditBacklog.Store(0)
}
