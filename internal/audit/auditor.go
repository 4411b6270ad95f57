package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/infra"
)

// Store is the persistence surface the auditor needs. Satisfied by
// storage.Storage.
type Store interface {
	AppendRecords(records []domain.AuditRecord) error
	RecordsByRef(ref string) ([]domain.AuditRecord, error)
	LastClock() (uint64, error)
}

// Auditor assigns a monotonic logical clock to pipeline events and persists
// them in batches. Record never blocks the calling stage and never fails it:
// on storage trouble the batch stays in memory and is retried on the next
// flush, with ordering preserved.
type Auditor struct {
	store   Store
	clock   atomic.Uint64
	flushEv time.Duration
	onFlush func(time.Time)

	mu       sync.Mutex
	pending  []domain.AuditRecord
	degraded bool
}

// New creates an auditor. The logical clock resumes from the highest clock
// already in the store, so restarts never reuse a clock value. onFlush is
// invoked after each successful flush (nil allowed).
func New(store Store, flushEvery time.Duration, onFlush func(time.Time)) (*Auditor, error) {
	last, err := store.LastClock()
	if err != nil {
		return nil, err
	}

	a := &Auditor{
		store:   store,
		flushEv: flushEvery,
		onFlush: onFlush,
	}
	a.clock.Store(last)
	return a, nil
}

// Record appends one audit record to the pending batch. The clock is drawn
// before queueing so records carry their pipeline order even if flushes
// reorder relative to wall time.
func (a *Auditor) Record(kind domain.AuditKind, ref, instrument, venue, detail string) {
	rec := domain.AuditRecord{
		Clock:      a.clock.Add(1),
		Kind:       kind,
		Ref:        ref,
		Instrument: instrument,
		Venue:      venue,
		Detail:     detail,
		At:         time.Now(),
	}

	a.mu.Lock()
	a.pending = append(a.pending, rec)
	depth := len(a.pending)
	a.mu.Unlock()

	infra.GlobalMetrics.SetAuditBacklog(int64(depth))
}

// Run flushes on a timer until ctx is done, then performs a final flush so
// shutdown never loses queued records.
func (a *Auditor) Run(ctx context.Context) {
	slog.Info("Auditor started", slog.Duration("flush_every", a.flushEv))

	ticker := time.NewTicker(a.flushEv)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Flush()
			slog.Info("Auditor stopped", slog.Uint64("last_clock", a.clock.Load()))
			return
		case <-ticker.C:
			a.Flush()
		}
	}
}

// Flush writes the pending batch to storage. On failure the batch is put
// back at the front of the queue so clock order is preserved for the retry.
func (a *Auditor) Flush() {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := a.store.AppendRecords(batch); err != nil {
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		depth := len(a.pending)
		if !a.degraded {
			a.degraded = true
			slog.Error("Audit flush failed, buffering in memory",
				slog.Int("backlog", depth),
				slog.Any("error", err))
		}
		a.mu.Unlock()
		infra.GlobalMetrics.SetAuditBacklog(int64(depth))
		return
	}

	a.mu.Lock()
	if a.degraded {
		a.degraded = false
		slog.Info("Audit storage recovered", slog.Int("flushed", len(batch)))
	}
	depth := len(a.pending)
	a.mu.Unlock()

	infra.GlobalMetrics.SetAuditBacklog(int64(depth))
	if a.onFlush != nil {
		a.onFlush(time.Now())
	}
}

// Records returns the persisted trail for one opportunity or intent ID in
// clock order, flushing first so recent events are visible.
func (a *Auditor) Records(ref string) ([]domain.AuditRecord, error) {
	a.Flush()
	return a.store.RecordsByRef(ref)
}

// Clock returns the last issued logical clock value.
func (a *Auditor) Clock() uint64 {
	return a.clock.Load()
}
