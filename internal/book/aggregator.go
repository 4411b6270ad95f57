package book

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/feed"
	"arbitrage_go/internal/infra"
)

// Snapshot is an immutable point-in-time view of one instrument's per-venue
// quotes. Only live entries are included: stale quotes and quotes from
// disconnected venues are excluded and the venues listed separately.
type Snapshot struct {
	Instrument  string
	Quotes      []domain.Quote // sorted by venue for deterministic scans
	StaleVenues []string
	TakenAt     time.Time
}

// Aggregator maintains the canonical cross-venue book. It is the single
// mutation point: all updates flow through one inbox consumed by Run, while
// snapshots are served concurrently via copy-on-read.
type Aggregator struct {
	inbox   chan feed.Event
	maxAge  time.Duration
	auditor domain.Auditor

	mu    sync.RWMutex
	books map[string]map[string]domain.Quote // instrument -> venue -> latest
	down  map[string]bool                    // venue -> feed disconnected

	clock func() time.Time
}

// New creates an aggregator. maxAge is the staleness tolerance applied at
// snapshot time.
func New(inboxSize int, maxAge time.Duration, auditor domain.Auditor) *Aggregator {
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	return &Aggregator{
		inbox:   make(chan feed.Event, inboxSize),
		maxAge:  maxAge,
		auditor: auditor,
		books:   make(map[string]map[string]domain.Quote),
		down:    make(map[string]bool),
		clock:   time.Now,
	}
}

// Inbox returns the event channel. Feed adapters send events here.
func (a *Aggregator) Inbox() chan<- feed.Event {
	return a.inbox
}

// Run consumes the inbox until ctx is done. This MUST be the only goroutine
// calling Apply.
func (a *Aggregator) Run(ctx context.Context) {
	slog.Info("Aggregator started", slog.Duration("max_quote_age", a.maxAge))
	for {
		select {
		case <-ctx.Done():
			slog.Info("Aggregator stopping...")
			return
		case ev := <-a.inbox:
			a.Apply(ev)
		}
	}
}

// Apply processes one feed event. Exposed for Run and for deterministic
// tests; mutation is serialized through the write lock.
func (a *Aggregator) Apply(ev feed.Event) {
	switch ev.Type {
	case feed.EventQuote:
		a.applyQuote(ev.Quote)
	case feed.EventDisconnected:
		a.markDown(ev.Venue)
	case feed.EventBackpressure:
		if a.auditor != nil {
			a.auditor.Record(domain.AuditBackpressure, "", "", ev.Venue, "feed buffer overflow")
		}
	default:
		slog.Warn("Unknown feed event type", slog.Any("type", ev.Type))
	}
}

func (a *Aggregator) applyQuote(q domain.Quote) {
	a.mu.Lock()
	defer a.mu.Unlock()

	venues, ok := a.books[q.Instrument]
	if !ok {
		venues = make(map[string]domain.Quote)
		a.books[q.Instrument] = venues
	}

	if prev, ok := venues[q.Venue]; ok && q.Seq <= prev.Seq {
		// Out-of-order or duplicate delivery; the stored quote is newer.
		infra.GlobalMetrics.RecordQuoteRejected()
		slog.Debug("Rejected stale-sequence quote",
			slog.String("venue", q.Venue),
			slog.String("instrument", q.Instrument),
			slog.Uint64("seq", q.Seq),
			slog.Uint64("stored_seq", prev.Seq))
		return
	}

	venues[q.Venue] = q
	// A fresh quote brings a disconnected venue back.
	delete(a.down, q.Venue)
}

func (a *Aggregator) markDown(venue string) {
	a.mu.Lock()
	a.down[venue] = true
	a.mu.Unlock()

	if a.auditor != nil {
		a.auditor.Record(domain.AuditFeedDisconnected, "", "", venue, "feed disconnected, entries excluded")
	}
}

// Snapshot returns an immutable copy of the instrument's live per-venue
// quotes. Concurrent updates never mutate a snapshot already handed out.
func (a *Aggregator) Snapshot(instrument string) Snapshot {
	now := a.clock()

	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := Snapshot{Instrument: instrument, TakenAt: now}
	venues, ok := a.books[instrument]
	if !ok {
		return snap
	}

	for venue, q := range venues {
		if a.down[venue] {
			snap.StaleVenues = append(snap.StaleVenues, venue)
			continue
		}
		if q.Stale(now, a.maxAge) {
			snap.StaleVenues = append(snap.StaleVenues, venue)
			continue
		}
		snap.Quotes = append(snap.Quotes, q)
	}

	sort.Slice(snap.Quotes, func(i, j int) bool {
		return snap.Quotes[i].Venue < snap.Quotes[j].Venue
	})
	sort.Strings(snap.StaleVenues)

	return snap
}

// Instruments returns all instruments seen so far, sorted.
func (a *Aggregator) Instruments() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]string, 0, len(a.books))
	for instrument := range a.books {
		result = append(result, instrument)
	}
	sort.Strings(result)
	return result
}
