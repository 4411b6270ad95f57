package audit

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/infra/storage"
)

func newTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return store
}

func TestAuditor_RecordAssignsMonotonicClock(t *testing.T) {
	a, err := New(newTestStore(t), time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}

	a.Record(domain.AuditOpportunityDetected, "opp-1", "AVAX-USDT", "", "first")
	a.Record(domain.AuditGateApproved, "opp-1", "AVAX-USDT", "", "second")
	a.Record(domain.AuditIntentFilled, "opp-1", "AVAX-USDT", "", "third")

	records, err := a.Records("opp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.Clock != uint64(i+1) {
			t.Errorf("record %d: clock = %d, want %d", i, rec.Clock, i+1)
		}
	}
}

func TestAuditor_ClockResumesAcrossRestart(t *testing.T) {
	store := newTestStore(t)

	a1, err := New(store, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	a1.Record(domain.AuditOpportunityDetected, "opp-1", "AVAX-USDT", "", "")
	a1.Record(domain.AuditGateRejected, "opp-1", "AVAX-USDT", "", "")
	a1.Flush()

	// A second auditor over the same store must not reuse clock values.
	a2, err := New(store, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a2.Clock() != 2 {
		t.Fatalf("resumed clock = %d, want 2", a2.Clock())
	}
	a2.Record(domain.AuditIntentFilled, "opp-1", "AVAX-USDT", "", "")
	a2.Flush()

	records, err := store.RecordsByRef("opp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 || records[2].Clock != 3 {
		t.Fatalf("expected clocks 1..3, got %+v", records)
	}
}

// flakyStore fails AppendRecords until healed.
type flakyStore struct {
	mu      sync.Mutex
	failing bool
	saved   []domain.AuditRecord
}

func (f *flakyStore) AppendRecords(records []domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("disk full")
	}
	f.saved = append(f.saved, records...)
	return nil
}

func (f *flakyStore) RecordsByRef(ref string) ([]domain.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AuditRecord
	for _, r := range f.saved {
		if r.Ref == ref {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *flakyStore) LastClock() (uint64, error) { return 0, nil }

func (f *flakyStore) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func TestAuditor_BuffersThroughStorageOutage(t *testing.T) {
	store := &flakyStore{failing: true}
	a, err := New(store, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}

	a.Record(domain.AuditOpportunityDetected, "opp-1", "AVAX-USDT", "", "during outage 1")
	a.Flush() // fails, record stays buffered
	a.Record(domain.AuditGateApproved, "opp-1", "AVAX-USDT", "", "during outage 2")
	a.Flush() // fails again

	if len(store.saved) != 0 {
		t.Fatalf("nothing should persist during the outage, got %d", len(store.saved))
	}

	store.setFailing(false)
	a.Record(domain.AuditIntentFilled, "opp-1", "AVAX-USDT", "", "after recovery")
	a.Flush()

	records, _ := store.RecordsByRef("opp-1")
	if len(records) != 3 {
		t.Fatalf("expected all 3 records after recovery, got %d", len(records))
	}
	// Buffered records land before the post-recovery one, clock order intact.
	for i, rec := range records {
		if rec.Clock != uint64(i+1) {
			t.Errorf("record %d: clock = %d, want %d", i, rec.Clock, i+1)
		}
	}
}

func TestAuditor_OnFlushFiresOnlyOnSuccess(t *testing.T) {
	store := &flakyStore{failing: true}

	var mu sync.Mutex
	beats := 0
	a, err := New(store, time.Second, func(time.Time) {
		mu.Lock()
		beats++
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	a.Record(domain.AuditOpportunityDetected, "opp-1", "AVAX-USDT", "", "")
	a.Flush()
	if beats != 0 {
		t.Fatal("onFlush must not fire on a failed flush")
	}

	store.setFailing(false)
	a.Flush()
	if beats != 1 {
		t.Fatalf("onFlush fires once per successful flush, got %d", beats)
	}

	// Empty flushes do not beat.
	a.Flush()
	if beats != 1 {
		t.Fatalf("empty flush must not beat, got %d", beats)
	}
}

func TestAuditor_ConcurrentRecorders(t *testing.T) {
	store := newTestStore(t)
	a, err := New(store, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				a.Record(domain.AuditOpportunityDetected, "opp-shared", "AVAX-USDT", "", "")
			}
		}()
	}
	wg.Wait()
	a.Flush()

	records, err := store.RecordsByRef("opp-shared")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 400 {
		t.Fatalf("expected 400 records, got %d", len(records))
	}
	seen := make(map[uint64]bool, len(records))
	for _, rec := range records {
		if seen[rec.Clock] {
			t.Fatalf("duplicate clock %d", rec.Clock)
		}
		seen[rec.Clock] = true
	}
}
