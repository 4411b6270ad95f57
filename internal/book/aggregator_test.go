package book

import (
	"math/rand"
	"testing"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/feed"

	"github.com/shopspring/decimal"
)

func quoteEvent(venue, instrument string, seq uint64, bid float64, age time.Duration) feed.Event {
	q := domain.Quote{
		Venue:      venue,
		Instrument: instrument,
		BidPrice:   decimal.NewFromFloat(bid),
		BidSize:    decimal.NewFromInt(5),
		AskPrice:   decimal.NewFromFloat(bid + 0.1),
		AskSize:    decimal.NewFromInt(10),
		Timestamp:  time.Now().Add(-age),
		Seq:        seq,
	}
	return feed.Event{Type: feed.EventQuote, Venue: venue, Quote: q, At: q.Timestamp}
}

func TestAggregator_OutOfOrderConvergence(t *testing.T) {
	// The stored state must reflect only the highest sequence per
	// (venue, instrument), regardless of delivery order.
	events := []feed.Event{
		quoteEvent("alpha", "AVAX-USDT", 1, 20.0, 0),
		quoteEvent("alpha", "AVAX-USDT", 2, 20.1, 0),
		quoteEvent("alpha", "AVAX-USDT", 3, 20.2, 0),
		quoteEvent("alpha", "AVAX-USDT", 4, 20.3, 0),
		quoteEvent("beta", "AVAX-USDT", 1, 19.9, 0),
		quoteEvent("beta", "AVAX-USDT", 2, 19.8, 0),
	}

	for trial := 0; trial < 10; trial++ {
		agg := New(16, time.Minute, nil)

		shuffled := make([]feed.Event, len(events))
		copy(shuffled, events)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		for _, ev := range shuffled {
			agg.Apply(ev)
		}

		snap := agg.Snapshot("AVAX-USDT")
		if len(snap.Quotes) != 2 {
			t.Fatalf("trial %d: expected 2 venues, got %d", trial, len(snap.Quotes))
		}
		for _, q := range snap.Quotes {
			switch q.Venue {
			case "alpha":
				if q.Seq != 4 {
					t.Errorf("trial %d: alpha seq = %d, want 4", trial, q.Seq)
				}
			case "beta":
				if q.Seq != 2 {
					t.Errorf("trial %d: beta seq = %d, want 2", trial, q.Seq)
				}
			}
		}
	}
}

func TestAggregator_RejectsDuplicateSeq(t *testing.T) {
	agg := New(16, time.Minute, nil)

	agg.Apply(quoteEvent("alpha", "AVAX-USDT", 5, 20.0, 0))
	agg.Apply(quoteEvent("alpha", "AVAX-USDT", 5, 99.9, 0)) // duplicate, ignored

	snap := agg.Snapshot("AVAX-USDT")
	if len(snap.Quotes) != 1 {
		t.Fatalf("expected 1 quote, got %d", len(snap.Quotes))
	}
	if !snap.Quotes[0].BidPrice.Equal(decimal.NewFromFloat(20.0)) {
		t.Errorf("duplicate seq overwrote stored quote: bid = %v", snap.Quotes[0].BidPrice)
	}
}

func TestAggregator_StaleQuotesExcluded(t *testing.T) {
	agg := New(16, 5*time.Second, nil)

	agg.Apply(quoteEvent("alpha", "AVAX-USDT", 1, 20.0, 0))
	agg.Apply(quoteEvent("beta", "AVAX-USDT", 1, 20.5, 30*time.Second))

	snap := agg.Snapshot("AVAX-USDT")
	if len(snap.Quotes) != 1 || snap.Quotes[0].Venue != "alpha" {
		t.Fatalf("expected only alpha live, got %+v", snap.Quotes)
	}
	if len(snap.StaleVenues) != 1 || snap.StaleVenues[0] != "beta" {
		t.Errorf("expected beta flagged stale, got %v", snap.StaleVenues)
	}
}

func TestAggregator_DisconnectedVenueExcludedUntilFreshQuote(t *testing.T) {
	agg := New(16, time.Minute, nil)

	agg.Apply(quoteEvent("alpha", "AVAX-USDT", 1, 20.0, 0))
	agg.Apply(quoteEvent("beta", "AVAX-USDT", 1, 20.5, 0))
	agg.Apply(feed.Event{Type: feed.EventDisconnected, Venue: "beta", At: time.Now()})

	snap := agg.Snapshot("AVAX-USDT")
	if len(snap.Quotes) != 1 || snap.Quotes[0].Venue != "alpha" {
		t.Fatalf("disconnected venue should be excluded, got %+v", snap.Quotes)
	}

	// A fresh quote brings the venue back.
	agg.Apply(quoteEvent("beta", "AVAX-USDT", 2, 20.6, 0))
	snap = agg.Snapshot("AVAX-USDT")
	if len(snap.Quotes) != 2 {
		t.Fatalf("expected beta restored after fresh quote, got %+v", snap.Quotes)
	}
}

func TestAggregator_SnapshotIsolation(t *testing.T) {
	agg := New(16, time.Minute, nil)
	agg.Apply(quoteEvent("alpha", "AVAX-USDT", 1, 20.0, 0))

	snap := agg.Snapshot("AVAX-USDT")
	before := snap.Quotes[0].BidPrice

	// Mutate after the snapshot was handed out.
	agg.Apply(quoteEvent("alpha", "AVAX-USDT", 2, 99.0, 0))

	if !snap.Quotes[0].BidPrice.Equal(before) {
		t.Error("snapshot mutated by a later update")
	}
}

func TestAggregator_ConcurrentReadsDuringWrites(t *testing.T) {
	agg := New(16, time.Minute, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 500; i++ {
			agg.Apply(quoteEvent("alpha", "AVAX-USDT", i, 20.0+float64(i)/1000, 0))
		}
	}()

	for i := 0; i < 200; i++ {
		snap := agg.Snapshot("AVAX-USDT")
		for _, q := range snap.Quotes {
			if !q.Valid() {
				t.Fatal("snapshot exposed a partially written quote")
			}
		}
	}
	<-done

	snap := agg.Snapshot("AVAX-USDT")
	if snap.Quotes[0].Seq != 500 {
		t.Errorf("final seq = %d, want 500", snap.Quotes[0].Seq)
	}
}

func TestAggregator_Instruments(t *testing.T) {
	agg := New(16, time.Minute, nil)
	agg.Apply(quoteEvent("alpha", "LINK-USDT", 1, 14.0, 0))
	agg.Apply(quoteEvent("alpha", "AVAX-USDT", 1, 20.0, 0))

	got := agg.Instruments()
	if len(got) != 2 || got[0] != "AVAX-USDT" || got[1] != "LINK-USDT" {
		t.Errorf("Instruments() = %v, want sorted [AVAX-USDT LINK-USDT]", got)
	}
}
