package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

// scriptedStreamer replays canned quotes, one connection per script entry.
type scriptedStreamer struct {
	venue   string
	scripts [][]domain.Quote // one slice per connection attempt
	conn    int
	err     error // returned after each script is drained
}

func (s *scriptedStreamer) Venue() string { return s.venue }

func (s *scriptedStreamer) StreamQuotes(ctx context.Context, instruments []string, out chan<- domain.Quote) error {
	if s.conn >= len(s.scripts) {
		// Nothing left to replay: hold the connection open.
		<-ctx.Done()
		return ctx.Err()
	}
	script := s.scripts[s.conn]
	s.conn++

	for _, q := range script {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- q:
		}
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func testQuote(instrument string, bid float64) domain.Quote {
	return domain.Quote{
		Instrument: instrument,
		BidPrice:   decimal.NewFromFloat(bid),
		BidSize:    decimal.NewFromInt(1),
		AskPrice:   decimal.NewFromFloat(bid + 0.1),
		AskSize:    decimal.NewFromInt(1),
		Timestamp:  time.Now(),
	}
}

func collect(t *testing.T, out <-chan Event, idle time.Duration) []Event {
	t.Helper()
	var events []Event
	for {
		select {
		case ev := <-out:
			events = append(events, ev)
		case <-time.After(idle):
			return events
		}
	}
}

func TestAdapter_AssignsMonotonicSequences(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamer := &scriptedStreamer{
		venue: "alpha",
		scripts: [][]domain.Quote{{
			testQuote("AVAX-USDT", 20.0),
			testQuote("LINK-USDT", 14.0),
			testQuote("AVAX-USDT", 20.1),
			testQuote("AVAX-USDT", 20.2),
		}},
	}

	out := make(chan Event, 16)
	adapter := NewAdapter(streamer, []string{"AVAX-USDT", "LINK-USDT"}, out, 16)
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer adapter.Stop()

	events := collect(t, out, 200*time.Millisecond)

	seqs := map[string][]uint64{}
	for _, ev := range events {
		if ev.Type != EventQuote {
			continue
		}
		if ev.Quote.Venue != "alpha" {
			t.Errorf("quote venue = %q, want alpha", ev.Quote.Venue)
		}
		seqs[ev.Quote.Instrument] = append(seqs[ev.Quote.Instrument], ev.Quote.Seq)
	}

	if got := seqs["AVAX-USDT"]; len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("AVAX-USDT seqs = %v, want [1 2 3]", got)
	}
	if got := seqs["LINK-USDT"]; len(got) != 1 || got[0] != 1 {
		t.Errorf("LINK-USDT seqs = %v, want [1]", got)
	}
}

func TestAdapter_DropsInvalidQuotes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bad := domain.Quote{Instrument: "AVAX-USDT"} // zero prices
	streamer := &scriptedStreamer{
		venue:   "alpha",
		scripts: [][]domain.Quote{{bad, testQuote("AVAX-USDT", 20.0)}},
	}

	out := make(chan Event, 16)
	adapter := NewAdapter(streamer, []string{"AVAX-USDT"}, out, 16)
	adapter.Start(ctx)
	defer adapter.Stop()

	events := collect(t, out, 200*time.Millisecond)

	var quotes int
	for _, ev := range events {
		if ev.Type == EventQuote {
			quotes++
			if ev.Quote.Seq != 1 {
				t.Errorf("valid quote seq = %d, want 1 (invalid quote must not consume a sequence)", ev.Quote.Seq)
			}
		}
	}
	if quotes != 1 {
		t.Errorf("expected 1 quote event, got %d", quotes)
	}
}

func TestAdapter_OverflowDropsOldestAndSignalsBackpressure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var script []domain.Quote
	for i := 0; i < 20; i++ {
		script = append(script, testQuote("AVAX-USDT", 20.0+float64(i)/100))
	}
	streamer := &scriptedStreamer{venue: "alpha", scripts: [][]domain.Quote{script}}

	// Unbuffered out with no reader: the pump stalls and the tiny queue
	// must overflow.
	out := make(chan Event)
	adapter := NewAdapter(streamer, []string{"AVAX-USDT"}, out, 2)
	adapter.Start(ctx)
	defer adapter.Stop()

	time.Sleep(100 * time.Millisecond)

	events := collect(t, out, 200*time.Millisecond)

	var quoteSeqs []uint64
	var backpressure int
	for _, ev := range events {
		switch ev.Type {
		case EventQuote:
			quoteSeqs = append(quoteSeqs, ev.Quote.Seq)
		case EventBackpressure:
			backpressure++
		}
	}

	if len(quoteSeqs) == 20 {
		t.Error("expected quotes to be dropped on overflow")
	}
	if backpressure == 0 {
		t.Error("expected a backpressure signal")
	}
	for i := 1; i < len(quoteSeqs); i++ {
		if quoteSeqs[i] <= quoteSeqs[i-1] {
			t.Errorf("delivered seqs not increasing: %v", quoteSeqs)
		}
	}
	// Drop-oldest keeps the freshest data flowing.
	if len(quoteSeqs) > 0 && quoteSeqs[len(quoteSeqs)-1] != 20 {
		t.Errorf("last delivered seq = %d, want 20", quoteSeqs[len(quoteSeqs)-1])
	}
}

func TestAdapter_ReconnectEmitsDisconnectedAndKeepsSequence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamer := &scriptedStreamer{
		venue: "alpha",
		scripts: [][]domain.Quote{
			{testQuote("AVAX-USDT", 20.0)},
			{testQuote("AVAX-USDT", 20.1)},
		},
		err: errors.New("connection reset"),
	}

	out := make(chan Event, 16)
	adapter := NewAdapter(streamer, []string{"AVAX-USDT"}, out, 16)
	adapter.Start(ctx)
	defer adapter.Stop()

	// Reconnect backoff starts at ~1s.
	events := collect(t, out, 2*time.Second)

	var kinds []EventType
	var seqs []uint64
	for _, ev := range events {
		kinds = append(kinds, ev.Type)
		if ev.Type == EventQuote {
			seqs = append(seqs, ev.Quote.Seq)
		}
	}

	var sawDisconnect bool
	for _, k := range kinds {
		if k == EventDisconnected {
			sawDisconnect = true
		}
	}
	if !sawDisconnect {
		t.Fatalf("expected a DISCONNECTED event, got %v", kinds)
	}
	if len(seqs) < 2 {
		t.Fatalf("expected quotes from both connections, got seqs %v", seqs)
	}
	// Sequence numbering survives the reconnect (no replay, no reset).
	if seqs[1] != seqs[0]+1 {
		t.Errorf("seq after reconnect = %d, want %d", seqs[1], seqs[0]+1)
	}
}
