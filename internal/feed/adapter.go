package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/infra"
)

const (
	rawBufferSize        = 64
	backpressureInterval = time.Second
)

// Adapter turns one venue's raw quote stream into a sequenced event flow for
// the aggregator. It owns the per-instrument sequence counters, reconnects
// with exponential backoff, and never blocks the venue reader: when its
// bounded buffer fills, the oldest buffered event is dropped and a
// backpressure signal raised.
type Adapter struct {
	client      domain.QuoteStreamer
	instruments []string
	out         chan<- Event
	queue       chan Event
	dropped     atomic.Int64

	// Touched only by the stream goroutine.
	seqs map[string]uint64

	// Touched only by the pump goroutine.
	lastBP time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter creates an adapter for one venue. bufSize bounds the number of
// events held while the aggregator is busy.
func NewAdapter(client domain.QuoteStreamer, instruments []string, out chan<- Event, bufSize int) *Adapter {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Adapter{
		client:      client,
		instruments: instruments,
		out:         out,
		queue:       make(chan Event, bufSize),
		seqs:        make(map[string]uint64),
	}
}

// Start launches the stream and pump goroutines.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(2)
	go a.streamLoop(ctx)
	go a.pumpLoop(ctx)
	return nil
}

// Stop cancels the adapter and waits for its goroutines.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *Adapter) streamLoop(ctx context.Context) {
	defer a.wg.Done()

	venue := a.client.Venue()
	retry := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw := make(chan domain.Quote, rawBufferSize)
		errCh := make(chan error, 1)
		streamCtx, stopStream := context.WithCancel(ctx)

		infra.GlobalMetrics.IncrementFeeds()
		go func() {
			errCh <- a.client.StreamQuotes(streamCtx, a.instruments, raw)
		}()

		err := a.consume(ctx, raw, errCh, &retry)
		stopStream()
		infra.GlobalMetrics.DecrementFeeds()

		if ctx.Err() != nil {
			return
		}

		slog.Warn("Feed disconnected",
			slog.String("venue", venue),
			slog.Any("error", err),
			slog.Int("retry", retry))
		a.enqueue(Event{Type: EventDisconnected, Venue: venue, At: time.Now()})

		delay := infra.CalculateBackoff(retry)
		retry++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume drains the raw channel until the stream fails or ctx is done.
func (a *Adapter) consume(ctx context.Context, raw <-chan domain.Quote, errCh <-chan error, retry *int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case q := <-raw:
			*retry = 0 // data flowing again
			a.ingest(q)
		}
	}
}

// ingest validates a raw quote, stamps venue and sequence, and buffers it.
func (a *Adapter) ingest(q domain.Quote) {
	if !q.Valid() {
		infra.GlobalMetrics.RecordQuoteDropped()
		return
	}

	q.Venue = a.client.Venue()
	a.seqs[q.Instrument]++
	q.Seq = a.seqs[q.Instrument]
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}

	infra.GlobalMetrics.RecordQuoteIngested()
	a.enqueue(Event{Type: EventQuote, Venue: q.Venue, Quote: q, At: q.Timestamp})
}

// enqueue buffers an event, dropping the oldest buffered event instead of
// blocking when full.
func (a *Adapter) enqueue(ev Event) {
	for {
		select {
		case a.queue <- ev:
			return
		default:
		}

		select {
		case dropped := <-a.queue:
			if dropped.Type == EventQuote {
				infra.GlobalMetrics.RecordQuoteDropped()
			}
			a.dropped.Add(1)
		default:
			// Pump emptied the queue between our two selects; retry.
		}
	}
}

func (a *Adapter) pumpLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.queue:
			if n := a.dropped.Swap(0); n > 0 {
				a.signalBackpressure(ctx, n)
			}
			select {
			case <-ctx.Done():
				return
			case a.out <- ev:
			}
		}
	}
}

// signalBackpressure forwards at most one backpressure event per interval so
// a sustained overload does not double the downstream traffic.
func (a *Adapter) signalBackpressure(ctx context.Context, droppedCount int64) {
	now := time.Now()
	if now.Sub(a.lastBP) < backpressureInterval {
		return
	}
	a.lastBP = now

	slog.Warn("Feed buffer overflow, oldest quotes dropped",
		slog.String("venue", a.client.Venue()),
		slog.Int64("dropped", droppedCount))

	select {
	case <-ctx.Done():
	case a.out <- Event{Type: EventBackpressure, Venue: a.client.Venue(), At: now}:
	}
}
