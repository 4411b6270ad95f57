package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsReadTimeout      = 60 * time.Second
	wsMaxInstruments   = 50
)

// bookTickerMessage is the top-of-book update pushed by the venue.
type bookTickerMessage struct {
	Type       string  `json:"type"`
	Instrument string  `json:"instrument"`
	BidPrice   float64 `json:"bid_price"`
	BidSize    float64 `json:"bid_size"`
	AskPrice   float64 `json:"ask_price"`
	AskSize    float64 `json:"ask_size"`
	Volume24h  float64 `json:"volume_24h"`
	Timestamp  int64   `json:"timestamp"` // ms
}

// WSStreamer streams top-of-book quotes over a venue websocket. One
// StreamQuotes call is one connection: it subscribes, reads until the
// connection drops or ctx is cancelled, and returns the terminal error.
// Reconnection policy belongs to the caller.
type WSStreamer struct {
	venue string
	url   string

	mu      sync.RWMutex
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewWSStreamer creates a streamer for one venue endpoint.
func NewWSStreamer(venue, url string) *WSStreamer {
	return &WSStreamer{venue: venue, url: url}
}

// Venue returns the venue name.
func (w *WSStreamer) Venue() string { return w.venue }

// StreamQuotes implements domain.QuoteStreamer.
func (w *WSStreamer) StreamQuotes(ctx context.Context, instruments []string, out chan<- domain.Quote) error {
	if err := w.connect(ctx, instruments); err != nil {
		return domain.NewTransportError(w.venue, "connect", err)
	}
	defer w.closeConnection()

	slog.Info("Venue stream connected",
		slog.String("venue", w.venue),
		slog.Int("instruments", len(instruments)))

	return w.readLoop(ctx, out)
}

func (w *WSStreamer) connect(ctx context.Context, instruments []string) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.subscribe(instruments); err != nil {
		w.closeConnection()
		return fmt.Errorf("subscribe failed: %w", err)
	}
	return nil
}

func (w *WSStreamer) subscribe(instruments []string) error {
	if len(instruments) > wsMaxInstruments {
		slog.Warn("Instrument limit exceeded, truncating",
			slog.String("venue", w.venue),
			slog.Int("count", len(instruments)))
		instruments = instruments[:wsMaxInstruments]
	}

	msg := map[string]any{
		"op":          "subscribe",
		"channel":     "book_ticker",
		"instruments": instruments,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, payload)
}

// threadSafeWrite serializes writes; gorilla connections allow only one
// concurrent writer.
func (w *WSStreamer) threadSafeWrite(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return conn.WriteMessage(messageType, data)
}

func (w *WSStreamer) readLoop(ctx context.Context, out chan<- domain.Quote) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return domain.NewTransportError(w.venue, "read", fmt.Errorf("connection closed"))
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Venue stream read error",
					slog.String("venue", w.venue),
					slog.Any("error", err))
			}
			return domain.NewTransportError(w.venue, "read", err)
		}

		quote, ok := w.parseQuote(message)
		if !ok {
			continue
		}

		select {
		case out <- quote:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *WSStreamer) parseQuote(message []byte) (domain.Quote, bool) {
	var msg bookTickerMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		slog.Debug("Venue message parse error",
			slog.String("venue", w.venue),
			slog.Any("error", err))
		return domain.Quote{}, false
	}
	if msg.Type != "book_ticker" || msg.Instrument == "" {
		return domain.Quote{}, false
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}

	return domain.Quote{
		Venue:      w.venue,
		Instrument: msg.Instrument,
		BidPrice:   decimal.NewFromFloat(msg.BidPrice),
		BidSize:    decimal.NewFromFloat(msg.BidSize),
		AskPrice:   decimal.NewFromFloat(msg.AskPrice),
		AskSize:    decimal.NewFromFloat(msg.AskSize),
		Volume24h:  decimal.NewFromFloat(msg.Volume24h),
		Timestamp:  ts,
	}, true
}

func (w *WSStreamer) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
