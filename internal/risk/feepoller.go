package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

// feeResponse is one venue entry in the fee endpoint payload.
type feeResponse struct {
	Venue       string  `json:"venue"`
	TakerFeePct float64 `json:"taker_fee_pct"`
}

// FeePoller refreshes the taker fee schedule from an operator-run HTTP
// endpoint so gate decisions track published fee tier changes without a
// restart. The venue configs seed the schedule; the poller only overrides.
type FeePoller struct {
	fees         *domain.FeeSchedule
	apiURL       string
	pollInterval time.Duration
	httpClient   *http.Client
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewFeePoller creates a poller updating fees from apiURL.
func NewFeePoller(fees *domain.FeeSchedule, apiURL string, pollIntervalSec int) *FeePoller {
	interval := 300 * time.Second
	if pollIntervalSec > 0 {
		interval = time.Duration(pollIntervalSec) * time.Second
	}
	return &FeePoller{
		fees:         fees,
		apiURL:       apiURL,
		pollInterval: interval,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start begins polling. The first fetch runs immediately; failures are
// logged and retried on the next tick.
func (p *FeePoller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	if err := p.fetch(ctx); err != nil {
		slog.Warn("Initial fee schedule fetch failed", slog.Any("error", err))
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Fee polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Fee polling stopped")
				return
			case <-ticker.C:
				if err := p.fetch(ctx); err != nil {
					slog.Warn("Fee schedule fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

func (p *FeePoller) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL, nil)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var data []feeResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("empty fee schedule response")
	}

	for _, entry := range data {
		pct := decimal.NewFromFloat(entry.TakerFeePct)
		if entry.Venue == "" || pct.IsNegative() {
			continue
		}
		old := p.fees.TakerPct(entry.Venue)
		if !old.Equal(pct) {
			p.fees.SetTakerPct(entry.Venue, pct)
			slog.Info("Taker fee updated",
				slog.String("venue", entry.Venue),
				slog.String("pct", pct.String()),
				slog.String("old_pct", old.String()))
		}
	}

	return nil
}

// Stop stops the polling and waits for the goroutine to exit.
func (p *FeePoller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}
