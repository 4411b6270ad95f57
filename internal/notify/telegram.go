package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

const defaultAPIBase = "https://api.telegram.org"

// referenceNotional is the what-if trade size quoted in alert messages.
var referenceNotional = decimal.NewFromInt(1000)

// Telegram pushes opportunity alerts and operator incidents to a chat. All
// sends are best-effort: a failed notification is logged and dropped, never
// retried into the hot path.
type Telegram struct {
	botToken    string
	chatID      string
	apiBase     string
	maxPerBatch int
	cooldown    *Cooldown
	fees        *domain.FeeSchedule
	httpClient  *http.Client
}

// NewTelegram creates a notifier. maxPerBatch caps alerts sent per detection
// cycle (0 = unlimited); cooldown may be nil to disable suppression.
func NewTelegram(botToken, chatID string, maxPerBatch int, cooldown *Cooldown, fees *domain.FeeSchedule) *Telegram {
	return &Telegram{
		botToken:    botToken,
		chatID:      chatID,
		apiBase:     defaultAPIBase,
		maxPerBatch: maxPerBatch,
		cooldown:    cooldown,
		fees:        fees,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether credentials are configured. A disabled notifier is
// a no-op so the pipeline wires it unconditionally.
func (t *Telegram) Enabled() bool {
	return t.botToken != "" && t.chatID != ""
}

// NotifyOpportunities sends alerts for a detection batch, honoring the
// per-pair cooldown and the per-batch cap.
func (t *Telegram) NotifyOpportunities(ctx context.Context, opps []domain.Opportunity) {
	if !t.Enabled() || len(opps) == 0 {
		return
	}
	if t.cooldown != nil {
		t.cooldown.Prune()
	}

	sent := 0
	for _, opp := range opps {
		if t.maxPerBatch > 0 && sent >= t.maxPerBatch {
			slog.Debug("Alert cap reached for this batch",
				slog.Int("cap", t.maxPerBatch),
				slog.Int("remaining", len(opps)-sent))
			return
		}
		if t.cooldown != nil && !t.cooldown.ShouldNotify(opp.PairKey()) {
			continue
		}
		if err := t.send(ctx, t.formatOpportunity(opp)); err != nil {
			slog.Warn("Telegram notification failed",
				slog.String("opportunity_id", opp.ID),
				slog.Any("error", err))
			continue
		}
		sent++
	}
}

// Alert implements domain.Alerter for operator incidents. Ignores the
// cooldown: incidents always go out.
func (t *Telegram) Alert(ctx context.Context, message string) {
	if !t.Enabled() {
		slog.Warn("Operator alert with no notifier configured", slog.String("message", message))
		return
	}
	if err := t.send(ctx, "⚠ "+message); err != nil {
		slog.Error("Operator alert delivery failed",
			slog.String("message", message),
			slog.Any("error", err))
	}
}

func (t *Telegram) formatOpportunity(opp domain.Opportunity) string {
	feePct := decimal.Zero
	if t.fees != nil {
		feePct = t.fees.AvgPct(opp.BuyVenue, opp.SellVenue)
	}
	est := opp.EstimateProfit(referenceNotional, feePct)

	return fmt.Sprintf(
		"Arbitrage: %s\nBuy %s @ %s\nSell %s @ %s\nSpread %s%% | edge %s | size %s\nEst. on %s notional: net %s (ROI %s%%)",
		opp.Instrument,
		opp.BuyVenue, opp.BuyPrice.StringFixed(4),
		opp.SellVenue, opp.SellPrice.StringFixed(4),
		opp.SpreadPct().StringFixed(2), opp.Edge.String(), opp.MaxSize.String(),
		est.Notional.String(), est.NetProfit.StringFixed(2), est.ROIPct.StringFixed(2))
}

func (t *Telegram) send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
