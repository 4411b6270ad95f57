package app

import (
	"log/slog"
	"time"

	"arbitrage_go/internal/audit"
	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/infra"
	"arbitrage_go/internal/infra/storage"
	"arbitrage_go/internal/notify"

	"github.com/shopspring/decimal"
)

// defaultTakerFeePct is assumed for venues with no configured fee.
var defaultTakerFeePct = decimal.NewFromFloat(0.1)

// Bootstrap orchestrates the application startup sequence: config, logging,
// audit storage, liveness and notification wiring, in that order.
type Bootstrap struct {
	Config   *infra.Config
	Storage  *storage.Storage
	Health   *infra.Health
	Auditor  *audit.Auditor
	Fees     *domain.FeeSchedule
	Notifier *notify.Telegram
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize builds every shared component. Nothing is started yet; the
// pipeline owns all goroutine lifecycles.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping arbitrage engine...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Audit storage (SQLite)
	store, err := storage.NewStorage(cfg.Audit.DBPath)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Audit database initialized", slog.String("path", cfg.Audit.DBPath))

	// 4. Liveness: heartbeat driven by successful audit flushes
	staleAfter := 30 * time.Second
	if cfg.Audit.StaleAfterSec > 0 {
		staleAfter = time.Duration(cfg.Audit.StaleAfterSec) * time.Second
	}
	b.Health = infra.NewHealth(staleAfter, cfg.Audit.HeartbeatFile)

	flushEvery := 500 * time.Millisecond
	if cfg.Audit.FlushMS > 0 {
		flushEvery = time.Duration(cfg.Audit.FlushMS) * time.Millisecond
	}
	auditor, err := audit.New(store, flushEvery, b.Health.Beat)
	if err != nil {
		return err
	}
	b.Auditor = auditor
	slog.Info("✅ Auditor ready", slog.Uint64("resume_clock", auditor.Clock()))

	// 5. Fee schedule seeded from venue configs
	fees := domain.NewFeeSchedule(defaultTakerFeePct)
	for _, v := range cfg.Venues {
		if !v.TakerFeePct.IsZero() {
			fees.SetTakerPct(v.Name, v.TakerFeePct)
		}
	}
	b.Fees = fees

	// 6. Telegram notifier (no-op without credentials)
	cooldown := notify.NewCooldown(time.Duration(cfg.Notify.CooldownMinutes) * time.Minute)
	b.Notifier = notify.NewTelegram(
		cfg.Notify.TelegramBotToken,
		cfg.Notify.TelegramChatID,
		cfg.Detect.MaxAlertsPerScan,
		cooldown,
		fees,
	)
	if b.Notifier.Enabled() {
		slog.Info("✅ Telegram notifications enabled")
	} else {
		slog.Info("Telegram notifications disabled (no credentials)")
	}

	return nil
}
