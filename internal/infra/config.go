package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// VenueConfig describes one trading venue: its market-data endpoint, fee
// rate and risk limits. Order entry runs against the paper gateway unless a
// venue-specific gateway is wired in.
type VenueConfig struct {
	Name          string          `yaml:"name"`
	WSURL         string          `yaml:"ws_url"`
	TakerFeePct   decimal.Decimal `yaml:"taker_fee_pct"`
	LatencyMSHint int             `yaml:"latency_ms_hint"` // 0 = unknown
	ExposureLimit decimal.Decimal `yaml:"exposure_limit"`  // notional
}

// Config holds every application setting. Loaded from YAML, with sensitive
// values overridable through environment variables.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Venues []VenueConfig `yaml:"venues"`

	Instruments         []string `yaml:"instruments"`
	ExcludedInstruments []string `yaml:"excluded_instruments"`

	Detect struct {
		IntervalMS       int             `yaml:"interval_ms"`
		EdgeThreshold    decimal.Decimal `yaml:"edge_threshold"`  // per unit, after fees
		MaxSpreadPct     decimal.Decimal `yaml:"max_spread_pct"`  // suspicious-data ceiling
		MinVolume        decimal.Decimal `yaml:"min_volume"`      // 24h, per leg
		MaxAlertsPerScan int             `yaml:"max_alerts_per_scan"`
	} `yaml:"detect"`

	Risk struct {
		MaxQuoteAgeSec     int             `yaml:"max_quote_age_sec"`
		PerInstrumentLimit decimal.Decimal `yaml:"per_instrument_limit"` // notional
		MaxOrderNotional   decimal.Decimal `yaml:"max_order_notional"`
	} `yaml:"risk"`

	Fees struct {
		RefreshURL string `yaml:"refresh_url"` // empty disables polling
		PollSec    int    `yaml:"poll_sec"`
	} `yaml:"fees"`

	Exec struct {
		LegTimeoutSec int `yaml:"leg_timeout_sec"`
		UnwindRetries int `yaml:"unwind_retries"`
	} `yaml:"exec"`

	Audit struct {
		DBPath        string `yaml:"db_path"`
		FlushMS       int    `yaml:"flush_ms"`
		HeartbeatFile string `yaml:"heartbeat_file"`
		StaleAfterSec int    `yaml:"stale_after_sec"`
	} `yaml:"audit"`

	Notify struct {
		TelegramBotToken string `yaml:"telegram_bot_token"`
		TelegramChatID   string `yaml:"telegram_chat_id"`
		CooldownMinutes  int    `yaml:"cooldown_minutes"`
	} `yaml:"notify"`

	Health struct {
		Port int `yaml:"port"`
	} `yaml:"health"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, then applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if len(c.Venues) < 2 {
		return fmt.Errorf("at least two venues are required for arbitrage, got %d", len(c.Venues))
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("venue name must not be empty")
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate venue name: %s", v.Name)
		}
		seen[v.Name] = true
		if v.WSURL != "" && !strings.HasPrefix(v.WSURL, "ws://") && !strings.HasPrefix(v.WSURL, "wss://") {
			return fmt.Errorf("invalid WS URL for venue %s: %s", v.Name, v.WSURL)
		}
		if v.TakerFeePct.IsNegative() {
			return fmt.Errorf("negative taker fee for venue %s", v.Name)
		}
	}

	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}

	if c.Detect.IntervalMS <= 0 {
		return fmt.Errorf("detect interval must be positive")
	}
	if c.Risk.MaxQuoteAgeSec <= 0 {
		return fmt.Errorf("max quote age must be positive")
	}

	return nil
}

// ExcludedSet returns the exclusion list as a lookup set.
func (c *Config) ExcludedSet() map[string]bool {
	set := make(map[string]bool, len(c.ExcludedInstruments))
	for _, instrument := range c.ExcludedInstruments {
		set[instrument] = true
	}
	return set
}

// overrideWithEnv replaces settings from environment variables when present.
func overrideWithEnv(cfg *Config) {
	if token := os.Getenv("ARB_TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Notify.TelegramBotToken = token
	}
	if chat := os.Getenv("ARB_TELEGRAM_CHAT_ID"); chat != "" {
		cfg.Notify.TelegramChatID = chat
	}
	if path := os.Getenv("ARB_AUDIT_DB"); path != "" {
		cfg.Audit.DBPath = path
	}
	if level := os.Getenv("ARB_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
