package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the system. The reconciliation thresholds
// are safety parameters and must come from here, never from constants in
// the code that uses them.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		WSURL     string   `yaml:"ws_url"`
		Symbols   []string `yaml:"symbols"`
		Streams   []string `yaml:"streams"` // "aggTrade", "depth"
		InboxSize int      `yaml:"inbox_size"`
	} `yaml:"feed"`

	PullSource struct {
		RestURL       string `yaml:"rest_url"`
		TimeoutSec    int    `yaml:"timeout_sec"`
		MaxConcurrent int    `yaml:"max_concurrent"`
	} `yaml:"pull_source"`

	Pipeline struct {
		LargeTradeThresholdUSDT decimal.Decimal `yaml:"large_trade_threshold_usdt"`
		OrderBookDepth          int             `yaml:"orderbook_depth"`
		VWAPWindowSec           int             `yaml:"vwap_window_sec"`
		DuplicateWindow         int             `yaml:"duplicate_window"`
		OutOfOrderToleranceMS   int64           `yaml:"out_of_order_tolerance_ms"`
	} `yaml:"pipeline"`

	Store struct {
		MaxTrades     int `yaml:"max_trades"`
		MaxOrderBooks int `yaml:"max_orderbooks"`
		TTLSec        int `yaml:"ttl_sec"`
	} `yaml:"store"`

	Reconciliation struct {
		WarnThreshold       decimal.Decimal `yaml:"warn_threshold"`   // relative diff, e.g. 0.001
		RejectThreshold     decimal.Decimal `yaml:"reject_threshold"` // relative diff, e.g. 0.005
		AuditIntervalSec    int             `yaml:"audit_interval_sec"`
		MaxStalenessSec     int             `yaml:"max_staleness_sec"`
		MismatchRateCeiling decimal.Decimal `yaml:"mismatch_rate_ceiling"` // e.g. 0.05
		MinChecks           int64           `yaml:"min_checks"`            // checks before the ceiling applies
		BackoffBaseSec      int             `yaml:"backoff_base_sec"`
		BackoffMaxSec       int             `yaml:"backoff_max_sec"`
	} `yaml:"reconciliation"`

	Signal struct {
		PriceSpikeWindowSec int             `yaml:"price_spike_window_sec"`
		PriceSpikeThreshold decimal.Decimal `yaml:"price_spike_threshold"`
		ImbalanceThreshold  decimal.Decimal `yaml:"imbalance_threshold"`
	} `yaml:"signal"`

	Archive struct {
		Enabled        bool   `yaml:"enabled"`
		Path           string `yaml:"path"`
		RetentionHours int    `yaml:"retention_hours"`
	} `yaml:"archive"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills zero values with the documented defaults so a minimal
// config file stays safe.
func (c *Config) applyDefaults() {
	if c.Feed.InboxSize == 0 {
		c.Feed.InboxSize = 10000
	}
	if len(c.Feed.Streams) == 0 {
		c.Feed.Streams = []string{"aggTrade", "depth"}
	}
	if c.PullSource.TimeoutSec == 0 {
		c.PullSource.TimeoutSec = 5
	}
	if c.PullSource.MaxConcurrent == 0 {
		c.PullSource.MaxConcurrent = 3
	}
	if c.Pipeline.LargeTradeThresholdUSDT.IsZero() {
		c.Pipeline.LargeTradeThresholdUSDT = decimal.NewFromInt(10000)
	}
	if c.Pipeline.OrderBookDepth == 0 {
		c.Pipeline.OrderBookDepth = 5
	}
	if c.Pipeline.VWAPWindowSec == 0 {
		c.Pipeline.VWAPWindowSec = 60
	}
	if c.Pipeline.DuplicateWindow == 0 {
		c.Pipeline.DuplicateWindow = 10000
	}
	if c.Store.MaxTrades == 0 {
		c.Store.MaxTrades = 10000
	}
	if c.Store.MaxOrderBooks == 0 {
		c.Store.MaxOrderBooks = 1000
	}
	if c.Store.TTLSec == 0 {
		c.Store.TTLSec = 3600
	}
	if c.Reconciliation.WarnThreshold.IsZero() {
		c.Reconciliation.WarnThreshold = decimal.RequireFromString("0.001")
	}
	if c.Reconciliation.RejectThreshold.IsZero() {
		c.Reconciliation.RejectThreshold = decimal.RequireFromString("0.005")
	}
	if c.Reconciliation.AuditIntervalSec == 0 {
		c.Reconciliation.AuditIntervalSec = 60
	}
	if c.Reconciliation.MaxStalenessSec == 0 {
		c.Reconciliation.MaxStalenessSec = c.Reconciliation.AuditIntervalSec
	}
	if c.Reconciliation.MismatchRateCeiling.IsZero() {
		c.Reconciliation.MismatchRateCeiling = decimal.RequireFromString("0.05")
	}
	if c.Reconciliation.MinChecks == 0 {
		c.Reconciliation.MinChecks = 20
	}
	if c.Reconciliation.BackoffBaseSec == 0 {
		c.Reconciliation.BackoffBaseSec = 1
	}
	if c.Reconciliation.BackoffMaxSec == 0 {
		c.Reconciliation.BackoffMaxSec = 300
	}
	if c.Signal.PriceSpikeWindowSec == 0 {
		c.Signal.PriceSpikeWindowSec = 5
	}
	if c.Signal.PriceSpikeThreshold.IsZero() {
		c.Signal.PriceSpikeThreshold = decimal.RequireFromString("0.001")
	}
	if c.Signal.ImbalanceThreshold.IsZero() {
		c.Signal.ImbalanceThreshold = decimal.RequireFromString("0.65")
	}
	if c.Archive.RetentionHours == 0 {
		c.Archive.RetentionHours = 72
	}
	if c.Logging.File == "" {
		c.Logging.File = "logs/marketpipe.log"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 28
	}
}

// Validate checks configuration validity. Threshold ordering matters: a
// reject threshold at or below the warn threshold would make every warning
// a rejection.
func (c *Config) Validate() error {
	if c.Feed.WSURL == "" || (!strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://")) {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.WSURL)
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("at least one feed symbol is required")
	}
	if c.PullSource.RestURL == "" {
		return fmt.Errorf("pull source REST URL is required")
	}
	if c.Reconciliation.WarnThreshold.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("warn_threshold must be positive")
	}
	if c.Reconciliation.RejectThreshold.LessThanOrEqual(c.Reconciliation.WarnThreshold) {
		return fmt.Errorf("reject_threshold must exceed warn_threshold")
	}
	if c.Reconciliation.MismatchRateCeiling.LessThanOrEqual(decimal.Zero) ||
		c.Reconciliation.MismatchRateCeiling.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("mismatch_rate_ceiling must be in (0, 1)")
	}
	if c.Reconciliation.AuditIntervalSec < 30 {
		return fmt.Errorf("audit_interval_sec must be at least 30")
	}
	if c.Pipeline.LargeTradeThresholdUSDT.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("large_trade_threshold_usdt must be positive")
	}
	if c.Store.TTLSec <= 0 {
		return fmt.Errorf("store ttl_sec must be positive")
	}
	return nil
}

// PullTimeout returns the pull-source fetch timeout as a duration.
func (c *Config) PullTimeout() time.Duration {
	return time.Duration(c.PullSource.TimeoutSec) * time.Second
}

// AuditInterval returns the periodic audit interval as a duration.
func (c *Config) AuditInterval() time.Duration {
	return time.Duration(c.Reconciliation.AuditIntervalSec) * time.Second
}

// MaxStaleness returns the verification cache staleness bound as a duration.
func (c *Config) MaxStaleness() time.Duration {
	return time.Duration(c.Reconciliation.MaxStalenessSec) * time.Second
}

// StoreTTL returns the hot-store retention as a duration.
func (c *Config) StoreTTL() time.Duration {
	return time.Duration(c.Store.TTLSec) * time.Second
}

// overrideWithEnv overrides settings from environment variables when present.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("MARKETPIPE_WS_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if url := os.Getenv("MARKETPIPE_REST_URL"); url != "" {
		cfg.PullSource.RestURL = url
	}
	if level := os.Getenv("MARKETPIPE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if symbols := os.Getenv("MARKETPIPE_SYMBOLS"); symbols != "" {
		cfg.Feed.Symbols = strings.Split(symbols, ",")
	}
}
