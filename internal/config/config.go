// Package config handles configuration management with validation.
//
// Adapted from the teacher's internal/config/config.go: the YAML shape,
// env-var expansion (expandEnvVars/isCriticalEnvVar) and masked String()
// idioms are kept; the grid/multi-exchange field set is replaced with
// spec.md §3's StrategyConfig/FeeConfig, which this package loads from
// YAML-friendly raw fields and exposes as core.StrategyConfig/core.FeeConfig
// via guarded accessors (Config.Strategy/Config.Fee) and guarded setters
// (Config.SetBudget/Config.SetMinSpreadBps) behind a dedicated mutex, per
// spec.md §3's "mutable fields go through a guarded setter".
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"arbmaker/internal/core"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML-backed configuration tree.
type Config struct {
	App       AppConfig     `yaml:"app"`
	Venues    VenuesConfig  `yaml:"venues"`
	Strategy  StrategyYAML  `yaml:"strategy"`
	Fee       FeeYAML       `yaml:"fee"`
	Control   ControlConfig `yaml:"control"`
	Journal   JournalConfig `yaml:"journal"`
	Notify    NotifyConfig  `yaml:"notify"`
	Telemetry TelemetryCfg  `yaml:"telemetry"`

	mu       sync.Mutex
	strategy core.StrategyConfig
	fee      core.FeeConfig
}

// AppConfig contains process-level settings.
type AppConfig struct {
	LogLevel     string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// VenuesConfig names the spot and perpetual venue credentials. Spot and
// perp may name the same venue entry (a single split-endpoint exchange) or
// two different ones (true cross-venue mode, spec.md §8).
type VenuesConfig struct {
	Spot  string                     `yaml:"spot" validate:"required"`
	Perp  string                     `yaml:"perp" validate:"required"`
	Creds map[string]VenueCredential `yaml:"creds"`
}

// VenueCredential carries one venue's API access.
type VenueCredential struct {
	APIKey    Secret `yaml:"api_key" validate:"required"`
	SecretKey Secret `yaml:"secret_key" validate:"required"`
	BaseURL   string `yaml:"base_url"`
}

// StrategyYAML is the YAML-friendly mirror of core.StrategyConfig. Decimal
// fields are strings to avoid float64 round-tripping error on values like
// lot sizes and bps thresholds; durations are plain integers in their
// documented unit.
type StrategyYAML struct {
	SymbolSpot string `yaml:"symbol_spot" validate:"required"`
	SymbolPerp string `yaml:"symbol_perp" validate:"required"`

	TickSizeSpot string `yaml:"tick_size_spot" validate:"required"`
	LotSize      string `yaml:"lot_size" validate:"required"`

	TotalBudgetBase     string `yaml:"total_budget_base" validate:"required"`
	CycleBudgetFraction string `yaml:"cycle_budget_fraction" validate:"required"`

	DepthConsumptionRatio string `yaml:"depth_consumption_ratio" validate:"required"`

	MinOrderQty      string `yaml:"min_order_qty"`
	MinNotionalQuote string `yaml:"min_notional_quote"`

	RepriceThresholdBps string `yaml:"reprice_threshold_bps" validate:"required"`
	RepriceTickFloor    int64  `yaml:"reprice_tick_floor"`

	PollIntervalMs int `yaml:"poll_interval_ms" validate:"required,min=1"`
	MaxRetry       int `yaml:"max_retry" validate:"required,min=1"`

	RestReconcileIntervalSec      int `yaml:"rest_reconcile_interval_sec" validate:"required,min=1"`
	RestReconcileIntervalCrossSec int `yaml:"rest_reconcile_interval_cross_sec"`

	MaxCloseRounds       int    `yaml:"max_close_rounds" validate:"required,min=1"`
	CloseRoundMaxWaitSec int    `yaml:"close_round_max_wait_sec" validate:"required,min=1"`
	CloseSpreadMarginBps string `yaml:"close_spread_margin_bps"`
}

// FeeYAML is the YAML-friendly mirror of core.FeeConfig.
type FeeYAML struct {
	MinSpreadBps string `yaml:"min_spread_bps" validate:"required"`
}

// ControlConfig names the operator control-channel socket, spec.md §6.
type ControlConfig struct {
	SocketPath string `yaml:"socket_path" validate:"required"`
}

// JournalConfig names the append-only trade-journal database file.
type JournalConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// NotifyConfig configures the fire-and-forget notification sink, spec.md §9.
type NotifyConfig struct {
	Slack    SlackConfig    `yaml:"slack"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// SlackConfig carries the webhook notifier's endpoint.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL Secret `yaml:"webhook_url"`
}

// TelegramConfig carries the bot notifier's credentials.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken Secret `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// TelemetryCfg contains telemetry settings.
type TelemetryCfg struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment
// variable expansion, validates it, and builds the decimal-typed
// core.StrategyConfig/core.FeeConfig caches.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	strategy, fee, err := cfg.build()
	if err != nil {
		return nil, fmt.Errorf("config build failed: %w", err)
	}
	cfg.strategy = strategy
	cfg.fee = fee

	return &cfg, nil
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateApp(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateVenues(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateStrategy(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Control.SocketPath == "" {
		errs = append(errs, ValidationError{Field: "control.socket_path", Message: "must be set"}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateApp() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateVenues() error {
	if c.Venues.Spot == "" || c.Venues.Perp == "" {
		return ValidationError{Field: "venues", Message: "both spot and perp venue names are required"}
	}
	for _, name := range []string{c.Venues.Spot, c.Venues.Perp} {
		cred, ok := c.Venues.Creds[name]
		if !ok {
			return ValidationError{Field: "venues.creds", Value: name, Message: "no credential entry found"}
		}
		if cred.APIKey == "" || cred.SecretKey == "" {
			return ValidationError{Field: fmt.Sprintf("venues.creds.%s", name), Message: "api_key and secret_key are required"}
		}
	}
	return nil
}

func (c *Config) validateStrategy() error {
	s := c.Strategy
	if s.SymbolSpot == "" || s.SymbolPerp == "" {
		return ValidationError{Field: "strategy.symbol_spot/symbol_perp", Message: "both symbols are required"}
	}
	fields := map[string]string{
		"tick_size_spot":          s.TickSizeSpot,
		"lot_size":                s.LotSize,
		"total_budget_base":       s.TotalBudgetBase,
		"cycle_budget_fraction":   s.CycleBudgetFraction,
		"depth_consumption_ratio": s.DepthConsumptionRatio,
		"reprice_threshold_bps":   s.RepriceThresholdBps,
	}
	for field, raw := range fields {
		if raw == "" {
			return ValidationError{Field: "strategy." + field, Message: "must be set"}
		}
		if _, err := decimal.NewFromString(raw); err != nil {
			return ValidationError{Field: "strategy." + field, Value: raw, Message: "must be a decimal string"}
		}
	}
	if c.Fee.MinSpreadBps == "" {
		return ValidationError{Field: "fee.min_spread_bps", Message: "must be set"}
	}
	if _, err := decimal.NewFromString(c.Fee.MinSpreadBps); err != nil {
		return ValidationError{Field: "fee.min_spread_bps", Value: c.Fee.MinSpreadBps, Message: "must be a decimal string"}
	}
	return nil
}

// build converts the YAML raw fields into core.StrategyConfig/core.FeeConfig.
func (c *Config) build() (core.StrategyConfig, core.FeeConfig, error) {
	s := c.Strategy
	dec := func(raw string, def decimal.Decimal) (decimal.Decimal, error) {
		if raw == "" {
			return def, nil
		}
		return decimal.NewFromString(raw)
	}

	tick, err := dec(s.TickSizeSpot, decimal.Zero)
	if err != nil {
		return core.StrategyConfig{}, core.FeeConfig{}, err
	}
	lot, err := dec(s.LotSize, decimal.Zero)
	if err != nil {
		return core.StrategyConfig{}, core.FeeConfig{}, err
	}
	budget, err := dec(s.TotalBudgetBase, decimal.Zero)
	if err != nil {
		return core.StrategyConfig{}, core.FeeConfig{}, err
	}
	cycleFrac, err := dec(s.CycleBudgetFraction, decimal.Zero)
	if err != nil {
		return core.StrategyConfig{}, core.FeeConfig{}, err
	}
	depthRatio, err := dec(s.DepthConsumptionRatio, decimal.Zero)
	if err != nil {
		return core.StrategyConfig{}, core.FeeConfig{}, err
	}
	minQty, err := dec(s.MinOrderQty, decimal.Zero)
	if err != nil {
		return core.StrategyConfig{}, core.FeeConfig{}, err
	}
	minNotional, err := dec(s.MinNotionalQuote, decimal.Zero)
	if err != nil {
		return core.StrategyConfig{}, core.FeeConfig{}, err
	}
	repriceBps, err := dec(s.RepriceThresholdBps, decimal.Zero)
	if err != nil {
		return core.StrategyConfig{}, core.FeeConfig{}, err
	}
	closeMarginBps, err := dec(s.CloseSpreadMarginBps, decimal.Zero)
	if err != nil {
		return core.StrategyConfig{}, core.FeeConfig{}, err
	}
	minSpreadBps, err := dec(c.Fee.MinSpreadBps, decimal.Zero)
	if err != nil {
		return core.StrategyConfig{}, core.FeeConfig{}, err
	}

	crossInterval := s.RestReconcileIntervalCrossSec
	if crossInterval == 0 {
		crossInterval = s.RestReconcileIntervalSec
	}

	strategy := core.StrategyConfig{
		SymbolSpot:                 s.SymbolSpot,
		SymbolPerp:                 s.SymbolPerp,
		TickSizeSpot:               tick,
		LotSize:                    lot,
		TotalBudgetBase:            budget,
		CycleBudgetFraction:        cycleFrac,
		DepthConsumptionRatio:      depthRatio,
		MinOrderQty:                minQty,
		MinNotionalQuote:           minNotional,
		RepriceThresholdBps:        repriceBps,
		RepriceTickFloor:           s.RepriceTickFloor,
		PollInterval:               time.Duration(s.PollIntervalMs) * time.Millisecond,
		MaxRetry:                   s.MaxRetry,
		RestReconcileInterval:      time.Duration(s.RestReconcileIntervalSec) * time.Second,
		RestReconcileIntervalCross: time.Duration(crossInterval) * time.Second,
		MaxCloseRounds:             s.MaxCloseRounds,
		CloseRoundMaxWait:          time.Duration(s.CloseRoundMaxWaitSec) * time.Second,
		CloseSpreadMarginBps:       closeMarginBps,
	}
	fee := core.FeeConfig{MinSpreadBps: minSpreadBps}
	return strategy, fee, nil
}

// Strategy returns a copy of the current strategy config, safe to read
// concurrently with SetBudget/SetMinSpreadBps.
func (c *Config) Strategy() core.StrategyConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy
}

// Fee returns a copy of the current fee config.
func (c *Config) Fee() core.FeeConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fee
}

// SetBudget updates TotalBudgetBase under the config mutex, the guarded
// setter spec.md §3 requires for this mutable field (operator "budget"
// control-channel command).
func (c *Config) SetBudget(base decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategy.TotalBudgetBase = base
}

// SetMinSpreadBps updates FeeConfig.MinSpreadBps under the config mutex
// (operator "spread" control-channel command).
func (c *Config) SetMinSpreadBps(bps decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fee.MinSpreadBps = bps
}

// VenueCredentials returns the credential entry for a venue name.
func (c *Config) VenueCredentials(name string) (VenueCredential, bool) {
	cred, ok := c.Venues.Creds[name]
	return cred, ok
}

// String returns a string representation of the configuration with
// sensitive data masked (Secret fields self-redact via their MarshalYAML).
func (c *Config) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, _ := yaml.Marshal(struct {
		App       AppConfig
		Venues    VenuesConfig
		Strategy  StrategyYAML
		Fee       FeeYAML
		Control   ControlConfig
		Journal   JournalConfig
		Telemetry TelemetryCfg
	}{c.App, c.Venues, c.Strategy, c.Fee, c.Control, c.Journal, c.Telemetry})
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		value := os.Getenv(key)
		if value == "" && isCriticalEnvVar(key) {
			return ""
		}
		return value
	})
}

// isCriticalEnvVar checks if an environment variable is critical for operation.
func isCriticalEnvVar(key string) bool {
	criticalVars := []string{
		"BINANCE_API_KEY", "BINANCE_SECRET_KEY",
		"BINANCE_SPOT_API_KEY", "BINANCE_SPOT_SECRET_KEY",
		"SLACK_WEBHOOK_URL", "TELEGRAM_BOT_TOKEN",
	}
	return contains(criticalVars, key)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing.
func DefaultConfig() *Config {
	cfg := &Config{
		App: AppConfig{LogLevel: "INFO", CancelOnExit: true},
		Venues: VenuesConfig{
			Spot: "binance_spot",
			Perp: "binance",
			Creds: map[string]VenueCredential{
				"binance_spot": {APIKey: "test_api_key", SecretKey: "test_secret_key"},
				"binance":      {APIKey: "test_api_key", SecretKey: "test_secret_key"},
			},
		},
		Strategy: StrategyYAML{
			SymbolSpot:                    "BTCUSDT",
			SymbolPerp:                    "BTCUSDT",
			TickSizeSpot:                  "0.01",
			LotSize:                       "0.001",
			TotalBudgetBase:               "1.0",
			CycleBudgetFraction:           "0.2",
			DepthConsumptionRatio:         "0.5",
			MinOrderQty:                   "0.0001",
			MinNotionalQuote:              "10",
			RepriceThresholdBps:           "5",
			RepriceTickFloor:              2,
			PollIntervalMs:                500,
			MaxRetry:                      3,
			RestReconcileIntervalSec:      30,
			RestReconcileIntervalCrossSec: 10,
			MaxCloseRounds:                200,
			CloseRoundMaxWaitSec:          8,
			CloseSpreadMarginBps:          "0",
		},
		Fee:     FeeYAML{MinSpreadBps: "2"},
		Control: ControlConfig{SocketPath: "/tmp/arbmaker.sock"},
		Journal: JournalConfig{Path: "arbmaker.db"},
	}
	strategy, fee, err := cfg.build()
	if err != nil {
		panic(fmt.Sprintf("DefaultConfig: %v", err))
	}
	cfg.strategy = strategy
	cfg.fee = fee
	return cfg
}
