package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "api_key: ${TEST_API_KEY}",
			envVars: map[string]string{
				"TEST_API_KEY": "test_key_123",
			},
			expected: "api_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "api_key: ${API_KEY}\nsecret: ${SECRET_KEY}",
			envVars: map[string]string{
				"API_KEY":    "key_value",
				"SECRET_KEY": "secret_value",
			},
			expected: "api_key: key_value\nsecret: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func validConfigYAML() string {
	return `app:
  log_level: "INFO"
  cancel_on_exit: true

venues:
  spot: "binance_spot"
  perp: "binance"
  creds:
    binance_spot:
      api_key: "${TEST_BINANCE_API_KEY}"
      secret_key: "${TEST_BINANCE_SECRET_KEY}"
    binance:
      api_key: "${TEST_BINANCE_API_KEY}"
      secret_key: "${TEST_BINANCE_SECRET_KEY}"

strategy:
  symbol_spot: "BTCUSDT"
  symbol_perp: "BTCUSDT"
  tick_size_spot: "0.01"
  lot_size: "0.001"
  total_budget_base: "1.0"
  cycle_budget_fraction: "0.2"
  depth_consumption_ratio: "0.5"
  min_order_qty: "0.0001"
  min_notional_quote: "10"
  reprice_threshold_bps: "5"
  reprice_tick_floor: 2
  poll_interval_ms: 500
  max_retry: 3
  rest_reconcile_interval_sec: 30
  max_close_rounds: 200
  close_round_max_wait_sec: 8

fee:
  min_spread_bps: "2"

control:
  socket_path: "/tmp/arbmaker-test.sock"

journal:
  path: "arbmaker-test.db"
`
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.Write([]byte(validConfigYAML()))
	require.NoError(t, err)
	tmpFile.Close()

	os.Setenv("TEST_BINANCE_API_KEY", "test_api_key_from_env")
	os.Setenv("TEST_BINANCE_SECRET_KEY", "test_secret_key_from_env")
	defer os.Unsetenv("TEST_BINANCE_API_KEY")
	defer os.Unsetenv("TEST_BINANCE_SECRET_KEY")

	cfg, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err, "LoadConfig() error")

	cred, ok := cfg.VenueCredentials("binance")
	require.True(t, ok)
	assert.Equal(t, Secret("test_api_key_from_env"), cred.APIKey)
	assert.Equal(t, Secret("test_secret_key_from_env"), cred.SecretKey)

	strategy := cfg.Strategy()
	assert.Equal(t, "BTCUSDT", strategy.SymbolSpot)
	assert.True(t, strategy.TotalBudgetBase.Equal(decimal.NewFromFloat(1.0)))
	assert.Equal(t, 200, strategy.MaxCloseRounds)
}

func TestSetBudgetAndMinSpreadBps(t *testing.T) {
	cfg := DefaultConfig()

	cfg.SetBudget(decimal.NewFromFloat(5))
	assert.True(t, cfg.Strategy().TotalBudgetBase.Equal(decimal.NewFromFloat(5)))

	cfg.SetMinSpreadBps(decimal.NewFromFloat(10))
	assert.True(t, cfg.Fee().MinSpreadBps.Equal(decimal.NewFromFloat(10)))
}

func TestIsCriticalEnvVar(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		expected bool
	}{
		{"binance api key is critical", "BINANCE_API_KEY", true},
		{"binance secret is critical", "BINANCE_SECRET_KEY", true},
		{"slack webhook is critical", "SLACK_WEBHOOK_URL", true},
		{"random var is not critical", "RANDOM_VAR", false},
		{"empty var is not critical", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isCriticalEnvVar(tt.envVar)
			assert.Equal(t, tt.expected, result, "isCriticalEnvVar(%q)", tt.envVar)
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	output := cfg.String()

	assert.Contains(t, output, "[REDACTED]", "output should contain redacted secret marker")
	assert.NotContains(t, output, "test_api_key", "output should NOT contain cleartext api key")
	assert.NotContains(t, output, "test_secret_key", "output should NOT contain cleartext secret key")
}

func TestValidate_MissingVenueCredential(t *testing.T) {
	cfg := DefaultConfig()
	delete(cfg.Venues.Creds, "binance")

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venues.creds")
}

func TestValidate_BadDecimalString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy.LotSize = "not-a-number"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lot_size")
}
