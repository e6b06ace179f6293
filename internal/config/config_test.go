package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadServiceConfig_Defaults(t *testing.T) {
	cfg, err := LoadServiceConfig(writeFile(t, "log_level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 10, cfg.Server.TradeRateLimit.Burst)
	assert.Equal(t, model.MoneyValue{Currency: "USD", Value: 10000}, cfg.Ledger.StartingCash)
	assert.Equal(t, 3*time.Second, cfg.Ledger.StoreTimeout)
	assert.Equal(t, MemoryBackend, cfg.Store.Backend)
	assert.Equal(t, uint32(1), cfg.Store.Breaker.MaxRequests)
	assert.Equal(t, StaticQuotes, cfg.Quotes.Provider)
	assert.False(t, cfg.Refresh.Enabled)
	assert.Equal(t, "*/5 * * * *", cfg.Refresh.Schedule)
	assert.Equal(t, 10, cfg.Leaderboard.DefaultTop)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServiceConfig_Full(t *testing.T) {
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("ALPHA_VANTAGE_API_KEY", "key")

	cfg, err := LoadServiceConfig(writeFile(t, `
server:
  addr: ":9000"
  trade_rate_limit:
    per_second: 1
    burst: 2
ledger:
  starting_cash:
    currency: usd
    value: 25000
  store_timeout: 500ms
store:
  backend: redis
  redis:
    addr: "redis:6379"
  breaker:
    max_requests: 3
quotes:
  provider: http
  http:
    requests_per_minute: 25
refresh:
  enabled: true
  schedule: "@every 1m"
leaderboard:
  default_top: 3
`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 1.0, cfg.Server.TradeRateLimit.PerSecond)
	assert.Equal(t, model.MoneyValue{Currency: "USD", Value: 25000}, cfg.Ledger.StartingCash)
	assert.Equal(t, 500*time.Millisecond, cfg.Ledger.StoreTimeout)
	assert.Equal(t, RedisBackend, cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "secret", cfg.Store.Redis.Password)
	assert.Equal(t, "vt", cfg.Store.Redis.KeyPrefix)
	assert.Equal(t, uint32(3), cfg.Store.Breaker.MaxRequests)
	assert.Equal(t, "key", cfg.Quotes.HTTP.APIKey)
	assert.Equal(t, 25, cfg.Quotes.HTTP.RequestsPerMinute)
	assert.Equal(t, "https://www.alphavantage.co", cfg.Quotes.HTTP.BaseURL)
	assert.True(t, cfg.Refresh.Enabled)
	assert.Equal(t, "@every 1m", cfg.Refresh.Schedule)
	assert.Equal(t, 3, cfg.Leaderboard.DefaultTop)
}

func TestLoadServiceConfig_Errors(t *testing.T) {
	t.Setenv("ALPHA_VANTAGE_API_KEY", "")

	tests := []struct {
		name    string
		content string
	}{
		{"other currency", "ledger:\n  starting_cash:\n    currency: EUR\n    value: 100\n"},
		{"negative cash", "ledger:\n  starting_cash:\n    value: -1\n"},
		{"unknown backend", "store:\n  backend: mongo\n"},
		{"http without key", "quotes:\n  provider: http\n"},
		{"unknown provider", "quotes:\n  provider: bloomberg\n"},
		{"bad yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServiceConfig(writeFile(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadServiceConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadScenarioConfig(t *testing.T) {
	cfg, err := LoadScenarioConfig(writeFile(t, `
starting_cash:
  value: 5000
steps:
  - action: buy
    user: alice
    symbol: aapl
    shares: 2.5
    price: 187.32
  - action: SELL
    user: alice
    symbol: AAPL
    shares: 1
  - action: refresh
    prices:
      - symbol: AAPL
        price: 190
`))
	require.NoError(t, err)

	assert.Equal(t, 5000.0, cfg.StartingCash.Value)
	assert.Equal(t, 10, cfg.Top)
	require.Len(t, cfg.Steps, 3)
	assert.Equal(t, "2.5", cfg.Steps[0].Shares.String())
	require.NotNil(t, cfg.Steps[0].Price)
	assert.Equal(t, "187.32", cfg.Steps[0].Price.String())
	assert.Equal(t, SellStep, cfg.Steps[1].Action)
	assert.Nil(t, cfg.Steps[1].Price)
	require.Len(t, cfg.Steps[2].Prices, 1)
	assert.Equal(t, "190", cfg.Steps[2].Prices[0].Price.String())
}

func TestScenarioConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", "steps: []\n"},
		{"no user", "steps:\n  - action: buy\n    symbol: AAPL\n    shares: 1\n"},
		{"zero shares", "steps:\n  - action: sell\n    user: a\n    symbol: AAPL\n    shares: 0\n"},
		{"negative price", "steps:\n  - action: buy\n    user: a\n    symbol: AAPL\n    shares: 1\n    price: -2\n"},
		{"unknown action", "steps:\n  - action: short\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenarioConfig(writeFile(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestDefaultScenarioIsValid(t *testing.T) {
	cfg := DefaultScenario
	assert.NoError(t, cfg.ValidateAndSetup())
}

func TestShippedConfigs(t *testing.T) {
	cfg, err := LoadServiceConfig("../../configs/ledger.yaml")
	require.NoError(t, err)
	assert.Equal(t, MemoryBackend, cfg.Store.Backend)
	assert.Equal(t, StaticQuotes, cfg.Quotes.Provider)
	assert.True(t, cfg.Refresh.Enabled)
	assert.Equal(t, time.Minute, cfg.Store.Breaker.Interval)

	scenario, err := LoadScenarioConfig("../../configs/scenario.yaml")
	require.NoError(t, err)
	assert.Equal(t, 5, scenario.Top)
	assert.Len(t, scenario.Steps, 7)
	assert.Equal(t, "195.4", scenario.Steps[6].Prices[0].Price.String())
}
