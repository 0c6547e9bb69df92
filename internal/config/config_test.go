package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
net:
  address: "0.0.0.0"
  port: 9001
  event_hub_port: 9002
  workers: 4

markets:
  - market: "BTC-PERP"
    seed_price: 50000000000

liquidation:
  scan_interval_ms: 500
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ParsesMarketsAndNet(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Net.Port)
	assert.Equal(t, 4, cfg.Net.Workers)
	require.Len(t, cfg.Markets, 1)
	assert.Equal(t, "BTC-PERP", cfg.Markets[0].Market)
	assert.EqualValues(t, 50000000000, cfg.Markets[0].SeedPrice)
	assert.Equal(t, 500, cfg.Liquidation.ScanIntervalMs)
}

func TestLoad_AppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeTempConfig(t, `
markets:
  - market: "ETH-PERP"
    seed_price: 3000000000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Net.Port)
	assert.Equal(t, 10, cfg.Net.Workers)
	assert.Equal(t, "system", cfg.Liquidation.SystemAccount)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	t.Setenv("CRUX_NET_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Net.Port)
}

func TestValidate_RejectsEmptyMarkets(t *testing.T) {
	cfg := &Config{
		Net:         NetConfig{Port: 1, EventHubPort: 2, Workers: 1},
		Liquidation: LiquidationConfig{ScanIntervalMs: 1},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsZeroSeedPrice(t *testing.T) {
	cfg := &Config{
		Net:         NetConfig{Port: 1, EventHubPort: 2, Workers: 1},
		Markets:     []MarketSeed{{Market: "BTC-PERP", SeedPrice: 0}},
		Liquidation: LiquidationConfig{ScanIntervalMs: 1},
	}
	assert.Error(t, cfg.Validate())
}

func TestMarketIDs_ConvertsConfiguredMarkets(t *testing.T) {
	cfg := &Config{Markets: []MarketSeed{{Market: "BTC-PERP"}, {Market: "ETH-PERP"}}}
	ids := cfg.MarketIDs()
	assert.Len(t, ids, 2)
}
