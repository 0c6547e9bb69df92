// Package config defines crux's venue configuration. Config is loaded
// from a YAML file (default: configs/config.yaml) with overrides from
// CRUX_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"crux/internal/common"
)

// MarketSeed is one market to register at startup, with its initial
// mark-price seed (spec §4.D: "before any trade exists").
type MarketSeed struct {
	Market    string `mapstructure:"market"`
	SeedPrice int64  `mapstructure:"seed_price"`
}

// NetConfig controls the TCP command edge and websocket event hub.
type NetConfig struct {
	Address       string `mapstructure:"address"`
	Port          int    `mapstructure:"port"`
	EventHubPort  int    `mapstructure:"event_hub_port"`
	EventHubPath  string `mapstructure:"event_hub_path"`
	Workers       int    `mapstructure:"workers"`
}

// LiquidationConfig tunes the liquidation pipeline's background cadence.
// Scans are also triggered synchronously after every fill (spec §4.E);
// this interval only covers markets that go stale without new fills,
// e.g. a market whose mark price moves because a sibling market traded.
type LiquidationConfig struct {
	ScanIntervalMs int    `mapstructure:"scan_interval_ms"`
	SystemAccount  string `mapstructure:"system_account"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the top-level configuration, mapping directly onto the
// YAML file structure.
type Config struct {
	Net         NetConfig          `mapstructure:"net"`
	Markets     []MarketSeed       `mapstructure:"markets"`
	Liquidation LiquidationConfig  `mapstructure:"liquidation"`
	Logging     LoggingConfig      `mapstructure:"logging"`
}

// Load reads config from a YAML file at path, falling back to built-in
// defaults for anything the file omits, with CRUX_* environment
// variables taking precedence over both.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("net.address", "0.0.0.0")
	v.SetDefault("net.port", 9001)
	v.SetDefault("net.event_hub_port", 9002)
	v.SetDefault("net.event_hub_path", "/events")
	v.SetDefault("net.workers", 10)
	v.SetDefault("liquidation.scan_interval_ms", 1000)
	v.SetDefault("liquidation.system_account", "system")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetConfigFile(path)
	v.SetEnvPrefix("CRUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Net.Port <= 0 {
		return fmt.Errorf("net.port must be > 0")
	}
	if c.Net.EventHubPort <= 0 {
		return fmt.Errorf("net.event_hub_port must be > 0")
	}
	if c.Net.Workers <= 0 {
		return fmt.Errorf("net.workers must be > 0")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market must be configured")
	}
	for _, m := range c.Markets {
		if m.Market == "" {
			return fmt.Errorf("markets[]: market id must not be empty")
		}
		if m.SeedPrice <= 0 {
			return fmt.Errorf("markets[%s]: seed_price must be > 0", m.Market)
		}
	}
	if c.Liquidation.ScanIntervalMs <= 0 {
		return fmt.Errorf("liquidation.scan_interval_ms must be > 0")
	}
	return nil
}

// MarketIDs converts the configured market seeds into MarketID keys.
func (c *Config) MarketIDs() []common.MarketID {
	ids := make([]common.MarketID, 0, len(c.Markets))
	for _, m := range c.Markets {
		ids = append(ids, common.MarketIDFromString(m.Market))
	}
	return ids
}
