package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"lendex/lending"
)

// Config carries the runtime configuration for the lending node: storage
// location, oracle staleness bound and the risk parameters of the two asset
// pools.
type Config struct {
	DataDir             string     `toml:"DataDir"`
	Environment         string     `toml:"Environment"`
	MetricsAddress      string     `toml:"MetricsAddress"`
	OracleMaxAgeSeconds int64      `toml:"OracleMaxAgeSeconds"`
	Primary             PoolConfig `toml:"primary"`
	Secondary           PoolConfig `toml:"secondary"`
}

// PoolConfig describes one asset pool. Fractions are basis points; the
// interest rate is a per-second nominal decimal.
type PoolConfig struct {
	Denom                     string  `toml:"Denom"`
	Decimals                  uint8   `toml:"Decimals"`
	FeedID                    string  `toml:"FeedID"`
	LiquidationThresholdBps   uint64  `toml:"LiquidationThresholdBps"`
	MaxLTVBps                 uint64  `toml:"MaxLTVBps"`
	LiquidationBonusBps       uint64  `toml:"LiquidationBonusBps"`
	LiquidationCloseFactorBps uint64  `toml:"LiquidationCloseFactorBps"`
	InterestRatePerSecond     float64 `toml:"InterestRatePerSecond"`
}

// RiskParameters converts the pool block into the engine's parameter struct.
func (p PoolConfig) RiskParameters() lending.RiskParameters {
	rate := new(big.Rat)
	if p.InterestRatePerSecond > 0 {
		rate.SetFloat64(p.InterestRatePerSecond)
	}
	return lending.RiskParameters{
		LiquidationThresholdBps:   p.LiquidationThresholdBps,
		MaxLTVBps:                 p.MaxLTVBps,
		LiquidationBonusBps:       p.LiquidationBonusBps,
		LiquidationCloseFactorBps: p.LiquidationCloseFactorBps,
		InterestRate:              rate,
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every pool block for internally consistent risk limits.
func (c *Config) Validate() error {
	if c.OracleMaxAgeSeconds <= 0 {
		return fmt.Errorf("OracleMaxAgeSeconds must be positive")
	}
	for _, pool := range []struct {
		label string
		cfg   PoolConfig
	}{
		{"primary", c.Primary},
		{"secondary", c.Secondary},
	} {
		if pool.cfg.Denom == "" {
			return fmt.Errorf("pool %s: Denom must be set", pool.label)
		}
		if pool.cfg.FeedID == "" {
			return fmt.Errorf("pool %s: FeedID must be set", pool.label)
		}
		if pool.cfg.LiquidationThresholdBps > 10_000 {
			return fmt.Errorf("pool %s: LiquidationThresholdBps %d exceeds 10000", pool.label, pool.cfg.LiquidationThresholdBps)
		}
		if pool.cfg.MaxLTVBps > pool.cfg.LiquidationThresholdBps {
			return fmt.Errorf("pool %s: MaxLTVBps %d exceeds LiquidationThresholdBps %d", pool.label, pool.cfg.MaxLTVBps, pool.cfg.LiquidationThresholdBps)
		}
		if pool.cfg.LiquidationCloseFactorBps > 10_000 {
			return fmt.Errorf("pool %s: LiquidationCloseFactorBps %d exceeds 10000", pool.label, pool.cfg.LiquidationCloseFactorBps)
		}
		if pool.cfg.InterestRatePerSecond < 0 {
			return fmt.Errorf("pool %s: InterestRatePerSecond must not be negative", pool.label)
		}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:             "./lendex-data",
		Environment:         "dev",
		OracleMaxAgeSeconds: 100,
		Primary: PoolConfig{
			Denom:                     "SOL",
			Decimals:                  9,
			FeedID:                    "SOL/USD",
			LiquidationThresholdBps:   8_000,
			MaxLTVBps:                 7_500,
			LiquidationBonusBps:       500,
			LiquidationCloseFactorBps: 5_000,
			InterestRatePerSecond:     0,
		},
		Secondary: PoolConfig{
			Denom:                     "USDC",
			Decimals:                  6,
			FeedID:                    "USDC/USD",
			LiquidationThresholdBps:   8_000,
			MaxLTVBps:                 7_500,
			LiquidationBonusBps:       500,
			LiquidationCloseFactorBps: 5_000,
			InterestRatePerSecond:     0,
		},
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
