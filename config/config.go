package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config captures the runtime configuration of the bondmmd daemon.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`

	// PoolAccount is the ledger account holding the pool's cash and
	// collateral, hex encoded.
	PoolAccount string `toml:"PoolAccount"`
	// OperatorAccount receives the bootstrap mint on the local ledger and
	// funds pool initialization.
	OperatorAccount string `toml:"OperatorAccount"`
	// OperatorBalance is the bootstrap mint amount, decimal.
	OperatorBalance string `toml:"OperatorBalance"`

	// AdminJWTSecret signs and verifies bearer tokens for admin routes.
	AdminJWTSecret string `toml:"AdminJWTSecret"`
	// RateLimitPerMin throttles mutating gateway calls per client address.
	RateLimitPerMin int `toml:"RateLimitPerMin"`

	Oracle OracleConfig `toml:"oracle"`
	Pool   PoolConfig   `toml:"pool"`
}

// OracleConfig seeds the local static anchor-rate source.
type OracleConfig struct {
	// AnchorRate is the published anchor rate, decimal (0.05 = 5%).
	AnchorRate string `toml:"AnchorRate"`
	// FallbackRate is the bounded settlement fallback, decimal.
	FallbackRate string `toml:"FallbackRate"`
}

// PoolConfig overrides the launch parameters of the pool engine. Zero values
// keep the defaults.
type PoolConfig struct {
	MinMaturitySeconds uint64 `toml:"MinMaturitySeconds"`
	MaxMaturitySeconds uint64 `toml:"MaxMaturitySeconds"`
	CollateralRatio    string `toml:"CollateralRatio"`
	SolvencyThreshold  string `toml:"SolvencyThreshold"`
	GracePeriodSeconds uint64 `toml:"GracePeriodSeconds"`
	LiquidationPenalty string `toml:"LiquidationPenalty"`
}

const defaultConfig = `ListenAddress = "0.0.0.0:8546"
DataDir = "./bondmm-data"
Environment = "local"
PoolAccount = "0x00000000000000000000000000000000B04dB001"
OperatorAccount = "0x00000000000000000000000000000000B04d0002"
OperatorBalance = "10000000"
AdminJWTSecret = ""
RateLimitPerMin = 60

[oracle]
AnchorRate = "0.05"
FallbackRate = "0.05"

[pool]
MinMaturitySeconds = 2592000
MaxMaturitySeconds = 31536000
CollateralRatio = "1.50"
SolvencyThreshold = "0.99"
GracePeriodSeconds = 86400
LiquidationPenalty = "0.05"
`

// Load reads the configuration from the given path, materialising a
// default file when none exists yet.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = "bondmm.toml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if _, err := toml.Decode(defaultConfig, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate performs structural checks that do not need the engine.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if strings.TrimSpace(c.PoolAccount) == "" {
		return fmt.Errorf("config: PoolAccount required")
	}
	if c.RateLimitPerMin < 0 {
		return fmt.Errorf("config: RateLimitPerMin must not be negative")
	}
	return nil
}
