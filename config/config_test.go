package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bondmm.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not materialised: %v", err)
	}
	if cfg.ListenAddress == "" || cfg.DataDir == "" || cfg.PoolAccount == "" {
		t.Fatalf("default config incomplete: %+v", cfg)
	}
	if cfg.Oracle.AnchorRate != "0.05" {
		t.Fatalf("unexpected default anchor rate: %s", cfg.Oracle.AnchorRate)
	}
	if cfg.Pool.MinMaturitySeconds == 0 || cfg.Pool.MaxMaturitySeconds == 0 {
		t.Fatalf("default maturities missing: %+v", cfg.Pool)
	}
}

func TestLoadExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bondmm.toml")
	custom := `ListenAddress = "127.0.0.1:9000"
DataDir = "/tmp/bondmm"
PoolAccount = "0x0000000000000000000000000000000000000001"
RateLimitPerMin = 10

[oracle]
AnchorRate = "0.03"
FallbackRate = "0.02"
`
	if err := os.WriteFile(path, []byte(custom), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9000" || cfg.Oracle.AnchorRate != "0.03" || cfg.RateLimitPerMin != 10 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bondmm.toml")
	if err := os.WriteFile(path, []byte(`DataDir = "x"`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation failure for missing fields")
	}
}
