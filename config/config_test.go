package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `tapeflow:
  name: "TestApp"
  version: "1.0"
exchanges:
  binance:
    enabled: true
    url: "wss://fstream.binance.com/stream"
    symbols: ["BTCUSDT"]
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Tapeflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Tapeflow.Name)
	}
	if cfg.Connector.MaxReconnectAttempts != 5 {
		t.Errorf("unexpected default reconnect attempts: %d", cfg.Connector.MaxReconnectAttempts)
	}
	if cfg.Buffers.BackpressureThreshold != 0.90 {
		t.Errorf("unexpected default backpressure threshold: %v", cfg.Buffers.BackpressureThreshold)
	}
	if cfg.Analytics.ImbalanceWindow != 500*time.Millisecond {
		t.Errorf("unexpected default imbalance window: %v", cfg.Analytics.ImbalanceWindow)
	}
}

func TestLoadConfigNoExchanges(t *testing.T) {
	content := `tapeflow:
  name: "TestApp"
  version: "1.0"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected validation error with no enabled exchanges")
	}
}

func TestLoadConfigEnabledExchangeNeedsSymbols(t *testing.T) {
	content := `tapeflow:
  name: "TestApp"
  version: "1.0"
exchanges:
  okx:
    enabled: true
    url: "wss://ws.okx.com:8443/ws/v5/public"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected validation error for enabled exchange without symbols")
	}
}

func TestLoadSymbolSet(t *testing.T) {
	content := `binance: ["ETHUSDT"]
okx: ["ETH-USDT-SWAP"]
`
	f, err := os.CreateTemp("", "symbols-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	set, err := LoadSymbolSet(f.Name())
	if err != nil {
		t.Fatalf("LoadSymbolSet failed: %v", err)
	}

	cfg := &Config{}
	cfg.Exchanges.Binance.Symbols = []string{"BTCUSDT"}
	cfg.Exchanges.Bybit.Symbols = []string{"BTCUSDT"}
	set.Apply(cfg)

	if len(cfg.Exchanges.Binance.Symbols) != 1 || cfg.Exchanges.Binance.Symbols[0] != "ETHUSDT" {
		t.Errorf("binance symbols not overridden: %v", cfg.Exchanges.Binance.Symbols)
	}
	if len(cfg.Exchanges.Okx.Symbols) != 1 || cfg.Exchanges.Okx.Symbols[0] != "ETH-USDT-SWAP" {
		t.Errorf("okx symbols not overridden: %v", cfg.Exchanges.Okx.Symbols)
	}
	if cfg.Exchanges.Bybit.Symbols[0] != "BTCUSDT" {
		t.Errorf("bybit symbols should be untouched: %v", cfg.Exchanges.Bybit.Symbols)
	}
}

func TestValidationRelaxedOutsideProduction(t *testing.T) {
	content := `exchanges:
  binance:
    enabled: true
    url: "wss://fstream.binance.com/stream"
    symbols: ["BTCUSDT"]
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	t.Setenv("APP_ENV", "")
	cfg, err := LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("development load without identification fields: %v", err)
	}
	if cfg.Tapeflow.Name == "" || cfg.Tapeflow.Version == "" {
		t.Errorf("placeholders not applied: %q %q", cfg.Tapeflow.Name, cfg.Tapeflow.Version)
	}

	t.Setenv("APP_ENV", "production")
	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected validation error for missing identification fields in production")
	}
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	if err := os.MkdirAll("config", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	t.Setenv("APP_ENV", "production")
	if got := ResolveConfigPath(DefaultConfigPath); got != DefaultConfigPath {
		t.Errorf("missing production file should keep the default, got %q", got)
	}

	prodPath := "config/config.production.yml"
	if err := os.WriteFile(prodPath, []byte("tapeflow: {}\n"), 0o644); err != nil {
		t.Fatalf("write production config: %v", err)
	}
	if got := ResolveConfigPath(DefaultConfigPath); got != prodPath {
		t.Errorf("ResolveConfigPath(default) = %q, want %q", got, prodPath)
	}
	if got := ResolveConfigPath(""); got != prodPath {
		t.Errorf("ResolveConfigPath(\"\") = %q, want %q", got, prodPath)
	}
	if got := ResolveConfigPath("custom.yml"); got != "custom.yml" {
		t.Errorf("explicit path must win, got %q", got)
	}

	t.Setenv("APP_ENV", "")
	if got := ResolveConfigPath(DefaultConfigPath); got != DefaultConfigPath {
		t.Errorf("development must keep the default, got %q", got)
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if env := AppEnvironment(); env != EnvironmentProduction {
		t.Errorf("AppEnvironment() = %q, want %q", env, EnvironmentProduction)
	}
	t.Setenv("APP_ENV", "")
	if env := AppEnvironment(); env != EnvironmentDevelopment {
		t.Errorf("AppEnvironment() = %q, want %q", env, EnvironmentDevelopment)
	}
}
