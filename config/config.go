package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tapeflow   TapeflowConfig   `yaml:"tapeflow"`
	Logging    LoggingConfig    `yaml:"logging"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
	Buffers    BuffersConfig    `yaml:"buffers"`
	Connector  ConnectorConfig  `yaml:"connector"`
	Exchanges  ExchangesConfig  `yaml:"exchanges"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	OrderFlow  OrderFlowConfig  `yaml:"orderflow"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
}

type TapeflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

// BuffersConfig sizes the SPSC rings between connectors and the processor.
type BuffersConfig struct {
	Capacity              int     `yaml:"capacity"`
	SignalCapacity        int     `yaml:"signal_capacity"`
	BackpressureThreshold float64 `yaml:"backpressure_threshold"`
	AdvisoryThreshold     float64 `yaml:"advisory_threshold"`
	BackpressureEnabled   bool    `yaml:"backpressure_enabled"`
}

type ConnectorConfig struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	SubscribePerSecond   int           `yaml:"subscribe_per_second"`
	SubscribeBurst       int           `yaml:"subscribe_burst"`
	FrameBuffer          int           `yaml:"frame_buffer"`
}

type ExchangesConfig struct {
	Binance ExchangeConfig `yaml:"binance"`
	Okx     ExchangeConfig `yaml:"okx"`
	Bybit   ExchangeConfig `yaml:"bybit"`
}

type ExchangeConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Symbols       []string `yaml:"symbols"`
	DepthLevels   int      `yaml:"depth_levels"`
	SnapshotDepth int      `yaml:"snapshot_depth"`
}

type PipelineConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	DrainBatch    int           `yaml:"drain_batch"`
	ReconnectScan time.Duration `yaml:"reconnect_scan"`
}

type OrderFlowConfig struct {
	TradeDecay      time.Duration `yaml:"trade_decay"`
	CancelDecay     time.Duration `yaml:"cancel_decay"`
	MaxLevels       int           `yaml:"max_levels"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type AnalyticsConfig struct {
	ImbalanceWindow    time.Duration `yaml:"imbalance_window"`
	ImbalanceThreshold float64       `yaml:"imbalance_threshold"`
	SignalDebounce     time.Duration `yaml:"signal_debounce"`
	VolatilityWindow   time.Duration `yaml:"volatility_window"`
	VolatilityHistory  int           `yaml:"volatility_history"`
	MomentumThreshold  float64       `yaml:"momentum_threshold"`
}

// DashboardConfig controls the local HTTP status server.
type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	ResourceHistory int           `yaml:"resource_history"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Buffers: BuffersConfig{
			Capacity:              8192,
			SignalCapacity:        1024,
			BackpressureThreshold: 0.90,
			AdvisoryThreshold:     0.80,
			BackpressureEnabled:   true,
		},
		Connector: ConnectorConfig{
			MaxReconnectAttempts: 5,
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			PingInterval:         20 * time.Second,
			ReadTimeout:          60 * time.Second,
			SubscribePerSecond:   5,
			SubscribeBurst:       10,
			FrameBuffer:          1024,
		},
		Pipeline: PipelineConfig{
			TickInterval:  time.Millisecond,
			DrainBatch:    256,
			ReconnectScan: time.Second,
		},
		OrderFlow: OrderFlowConfig{
			TradeDecay:      3 * time.Second,
			CancelDecay:     5 * time.Second,
			MaxLevels:       1000,
			CleanupInterval: time.Second,
		},
		Analytics: AnalyticsConfig{
			ImbalanceWindow:    500 * time.Millisecond,
			ImbalanceThreshold: 0.75,
			SignalDebounce:     500 * time.Millisecond,
			VolatilityWindow:   10 * time.Second,
			VolatilityHistory:  600,
			MomentumThreshold:  2.0,
		},
		Dashboard: DashboardConfig{
			Address:         "0.0.0.0:8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			ResourceHistory: 200,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("AWS_REGION"); v != "" && config.CloudWatch.Enabled {
		config.CloudWatch.Region = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	// The identification fields must be set where deployments are tracked;
	// development runs fall back to placeholders.
	if IsProductionLike(AppEnvironment()) {
		if cfg.Tapeflow.Name == "" {
			return fmt.Errorf("tapeflow.name is required")
		}
		if cfg.Tapeflow.Version == "" {
			return fmt.Errorf("tapeflow.version is required")
		}
	} else {
		if cfg.Tapeflow.Name == "" {
			cfg.Tapeflow.Name = "tapeflow"
		}
		if cfg.Tapeflow.Version == "" {
			cfg.Tapeflow.Version = "dev"
		}
	}

	if cfg.Buffers.Capacity <= 0 {
		return fmt.Errorf("buffers.capacity must be greater than 0")
	}
	if cfg.Buffers.SignalCapacity <= 0 {
		return fmt.Errorf("buffers.signal_capacity must be greater than 0")
	}
	if cfg.Buffers.BackpressureThreshold <= cfg.Buffers.AdvisoryThreshold {
		return fmt.Errorf("buffers.backpressure_threshold must be above buffers.advisory_threshold")
	}

	if cfg.Connector.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("connector.max_reconnect_attempts must be greater than 0")
	}
	if cfg.Connector.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("connector.reconnect_base_delay must be greater than 0")
	}
	if cfg.Connector.ReconnectMaxDelay < cfg.Connector.ReconnectBaseDelay {
		return fmt.Errorf("connector.reconnect_max_delay must not be below connector.reconnect_base_delay")
	}

	if cfg.Pipeline.TickInterval <= 0 {
		return fmt.Errorf("pipeline.tick_interval must be greater than 0")
	}
	if cfg.Pipeline.DrainBatch <= 0 {
		return fmt.Errorf("pipeline.drain_batch must be greater than 0")
	}

	if cfg.OrderFlow.TradeDecay <= 0 || cfg.OrderFlow.CancelDecay <= 0 {
		return fmt.Errorf("orderflow decay windows must be greater than 0")
	}
	if cfg.OrderFlow.MaxLevels <= 0 {
		return fmt.Errorf("orderflow.max_levels must be greater than 0")
	}

	if cfg.Analytics.ImbalanceThreshold <= 0 || cfg.Analytics.ImbalanceThreshold > 1 {
		return fmt.Errorf("analytics.imbalance_threshold must be in (0, 1]")
	}
	if cfg.Analytics.ImbalanceWindow <= 0 {
		return fmt.Errorf("analytics.imbalance_window must be greater than 0")
	}
	if cfg.Analytics.VolatilityWindow <= 0 {
		return fmt.Errorf("analytics.volatility_window must be greater than 0")
	}

	enabled := 0
	for _, ex := range []ExchangeConfig{cfg.Exchanges.Binance, cfg.Exchanges.Okx, cfg.Exchanges.Bybit} {
		if !ex.Enabled {
			continue
		}
		enabled++
		if ex.URL == "" {
			return fmt.Errorf("enabled exchanges require a websocket url")
		}
		if len(ex.Symbols) == 0 {
			return fmt.Errorf("enabled exchanges require at least one symbol")
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one exchange must be enabled")
	}

	return nil
}
