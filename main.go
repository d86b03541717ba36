package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tapeflow/analytics"
	"tapeflow/config"
	"tapeflow/connector"
	"tapeflow/connector/binance"
	"tapeflow/connector/bybit"
	"tapeflow/connector/okx"
	"tapeflow/internal/dashboard"
	"tapeflow/logger"
	"tapeflow/models"
	"tapeflow/orderflow"
	"tapeflow/pipeline"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	symbolsPath := flag.String("symbols", "", "Optional symbol set file overriding the per-exchange lists")
	flag.Parse()

	configFile := config.ResolveConfigPath(*configPath)
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": configFile}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if *symbolsPath != "" {
		set, err := config.LoadSymbolSet(*symbolsPath)
		if err != nil {
			log.WithError(err).Error("Failed to load symbol set")
			os.Exit(1)
		}
		set.Apply(cfg)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tapeflow.Name,
		"version": cfg.Tapeflow.Version,
	}).Info("starting tapeflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.CloudWatch.Region, cfg.CloudWatch.Namespace, cfg.CloudWatch.Dashboard)
		logger.CreateDefaultDashboard(ctx)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Logging.ReportInterval > 0 {
		interval := cfg.Logging.ReportInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		logger.StartReport(ctx, log, interval)
	}

	coord := pipeline.New(pipelineConfig(cfg), buildLanes(cfg))

	if err := coord.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start pipeline")
		os.Exit(1)
	}

	// Keep the signal out-buffer drained; downstream consumers hook in here.
	go logSignals(ctx, coord, log)

	if dash := dashboard.NewServer(cfg.Dashboard, coord, log); dash != nil {
		go func() {
			log.WithFields(logger.Fields{"address": dash.Address()}).Info("dashboard listening")
			if err := dash.Run(ctx); err != nil {
				log.WithError(err).Warn("dashboard server exited")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()
	coord.Stop()
	log.Info("graceful shutdown completed")
}

func buildLanes(cfg *config.Config) []pipeline.LaneSpec {
	opts := connector.Options{
		MaxReconnectAttempts: cfg.Connector.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Connector.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Connector.ReconnectMaxDelay,
		PingInterval:         cfg.Connector.PingInterval,
		ReadTimeout:          cfg.Connector.ReadTimeout,
		FrameBuffer:          cfg.Connector.FrameBuffer,
		SubscribePerSecond:   cfg.Connector.SubscribePerSecond,
		SubscribeBurst:       cfg.Connector.SubscribeBurst,
	}

	var lanes []pipeline.LaneSpec
	if ex := cfg.Exchanges.Binance; ex.Enabled {
		o := opts
		o.URL = ex.URL
		lanes = append(lanes, pipeline.LaneSpec{
			Exchange:  "binance",
			Symbol:    ex.Symbols[0],
			Connector: binance.New(o, ex.SnapshotDepth),
		})
	}
	if ex := cfg.Exchanges.Okx; ex.Enabled {
		o := opts
		o.URL = ex.URL
		lanes = append(lanes, pipeline.LaneSpec{
			Exchange:  "okx",
			Symbol:    ex.Symbols[0],
			Connector: okx.New(o),
		})
	}
	if ex := cfg.Exchanges.Bybit; ex.Enabled {
		o := opts
		o.URL = ex.URL
		lanes = append(lanes, pipeline.LaneSpec{
			Exchange:  "bybit",
			Symbol:    ex.Symbols[0],
			Connector: bybit.New(o),
		})
	}
	return lanes
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		TickInterval:          cfg.Pipeline.TickInterval,
		DrainBatch:            cfg.Pipeline.DrainBatch,
		ReconnectScan:         cfg.Pipeline.ReconnectScan,
		PingInterval:          cfg.Connector.PingInterval,
		BufferCapacity:        cfg.Buffers.Capacity,
		SignalCapacity:        cfg.Buffers.SignalCapacity,
		BackpressureThreshold: cfg.Buffers.BackpressureThreshold,
		AdvisoryThreshold:     cfg.Buffers.AdvisoryThreshold,
		BackpressureEnabled:   cfg.Buffers.BackpressureEnabled,
		CleanupInterval:       cfg.OrderFlow.CleanupInterval,
		OrderFlow: orderflow.Config{
			TradeDecay:  cfg.OrderFlow.TradeDecay,
			CancelDecay: cfg.OrderFlow.CancelDecay,
			MaxLevels:   cfg.OrderFlow.MaxLevels,
		},
		Analytics: analytics.Config{
			ImbalanceWindow:    cfg.Analytics.ImbalanceWindow,
			ImbalanceThreshold: cfg.Analytics.ImbalanceThreshold,
			SignalDebounce:     cfg.Analytics.SignalDebounce,
			MomentumThreshold:  cfg.Analytics.MomentumThreshold,
			VolatilityWindow:   cfg.Analytics.VolatilityWindow,
			VolatilityHistory:  cfg.Analytics.VolatilityHistory,
		},
	}
}

func logSignals(ctx context.Context, coord *pipeline.Coordinator, log *logger.Log) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ev := range coord.DrainSignals(64) {
				if ev.Kind != models.KindSignal || ev.Signal == nil {
					continue
				}
				log.WithComponent("signals").WithFields(logger.Fields{
					"exchange":  ev.Exchange,
					"symbol":    ev.Symbol,
					"signal":    ev.Signal.Kind.String(),
					"direction": ev.Signal.Direction.String(),
					"ratio":     ev.Signal.Ratio,
				}).Info("signal")
			}
		}
	}
}
