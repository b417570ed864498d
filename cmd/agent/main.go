// Package main is the entry point for the hpc metric writer agent.
// It initializes configuration, sets up collectors and the write engine,
// and runs the scheduler until it receives a termination signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rdietric/collectd-plugins/internal/buffer"
	"github.com/rdietric/collectd-plugins/internal/collector"
	"github.com/rdietric/collectd-plugins/internal/config"
	"github.com/rdietric/collectd-plugins/internal/engine"
	"github.com/rdietric/collectd-plugins/internal/models"
	"github.com/rdietric/collectd-plugins/internal/scheduler"
	"github.com/rdietric/collectd-plugins/internal/sender"
	"github.com/rdietric/collectd-plugins/internal/telemetry"
	"github.com/rdietric/collectd-plugins/internal/topology"
)

// shutdownTimeout bounds the final flush.
const shutdownTimeout = 15 * time.Second

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "", "Path to configuration file (default: search standard locations)")
	showVersion = flag.Bool("version", false, "Show version and exit")
	hostFlag    = flag.String("host", "", "InfluxDB host, overrides config and environment")
	dbFlag      = flag.String("database", "", "InfluxDB database, overrides config and environment")
	dumpConfig  = flag.String("dump-config", "", "Write the effective configuration to this path and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("hpc-writer %s\n", version)
		os.Exit(0)
	}

	cli := config.CLIOverrides{Host: *hostFlag, Database: *dbFlag}
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadLayered(cli, embeddedConfig, *configPath)
	} else {
		cfg, err = config.LoadLayered(cli, embeddedConfig)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	if *dumpConfig != "" {
		if err := config.Save(cfg, *dumpConfig); err != nil {
			logger.Fatal("Failed to write configuration", zap.Error(err))
		}
		logger.Info("Configuration written", zap.String("path", *dumpConfig))
		return
	}

	logger.Info("Starting hpc-writer",
		zap.String("version", version),
		zap.String("influxdb", fmt.Sprintf("%s:%d", cfg.InfluxDB.Host, cfg.InfluxDB.Port)),
		zap.String("database", cfg.InfluxDB.Database))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down",
			zap.String("signal", sig.String()))
		cancel()
	}()

	if err := runAgent(ctx, cfg, logger); err != nil {
		logger.Fatal("Agent failed", zap.Error(err))
	}
	logger.Info("Agent stopped")
}

// runAgent initializes all components and starts the collection/write loop.
// It blocks until the context is cancelled.
func runAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	host := cfg.Collection.Hostname
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolving hostname: %w", err)
		}
		host = h
	}

	perCore, err := perCorePolicy(ctx, cfg.Write.PerCore, logger)
	if err != nil {
		return err
	}

	snd := sender.New(cfg.InfluxDB, logger)
	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.InfluxDB.Timeout.Duration)
	if v, err := snd.Ping(pingCtx); err != nil {
		logger.Warn("InfluxDB not reachable yet, samples are cached until it is",
			zap.String("url", snd.URL()), zap.Error(err))
	} else {
		logger.Info("Connected to InfluxDB", zap.String("url", snd.URL()), zap.String("version", v))
	}
	pingCancel()

	metrics := telemetry.New()
	if cfg.Telemetry.Listen != "" {
		go func() {
			if err := telemetry.Serve(ctx, cfg.Telemetry.Listen, metrics, logger.Named("telemetry")); err != nil {
				logger.Error("Telemetry endpoint failed", zap.Error(err))
			}
		}()
	}

	eng, err := engine.New(engine.Options{
		BatchSize:      cfg.Write.BatchSize,
		CacheSize:      cfg.Write.CacheSize,
		StoreRates:     cfg.Write.StoreRates,
		PerCore:        perCore,
		Shapes:         models.DefaultShapes.Merge(cfg.Write.Shapes),
		RateIdleExpiry: cfg.Write.RateIdleExpiry.Duration,
	}, snd, metrics, logger.Named("engine"))
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	// Initialize collector registry and register the configured collectors
	registry := collector.NewRegistry(logger)
	for _, name := range cfg.Collection.Collectors {
		c, err := collector.ByName(name, host, logger.Named(name))
		if err != nil {
			return err
		}
		registry.Register(c)
	}
	if len(registry.Collectors()) == 0 {
		return fmt.Errorf("none of the configured collectors is available on this platform")
	}

	sched := scheduler.New(registry, eng, scheduler.Options{
		Interval:        cfg.Collection.Interval.Duration,
		FlushInterval:   cfg.Collection.FlushInterval.Duration,
		ShutdownTimeout: shutdownTimeout,
	}, logger.Named("scheduler"))

	// Start the scheduler (blocks until context is cancelled)
	logger.Info("Agent running",
		zap.String("host", host),
		zap.Duration("collect_interval", cfg.Collection.Interval.Duration),
		zap.Duration("flush_interval", cfg.Collection.FlushInterval.Duration),
		zap.Int("batch_size", cfg.Write.BatchSize),
		zap.Bool("store_rates", cfg.Write.StoreRates))
	sched.Start(ctx)
	return nil
}

// perCorePolicy builds the per-core aggregation policy. It returns nil when
// nothing is configured or the machine runs one thread per core.
func perCorePolicy(ctx context.Context, entries []string, logger *zap.Logger) (*buffer.PerCore, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	modes, err := buffer.ParsePerCore(entries)
	if err != nil {
		return nil, err
	}

	topo, err := topology.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting topology: %w", err)
	}
	if topo.ThreadsPerCore() == 1 {
		logger.Info("Disable per-core aggregation: one thread per core")
		return nil, nil
	}

	logger.Info("Per-core aggregation enabled",
		zap.Int("threads", topo.Threads()),
		zap.Int("threads_per_core", topo.ThreadsPerCore()),
		zap.Strings("measurements", entries))
	return buffer.NewPerCore(modes, topo), nil
}

// initLogger creates a zap logger based on the configuration.
// It outputs to both console (human-readable) and optionally a JSON log file.
func initLogger(cfg *config.Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}
