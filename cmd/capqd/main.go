// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

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

	"github.com/mbeema/capq/pkg/config"
	"github.com/mbeema/capq/pkg/health"
	"github.com/mbeema/capq/pkg/queue"
	"github.com/mbeema/capq/pkg/reader"
	"github.com/mbeema/capq/pkg/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  string
		configDir   string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.StringVar(&configDir, "config-dir", "", "path to config directory (multi-file mode with auto-reload)")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("capqd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Load configuration
	var cfg *config.Config
	var err error
	if configDir != "" {
		cfg, err = config.LoadDir(configDir)
	} else {
		cfg, err = loadConfig(configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override log level from CLI
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting capqd",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	if err := reader.Initialize(cfg.Device.ReaderPool); err != nil {
		logger.Fatal("failed to initialize reader pool", zap.Error(err))
	}

	manager := queue.NewManager(queue.Config{
		QueueCapacity: cfg.Queue.Capacity,
		PoolBuffers:   cfg.Queue.PoolBuffers,
		BufferSize:    cfg.Queue.BufferSize,
		LinkType:      cfg.Queue.LinkType,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var deviceServer *server.Server
	if cfg.Device.Enabled {
		deviceServer = server.NewServer(cfg.Device.SocketPath, manager, logger)
		if err := deviceServer.Start(ctx); err != nil {
			logger.Fatal("failed to start device server", zap.Error(err))
		}
	}

	var healthServer *health.Server
	if cfg.Health.Enabled {
		healthServer = health.NewServer(cfg.Health.Port, version, health.NewStats(manager), logger)
		if err := healthServer.Start(ctx); err != nil {
			logger.Fatal("failed to start health server", zap.Error(err))
		}
		healthServer.SetReady(true)
	}

	// Start config directory watcher if --config-dir is set
	var watcher *config.Watcher
	if configDir != "" {
		watcher = config.NewWatcher(configDir, func(newCfg *config.Config, changedFile string) {
			// Queue and pool sizing is fixed for the process lifetime;
			// only the log level is applied live.
			logger.Info("config change applied on next restart",
				zap.String("file", changedFile),
				zap.String("log_level", newCfg.LogLevel),
			)
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Fatal("failed to start config watcher", zap.Error(err))
		}
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	if watcher != nil {
		watcher.Stop()
	}
	cancel()

	// Graceful shutdown with 30s timeout
	shutdownDone := make(chan struct{})
	go func() {
		if healthServer != nil {
			if err := healthServer.Stop(); err != nil {
				logger.Error("error stopping health server", zap.Error(err))
			}
		}
		if deviceServer != nil {
			if err := deviceServer.Stop(); err != nil {
				logger.Error("error stopping device server", zap.Error(err))
			}
		}
		if err := reader.Teardown(); err != nil {
			logger.Error("error tearing down reader pool", zap.Error(err))
		}
		if err := manager.Close(); err != nil {
			logger.Error("error closing queue manager", zap.Error(err))
		}
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		logger.Info("capqd stopped")
	case <-time.After(30 * time.Second):
		logger.Error("shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default locations
	defaults := []string{
		"configs/capq.yaml",
		"/etc/capq/capq.yaml",
		"/etc/capq.yaml",
	}
	for _, p := range defaults {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}

	return config.DefaultConfig(), nil
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}
