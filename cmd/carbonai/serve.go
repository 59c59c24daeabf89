// Copyright 2024 CarbonAI Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/carbonai/internal/api"
	"github.com/your-org/carbonai/internal/config"
	"github.com/your-org/carbonai/internal/health"
	"github.com/your-org/carbonai/internal/history"
	"github.com/your-org/carbonai/internal/metrics"
	"github.com/your-org/carbonai/internal/notify"
	"github.com/your-org/carbonai/internal/orchestrator"
)

const (
	// HealthCheckTimeout bounds a single /health evaluation
	HealthCheckTimeout = 5 * time.Second
	// ShutdownTimeout bounds graceful shutdown of in-flight requests
	ShutdownTimeout = 15 * time.Second
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the CarbonAI HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger, level, err := initializeLogger(cfg, false)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, *configPath, logger, level, nil)
		},
	}
}

// runServe wires every component and serves until ctx is done. A non-nil
// listener replaces binding to the configured port.
func runServe(
	ctx context.Context,
	cfg *config.Config,
	configPath string,
	logger *zap.Logger,
	level zap.AtomicLevel,
	listener net.Listener,
) error {
	masked := cfg.MaskSensitiveValues()
	logger.Info("Configuration loaded successfully",
		zap.String("service", "carbonai"),
		zap.String("version", version),
		zap.String("openai_base_url", masked.AI.BaseURL),
		zap.String("openai_model", masked.AI.Model),
		zap.String("openai_api_key", masked.AI.APIKey),
		zap.Duration("min_interval", masked.AI.MinInterval),
		zap.String("history_storage", masked.History.StorageType),
		zap.Bool("metrics_enabled", masked.Metrics.Enabled),
	)

	store, err := history.NewStore(history.Config{
		StorageType: cfg.History.StorageType,
		FilePath:    cfg.History.FilePath,
		DBPath:      cfg.History.DBPath,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close history store", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	serviceMetrics := metrics.New(registry)

	notices := notify.NewRecorder(notify.DefaultCapacity, logger)

	orch, err := orchestrator.New(orchestratorConfig(cfg),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(serviceMetrics),
		orchestrator.WithNotifier(notices),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	defer orch.Close()

	healthManager := health.NewManager("carbonai", version, logger)
	healthManager.AddChecker("ai", health.OrchestratorChecker(orch))
	healthManager.AddChecker("history", health.StoreChecker("history", store.Ping))
	healthManager.SetTimeout(HealthCheckTimeout)

	gin.SetMode(cfg.Server.Mode)

	deps := api.Dependencies{
		Service:      orch,
		History:      store,
		Notices:      notices,
		Health:       healthManager,
		MetricsPath:  cfg.Metrics.Path,
		HistoryLimit: cfg.History.ListLimit,
		Logger:       logger,
	}
	if cfg.Metrics.Enabled {
		deps.Gatherer = registry
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	watchConfig(configPath, logger, level)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting CarbonAI service",
			zap.String("addr", server.Addr),
			zap.String("key_status", string(orch.APIKeyStatus())),
		)

		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down CarbonAI service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// watchConfig applies log level changes from the config file at runtime.
// Other settings take effect on restart.
func watchConfig(configPath string, logger *zap.Logger, level zap.AtomicLevel) {
	err := config.WatchConfig(configPath, logger, func(cfg *config.Config) {
		newLevel := parseLevel(cfg.Logging.Level)
		if newLevel == level.Level() {
			return
		}
		level.SetLevel(newLevel)
		logger.Info("Log level updated", zap.String("level", newLevel.String()))
	})

	switch {
	case errors.Is(err, config.ErrNoConfigFile):
		logger.Debug("No config file to watch")
	case err != nil:
		logger.Warn("Config watching disabled", zap.Error(err))
	}
}
