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

// Package main provides the carbonai command: the HTTP service and one-shot
// analysis commands on top of the AI request orchestrator.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/carbonai/internal/config"
	"github.com/your-org/carbonai/internal/orchestrator"
)

// version is set at build time
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "carbonai",
		Short: "CarbonAI - AI-assisted carbon footprint insights",
		Long: `CarbonAI generates carbon reduction recommendations, emission predictions,
behavior analyses and carbon credit suggestions. When the AI provider is not
configured or fails, it answers with deterministic sample insights instead.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the config file (overrides ./config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newStatusCmd(&configPath),
		newPredictCmd(&configPath),
		newRecommendCmd(&configPath),
	)
	return root
}

// parseLevel maps a configured level name to a zap level
func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// initializeLogger creates a logger based on configuration settings. The
// returned level can be changed at runtime. stdout is redirected to stderr
// when the command prints its result on stdout.
func initializeLogger(cfg *config.Config, keepStdoutClean bool) (*zap.Logger, zap.AtomicLevel, error) {
	var zapConfig zap.Config

	if cfg.Logging.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Logging.Level))
	zapConfig.Level = level

	switch {
	case cfg.Logging.Output == "file":
		zapConfig.OutputPaths = []string{"carbonai.log"}
		zapConfig.ErrorOutputPaths = []string{"carbonai.log"}
	case keepStdoutClean:
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	default:
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, level, err
	}
	return logger, level, nil
}

// orchestratorConfig maps the ai section onto the orchestrator
func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		APIKey:         cfg.AI.APIKey,
		BaseURL:        cfg.AI.BaseURL,
		Model:          cfg.AI.Model,
		Temperature:    float32(cfg.AI.Temperature),
		MaxTokens:      cfg.AI.MaxTokens,
		MinInterval:    cfg.AI.MinInterval,
		RequestTimeout: cfg.AI.RequestTimeout,
	}
}
