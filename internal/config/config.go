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

// Package config loads the CarbonAI configuration from YAML files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
	// ErrNoConfigFile is returned by WatchConfig when there is no file to watch
	ErrNoConfigFile = errors.New("no config file to watch")
)

// EnvPrefix prefixes every automatic environment override, e.g. CARBONAI_AI_MODEL
const EnvPrefix = "CARBONAI"

// Config represents the complete application configuration
type Config struct {
	AI      AIConfig      `mapstructure:"ai" json:"ai"`
	Server  ServerConfig  `mapstructure:"server" json:"server"`
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	History HistoryConfig `mapstructure:"history" json:"history"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics"`
}

// AIConfig contains the AI provider configuration. An empty or malformed API
// key is valid here and starts the orchestrator in fallback mode.
type AIConfig struct {
	APIKey         string        `mapstructure:"api_key" json:"api_key"`
	BaseURL        string        `mapstructure:"base_url" json:"base_url"`
	Model          string        `mapstructure:"model" json:"model"`
	Temperature    float64       `mapstructure:"temperature" json:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens" json:"max_tokens"`
	MinInterval    time.Duration `mapstructure:"min_interval" json:"min_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port int    `mapstructure:"port" json:"port"`
	Mode string `mapstructure:"mode" json:"mode"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
	Output string `mapstructure:"output" json:"output"`
}

// HistoryConfig contains result history storage configuration
type HistoryConfig struct {
	StorageType string `mapstructure:"storage_type" json:"storage_type"`
	FilePath    string `mapstructure:"file_path" json:"file_path"`
	DBPath      string `mapstructure:"db_path" json:"db_path"`
	ListLimit   int    `mapstructure:"list_limit" json:"list_limit"`
}

// MetricsConfig contains Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	ValidateRequired bool
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over config file values.
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	found, err := setConfigFile(v, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if found {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setEnvironmentMappings(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if opts.ValidateRequired {
		if err := validateConfig(&config); err != nil {
			return nil, err
		}
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.model", "gpt-4")
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_tokens", 1000)
	v.SetDefault("ai.min_interval", time.Second)
	v.SetDefault("ai.request_timeout", 30*time.Second)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("history.storage_type", "file")
	v.SetDefault("history.file_path", "./history.log")
	v.SetDefault("history.db_path", "./history.db")
	v.SetDefault("history.list_limit", 50)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// setConfigFile points v at the config file and reports whether one exists.
// An explicit path that does not exist is an error; missing default files
// are not, since defaults and environment variables are enough to run.
func setConfigFile(v *viper.Viper, configPath string) (bool, error) {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return false, fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return true, nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return false, fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return true, nil
	}

	for _, path := range []string{"./configs/config.yaml", "./config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			return true, nil
		}
	}

	return false, nil
}

func setEnvironmentMappings(v *viper.Viper) {
	envMappings := map[string]string{
		"OPENAI_API_KEY":  "ai.api_key",
		"OPENAI_BASE_URL": "ai.base_url",
		"OPENAI_MODEL":    "ai.model",
		"LOG_LEVEL":       "logging.level",
		"LOG_FORMAT":      "logging.format",
		"LOG_OUTPUT":      "logging.output",
		"HISTORY_DB_PATH": "history.db_path",
		"PORT":            "server.port",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}
}

func validateConfig(config *Config) error {
	var errors []ValidationError

	if config.AI.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "ai.base_url",
			Message: "base URL is required",
		})
	} else if u, err := url.Parse(config.AI.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "ai.base_url",
			Message: fmt.Sprintf("base URL must be an absolute http or https URL, got %q", config.AI.BaseURL),
		})
	}

	if config.AI.Temperature < 0 || config.AI.Temperature > 1 {
		errors = append(errors, ValidationError{
			Field:   "ai.temperature",
			Message: "temperature must be between 0 and 1",
		})
	}

	if config.AI.MaxTokens <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ai.max_tokens",
			Message: "max_tokens must be greater than 0",
		})
	}

	if config.AI.MinInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "ai.min_interval",
			Message: "min_interval must not be negative",
		})
	}

	if config.AI.RequestTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ai.request_timeout",
			Message: "request_timeout must be greater than 0",
		})
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	validModes := []string{"debug", "release", "test"}
	if !contains(validModes, config.Server.Mode) {
		errors = append(errors, ValidationError{
			Field:   "server.mode",
			Message: fmt.Sprintf("mode must be one of: %s", strings.Join(validModes, ", ")),
		})
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	validStorageTypes := []string{"none", "file", "sqlite"}
	if !contains(validStorageTypes, config.History.StorageType) {
		errors = append(errors, ValidationError{
			Field:   "history.storage_type",
			Message: fmt.Sprintf("storage type must be one of: %s", strings.Join(validStorageTypes, ", ")),
		})
	}

	switch config.History.StorageType {
	case "file":
		if config.History.FilePath == "" {
			errors = append(errors, ValidationError{
				Field:   "history.file_path",
				Message: "history file path is required for file storage",
			})
		}
	case "sqlite":
		if config.History.DBPath == "" {
			errors = append(errors, ValidationError{
				Field:   "history.db_path",
				Message: "history database path is required for sqlite storage",
			})
		} else if err := validateDirectoryExists(filepath.Dir(config.History.DBPath)); err != nil {
			errors = append(errors, ValidationError{
				Field:   "history.db_path",
				Message: fmt.Sprintf("history database directory does not exist: %s", filepath.Dir(config.History.DBPath)),
			})
		}
	}

	if config.History.ListLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "history.list_limit",
			Message: "list_limit must be greater than 0",
		})
	}

	if config.Metrics.Enabled && !strings.HasPrefix(config.Metrics.Path, "/") {
		errors = append(errors, ValidationError{
			Field:   "metrics.path",
			Message: "metrics path must start with '/'",
		})
	}

	if len(errors) > 0 {
		var errorMessages []string
		for _, err := range errors {
			errorMessages = append(errorMessages, err.Error())
		}
		return fmt.Errorf("%w:\n%s", ErrInvalidConfigValue, strings.Join(errorMessages, "\n"))
	}

	return nil
}

// MaskSensitiveValues returns a copy with secrets masked for logging
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c

	if masked.AI.APIKey != "" {
		masked.AI.APIKey = maskValue(masked.AI.APIKey)
	}

	return &masked
}

func maskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + strings.Repeat("*", len(value)-8)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func validateDirectoryExists(path string) error {
	if path == "" || path == "." {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	return nil
}

// WatchConfig reloads the configuration whenever the config file changes and
// passes every valid reload to callback. Invalid reloads are logged and
// skipped. It returns ErrNoConfigFile when no file is in use.
func WatchConfig(configPath string, logger *zap.Logger, callback func(*Config)) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()

	found, err := setConfigFile(v, configPath)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoConfigFile
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Config file changed",
			zap.String("file", e.Name),
			zap.String("op", e.Op.String()))

		config, err := LoadWithOptions(LoadOptions{
			ConfigPath:       configPath,
			ValidateRequired: true,
		})
		if err != nil {
			logger.Error("Failed to reload config", zap.Error(err))
			return
		}

		callback(config)
	})
	v.WatchConfig()

	return nil
}
