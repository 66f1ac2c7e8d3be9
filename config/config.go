//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

// Package config provides application configuration with multi-source
// priority: environment variables override the config file, which overrides
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidLogLevel indicates an unrecognized log level.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// Config is the resolved application configuration.
type Config struct {
	// GeminiAPIKey authenticates against the Gemini API. Required.
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	// OpenAIAPIKey authenticates against OpenAI-compatible endpoints.
	// Optional; the matching personalities degrade when absent.
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	// OpenAIBaseURL optionally points at an OpenAI-compatible endpoint.
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	// SerperAPIKey authenticates against the Serper search API. Optional;
	// the search tool reports a configuration error when absent.
	SerperAPIKey string `mapstructure:"serper_api_key"`

	// PostgresDSN is the history sink connection string. Optional; history
	// recording degrades to a no-op when absent.
	PostgresDSN string `mapstructure:"postgres_dsn"`

	// StatePath is where conversation state snapshots are persisted.
	StatePath string `mapstructure:"state_path"`
	// LogLevel is one of debug, info, warn, error, fatal.
	LogLevel string `mapstructure:"log_level"`
	// SearchEnabled is the initial state of the internet-search toggle.
	SearchEnabled bool `mapstructure:"search_enabled"`
}

// envBindings maps viper keys to their environment variables.
var envBindings = map[string]string{
	"gemini_api_key":  "VORTEX_GEMINI_API_KEY",
	"openai_api_key":  "VORTEX_OPENAI_API_KEY",
	"openai_base_url": "VORTEX_OPENAI_BASE_URL",
	"serper_api_key":  "VORTEX_SERPER_API_KEY",
	"postgres_dsn":    "VORTEX_POSTGRES_DSN",
	"state_path":      "VORTEX_STATE_PATH",
	"log_level":       "VORTEX_LOG_LEVEL",
	"search_enabled":  "VORTEX_SEARCH_ENABLED",
}

// Load reads the configuration from ~/.vortex-chat/config.yaml (and the
// current directory), applies environment overrides, and validates the
// result. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".vortex-chat"))
	}
	v.AddConfigPath(".")

	setDefaults(v)
	for key, envVar := range envBindings {
		if err := v.BindEnv(key, envVar); err != nil {
			return nil, fmt.Errorf("bind %s: %w", envVar, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_path", defaultStatePath())
	v.SetDefault("log_level", "info")
	v.SetDefault("search_enabled", false)
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vortex-chat-state.json"
	}
	return filepath.Join(home, ".vortex-chat", "state.json")
}

// Validate checks the configuration for fatal problems. Optional services
// are allowed to be unconfigured.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: gemini_api_key is required (set VORTEX_GEMINI_API_KEY)", ErrMissingAPIKey)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return nil
}
