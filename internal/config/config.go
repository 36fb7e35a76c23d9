// Package config loads the optional user configuration. Everything has
// a sensible default; programs override the completion endpoint per task
// via completion_args.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds process-wide defaults.
type Config struct {
	// Completion endpoint defaults. The API URL default matches a local
	// llama.cpp server; the key is required on the wire even when the
	// server ignores it.
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`

	// Agent-mode file pair.
	AgentOutputPath string `mapstructure:"agent_output_path"`
	AgentInputPath  string `mapstructure:"agent_input_path"`

	// ChatRetryLimit bounds how often a chat task is retried when it
	// produced fewer outputs than requested.
	ChatRetryLimit int `mapstructure:"chat_retry_limit"`
}

// Dir returns the configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "interpolation-engine"), nil
}

// Load reads config.yaml if present and applies defaults and
// environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("api_url", "http://localhost:8080")
	v.SetDefault("api_key", "unused")
	v.SetDefault("agent_output_path", "/tmp/agent_output")
	v.SetDefault("agent_input_path", "/tmp/agent_input")
	v.SetDefault("chat_retry_limit", 25)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir, err := Dir(); err == nil {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.BindEnv("api_key", "OPENAI_API_KEY")
	v.BindEnv("api_url", "OPENAI_BASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ChatRetryLimit < 1 {
		cfg.ChatRetryLimit = 1
	}
	return &cfg, nil
}
