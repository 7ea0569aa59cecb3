// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	"github.com/teradata-labs/prospector/pkg/cache"
	"github.com/teradata-labs/prospector/pkg/generator"
	"github.com/teradata-labs/prospector/pkg/llm"
	"github.com/teradata-labs/prospector/pkg/orchestrator"
	"github.com/teradata-labs/prospector/pkg/pipeline"
	"github.com/teradata-labs/prospector/pkg/scheduler"
	"github.com/teradata-labs/prospector/pkg/search"
	"github.com/teradata-labs/prospector/pkg/server"
	"github.com/teradata-labs/prospector/pkg/storage/postgres"
)

const (
	// ServiceName is the keyring service name for stored secrets.
	ServiceName = "prospector"

	// DefaultConfigFileName is the config file basename searched for in
	// the standard locations.
	DefaultConfigFileName = "prospector"
)

// Config is the full server and client configuration, assembled from
// defaults, the config file, PROSPECTOR_* environment variables, and
// command line flags.
type Config struct {
	Server       server.Config                  `mapstructure:"server"`
	Database     postgres.Config                `mapstructure:"database"`
	Redis        cache.Config                   `mapstructure:"redis"`
	Engines      map[string]search.EngineConfig `mapstructure:"engines"`
	LLM          llm.Config                     `mapstructure:"llm"`
	Generator    generator.Config               `mapstructure:"generator"`
	Pipeline     pipeline.Config                `mapstructure:"pipeline"`
	Orchestrator orchestrator.Config            `mapstructure:"orchestrator"`
	Scheduler    scheduler.Config               `mapstructure:"scheduler"`
	Bus          BusConfig                      `mapstructure:"bus"`
	Logging      LoggingConfig                  `mapstructure:"logging"`
	Client       ClientConfig                   `mapstructure:"client"`
}

// BusConfig holds settings for the event bus maintenance loop.
type BusConfig struct {
	// TrimInterval is how often the janitor trims acknowledged stream
	// entries. Zero falls back to hourly.
	TrimInterval time.Duration `mapstructure:"trim_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClientConfig holds settings for commands that talk to a running
// server instead of wiring the pipeline locally.
type ClientConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ConfigDir returns the prospector configuration directory. It respects
// PROSPECTOR_CONFIG_DIR and falls back to ~/.prospector.
func ConfigDir() string {
	if dir := os.Getenv("PROSPECTOR_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".prospector"
	}
	return filepath.Join(home, ".prospector")
}

// LoadConfig loads configuration from multiple sources with proper priority:
// 1. Command line flags (highest priority)
// 2. Config file
// 3. Environment variables
// 4. Defaults (lowest priority)
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in standard locations
		viper.AddConfigPath(ConfigDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/prospector/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	// Bind environment variables. The replacer maps nested keys to env
	// names, e.g. database.password <- PROSPECTOR_DATABASE_PASSWORD.
	viper.SetEnvPrefix("PROSPECTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets from keyring if not provided via config/env.
	// Non-fatal: keyring might not be available on headless hosts.
	_ = loadSecretsFromKeyring(&config)

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.stream_interval", "2s")
	viper.SetDefault("server.recent_limit", 20)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "prospector")
	viper.SetDefault("database.user", "prospector")
	viper.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")

	// Secrets default to empty so the PROSPECTOR_* env override path
	// works for them: viper only consults the environment for keys it
	// already knows about.
	viper.SetDefault("database.password", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("engines.brave.api_key", "")
	viper.SetDefault("engines.serper.api_key", "")
	viper.SetDefault("engines.perplexity.api_key", "")

	// Engine defaults. SearXNG is self-hosted and needs no API key, so
	// it is the only engine enabled out of the box.
	viper.SetDefault("engines.searxng.enabled", true)
	viper.SetDefault("engines.searxng.base_url", "http://localhost:8888")
	viper.SetDefault("engines.brave.enabled", false)
	viper.SetDefault("engines.serper.enabled", false)
	viper.SetDefault("engines.perplexity.enabled", false)

	// LLM defaults. The model falls back to the provider default.
	viper.SetDefault("llm.provider", "openai")

	// Pipeline defaults
	viper.SetDefault("pipeline.confidence_threshold", 60)
	viper.SetDefault("pipeline.anti_spam_policy", "zero")

	// Orchestrator defaults
	viper.SetDefault("orchestrator.soft_deadline", "30m")
	viper.SetDefault("orchestrator.sweep_interval", "5m")

	// Scheduler defaults
	viper.SetDefault("scheduler.at", "02:00")
	viper.SetDefault("scheduler.timezone", "UTC")

	// Bus defaults
	viper.SetDefault("bus.trim_interval", "1h")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Client defaults
	viper.SetDefault("client.server_url", "http://localhost:8080")
}

// SecretMapping defines how to load a secret from keyring into the config.
// The key is the keyring key name, and the setter is a function that applies
// the value to the config.
type SecretMapping struct {
	KeyringKey string
	Setter     func(*Config, string)
	IsSet      func(*Config) bool // Returns true if the value is already set (skip keyring lookup)
}

// engineSecret maps a keyring key onto one engine's API key. An engine
// missing from the config counts as set so the keyring is not probed
// for it.
func engineSecret(name string) SecretMapping {
	return SecretMapping{
		KeyringKey: name + "_api_key",
		Setter: func(c *Config, val string) {
			eng, ok := c.Engines[name]
			if !ok {
				return
			}
			eng.APIKey = val
			c.Engines[name] = eng
		},
		IsSet: func(c *Config) bool {
			eng, ok := c.Engines[name]
			return !ok || eng.APIKey != ""
		},
	}
}

// GetSecretMappings returns all secret mappings for the application.
// Developers can extend this by adding new SecretMapping entries.
func GetSecretMappings() []SecretMapping {
	return []SecretMapping{
		engineSecret("brave"),
		engineSecret("serper"),
		engineSecret("perplexity"),
		{
			KeyringKey: "llm_api_key",
			Setter:     func(c *Config, val string) { c.LLM.APIKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.APIKey != "" },
		},
		{
			KeyringKey: "database_password",
			Setter:     func(c *Config, val string) { c.Database.Password = val },
			IsSet:      func(c *Config) bool { return c.Database.Password != "" },
		},
		{
			KeyringKey: "redis_password",
			Setter:     func(c *Config, val string) { c.Redis.Password = val },
			IsSet:      func(c *Config) bool { return c.Redis.Password != "" },
		},
	}
}

// loadSecretsFromKeyring fills any unset secrets from the system keyring.
// This is extensible - just add more entries to GetSecretMappings().
func loadSecretsFromKeyring(config *Config) error {
	for _, mapping := range GetSecretMappings() {
		if mapping.IsSet(config) {
			continue
		}
		secret, err := keyring.Get(ServiceName, mapping.KeyringKey)
		if err != nil {
			// Not stored, or no keyring backend. Either way the value
			// stays empty and config validation decides later.
			continue
		}
		mapping.Setter(config, secret)
	}
	return nil
}

// GetSecret retrieves a secret from the system keyring.
func GetSecret(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SetSecret stores a secret in the system keyring.
func SetSecret(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// DeleteSecret removes a secret from the system keyring.
func DeleteSecret(key string) error {
	return keyring.Delete(ServiceName, key)
}

// ListAvailableSecretKeys returns the keyring key names prospector
// knows how to load.
func ListAvailableSecretKeys() []string {
	mappings := GetSecretMappings()
	keys := make([]string, 0, len(mappings))
	for _, m := range mappings {
		keys = append(keys, m.KeyringKey)
	}
	sort.Strings(keys)
	return keys
}
