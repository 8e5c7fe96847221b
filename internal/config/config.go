// Package config handles configuration loading for the worker and CLI.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// Redis address for the delivery analytics sink; empty disables it.
	RedisAddr string

	// Chat platform bot token
	ChatToken string

	// Marketplace statistics API base URL (override for tests/staging)
	MarketplaceURL string

	// Metrics endpoint port
	MetricsPort int

	// OTLP collector endpoint; empty disables tracing export
	OTELEndpoint string

	// Worker-specific configuration
	WorkerConcurrency   int
	WorkerPollInterval  time.Duration
	WorkerMaxBackoff    time.Duration
	WorkerHeartbeat     time.Duration
	WorkerTaskTimeout   time.Duration
	SchedulerEnabled    bool
	SendIntervalPerChat time.Duration
}

// Load reads configuration from an optional YAML file plus
// SELLWATCH_* environment variables. Environment wins.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("metrics_port", 9090)
	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("worker_poll_interval", "1s")
	v.SetDefault("worker_max_backoff", "30s")
	v.SetDefault("worker_heartbeat", "2m")
	v.SetDefault("worker_task_timeout", "10m")
	v.SetDefault("scheduler_enabled", true)
	v.SetDefault("send_interval_per_chat", "5s")

	v.SetEnvPrefix("SELLWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("sellwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		// Missing default config file is fine; env can carry everything.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:         v.GetString("database_url"),
		RedisAddr:           v.GetString("redis_addr"),
		ChatToken:           v.GetString("chat_token"),
		MarketplaceURL:      v.GetString("marketplace_url"),
		MetricsPort:         v.GetInt("metrics_port"),
		OTELEndpoint:        v.GetString("otel_endpoint"),
		WorkerConcurrency:   v.GetInt("worker_concurrency"),
		WorkerPollInterval:  v.GetDuration("worker_poll_interval"),
		WorkerMaxBackoff:    v.GetDuration("worker_max_backoff"),
		WorkerHeartbeat:     v.GetDuration("worker_heartbeat"),
		WorkerTaskTimeout:   v.GetDuration("worker_task_timeout"),
		SchedulerEnabled:    v.GetBool("scheduler_enabled"),
		SendIntervalPerChat: v.GetDuration("send_interval_per_chat"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required")
	}

	return cfg, nil
}
