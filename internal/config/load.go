package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables use the
// DISPATCH_ prefix with underscores separating nested keys, for example
// DISPATCH_DATABASE_URL or DISPATCH_WORKER_CONCURRENCY, and take precedence
// over file values. Returns a populated Config or an error if loading or
// validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// AutomaticEnv alone does not surface env-only keys through Unmarshal;
	// binding each known key explicitly makes them visible.
	for _, key := range configKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults establishes the defaults for every optional setting.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout_seconds", 30)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("worker.instance_id", "")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval_ms", 1000)
	v.SetDefault("worker.heartbeat_interval_seconds", 10)
	v.SetDefault("worker.lease_seconds", 30)
	v.SetDefault("worker.max_retries", 3)

	v.SetDefault("janitor.recovery_interval_seconds", 30)
	v.SetDefault("janitor.claim_timeout_seconds", 60)
	v.SetDefault("janitor.cleanup_interval_minutes", 60)
	v.SetDefault("janitor.retention_hours", 168)

	v.SetDefault("notifier.failure_threshold", 5)
	v.SetDefault("notifier.open_duration_seconds", 30)
	v.SetDefault("notifier.half_open_successes", 1)
}

// configKeys lists every key that may arrive via environment variable.
func configKeys() []string {
	return []string{
		"server.port",
		"server.log_level",
		"server.shutdown_timeout_seconds",
		"database.url",
		"redis.addr",
		"redis.password",
		"redis.db",
		"auth.jwt_secret",
		"auth.token_lifetime_minutes",
		"worker.instance_id",
		"worker.concurrency",
		"worker.poll_interval_ms",
		"worker.heartbeat_interval_seconds",
		"worker.lease_seconds",
		"worker.max_retries",
		"janitor.recovery_interval_seconds",
		"janitor.claim_timeout_seconds",
		"janitor.cleanup_interval_minutes",
		"janitor.retention_hours",
		"notifier.failure_threshold",
		"notifier.open_duration_seconds",
		"notifier.half_open_successes",
	}
}
