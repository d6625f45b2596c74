package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Janitor  JanitorConfig  `mapstructure:"janitor" validate:"required"`
	Notifier NotifierConfig `mapstructure:"notifier" validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// ShutdownTimeoutSeconds bounds how long graceful shutdown waits for
	// in-flight requests and running tasks.
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" validate:"required,gt=0"`
}

// DatabaseConfig contains all PostgreSQL related settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// RedisConfig contains the settings for the coordination store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// WorkerConfig contains the claim worker settings.
type WorkerConfig struct {
	// InstanceID names this process in queue claims. Defaults to a
	// generated value when empty.
	InstanceID string `mapstructure:"instance_id"`

	Concurrency              int `mapstructure:"concurrency" validate:"required,gt=0"`
	PollIntervalMs           int `mapstructure:"poll_interval_ms" validate:"required,gt=0"`
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds" validate:"required,gt=0"`
	LeaseSeconds             int `mapstructure:"lease_seconds" validate:"required,gt=0"`
	MaxRetries               int `mapstructure:"max_retries" validate:"gte=0"`
}

// JanitorConfig contains the background sweep settings.
type JanitorConfig struct {
	RecoveryIntervalSeconds int `mapstructure:"recovery_interval_seconds" validate:"required,gt=0"`
	ClaimTimeoutSeconds     int `mapstructure:"claim_timeout_seconds" validate:"required,gt=0"`
	CleanupIntervalMinutes  int `mapstructure:"cleanup_interval_minutes" validate:"required,gt=0"`
	RetentionHours          int `mapstructure:"retention_hours" validate:"required,gt=0"`
}

// NotifierConfig contains the notification gateway settings.
type NotifierConfig struct {
	FailureThreshold    int `mapstructure:"failure_threshold" validate:"required,gt=0"`
	OpenDurationSeconds int `mapstructure:"open_duration_seconds" validate:"required,gt=0"`
	HalfOpenSuccesses   int `mapstructure:"half_open_successes" validate:"required,gt=0"`
}
