package config

import (
	"fmt"
	"os"
	"strings"

	"autoforwardx/internal/constants"
	"autoforwardx/internal/models"
	"autoforwardx/internal/security"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. AFX_DATABASE_DSN.
const EnvPrefix = "AFX"

var (
	ErrMissingDatabaseDSN = models.ConfigError{Message: "missing database dsn"}
	ErrUnsupportedDriver  = models.ConfigError{Message: "database driver must be one of sqlite3, postgres, memory"}
)

// LoadConfig reads a JSON config file (optional when path is empty) and applies
// AFX_ environment overrides on top of built-in defaults.
func LoadConfig(path string) (*models.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var config models.Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", constants.DefaultServerPort)
	v.SetDefault("server.read_timeout_sec", constants.DefaultServerReadTimeoutSec)
	v.SetDefault("server.write_timeout_sec", constants.DefaultServerWriteTimeoutSec)
	v.SetDefault("server.idle_timeout_sec", constants.DefaultServerIdleTimeoutSec)

	v.SetDefault("database.driver", constants.DefaultDatabaseDriver)
	v.SetDefault("database.dsn", constants.DefaultDatabaseDSN)
	v.SetDefault("database.retention_days", constants.DefaultRetentionDays)
	v.SetDefault("database.cleanup_interval_hours", constants.DefaultCleanupIntervalHours)
	v.SetDefault("database.encryption_secret", "")

	v.SetDefault("session.health_check_interval_sec", constants.DefaultHealthCheckIntervalSec)
	v.SetDefault("session.probe_timeout_sec", constants.DefaultProbeTimeoutSec)
	v.SetDefault("session.send_timeout_sec", constants.DefaultSendTimeoutSec)
	v.SetDefault("session.failure_threshold", constants.DefaultFailureThreshold)
	v.SetDefault("session.reconnect_initial_sec", constants.DefaultReconnectInitialSec)
	v.SetDefault("session.reconnect_max_sec", constants.DefaultReconnectMaxSec)
	v.SetDefault("session.reconnect_multiplier", constants.DefaultReconnectMultiplier)
	v.SetDefault("session.breaker_max_failures", constants.DefaultBreakerMaxFailures)
	v.SetDefault("session.breaker_timeout_sec", constants.DefaultBreakerTimeoutSec)

	v.SetDefault("queue.max_attempts", constants.DefaultDeliveryMaxAttempts)
	v.SetDefault("queue.retry_initial_sec", constants.DefaultDeliveryRetryInitialSec)
	v.SetDefault("queue.retry_max_sec", constants.DefaultDeliveryRetryMaxSec)
	v.SetDefault("queue.retry_multiplier", constants.DefaultDeliveryRetryMultiplier)
	v.SetDefault("queue.permanent_failure_threshold", constants.DefaultPermanentFailureThreshold)
	v.SetDefault("queue.max_in_flight_per_user", constants.DefaultMaxInFlightPerUser)

	v.SetDefault("throttle.telegram_per_minute", constants.DefaultTelegramSendsPerMinute)
	v.SetDefault("throttle.discord_per_minute", constants.DefaultDiscordSendsPerMinute)
	v.SetDefault("throttle.burst", constants.DefaultThrottleBurst)

	v.SetDefault("events.subscriber_buffer", constants.DefaultSubscriberBuffer)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", constants.DefaultRedisEventChannel)

	v.SetDefault("telegram.api_url", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "autoforwardx")
	v.SetDefault("tracing.service_version", "dev")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.sample_rate", 0.1)
	v.SetDefault("tracing.use_stdout", false)
}

func validate(c *models.Config) error {
	switch c.Database.Driver {
	case "sqlite3", "postgres", "memory":
	default:
		return ErrUnsupportedDriver
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		return ErrMissingDatabaseDSN
	}
	if c.Database.RetentionDays <= 0 {
		c.Database.RetentionDays = constants.DefaultRetentionDays
	}
	if c.Database.CleanupHours <= 0 {
		c.Database.CleanupHours = constants.DefaultCleanupIntervalHours
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port %d", c.Server.Port)}
	}

	if c.Session.HealthCheckIntervalSec <= 0 {
		c.Session.HealthCheckIntervalSec = constants.DefaultHealthCheckIntervalSec
	}
	c.Session.ProbeTimeoutSec = clampCallTimeout(c.Session.ProbeTimeoutSec, constants.DefaultProbeTimeoutSec)
	c.Session.SendTimeoutSec = clampCallTimeout(c.Session.SendTimeoutSec, constants.DefaultSendTimeoutSec)
	if c.Session.FailureThreshold <= 0 {
		c.Session.FailureThreshold = constants.DefaultFailureThreshold
	}
	if c.Session.ReconnectInitialSec <= 0 {
		c.Session.ReconnectInitialSec = constants.DefaultReconnectInitialSec
	}
	if c.Session.ReconnectMaxSec < c.Session.ReconnectInitialSec {
		c.Session.ReconnectMaxSec = c.Session.ReconnectInitialSec
	}
	if c.Session.ReconnectMultiplier < 1 {
		c.Session.ReconnectMultiplier = constants.DefaultReconnectMultiplier
	}

	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = constants.DefaultDeliveryMaxAttempts
	}
	if c.Queue.PermanentFailureThreshold <= 0 {
		c.Queue.PermanentFailureThreshold = constants.DefaultPermanentFailureThreshold
	}
	if c.Queue.MaxInFlightPerUser <= 0 {
		c.Queue.MaxInFlightPerUser = constants.DefaultMaxInFlightPerUser
	}

	if c.Throttle.TelegramPerMinute <= 0 {
		c.Throttle.TelegramPerMinute = constants.DefaultTelegramSendsPerMinute
	}
	if c.Throttle.DiscordPerMinute <= 0 {
		c.Throttle.DiscordPerMinute = constants.DefaultDiscordSendsPerMinute
	}
	if c.Throttle.Burst <= 0 {
		c.Throttle.Burst = constants.DefaultThrottleBurst
	}

	if c.Events.SubscriberBuffer <= 0 {
		c.Events.SubscriberBuffer = constants.DefaultSubscriberBuffer
	}
	if c.Features == nil {
		c.Features = map[string]bool{}
	}
	return nil
}

// clampCallTimeout keeps send and probe timeouts inside the 10-30s window.
func clampCallTimeout(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	if value < constants.MinCallTimeoutSec {
		return constants.MinCallTimeoutSec
	}
	if value > constants.MaxCallTimeoutSec {
		return constants.MaxCallTimeoutSec
	}
	return value
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("AFX_ENV") == "production"

	if secret := c.Database.EncryptionSecret; secret != "" && len(secret) < constants.MinEncryptionSecretSize {
		return models.ConfigError{Message: "database encryption secret must be at least 32 characters long"}
	}

	if isProduction {
		if c.Database.EncryptionSecret == "" {
			return models.ConfigError{Message: "credential encryption is required in production (set AFX_DATABASE_ENCRYPTION_SECRET)"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Database.EncryptionSecret == "" && c.Database.Driver != "memory" {
		fmt.Fprintf(os.Stderr, "WARNING: account credentials are stored unencrypted. Set AFX_DATABASE_ENCRYPTION_SECRET to enable encryption.\n")
	}

	return nil
}
