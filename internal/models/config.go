package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig      `json:"server" mapstructure:"server"`
	Database DatabaseConfig    `json:"database" mapstructure:"database"`
	Session  SessionConfig     `json:"session" mapstructure:"session"`
	Queue    QueueConfig       `json:"queue" mapstructure:"queue"`
	Throttle ThrottleConfig    `json:"throttle" mapstructure:"throttle"`
	Events   EventsConfig      `json:"events" mapstructure:"events"`
	Redis    RedisConfig       `json:"redis" mapstructure:"redis"`
	Telegram TelegramConfig    `json:"telegram" mapstructure:"telegram"`
	Tracing  TracingConfig     `json:"tracing" mapstructure:"tracing"`
	Features map[string]bool   `json:"features" mapstructure:"features"`
	LogLevel string            `json:"log_level" mapstructure:"log_level"`
	Labels   map[string]string `json:"labels,omitempty" mapstructure:"labels"`
}

// ServerConfig configures the HTTP/WS binding.
type ServerConfig struct {
	Port            int `json:"port" mapstructure:"port"`
	ReadTimeoutSec  int `json:"read_timeout_sec" mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec" mapstructure:"write_timeout_sec"`
	IdleTimeoutSec  int `json:"idle_timeout_sec" mapstructure:"idle_timeout_sec"`
	// AllowedOrigins lists host patterns allowed to open the event stream cross-origin.
	AllowedOrigins []string `json:"allowed_origins" mapstructure:"allowed_origins"`
}

// DatabaseConfig selects the SQL driver and connection string.
type DatabaseConfig struct {
	Driver           string `json:"driver" mapstructure:"driver"`
	DSN              string `json:"dsn" mapstructure:"dsn"`
	RetentionDays    int    `json:"retention_days" mapstructure:"retention_days"`
	CleanupHours     int    `json:"cleanup_interval_hours" mapstructure:"cleanup_interval_hours"`
	EncryptionSecret string `json:"-" mapstructure:"encryption_secret"`
}

// SessionConfig tunes health checks and reconnection.
type SessionConfig struct {
	HealthCheckIntervalSec int     `json:"health_check_interval_sec" mapstructure:"health_check_interval_sec"`
	ProbeTimeoutSec        int     `json:"probe_timeout_sec" mapstructure:"probe_timeout_sec"`
	SendTimeoutSec         int     `json:"send_timeout_sec" mapstructure:"send_timeout_sec"`
	FailureThreshold       int     `json:"failure_threshold" mapstructure:"failure_threshold"`
	ReconnectInitialSec    int     `json:"reconnect_initial_sec" mapstructure:"reconnect_initial_sec"`
	ReconnectMaxSec        int     `json:"reconnect_max_sec" mapstructure:"reconnect_max_sec"`
	ReconnectMultiplier    float64 `json:"reconnect_multiplier" mapstructure:"reconnect_multiplier"`
	BreakerMaxFailures     int     `json:"breaker_max_failures" mapstructure:"breaker_max_failures"`
	BreakerTimeoutSec      int     `json:"breaker_timeout_sec" mapstructure:"breaker_timeout_sec"`
}

// QueueConfig tunes delivery retries.
type QueueConfig struct {
	MaxAttempts               int     `json:"max_attempts" mapstructure:"max_attempts"`
	RetryInitialSec           int     `json:"retry_initial_sec" mapstructure:"retry_initial_sec"`
	RetryMaxSec               int     `json:"retry_max_sec" mapstructure:"retry_max_sec"`
	RetryMultiplier           float64 `json:"retry_multiplier" mapstructure:"retry_multiplier"`
	PermanentFailureThreshold int     `json:"permanent_failure_threshold" mapstructure:"permanent_failure_threshold"`
	MaxInFlightPerUser        int     `json:"max_in_flight_per_user" mapstructure:"max_in_flight_per_user"`
}

// ThrottleConfig sets the per-account anti-ban send rate.
type ThrottleConfig struct {
	TelegramPerMinute int `json:"telegram_per_minute" mapstructure:"telegram_per_minute"`
	DiscordPerMinute  int `json:"discord_per_minute" mapstructure:"discord_per_minute"`
	Burst             int `json:"burst" mapstructure:"burst"`
}

// EventsConfig sizes subscriber buffers.
type EventsConfig struct {
	SubscriberBuffer int `json:"subscriber_buffer" mapstructure:"subscriber_buffer"`
}

// RedisConfig enables the cross-instance event relay when Address is set.
type RedisConfig struct {
	Address  string `json:"address" mapstructure:"address"`
	Password string `json:"-" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
	Channel  string `json:"channel" mapstructure:"channel"`
}

// TelegramConfig overrides the Bot API endpoint, mainly for self-hosted servers.
type TelegramConfig struct {
	APIURL string `json:"api_url" mapstructure:"api_url"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled        bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName    string  `json:"service_name" mapstructure:"service_name"`
	ServiceVersion string  `json:"service_version" mapstructure:"service_version"`
	Environment    string  `json:"environment" mapstructure:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" mapstructure:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" mapstructure:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
