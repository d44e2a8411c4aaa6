package constants

// Server defaults
const (
	DefaultServerPort            = 8090
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
)

// Database defaults
const (
	DefaultDatabaseDriver        = "sqlite3"
	DefaultDatabaseDSN           = "autoforwardx.db"
	DefaultDatabaseRetryAttempts = 3
	DefaultRetentionDays         = 7
	DefaultCleanupIntervalHours  = 24
)

// Session defaults
const (
	DefaultHealthCheckIntervalSec = 300
	DefaultProbeTimeoutSec        = 15
	DefaultSendTimeoutSec         = 20
	MinCallTimeoutSec             = 10
	MaxCallTimeoutSec             = 30
	DefaultFailureThreshold       = 3
	DefaultReconnectInitialSec    = 5
	DefaultReconnectMaxSec        = 300
	DefaultReconnectMultiplier    = 3.0
	DefaultBreakerMaxFailures     = 5
	DefaultBreakerTimeoutSec      = 60
)

// Delivery queue defaults
const (
	DefaultDeliveryMaxAttempts       = 5
	DefaultDeliveryRetryInitialSec   = 15
	DefaultDeliveryRetryMaxSec       = 600
	DefaultDeliveryRetryMultiplier   = 3.0
	DefaultPermanentFailureThreshold = 3
	DefaultMaxInFlightPerUser        = 4
)

// Anti-ban throttle defaults, in sends per minute per account
const (
	DefaultTelegramSendsPerMinute = 20
	DefaultDiscordSendsPerMinute  = 30
	DefaultThrottleBurst          = 3
)

// Event defaults
const (
	DefaultSubscriberBuffer  = 64
	DefaultRedisEventChannel = "autoforwardx:events"
)

// Media relay limits. Telegram bots cannot upload more than 50MB and
// Discord rejects attachments over 25MB for unboosted guilds.
const (
	MaxMediaBytes           = 25 << 20
	MediaDownloadTimeoutSec = 60
	MaxTelegramCaptionLen   = 1024
)

// Recovery defaults
const (
	DefaultHistoryBackfillLimit = 100
)

// Delivery monitor
const (
	DefaultMonitorIntervalSec  = 60
	DefaultOverdueThresholdSec = 900
)

// API limits
const (
	MaxRequestBodyBytes        = 1 << 20
	EventStreamPingSec         = 30
	EventStreamWriteTimeoutSec = 10
)

// Delivery log pages
const (
	DefaultDeliveryPageSize = 50
	MaxDeliveryPageSize     = 500
)

// Privacy settings
const (
	DefaultChatIDMaskLength = 4
)

// Credential encryption
const (
	EncryptionSalt          = "autoforwardx-credential-salt-v1"
	EncryptionKeySize       = 32
	EncryptionNonceSize     = 12
	EncryptionIterations    = 100000
	MinEncryptionSecretSize = 32
)

// Pair validation limits
const (
	MaxDelaySeconds   = 7 * 24 * 60 * 60
	MaxFilterEntries  = 50
	MaxEditLineLength = 1024
	MaxChatIDLength   = 128
	MaxBulkItems      = 200
)
