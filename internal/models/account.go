package models

import "time"

// Platform identifies the external messaging network an account lives on.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{PlatformTelegram, PlatformDiscord}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	return p == PlatformTelegram || p == PlatformDiscord
}

// AccountStatus is the session state of a linked account.
type AccountStatus string

const (
	AccountConnecting   AccountStatus = "connecting"
	AccountConnected    AccountStatus = "connected"
	AccountDisconnected AccountStatus = "disconnected"
	AccountReconnecting AccountStatus = "reconnecting"
	AccountError        AccountStatus = "error"
)

// Usable reports whether pairs may be created against an account in this state.
func (s AccountStatus) Usable() bool {
	return s == AccountConnected || s == AccountConnecting
}

// Account is one linked external identity owned by a single user.
type Account struct {
	ID           string        `json:"id" db:"id"`
	UserID       string        `json:"user_id" db:"user_id"`
	Platform     Platform      `json:"platform" db:"platform"`
	DisplayName  string        `json:"display_name" db:"display_name"`
	Credential   string        `json:"-" db:"credential"`
	Status       AccountStatus `json:"status" db:"status"`
	StatusReason string        `json:"status_reason,omitempty" db:"status_reason"`
	LastSeen     *time.Time    `json:"last_seen,omitempty" db:"last_seen"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// AccountSpec is the input for linking an account. The credential is the
// platform token issued by the front end's credential flow.
type AccountSpec struct {
	Platform    Platform `json:"platform"`
	DisplayName string   `json:"display_name"`
	Credential  string   `json:"credential"`
}

// HealthRecord is the volatile health state the session manager keeps per account.
type HealthRecord struct {
	AccountID           string        `json:"account_id"`
	Status              AccountStatus `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastSuccessfulProbe time.Time     `json:"last_successful_probe,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	ReconnectAttempt    int           `json:"reconnect_attempt"`
	NextReconnectAt     time.Time     `json:"next_reconnect_at,omitempty"`
}

// HealthStatus is the outcome of a single probe.
type HealthStatus struct {
	AccountID string        `json:"account_id"`
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}
