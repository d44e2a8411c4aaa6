package models

import "time"

// EventType names the kind of state change being published.
type EventType string

const (
	EventSessionUpdate EventType = "session_update"
	EventPairStatus    EventType = "pair_status"
	EventQueueUpdate   EventType = "queue_update"
)

// Event is a state change published to a user's subscribers.
type Event struct {
	Type    EventType   `json:"type"`
	UserID  string      `json:"user_id"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

// SessionUpdate is the payload of session_update events.
type SessionUpdate struct {
	AccountID      string        `json:"account_id"`
	Platform       Platform      `json:"platform"`
	Status         AccountStatus `json:"status"`
	PreviousStatus AccountStatus `json:"previous_status,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	NextRetryAt    *time.Time    `json:"next_retry_at,omitempty"`
}

// PairStatusUpdate is the payload of pair_status events.
type PairStatusUpdate struct {
	PairID              string     `json:"pair_id"`
	Status              PairStatus `json:"status"`
	PreviousStatus      PairStatus `json:"previous_status,omitempty"`
	Reason              string     `json:"reason,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Deleted             bool       `json:"deleted,omitempty"`
}

// QueueUpdate is the payload of queue_update events.
type QueueUpdate struct {
	PairID          string    `json:"pair_id"`
	TaskID          string    `json:"task_id,omitempty"`
	SourceMessageID string    `json:"source_message_id,omitempty"`
	State           TaskState `json:"state"`
	Depth           int       `json:"depth"`
	Attempts        int       `json:"attempts,omitempty"`
	Error           string    `json:"error,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_at,omitempty"`
}
