package models

import "time"

// TaskState tracks a queue task through delivery.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskInFlight  TaskState = "in_flight"
	TaskRetrying  TaskState = "retrying"
	TaskDelivered TaskState = "delivered"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s TaskState) Terminal() bool {
	return s == TaskDelivered || s == TaskFailed || s == TaskCancelled
}

// QueueTask is one scheduled delivery for a pair.
type QueueTask struct {
	ID          string         `json:"id"`
	PairID      string         `json:"pair_id"`
	UserID      string         `json:"user_id"`
	Source      InboundMessage `json:"source"`
	Payload     Payload        `json:"payload"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	State       TaskState      `json:"state"`
	Priority    int            `json:"priority"`
	CreatedAt   time.Time      `json:"created_at"`
}
