package constants

// Structured log field names shared by every component.
const (
	LogFieldUserID      = "user_id"
	LogFieldAccountID   = "account_id"
	LogFieldPairID      = "pair_id"
	LogFieldTaskID      = "task_id"
	LogFieldPlatform    = "platform"
	LogFieldChatID      = "chat_id"
	LogFieldMessageID   = "message_id"
	LogFieldStatus      = "status"
	LogFieldPrevStatus  = "previous_status"
	LogFieldAttempt     = "attempt"
	LogFieldDelay       = "delay"
	LogFieldRetryAfter  = "retry_after"
	LogFieldDuration    = "duration_ms"
	LogFieldComponent   = "component"
	LogFieldOperation   = "operation"
	LogFieldErrorCode   = "error_code"
	LogFieldFailures    = "consecutive_failures"
	LogFieldQueueDepth  = "queue_depth"
	LogFieldEventType   = "event_type"
	LogFieldPlan        = "plan"
	LogFieldRequestID   = "request_id"
	LogFieldTraceID     = "trace_id"
	LogFieldSubscribers = "subscribers"
)
