package errors

import (
	"fmt"
	"net/http"
	"time"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewSessionAuthError marks an account credential as rejected by the platform.
// It is fatal for the account and never retried automatically.
func NewSessionAuthError(platform string, err error) *AppError {
	return Wrap(err, ErrCodeSessionAuth, fmt.Sprintf("%s rejected the account credential", platform)).
		WithContext("platform", platform).
		WithUserMessage("The account session is no longer valid. Re-authenticate the account and reconnect it.")
}

// NewSessionUnavailableError is returned when a send targets an account that is not connected.
func NewSessionUnavailableError(accountID, status string) *AppError {
	appErr := New(ErrCodeSessionUnavailable, "account session is not connected").
		WithContext("account_id", accountID).
		WithContext("status", status).
		WithUserMessage("The destination account is not connected")
	appErr.Retryable = true
	return appErr
}

// NewRateLimitExceeded signals that the platform asked the caller to back off.
func NewRateLimitExceeded(platform string, retryAfter time.Duration, err error) *AppError {
	appErr := WrapRetryable(err, ErrCodeRateLimitExceeded, fmt.Sprintf("%s rate limit exceeded", platform)).
		WithContext("platform", platform).
		WithContext("retry_after", retryAfter.String()).
		WithUserMessage(fmt.Sprintf("Rate limited by %s, retrying in %s", platform, retryAfter))
	appErr.RetryAfter = retryAfter
	return appErr
}

// NewTransientDeliveryError classifies a send failure that may succeed later.
func NewTransientDeliveryError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeDeliveryTransient, fmt.Sprintf("%s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Temporary delivery failure, retrying")
}

// NewPermanentDeliveryError classifies a send failure that will never succeed as is.
func NewPermanentDeliveryError(operation, reason string, err error) *AppError {
	return Wrap(err, ErrCodeDeliveryPermanent, fmt.Sprintf("%s failed: %s", operation, reason)).
		WithContext("operation", operation).
		WithContext("reason", reason).
		WithUserMessage(fmt.Sprintf("Delivery failed: %s", reason))
}

// NewMediaUnavailableError reports a message whose only content is media
// that cannot be carried to the destination. The message is skipped.
func NewMediaUnavailableError(reason string, err error) *AppError {
	return Wrap(err, ErrCodeMediaUnavailable, "media unavailable: "+reason).
		WithContext("reason", reason).
		WithUserMessage("Message skipped: " + reason)
}

// NewPlanLimitError names the exceeded limit and the plan's ceiling.
func NewPlanLimitError(limit string, max int, hint string) *AppError {
	return New(ErrCodePlanLimitExceeded, fmt.Sprintf("plan limit %s reached (max %d)", limit, max)).
		WithContext("limit", limit).
		WithContext("max", max).
		WithUserMessage(hint)
}

// NewFeatureError names the feature the caller's plan does not include.
func NewFeatureError(feature, hint string) *AppError {
	return New(ErrCodeFeatureNotAllowed, fmt.Sprintf("feature %s is not included in the plan", feature)).
		WithContext("feature", feature).
		WithUserMessage(hint)
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	appErr := New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
	appErr.Retryable = true
	return appErr
}

// NewAuthError creates an authentication error for API callers
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewConflictError reports an operation refused because of the resource's current state.
func NewConflictError(resource, identifier, reason string) *AppError {
	return New(ErrCodeConflict, fmt.Sprintf("%s %s: %s", resource, identifier, reason)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(reason)
}

// HTTPStatusCode maps error codes to HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeAuthorization, ErrCodePlanLimitExceeded, ErrCodeFeatureNotAllowed:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeSessionAuth, ErrCodeDeliveryPermanent, ErrCodeMediaUnavailable:
		return http.StatusBadGateway
	case ErrCodeSessionUnavailable, ErrCodeDeliveryTransient,
		ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written for failed API calls
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "credential" && k != "token" && k != "secret" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}
	return response
}
