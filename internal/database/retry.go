package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"autoforwardx/internal/constants"
	"autoforwardx/internal/retry"
)

var dbBackoff = retry.BackoffConfig{
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     500 * time.Millisecond,
	Multiplier:   2.0,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
}

// withRetry runs a write that may hit a locked SQLite file or a dropped
// PostgreSQL connection.
func withRetry(ctx context.Context, operationName string, operation func() error) error {
	err := retry.NewBackoff(dbBackoff).RetryWithPredicate(ctx, operation, isRetryableDBError)
	if err != nil {
		return fmt.Errorf("%s failed: %w", operationName, err)
	}
	return nil
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	errStr := err.Error()
	for _, transient := range []string{
		"database is locked",
		"database table is locked",
		"disk I/O error",
		"connection refused",
		"connection reset by peer",
		"no such host",
		"too many clients",
	} {
		if strings.Contains(errStr, transient) {
			return true
		}
	}
	return false
}
