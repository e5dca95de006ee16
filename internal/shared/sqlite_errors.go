// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError checks if the error is either a SQLITE_BUSY
// or "database is locked" error. Both warrant a retry.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// RetryOnConflict runs op up to attempts times, backing off exponentially
// from baseDelay while op fails with a SQLite conflict.
func RetryOnConflict(ctx context.Context, attempts int, baseDelay time.Duration, op func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil || !IsSQLiteConflictError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite conflict, retrying", "attempt", i+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
