// Package shared holds small cross-cutting helpers.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

// The sqlite driver surfaces lock contention as plain error strings, so
// classification is by substring rather than sentinel values.

// IsSQLiteBusyError reports whether err is a SQLITE_BUSY failure, raised
// when another connection holds the database lock.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError reports whether err is a "database is locked"
// failure, the other surface form of the same contention.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError reports whether err is either contention error.
// Writes failing with one of these are safe to retry.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}
