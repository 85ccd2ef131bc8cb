// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/v-a-dinesh/Chat-Client/internal/domain"
)

// Repository defines the interface for persisting chat sessions and the
// active session pointer.
type Repository interface {
	// Load reads all persisted sessions plus the active session pointer.
	// Load fails soft: malformed persisted data is discarded and an empty
	// session list is returned, so corrupted state never breaks startup.
	// The returned error covers infrastructure failures only (e.g. the
	// database file cannot be opened at all).
	Load(ctx context.Context) (sessions []domain.Session, activeID string, err error)

	// SaveSessions overwrites the full persisted session collection.
	SaveSessions(ctx context.Context, sessions []domain.Session) error

	// SaveActiveID persists the active session pointer. An empty id
	// removes the pointer.
	SaveActiveID(ctx context.Context, id string) error

	// Clear removes all persisted session data and the active pointer.
	Clear(ctx context.Context) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
