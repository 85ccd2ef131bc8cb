package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/v-a-dinesh/Chat-Client/internal/domain"
	"github.com/v-a-dinesh/Chat-Client/internal/shared"
	_ "modernc.org/sqlite"
)

const activeSessionKey = "active_session"

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		position INTEGER NOT NULL,
		messages_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_position ON sessions(position);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Load reads all persisted sessions in insertion order plus the active
// session pointer. Malformed rows cause the whole persisted set to be
// discarded rather than a startup failure.
func (s *SQLiteStore) Load(ctx context.Context) ([]domain.Session, string, error) {
	query := `
		SELECT id, name, messages_json, created_at, last_updated_at
		FROM sessions ORDER BY position ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, "", fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []domain.Session
	for rows.Next() {
		var sess domain.Session
		var messagesJSON string
		var createdAt, lastUpdatedAt int64

		if err := rows.Scan(&sess.ID, &sess.Name, &messagesJSON, &createdAt, &lastUpdatedAt); err != nil {
			return s.recoverCorrupt(ctx, fmt.Errorf("scan session row: %w", err))
		}
		if err := json.Unmarshal([]byte(messagesJSON), &sess.Messages); err != nil {
			return s.recoverCorrupt(ctx, fmt.Errorf("decode messages for session %s: %w", sess.ID, err))
		}

		sess.CreatedAt = time.UnixMilli(createdAt)
		sess.LastUpdatedAt = time.UnixMilli(lastUpdatedAt)
		sess.SortMessages()
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return s.recoverCorrupt(ctx, fmt.Errorf("iterate sessions: %w", err))
	}

	activeID, err := s.loadActiveID(ctx)
	if err != nil {
		return s.recoverCorrupt(ctx, err)
	}

	return sessions, activeID, nil
}

// recoverCorrupt implements the fail-soft load contract: log, wipe the
// persisted state, and report an empty session set.
func (s *SQLiteStore) recoverCorrupt(ctx context.Context, cause error) ([]domain.Session, string, error) {
	slog.Warn("discarding corrupted persisted sessions", "error", cause)
	if err := s.Clear(ctx); err != nil {
		slog.Warn("failed to clear corrupted session data", "error", err)
	}
	return nil, "", nil
}

func (s *SQLiteStore) loadActiveID(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, activeSessionKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load active session pointer: %w", err)
	}
	return value, nil
}

// SaveSessions overwrites the full persisted session collection in a
// single transaction.
func (s *SQLiteStore) SaveSessions(ctx context.Context, sessions []domain.Session) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin save transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}

		insert := `
			INSERT INTO sessions (id, name, position, messages_json, created_at, last_updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`
		for i, sess := range sessions {
			messages := sess.Messages
			if messages == nil {
				messages = []domain.Message{}
			}
			messagesJSON, err := json.Marshal(messages)
			if err != nil {
				return fmt.Errorf("encode messages for session %s: %w", sess.ID, err)
			}
			if _, err := tx.ExecContext(ctx, insert,
				sess.ID, sess.Name, i, string(messagesJSON),
				sess.CreatedAt.UnixMilli(), sess.LastUpdatedAt.UnixMilli(),
			); err != nil {
				return fmt.Errorf("insert session %s: %w", sess.ID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit save transaction: %w", err)
		}
		return nil
	})
}

// SaveActiveID persists the active session pointer. An empty id removes it.
func (s *SQLiteStore) SaveActiveID(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		if id == "" {
			if _, err := s.db.ExecContext(ctx,
				`DELETE FROM settings WHERE key = ?`, activeSessionKey); err != nil {
				return fmt.Errorf("delete active session pointer: %w", err)
			}
			return nil
		}

		query := `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`
		if _, err := s.db.ExecContext(ctx, query, activeSessionKey, id); err != nil {
			return fmt.Errorf("save active session pointer: %w", err)
		}
		return nil
	})
}

// Clear removes all persisted session data and the active pointer.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM settings`); err != nil {
			return fmt.Errorf("clear settings: %w", err)
		}
		return nil
	})
}

// withRetry runs fn, retrying with exponential backoff on SQLITE_BUSY
// conflicts: 100ms, 200ms, 400ms.
func (s *SQLiteStore) withRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("store write hit SQLITE_BUSY, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
