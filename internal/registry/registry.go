// Package registry provides the in-memory session catalog. It is the sole
// writer to the durable store: every mutating operation triggers a
// persistence write.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/v-a-dinesh/Chat-Client/internal/domain"
	"github.com/v-a-dinesh/Chat-Client/internal/store"
)

// ErrUnknownSession is returned when an operation references a session id
// that is not present in the registry.
var ErrUnknownSession = errors.New("unknown session")

// Registry is an in-memory catalog of sessions. It is not safe for
// concurrent use; the engine serializes all access on its event loop.
type Registry struct {
	repo     store.Repository
	sessions []*domain.Session
	activeID string
	now      func() time.Time
}

// New creates an empty registry backed by repo.
func New(repo store.Repository) *Registry {
	return &Registry{
		repo: repo,
		now:  time.Now,
	}
}

// Seed replaces the registry contents with sessions restored from the
// durable store. A pointer referencing a session no longer present is
// treated as unset, and the stale persisted value is removed.
func (r *Registry) Seed(ctx context.Context, sessions []domain.Session, activeID string) {
	r.sessions = make([]*domain.Session, 0, len(sessions))
	for i := range sessions {
		sess := sessions[i].Clone()
		sess.SortMessages()
		r.sessions = append(r.sessions, &sess)
	}

	r.activeID = ""
	if activeID != "" {
		if r.find(activeID) != nil {
			r.activeID = activeID
		} else {
			slog.Warn("persisted active session no longer exists, clearing pointer", "session_id", activeID)
			r.persistActiveID(ctx)
		}
	}
}

// CreateSession allocates a new session with an empty message log and a
// default name based on the current session count. The new session is not
// activated; activation is the caller's decision.
func (r *Registry) CreateSession(ctx context.Context) domain.Session {
	now := r.now()
	sess := &domain.Session{
		ID:            domain.NewSessionID(now),
		Name:          fmt.Sprintf("Chat %d", len(r.sessions)+1),
		Messages:      []domain.Message{},
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	r.sessions = append(r.sessions, sess)
	r.persistSessions(ctx)
	slog.Info("session created", "session_id", sess.ID, "name", sess.Name)
	return sess.Clone()
}

// SetActive sets the active session pointer. Unknown ids are a silent
// no-op; callers validate via Get.
func (r *Registry) SetActive(ctx context.Context, id string) {
	if r.find(id) == nil {
		return
	}
	r.activeID = id
	r.persistActiveID(ctx)
}

// ActiveID returns the active session pointer, or "" when unset.
func (r *Registry) ActiveID() string {
	return r.activeID
}

// Get returns a copy of the session with the given id.
func (r *Registry) Get(id string) (domain.Session, bool) {
	sess := r.find(id)
	if sess == nil {
		return domain.Session{}, false
	}
	return sess.Clone(), true
}

// Len returns the number of sessions in the registry.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// AppendMessage inserts msg into the session's log, keeping the log sorted
// by timestamp ascending, and bumps LastUpdatedAt to the append time.
func (r *Registry) AppendMessage(ctx context.Context, id string, msg domain.Message) error {
	sess := r.find(id)
	if sess == nil {
		return fmt.Errorf("append message to %s: %w", id, ErrUnknownSession)
	}
	sess.Messages = append(sess.Messages, msg)
	sess.SortMessages()
	sess.LastUpdatedAt = r.now()
	r.persistSessions(ctx)
	return nil
}

// MarkMessageFailed flags a previously appended message as delivery-failed.
// The message itself is never removed.
func (r *Registry) MarkMessageFailed(ctx context.Context, sessionID, messageID string) error {
	sess := r.find(sessionID)
	if sess == nil {
		return fmt.Errorf("mark message in %s: %w", sessionID, ErrUnknownSession)
	}
	for i := range sess.Messages {
		if sess.Messages[i].ID == messageID {
			sess.Messages[i].Status = domain.StatusFailed
			r.persistSessions(ctx)
			return nil
		}
	}
	return fmt.Errorf("mark message %s: not found in session %s", messageID, sessionID)
}

// ClearMessages empties the session's log and bumps LastUpdatedAt.
func (r *Registry) ClearMessages(ctx context.Context, id string) error {
	sess := r.find(id)
	if sess == nil {
		return fmt.Errorf("clear messages of %s: %w", id, ErrUnknownSession)
	}
	sess.Messages = []domain.Message{}
	sess.LastUpdatedAt = r.now()
	r.persistSessions(ctx)
	return nil
}

// DeleteSession removes a session entirely. Deleting the active session
// unsets the active pointer.
func (r *Registry) DeleteSession(ctx context.Context, id string) error {
	idx := -1
	for i, sess := range r.sessions {
		if sess.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("delete session %s: %w", id, ErrUnknownSession)
	}
	r.sessions = append(r.sessions[:idx], r.sessions[idx+1:]...)
	if r.activeID == id {
		r.activeID = ""
		r.persistActiveID(ctx)
	}
	r.persistSessions(ctx)
	slog.Info("session deleted", "session_id", id)
	return nil
}

// Reset drops all in-memory sessions and the active pointer without
// writing to the store. Used on logout, where the store is cleared wholesale.
func (r *Registry) Reset() {
	r.sessions = nil
	r.activeID = ""
}

// ListOrderedByRecency returns copies of all sessions ordered by
// LastUpdatedAt descending, ties broken by CreatedAt descending.
func (r *Registry) ListOrderedByRecency() []domain.Session {
	out := make([]domain.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastUpdatedAt.Equal(out[j].LastUpdatedAt) {
			return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) find(id string) *domain.Session {
	for _, sess := range r.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

// Persistence is fire-and-forget: failures degrade durability, never the
// in-memory state the user is looking at.
func (r *Registry) persistSessions(ctx context.Context) {
	snapshot := make([]domain.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		snapshot = append(snapshot, sess.Clone())
	}
	if err := r.repo.SaveSessions(ctx, snapshot); err != nil {
		slog.Warn("failed to persist sessions", "error", err)
	}
}

func (r *Registry) persistActiveID(ctx context.Context) {
	if err := r.repo.SaveActiveID(ctx, r.activeID); err != nil {
		slog.Warn("failed to persist active session pointer", "error", err)
	}
}
