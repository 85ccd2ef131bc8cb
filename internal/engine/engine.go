// Package engine implements the session and message synchronization core.
// It mediates between the session registry, the transport channel, and the
// durable store, and serializes all mutation on a single event loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/v-a-dinesh/Chat-Client/internal/domain"
	"github.com/v-a-dinesh/Chat-Client/internal/registry"
	"github.com/v-a-dinesh/Chat-Client/internal/store"
	"github.com/v-a-dinesh/Chat-Client/internal/transport"
)

var (
	// ErrNoActiveSession is returned when an operation requires an active
	// session and none is set.
	ErrNoActiveSession = errors.New("no active session")
	// ErrNotConnected is returned when a send is requested while the
	// channel is not connected.
	ErrNotConnected = errors.New("not connected")
	// ErrEmptyMessage is returned when a send is requested with blank text.
	ErrEmptyMessage = errors.New("empty message")
	// ErrStopped is returned when the engine's event loop is no longer
	// running.
	ErrStopped = errors.New("engine stopped")
)

// ErrUnknownSession re-exported for callers that only import the engine.
var ErrUnknownSession = registry.ErrUnknownSession

// Config controls engine policy.
type Config struct {
	// ReconnectInterval arms a flat-interval reconnect timer whenever a
	// disconnected transition is observed while a connection is wanted.
	// Zero disables automatic reconnection.
	ReconnectInterval time.Duration
}

// Snapshot is a read-only view of engine state for the presentation layer.
type Snapshot struct {
	// Sessions ordered by recency, most recently updated first.
	Sessions []domain.Session
	// ActiveID is "" when no session is active.
	ActiveID string
	// Active is the active session with its messages sorted by timestamp,
	// or nil when no session is active.
	Active *domain.Session
	// State is the current connection state.
	State domain.ConnectionState
}

type op struct {
	fn   func()
	done chan struct{}
}

// Engine owns the registry, channel, and store references. Construct one
// per process and route all mutation through its operation set.
type Engine struct {
	reg  *registry.Registry
	ch   transport.Channel
	repo store.Repository
	cfg  Config

	ops     chan op
	updates chan struct{}
	stopped chan struct{}

	now func() time.Time

	// Loop-owned state; touched only from Run.
	runCtx        context.Context
	state         domain.ConnectionState
	pending       []domain.Message
	wantConnected bool
}

// New creates an engine. Call Run to start the event loop before invoking
// any operation.
func New(repo store.Repository, ch transport.Channel, cfg Config) *Engine {
	return &Engine{
		reg:     registry.New(repo),
		ch:      ch,
		repo:    repo,
		cfg:     cfg,
		ops:     make(chan op),
		updates: make(chan struct{}, 1),
		stopped: make(chan struct{}),
		now:     time.Now,
		state:   domain.StateDisconnected,
	}
}

// Updates returns a coalesced notification stream; a receive means engine
// state changed since the last snapshot and the view should re-render.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

// Run restores persisted state and processes operations and transport
// events until ctx is cancelled. It must be called exactly once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	e.runCtx = ctx

	sessions, activeID, err := e.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load persisted sessions: %w", err)
	}
	e.reg.Seed(ctx, sessions, activeID)
	slog.Info("engine started", "sessions", e.reg.Len(), "active_session", e.reg.ActiveID())
	e.notify()

	for {
		select {
		case <-ctx.Done():
			e.ch.Disconnect()
			return nil
		case o := <-e.ops:
			o.fn()
			close(o.done)
		case ev := <-e.ch.Events():
			e.handleEvent(ev)
		}
	}
}

// do runs fn on the event loop and waits for it to complete.
func (e *Engine) do(ctx context.Context, fn func()) error {
	o := op{fn: fn, done: make(chan struct{})}
	select {
	case e.ops <- o:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-o.done:
		return nil
	case <-e.stopped:
		return ErrStopped
	}
}

// Connect asks the channel to establish the connection.
func (e *Engine) Connect(ctx context.Context) error {
	return e.do(ctx, func() {
		e.wantConnected = true
		e.ch.Connect(e.runCtx)
	})
}

// Disconnect tears down the connection without touching session state.
func (e *Engine) Disconnect(ctx context.Context) error {
	return e.do(ctx, func() {
		e.wantConnected = false
		e.ch.Disconnect()
	})
}

// SendMessage appends an outbound message to the active session as an
// optimistic local echo, persists it, and transmits it on the channel. A
// transmit failure marks the echoed message as failed but never removes it.
func (e *Engine) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	var opErr error
	err := e.do(ctx, func() {
		activeID := e.reg.ActiveID()
		if activeID == "" {
			opErr = ErrNoActiveSession
			return
		}
		if e.state != domain.StateConnected {
			opErr = ErrNotConnected
			return
		}

		now := e.now()
		msg := domain.Message{
			ID:        domain.NewMessageID(domain.DirectionSent, now),
			Text:      text,
			Timestamp: now,
			Direction: domain.DirectionSent,
		}
		if err := e.reg.AppendMessage(e.runCtx, activeID, msg); err != nil {
			opErr = err
			return
		}
		e.notify()

		if err := e.ch.Send(e.runCtx, text); err != nil {
			// The optimistic echo stays in the log; only its delivery
			// status changes.
			slog.Warn("send failed, keeping local echo", "message_id", msg.ID, "error", err)
			if markErr := e.reg.MarkMessageFailed(e.runCtx, activeID, msg.ID); markErr != nil {
				slog.Warn("failed to mark message as failed", "error", markErr)
			}
			e.notify()
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// CreateSession creates a new session, activates it, and returns it.
func (e *Engine) CreateSession(ctx context.Context) (domain.Session, error) {
	var created domain.Session
	err := e.do(ctx, func() {
		sess := e.reg.CreateSession(e.runCtx)
		e.reg.SetActive(e.runCtx, sess.ID)
		e.flushPending()
		created, _ = e.reg.Get(sess.ID)
		e.notify()
	})
	return created, err
}

// SwitchSession activates the session with the given id.
func (e *Engine) SwitchSession(ctx context.Context, id string) error {
	var opErr error
	err := e.do(ctx, func() {
		if _, ok := e.reg.Get(id); !ok {
			opErr = fmt.Errorf("switch to %s: %w", id, ErrUnknownSession)
			return
		}
		e.reg.SetActive(e.runCtx, id)
		e.flushPending()
		e.notify()
	})
	if err != nil {
		return err
	}
	return opErr
}

// ClearChat empties the active session's message log. Other sessions are
// unaffected.
func (e *Engine) ClearChat(ctx context.Context) error {
	var opErr error
	err := e.do(ctx, func() {
		activeID := e.reg.ActiveID()
		if activeID == "" {
			opErr = ErrNoActiveSession
			return
		}
		opErr = e.reg.ClearMessages(e.runCtx, activeID)
		e.notify()
	})
	if err != nil {
		return err
	}
	return opErr
}

// DeleteSession removes a session. Deleting the active session leaves the
// engine with no active session.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	var opErr error
	err := e.do(ctx, func() {
		opErr = e.reg.DeleteSession(e.runCtx, id)
		e.notify()
	})
	if err != nil {
		return err
	}
	return opErr
}

// Logout disconnects the channel, clears the durable store entirely, and
// resets in-memory state.
func (e *Engine) Logout(ctx context.Context) error {
	return e.do(ctx, func() {
		e.wantConnected = false
		e.ch.Disconnect()
		if err := e.repo.Clear(e.runCtx); err != nil {
			slog.Warn("failed to clear persisted sessions on logout", "error", err)
		}
		e.reg.Reset()
		e.pending = nil
		e.state = domain.StateDisconnected
		slog.Info("logged out, session state cleared")
		e.notify()
	})
}

// Snapshot returns a read-only copy of the current engine state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := e.do(ctx, func() {
		snap = e.snapshotLocked()
	})
	return snap, err
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Sessions: e.reg.ListOrderedByRecency(),
		ActiveID: e.reg.ActiveID(),
		State:    e.state,
	}
	if snap.ActiveID != "" {
		if sess, ok := e.reg.Get(snap.ActiveID); ok {
			sess.SortMessages()
			snap.Active = &sess
		}
	}
	return snap
}

func (e *Engine) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventMessage:
		e.handleInbound(ev.Text)
	case transport.EventState:
		e.handleStateChange(ev.State)
	default:
		// Any unexpected signal forces a return to disconnected.
		slog.Warn("unexpected transport event, forcing disconnect", "kind", ev.Kind)
		e.handleStateChange(domain.StateDisconnected)
	}
}

func (e *Engine) handleStateChange(state domain.ConnectionState) {
	switch state {
	case domain.StateDisconnected, domain.StateConnecting, domain.StateConnected:
	default:
		slog.Warn("unknown connection state, treating as disconnected", "state", state)
		state = domain.StateDisconnected
	}
	if e.state == state {
		return
	}
	e.state = state
	slog.Info("connection state changed", "state", state)
	e.notify()

	if state == domain.StateDisconnected && e.wantConnected && e.cfg.ReconnectInterval > 0 {
		e.scheduleReconnect()
	}
}

func (e *Engine) scheduleReconnect() {
	interval := e.cfg.ReconnectInterval
	slog.Info("scheduling reconnect", "interval", interval)
	time.AfterFunc(interval, func() {
		err := e.do(context.Background(), func() {
			if e.wantConnected && e.state == domain.StateDisconnected {
				e.ch.Connect(e.runCtx)
			}
		})
		if err != nil && !errors.Is(err, ErrStopped) {
			slog.Warn("reconnect attempt failed to run", "error", err)
		}
	})
}

// handleInbound records a received payload, stamped at receipt time since
// the wire frame carries no timestamp. With no session context the message
// is buffered, never dropped.
func (e *Engine) handleInbound(text string) {
	now := e.now()
	msg := domain.Message{
		ID:        domain.NewMessageID(domain.DirectionReceived, now),
		Text:      text,
		Timestamp: now,
		Direction: domain.DirectionReceived,
	}

	activeID := e.reg.ActiveID()
	if activeID == "" {
		e.pending = append(e.pending, msg)
		slog.Info("buffered inbound message, no active session", "message_id", msg.ID)
		e.notify()
		return
	}
	if err := e.reg.AppendMessage(e.runCtx, activeID, msg); err != nil {
		e.pending = append(e.pending, msg)
		slog.Warn("failed to append inbound message, buffering", "error", err)
	}
	e.notify()
}

// flushPending drains buffered inbound messages into the newly activated
// session.
func (e *Engine) flushPending() {
	activeID := e.reg.ActiveID()
	if activeID == "" || len(e.pending) == 0 {
		return
	}
	for i, msg := range e.pending {
		if err := e.reg.AppendMessage(e.runCtx, activeID, msg); err != nil {
			slog.Warn("failed to flush buffered message", "error", err)
			e.pending = append([]domain.Message(nil), e.pending[i:]...)
			return
		}
	}
	slog.Info("flushed buffered inbound messages", "count", len(e.pending), "session_id", activeID)
	e.pending = nil
}

func (e *Engine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}
