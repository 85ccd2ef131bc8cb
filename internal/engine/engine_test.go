package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/v-a-dinesh/Chat-Client/internal/domain"
	"github.com/v-a-dinesh/Chat-Client/internal/transport"
)

// memRepo is an in-memory store for engine tests.
type memRepo struct {
	mu       sync.Mutex
	sessions []domain.Session
	activeID string
	cleared  bool
}

func (m *memRepo) Load(context.Context) ([]domain.Session, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions, m.activeID, nil
}

func (m *memRepo) SaveSessions(_ context.Context, sessions []domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = sessions
	return nil
}

func (m *memRepo) SaveActiveID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = id
	return nil
}

func (m *memRepo) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = nil
	m.activeID = ""
	m.cleared = true
	return nil
}

func (m *memRepo) Ping(context.Context) error { return nil }
func (m *memRepo) Close() error               { return nil }

func (m *memRepo) snapshot() ([]domain.Session, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions, m.activeID, m.cleared
}

// fakeChannel is a scriptable transport for engine tests.
type fakeChannel struct {
	events chan transport.Event

	mu           sync.Mutex
	sent         []string
	sendErr      error
	disconnects  int
	connectCalls int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan transport.Event, 16)}
}

func (f *fakeChannel) Connect(context.Context) {
	f.mu.Lock()
	f.connectCalls++
	f.mu.Unlock()
	f.events <- transport.Event{Kind: transport.EventState, State: domain.StateConnecting}
	f.events <- transport.Event{Kind: transport.EventState, State: domain.StateConnected}
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeChannel) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChannel) Events() <-chan transport.Event { return f.events }

func (f *fakeChannel) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// fakeClock lets tests pin engine-observed time.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func startEngine(t *testing.T, repo *memRepo, ch *fakeChannel, clock *fakeClock) *Engine {
	t.Helper()
	eng := New(repo, ch, Config{})
	if clock != nil {
		eng.now = clock.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("engine Run returned error: %v", err)
		}
	})
	return eng
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func connect(t *testing.T, eng *Engine) {
	t.Helper()
	ctx := context.Background()
	if err := eng.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, func() bool {
		snap, err := eng.Snapshot(ctx)
		return err == nil && snap.State == domain.StateConnected
	}, "connected state")
}

func TestSendRequiresActiveSessionAndConnection(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	eng := startEngine(t, &memRepo{}, ch, nil)
	ctx := context.Background()

	if err := eng.SendMessage(ctx, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if err := eng.SendMessage(ctx, "hello"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}

	if _, err := eng.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := eng.SendMessage(ctx, "hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected while disconnected, got %v", err)
	}

	connect(t, eng)
	if err := eng.SendMessage(ctx, "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	snap, err := eng.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Active == nil || len(snap.Active.Messages) != 1 {
		t.Fatal("expected one message in active session")
	}
	if snap.Active.Messages[0].Direction != domain.DirectionSent {
		t.Errorf("expected sent direction, got %s", snap.Active.Messages[0].Direction)
	}
	if got := ch.sentTexts(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("expected payload on the channel, got %v", got)
	}
}

func TestSendFailureKeepsOptimisticEcho(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	eng := startEngine(t, &memRepo{}, ch, nil)
	ctx := context.Background()

	if _, err := eng.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	connect(t, eng)

	ch.mu.Lock()
	ch.sendErr = errors.New("wire cut")
	ch.mu.Unlock()

	if err := eng.SendMessage(ctx, "still here"); err != nil {
		t.Fatalf("SendMessage must not surface the transmit failure, got %v", err)
	}

	snap, err := eng.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Active == nil || len(snap.Active.Messages) != 1 {
		t.Fatal("optimistic echo was removed on send failure")
	}
	msg := snap.Active.Messages[0]
	if msg.Text != "still here" {
		t.Errorf("echo corrupted: %q", msg.Text)
	}
	if msg.Status != domain.StatusFailed {
		t.Errorf("expected failed delivery marker, got %q", msg.Status)
	}
}

func TestInboundSortsBeforeLaterLocalMessage(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	clock := &fakeClock{}
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock.Set(base)

	eng := startEngine(t, &memRepo{}, ch, clock)
	ctx := context.Background()

	if _, err := eng.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	connect(t, eng)

	// Local send observed at t=10.
	clock.Set(base.Add(10 * time.Second))
	if err := eng.SendMessage(ctx, "hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	// Inbound arrives afterwards but is stamped at t=5.
	clock.Set(base.Add(5 * time.Second))
	ch.events <- transport.Event{Kind: transport.EventMessage, Text: "delayed"}

	waitFor(t, func() bool {
		snap, err := eng.Snapshot(ctx)
		return err == nil && snap.Active != nil && len(snap.Active.Messages) == 2
	}, "inbound message to land")

	snap, err := eng.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	first, second := snap.Active.Messages[0], snap.Active.Messages[1]
	if first.Text != "delayed" || first.Direction != domain.DirectionReceived {
		t.Errorf("expected received t=5 message first, got %q (%s)", first.Text, first.Direction)
	}
	if second.Text != "hi" {
		t.Errorf("expected sent t=10 message second, got %q", second.Text)
	}
}

func TestInboundWithoutSessionIsBufferedNotDropped(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	eng := startEngine(t, &memRepo{}, ch, nil)
	ctx := context.Background()

	// Drain the startup notification so the next receive proves the
	// inbound event was processed.
	select {
	case <-eng.Updates():
	default:
	}

	ch.events <- transport.Event{Kind: transport.EventMessage, Text: "orphan"}
	select {
	case <-eng.Updates():
	case <-time.After(2 * time.Second):
		t.Fatal("inbound event never processed")
	}

	created, err := eng.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	waitFor(t, func() bool {
		snap, err := eng.Snapshot(ctx)
		return err == nil && snap.Active != nil && len(snap.Active.Messages) == 1
	}, "buffered message to flush")

	snap, _ := eng.Snapshot(ctx)
	if snap.ActiveID != created.ID {
		t.Errorf("expected new session active, got %q", snap.ActiveID)
	}
	if snap.Active.Messages[0].Text != "orphan" {
		t.Errorf("buffered message lost, got %q", snap.Active.Messages[0].Text)
	}
}

func TestSwitchSessionRoundTrip(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	eng := startEngine(t, &memRepo{}, ch, nil)
	ctx := context.Background()

	a, err := eng.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	connect(t, eng)
	if err := eng.SendMessage(ctx, "in a"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if _, err := eng.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := eng.SwitchSession(ctx, a.ID); err != nil {
		t.Fatalf("SwitchSession failed: %v", err)
	}

	snap, err := eng.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.ActiveID != a.ID {
		t.Fatalf("expected session A active, got %q", snap.ActiveID)
	}
	if len(snap.Active.Messages) != 1 || snap.Active.Messages[0].Text != "in a" {
		t.Errorf("message list changed across switch: %+v", snap.Active.Messages)
	}
}

func TestSwitchSessionUnknownID(t *testing.T) {
	t.Parallel()

	eng := startEngine(t, &memRepo{}, newFakeChannel(), nil)
	if err := eng.SwitchSession(context.Background(), "missing"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
}

func TestClearChatOnlyAffectsActiveSession(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	eng := startEngine(t, &memRepo{}, ch, nil)
	ctx := context.Background()

	a, err := eng.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	connect(t, eng)
	for i := 0; i < 5; i++ {
		if err := eng.SendMessage(ctx, "msg"); err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
	}

	b, err := eng.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := eng.SendMessage(ctx, "keep"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if err := eng.SwitchSession(ctx, a.ID); err != nil {
		t.Fatalf("SwitchSession failed: %v", err)
	}
	if err := eng.ClearChat(ctx); err != nil {
		t.Fatalf("ClearChat failed: %v", err)
	}

	snap, err := eng.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Active.Messages) != 0 {
		t.Errorf("expected cleared active session, got %d messages", len(snap.Active.Messages))
	}
	for _, sess := range snap.Sessions {
		if sess.ID == b.ID && len(sess.Messages) != 1 {
			t.Errorf("other session affected by clear: %d messages", len(sess.Messages))
		}
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	t.Parallel()

	repo := &memRepo{}
	ch := newFakeChannel()
	eng := startEngine(t, repo, ch, nil)
	ctx := context.Background()

	if _, err := eng.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	connect(t, eng)
	if err := eng.SendMessage(ctx, "bye"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if err := eng.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	snap, err := eng.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Sessions) != 0 || snap.ActiveID != "" || snap.Active != nil {
		t.Errorf("expected empty engine after logout, got %+v", snap)
	}
	if snap.State != domain.StateDisconnected {
		t.Errorf("expected disconnected after logout, got %s", snap.State)
	}

	sessions, activeID, cleared := repo.snapshot()
	if !cleared || len(sessions) != 0 || activeID != "" {
		t.Errorf("expected store cleared on logout")
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.disconnects == 0 {
		t.Error("expected channel disconnect on logout")
	}
}

func TestStartupRestoresPersistedState(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &memRepo{
		sessions: []domain.Session{{
			ID:   "s1",
			Name: "Chat 1",
			Messages: []domain.Message{
				{ID: "late", Text: "b", Timestamp: base.Add(time.Minute), Direction: domain.DirectionSent},
				{ID: "early", Text: "a", Timestamp: base, Direction: domain.DirectionReceived},
			},
			CreatedAt:     base,
			LastUpdatedAt: base,
		}},
		activeID: "s1",
	}
	eng := startEngine(t, repo, newFakeChannel(), nil)

	snap, err := eng.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.ActiveID != "s1" || snap.Active == nil {
		t.Fatalf("expected restored active session, got %q", snap.ActiveID)
	}
	if snap.Active.Messages[0].ID != "early" {
		t.Errorf("expected restored messages re-sorted, got %s first", snap.Active.Messages[0].ID)
	}
}

func TestStartupWithDanglingActivePointer(t *testing.T) {
	t.Parallel()

	repo := &memRepo{
		sessions: []domain.Session{{ID: "s1", Name: "Chat 1", Messages: []domain.Message{}}},
		activeID: "gone",
	}
	eng := startEngine(t, repo, newFakeChannel(), nil)

	snap, err := eng.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.ActiveID != "" || snap.Active != nil {
		t.Errorf("dangling pointer must yield no-active-session, got %q", snap.ActiveID)
	}
	if len(snap.Sessions) != 1 {
		t.Errorf("sessions themselves must survive, got %d", len(snap.Sessions))
	}
}

func TestUnexpectedStateSignalForcesDisconnected(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	eng := startEngine(t, &memRepo{}, ch, nil)
	ctx := context.Background()

	connect(t, eng)
	ch.events <- transport.Event{Kind: transport.EventState, State: domain.ConnectionState("warp-speed")}

	waitFor(t, func() bool {
		snap, err := eng.Snapshot(ctx)
		return err == nil && snap.State == domain.StateDisconnected
	}, "forced disconnect")
}

func TestDeleteActiveSessionDropsToNoActive(t *testing.T) {
	t.Parallel()

	eng := startEngine(t, &memRepo{}, newFakeChannel(), nil)
	ctx := context.Background()

	sess, err := eng.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := eng.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	snap, err := eng.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.ActiveID != "" || len(snap.Sessions) != 0 {
		t.Errorf("expected empty registry after delete, got %+v", snap)
	}
}
