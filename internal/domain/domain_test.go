package domain

import (
	"strings"
	"testing"
	"time"
)

func TestSortMessagesByTimestamp(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sess := Session{
		Messages: []Message{
			{ID: "m1", Timestamp: base.Add(10 * time.Second)},
			{ID: "m2", Timestamp: base.Add(5 * time.Second)},
			{ID: "m3", Timestamp: base.Add(7 * time.Second)},
		},
	}

	sess.SortMessages()

	want := []string{"m2", "m3", "m1"}
	for i, id := range want {
		if sess.Messages[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, sess.Messages[i].ID)
		}
	}
}

func TestSortMessagesStableOnEqualTimestamps(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sess := Session{
		Messages: []Message{
			{ID: "first", Timestamp: ts},
			{ID: "second", Timestamp: ts},
			{ID: "third", Timestamp: ts},
		},
	}

	sess.SortMessages()

	want := []string{"first", "second", "third"}
	for i, id := range want {
		if sess.Messages[i].ID != id {
			t.Errorf("insertion order not preserved at %d: got %s", i, sess.Messages[i].ID)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	sess := Session{
		ID:       "s1",
		Messages: []Message{{ID: "m1", Text: "hi"}},
	}

	clone := sess.Clone()
	clone.Messages[0].Text = "changed"
	clone.Messages = append(clone.Messages, Message{ID: "m2"})

	if sess.Messages[0].Text != "hi" {
		t.Errorf("clone mutation leaked into original: %q", sess.Messages[0].Text)
	}
	if len(sess.Messages) != 1 {
		t.Errorf("expected original to keep 1 message, got %d", len(sess.Messages))
	}
}

func TestNewMessageIDUnique(t *testing.T) {
	t.Parallel()

	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMessageID(DirectionSent, now)
		if seen[id] {
			t.Fatalf("duplicate message id generated: %s", id)
		}
		seen[id] = true
		if !strings.HasPrefix(id, "sent_") {
			t.Fatalf("expected sent_ prefix, got %s", id)
		}
	}
}

func TestNewSessionIDPrefix(t *testing.T) {
	t.Parallel()

	id := NewSessionID(time.Now())
	if !strings.HasPrefix(id, "session_") {
		t.Errorf("expected session_ prefix, got %s", id)
	}
}
