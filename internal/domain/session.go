// Package domain contains core domain types for the chat client.
package domain

import (
	"sort"
	"time"
)

// ConnectionState describes the transport channel state. It is process-wide
// and never persisted.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// Session is an independent conversation thread with its own ordered
// message log.
type Session struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Messages      []Message `json:"messages"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// SortMessages orders the log by timestamp ascending. The sort is stable so
// messages sharing a timestamp keep their insertion order.
func (s *Session) SortMessages() {
	sort.SliceStable(s.Messages, func(i, j int) bool {
		return s.Messages[i].Timestamp.Before(s.Messages[j].Timestamp)
	})
}

// Clone returns a deep copy, safe to hand out as a snapshot.
func (s *Session) Clone() Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}
