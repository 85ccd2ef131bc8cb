package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Direction indicates which side of the conversation produced a message.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Status marks delivery outcome for an outbound message. The zero value
// means no failure has been observed.
type Status string

const (
	StatusOK     Status = ""
	StatusFailed Status = "failed"
)

// Message is a single chat entry owned by exactly one session.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	Status    Status    `json:"status,omitempty"`
}

// NewMessageID generates a message identifier from the current time plus
// randomness, so ids stay unique without a central allocator.
func NewMessageID(dir Direction, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", dir, now.UnixMilli(), randomHex(4))
}

// NewSessionID generates a session identifier.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), randomHex(4))
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// time-derived suffix rather than panic in an id generator.
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(buf)
}
