// Package render converts engine snapshots into renderable view-models.
package render

import (
	"fmt"
	"io"
	"time"

	"github.com/v-a-dinesh/Chat-Client/internal/domain"
	"github.com/v-a-dinesh/Chat-Client/internal/engine"
)

// SessionItem is one entry in the session sidebar.
type SessionItem struct {
	ID           string
	Name         string
	Active       bool
	MessageCount int
	LastUpdated  time.Time
}

// MessageLine is one rendered chat message.
type MessageLine struct {
	Text      string
	Sent      bool
	Failed    bool
	Timestamp time.Time
}

// ViewModel is everything the terminal view needs to draw one frame.
type ViewModel struct {
	Connected  bool
	StateLabel string
	Sessions   []SessionItem
	ActiveName string
	Messages   []MessageLine
}

// Build converts an engine snapshot into a view-model. Session order and
// message order are taken from the snapshot unchanged.
func Build(snap engine.Snapshot) ViewModel {
	vm := ViewModel{
		Connected:  snap.State == domain.StateConnected,
		StateLabel: string(snap.State),
	}
	for _, sess := range snap.Sessions {
		vm.Sessions = append(vm.Sessions, SessionItem{
			ID:           sess.ID,
			Name:         sess.Name,
			Active:       sess.ID == snap.ActiveID,
			MessageCount: len(sess.Messages),
			LastUpdated:  sess.LastUpdatedAt,
		})
	}
	if snap.Active != nil {
		vm.ActiveName = snap.Active.Name
		for _, msg := range snap.Active.Messages {
			vm.Messages = append(vm.Messages, MessageLine{
				Text:      msg.Text,
				Sent:      msg.Direction == domain.DirectionSent,
				Failed:    msg.Status == domain.StatusFailed,
				Timestamp: msg.Timestamp,
			})
		}
	}
	return vm
}

// Renderer writes view-models as plain text.
type Renderer struct {
	out io.Writer
}

// NewRenderer creates a renderer writing to out.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

// Render draws a full frame: connection state, session list, and the
// active session's messages.
func (r *Renderer) Render(vm ViewModel) {
	fmt.Fprintf(r.out, "\n[%s]\n", vm.StateLabel)

	if len(vm.Sessions) == 0 {
		fmt.Fprintln(r.out, "no sessions — /new to start one")
	}
	for i, item := range vm.Sessions {
		marker := " "
		if item.Active {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %d. %s (%d messages, %s)\n",
			marker, i+1, item.Name, item.MessageCount,
			item.LastUpdated.Format("15:04:05"))
	}

	if vm.ActiveName == "" {
		fmt.Fprintln(r.out, "select a chat or create a new one to start messaging")
		return
	}

	fmt.Fprintf(r.out, "--- %s ---\n", vm.ActiveName)
	for _, line := range vm.Messages {
		prefix := "<-"
		if line.Sent {
			prefix = "->"
		}
		failed := ""
		if line.Failed {
			failed = " !"
		}
		fmt.Fprintf(r.out, "%s [%s] %s%s\n",
			prefix, line.Timestamp.Format("15:04:05"), line.Text, failed)
	}
}
