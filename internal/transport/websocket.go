package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/v-a-dinesh/Chat-Client/internal/domain"
)

// WebSocket implements Channel over a websocket connection to a fixed
// remote endpoint.
type WebSocket struct {
	url    string
	events chan Event

	mu    sync.Mutex
	state domain.ConnectionState
	conn  *websocket.Conn
	// gen invalidates callbacks from a superseded dial or read loop after
	// Disconnect or a fresh Connect.
	gen int
}

// NewWebSocket creates a websocket channel addressed to url. The channel
// starts disconnected; call Connect to dial.
func NewWebSocket(url string) *WebSocket {
	return &WebSocket{
		url:    url,
		events: make(chan Event, 64),
		state:  domain.StateDisconnected,
	}
}

// Events returns the single inbound event stream.
func (ws *WebSocket) Events() <-chan Event {
	return ws.events
}

// Connect dials the endpoint asynchronously. Calling it while connecting
// or connected is a no-op.
func (ws *WebSocket) Connect(ctx context.Context) {
	ws.mu.Lock()
	if ws.state != domain.StateDisconnected {
		ws.mu.Unlock()
		return
	}
	ws.gen++
	gen := ws.gen
	ws.state = domain.StateConnecting
	ws.mu.Unlock()

	ws.emitState(domain.StateConnecting)

	go ws.dial(ctx, gen)
}

func (ws *WebSocket) dial(ctx context.Context, gen int) {
	conn, _, err := websocket.Dial(ctx, ws.url, nil)

	ws.mu.Lock()
	if gen != ws.gen {
		// Superseded by Disconnect; clean up the late connection.
		ws.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return
	}
	if err != nil {
		ws.state = domain.StateDisconnected
		ws.mu.Unlock()
		slog.Warn("websocket dial failed", "url", ws.url, "error", err)
		ws.emitState(domain.StateDisconnected)
		return
	}
	ws.conn = conn
	ws.state = domain.StateConnected
	ws.mu.Unlock()

	slog.Info("websocket connected", "url", ws.url)
	ws.emitState(domain.StateConnected)

	ws.readLoop(ctx, conn, gen)
}

func (ws *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Info("websocket closed by remote", "status", websocket.CloseStatus(err))
			} else {
				slog.Warn("websocket read error", "error", err)
			}
			ws.dropConnection(conn, gen)
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("discarding malformed frame", "error", err)
			continue
		}

		switch frame.Type {
		case FrameEcho, FrameMessage:
			ws.events <- Event{Kind: EventMessage, Text: frame.Content}
		default:
			slog.Debug("ignoring unknown frame type", "type", frame.Type)
		}
	}
}

// dropConnection transitions to disconnected after a read failure, unless
// the connection was already replaced or explicitly closed.
func (ws *WebSocket) dropConnection(conn *websocket.Conn, gen int) {
	ws.mu.Lock()
	if gen != ws.gen || ws.conn != conn {
		ws.mu.Unlock()
		return
	}
	ws.conn = nil
	ws.state = domain.StateDisconnected
	ws.mu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "read loop ended")
	ws.emitState(domain.StateDisconnected)
}

// Disconnect terminates the connection. Idempotent.
func (ws *WebSocket) Disconnect() {
	ws.mu.Lock()
	if ws.state == domain.StateDisconnected {
		ws.mu.Unlock()
		return
	}
	ws.gen++
	conn := ws.conn
	ws.conn = nil
	ws.state = domain.StateDisconnected
	ws.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	slog.Info("websocket disconnected", "url", ws.url)
	ws.emitState(domain.StateDisconnected)
}

// Send transmits a single chat payload. Fails fast when not connected.
func (ws *WebSocket) Send(ctx context.Context, text string) error {
	ws.mu.Lock()
	conn := ws.conn
	connected := ws.state == domain.StateConnected
	ws.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(Frame{Type: FrameMessage, Content: text})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// emitState delivers a state transition on the event stream without ever
// blocking the caller: Connect and Disconnect run on the same goroutine
// that drains the stream, so a full buffer falls back to asynchronous
// delivery instead of deadlocking it.
func (ws *WebSocket) emitState(state domain.ConnectionState) {
	ev := Event{Kind: EventState, State: state}
	select {
	case ws.events <- ev:
	default:
		slog.Warn("event buffer full, delivering state change asynchronously", "state", state)
		go func() { ws.events <- ev }()
	}
}
