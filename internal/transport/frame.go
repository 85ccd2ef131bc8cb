package transport

// Frame is the JSON wire format exchanged with the chat server.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Frame types. The client sends "message" frames; the server replies with
// "echo" frames. Unknown types are ignored on receipt.
const (
	FrameMessage = "message"
	FrameEcho    = "echo"
)
