package socket

// Frame types accepted on the wire.
const (
	FrameCall  = "call"
	FrameEvent = "event"
)

// Frame is one inbound text message. Calls carry Method and Args, events
// carry Event and Data. ID is chosen by the client and echoed back.
type Frame struct {
	Type   string `json:"type"`
	ID     any    `json:"id,omitempty"`
	Method string `json:"method,omitempty"`
	Args   []any  `json:"args,omitempty"`
	Event  string `json:"event,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Response answers exactly one frame id. ID is null when the inbound frame
// could not be matched.
type Response struct {
	ID     any                 `json:"id"`
	Result any                 `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
	Fields map[string][]string `json:"fields,omitempty"`
}

func notFoundMessage(kind, name string) string {
	return kind + " '" + name + "' not found"
}
