package phoenix

import "encoding/json"

// Reserved Phoenix events
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"

	heartbeatTopic = "phoenix"
)

// Reply statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Message is a single frame on the wire
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// Reply is the payload of a phx_reply frame
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// encodePayload marshals an outbound payload, mapping nil to an empty object
func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage(`{}`), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
