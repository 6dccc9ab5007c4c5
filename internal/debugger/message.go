package debugger

import (
	"encoding/json"
	"fmt"
)

// Wire message methods the bridge treats specially.
const (
	MethodPrepareJSRuntime = "prepareJSRuntime"
	MethodExecuteScript    = "executeApplicationScript"
)

// WireMessage is one JSON message on the control socket or the child-process
// channel. Messages map 1:1 across both transports; unknown fields are
// preserved untouched.
type WireMessage map[string]any

// ParseWireMessage decodes a socket frame. A frame without a string "method"
// field is malformed.
func ParseWireMessage(data []byte) (WireMessage, error) {
	var msg WireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed wire message: %w", err)
	}
	if msg.Method() == "" {
		return nil, fmt.Errorf("wire message has no method field")
	}
	return msg, nil
}

// Method returns the message method, or "" when absent.
func (m WireMessage) Method() string {
	s, _ := m["method"].(string)
	return s
}

// ID returns the message id field, when present.
func (m WireMessage) ID() (any, bool) {
	id, ok := m["id"]
	return id, ok
}

// URL returns the message url field, or "" when absent.
func (m WireMessage) URL() string {
	s, _ := m["url"].(string)
	return s
}

// Clone returns a shallow copy. Used before rewriting fields so the caller's
// message stays untouched.
func (m WireMessage) Clone() WireMessage {
	out := make(WireMessage, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
