package sandbox

import (
	"encoding/json"
	"io"
	"sync"
)

// Channel is the NDJSON duplex message channel between the sandbox process
// and its parent. Distinct from stdio: it rides on inherited pipe fds.
type Channel struct {
	dec *json.Decoder

	sendMu sync.Mutex
	enc    *json.Encoder
}

// NewChannel wraps a read and a write stream into a message channel.
func NewChannel(r io.Reader, w io.Writer) *Channel {
	return &Channel{
		dec: json.NewDecoder(r),
		enc: json.NewEncoder(w),
	}
}

// Send writes one message frame. Safe for concurrent use.
func (c *Channel) Send(msg map[string]any) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.enc.Encode(msg)
}

// Receive blocks for the next message frame. Returns io.EOF when the parent
// closed the channel.
func (c *Channel) Receive() (map[string]any, error) {
	var msg map[string]any
	if err := c.dec.Decode(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}
