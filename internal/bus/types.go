package bus

import (
	"context"
	"encoding/json"

	"github.com/coinbridge/realtime/internal/registry"
)

// Envelope is the wire shape in both directions.
//
// Inbound, payload-bearing events carry the session id inside Data;
// payload-less events carry it at the top level. Outbound envelopes always
// nest everything under Data.
type Envelope struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
	SID  string          `json:"sid,omitempty"`
}

// Payload is the decoded data object of a frame. The dispatcher guarantees
// handlers see "sid" populated with the validated session id.
type Payload map[string]any

// SID returns the payload's session id, or "" when absent.
func (p Payload) SID() string {
	sid, _ := p["sid"].(string)
	return sid
}

// HandlerFunc handles one inbound event. It runs on the connection's read
// goroutine, so events from a single connection are processed in order
// while other connections are never blocked by it.
type HandlerFunc func(ctx context.Context, conn registry.Conn, data Payload)

// EmitOptions control outbound delivery.
type EmitOptions struct {
	// Broadcast delivers to all currently-registered connections instead
	// of only the triggering one.
	Broadcast bool

	// DecimalMode renders decimal-valued fields as currency-scaled
	// fixed-point strings and time fields as ISO-8601-like strings.
	DecimalMode bool
}

// Stats contains runtime counters.
type Stats struct {
	FramesReceived   int64
	FramesDispatched int64
	FramesDropped    int64
	EmitsDelivered   int64
	EmitsSuppressed  int64
}
