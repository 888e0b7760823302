package registry

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Conn is a live transport-level connection handle. Implementations must be
// safe for concurrent Send and Close.
type Conn interface {
	// ID returns the process-local connection identity.
	ID() uuid.UUID

	// SessionID returns the session this connection was opened under.
	SessionID() string

	// Send queues raw bytes for delivery to the peer.
	Send(data []byte) error

	// Close tears down the transport.
	Close() error
}

// Registry is the in-memory set of live connections.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[uuid.UUID]Conn
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		conns:  make(map[uuid.UUID]Conn),
	}
}

// Register adds a connection to the live set. Visible to all subsequent
// broadcasts.
func (r *Registry) Register(conn Conn) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	total := len(r.conns)
	r.mu.Unlock()

	r.logger.Debug("connection registered",
		"conn_id", conn.ID(),
		"sid", conn.SessionID(),
		"total", total,
	)
}

// Unregister removes a connection. Idempotent: removing an already-removed
// connection is a no-op.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	_, present := r.conns[conn.ID()]
	if present {
		delete(r.conns, conn.ID())
	}
	total := len(r.conns)
	r.mu.Unlock()

	if present {
		r.logger.Debug("connection unregistered",
			"conn_id", conn.ID(),
			"total", total,
		)
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Get returns the live connection with the given identity.
func (r *Registry) Get(id uuid.UUID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// ForSession returns every live connection opened under the given session.
func (r *Registry) ForSession(sid string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Conn
	for _, c := range r.conns {
		if c.SessionID() == sid {
			out = append(out, c)
		}
	}
	return out
}

// Broadcast delivers message to every target still present in the live set
// at delivery time. A nil target slice means all currently-registered
// connections. Connections that close mid-broadcast are skipped; a send
// failure is isolated to its connection, which is unregistered, and never
// aborts delivery to the remaining targets. Returns the delivered count.
func (r *Registry) Broadcast(targets []Conn, message []byte) int {
	if targets == nil {
		targets = r.All()
	}

	delivered := 0
	for _, c := range targets {
		// Membership check at send time, not fan-out start.
		r.mu.RLock()
		_, live := r.conns[c.ID()]
		r.mu.RUnlock()
		if !live {
			continue
		}

		if err := c.Send(message); err != nil {
			r.logger.Warn("broadcast send failed, dropping connection",
				"conn_id", c.ID(),
				"sid", c.SessionID(),
				"error", err,
			)
			r.Unregister(c)
			continue
		}
		delivered++
	}
	return delivered
}
