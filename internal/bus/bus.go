package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinbridge/realtime/internal/money"
	"github.com/coinbridge/realtime/internal/registry"
	"github.com/coinbridge/realtime/internal/session"
)

// Bus is the server-facing entry point: it tracks live connections,
// dispatches inbound frames to named handlers, and exposes the emit
// primitive handlers respond through.
type Bus struct {
	sessions *session.Store
	registry *registry.Registry
	logger   *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Bus over the given session store and connection registry.
func New(sessions *session.Store, reg *registry.Registry, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		sessions: sessions,
		registry: reg,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
	}
}

// Registry returns the connection registry the bus delivers through.
func (b *Bus) Registry() *registry.Registry {
	return b.registry
}

// Sessions returns the shared session store.
func (b *Bus) Sessions() *session.Store {
	return b.sessions
}

// Handle registers a handler for an event name. Registration happens at
// startup, before any connection is accepted; later frames with unknown
// names are dropped.
func (b *Bus) Handle(name string, fn HandlerFunc) {
	b.handlersMu.Lock()
	b.handlers[name] = fn
	b.handlersMu.Unlock()
}

// ConnOpened registers a freshly-accepted connection with the live set.
func (b *Bus) ConnOpened(conn registry.Conn) {
	b.registry.Register(conn)
}

// ConnClosed removes a connection from the live set. Safe to call more
// than once and safe to race with an in-flight broadcast.
func (b *Bus) ConnClosed(conn registry.Conn) {
	b.registry.Unregister(conn)
}

// EnsureSession returns a live session id for a new connection: the
// presented id when it still exists in the shared store, otherwise a fresh
// anonymous session.
func (b *Bus) EnsureSession(ctx context.Context, presented string) (string, error) {
	if presented != "" {
		ok, err := b.sessions.Exists(ctx, presented)
		if err != nil {
			return "", err
		}
		if ok {
			return presented, nil
		}
	}
	return b.sessions.Create(ctx)
}

// Dispatch processes one inbound frame from a connection. Malformed frames,
// missing or unknown sessions, and unknown event names are dropped silently
// (logged only); nothing surfaces to the client.
func (b *Bus) Dispatch(ctx context.Context, conn registry.Conn, frame []byte) {
	b.statsMu.Lock()
	b.stats.FramesReceived++
	b.statsMu.Unlock()

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		b.drop("malformed frame", "error", err)
		return
	}
	if env.Name == "" {
		b.drop("frame missing event name")
		return
	}

	payload := Payload{}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			b.drop("malformed data object", "name", env.Name, "error", err)
			return
		}
	}

	// Payload-bearing events carry sid inside data; payload-less events
	// carry it at the top level.
	sid := payload.SID()
	if sid == "" {
		sid = env.SID
	}
	if sid == "" {
		b.drop("frame missing session id", "name", env.Name)
		return
	}
	payload["sid"] = sid

	ok, err := b.sessions.Exists(ctx, sid)
	if err != nil {
		// Shared store unreachable: fail this frame locally, never the
		// process.
		if errors.Is(err, session.ErrUnavailable) {
			b.drop("session store unavailable", "name", env.Name, "error", err)
			return
		}
		b.drop("session check failed", "name", env.Name, "error", err)
		return
	}
	if !ok {
		// Expired or unknown session: frequent after restart or idle
		// expiry, never fatal.
		b.drop("unknown session", "name", env.Name)
		return
	}

	b.handlersMu.RLock()
	handler, found := b.handlers[env.Name]
	b.handlersMu.RUnlock()
	if !found {
		b.drop("unknown event name", "name", env.Name)
		return
	}

	b.statsMu.Lock()
	b.stats.FramesDispatched++
	b.statsMu.Unlock()

	handler(ctx, conn, payload)
}

// Emit sends an outbound envelope. The payload's sid must currently exist
// in the session store; if it vanished between dispatch and response the
// emit is suppressed entirely so no state leaks to a dead session.
func (b *Bus) Emit(ctx context.Context, conn registry.Conn, name string, data Payload, opts EmitOptions) {
	sid := data.SID()
	if sid == "" {
		b.suppress("emit missing session id", "name", name)
		return
	}
	ok, err := b.sessions.Exists(ctx, sid)
	if err != nil {
		b.suppress("emit session check failed", "name", name, "error", err)
		return
	}
	if !ok {
		b.suppress("emit to vanished session", "name", name)
		return
	}

	out := data
	if opts.DecimalMode {
		out = encodeForTransport(data, transportCurrency(data))
	}

	raw, err := json.Marshal(out)
	if err != nil {
		b.suppress("emit payload not serializable", "name", name, "error", err)
		return
	}
	msg, err := json.Marshal(Envelope{Name: name, Data: raw})
	if err != nil {
		b.suppress("emit envelope not serializable", "name", name, "error", err)
		return
	}

	var delivered int
	if opts.Broadcast {
		delivered = b.registry.Broadcast(nil, msg)
	} else if conn != nil {
		delivered = b.registry.Broadcast([]registry.Conn{conn}, msg)
	}

	b.statsMu.Lock()
	b.stats.EmitsDelivered += int64(delivered)
	b.statsMu.Unlock()
}

// Stats returns a snapshot of runtime counters.
func (b *Bus) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

func (b *Bus) drop(reason string, args ...any) {
	b.statsMu.Lock()
	b.stats.FramesDropped++
	b.statsMu.Unlock()
	b.logger.Debug("frame dropped: "+reason, args...)
}

func (b *Bus) suppress(reason string, args ...any) {
	b.statsMu.Lock()
	b.stats.EmitsSuppressed++
	b.statsMu.Unlock()
	b.logger.Debug("emit suppressed: "+reason, args...)
}

// transportCurrency picks the currency a payload's decimal fields are
// scaled to. Payloads name it under "ticker" or "currency"; absent either,
// the default scale applies.
func transportCurrency(data Payload) string {
	if tk, ok := data["ticker"].(string); ok {
		return tk
	}
	if tk, ok := data["currency"].(string); ok {
		return tk
	}
	return ""
}

// encodeForTransport renders decimal values as currency-scaled fixed-point
// strings and times as ISO-8601-like strings, recursing into nested
// objects and arrays. The original values are never mutated.
func encodeForTransport(data Payload, ticker string) Payload {
	out := make(Payload, len(data))
	for k, v := range data {
		out[k] = encodeValue(v, ticker)
	}
	return out
}

func encodeValue(v any, ticker string) any {
	switch val := v.(type) {
	case decimal.Decimal:
		return money.Format(val, ticker)
	case *decimal.Decimal:
		if val == nil {
			return nil
		}
		return money.Format(*val, ticker)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case time.Duration:
		return val.String()
	case Payload:
		return encodeForTransport(val, ticker)
	case map[string]any:
		return encodeForTransport(Payload(val), ticker)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = encodeValue(item, ticker)
		}
		return out
	default:
		return v
	}
}
