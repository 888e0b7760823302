package transport

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/coinbridge/realtime/internal/bus"
	"github.com/coinbridge/realtime/internal/config"
)

// Server upgrades HTTP requests into bus-attached WebSocket connections.
type Server struct {
	bus      *bus.Bus
	cfg      config.ServerConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates the WebSocket endpoint for an event bus.
func NewServer(b *bus.Bus, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		bus:    b,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP handles a WebSocket upgrade request. The client may present an
// existing session id via the "sid" query parameter or cookie; a live one
// is reused so an authenticated page reload keeps its claimed session,
// anything else gets a fresh anonymous session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	presented := r.URL.Query().Get("sid")
	if presented == "" {
		if cookie, err := r.Cookie("sid"); err == nil {
			presented = cookie.Value
		}
	}

	sid, err := s.bus.EnsureSession(r.Context(), presented)
	if err != nil {
		s.logger.Warn("session setup failed", "error", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, sid, ClientConfig{
		WriteTimeout:   s.cfg.WriteTimeout,
		PongWait:       s.cfg.PongWait,
		PingInterval:   s.cfg.PingInterval,
		MaxMessageSize: s.cfg.MaxMessageSize,
		SendBuffer:     s.cfg.SendBuffer,
	}, s.bus.Dispatch, s.bus.ConnClosed, s.logger)

	s.bus.ConnOpened(client)

	s.logger.Debug("connection opened",
		"conn_id", client.ID(),
		"sid", sid,
		"remote", r.RemoteAddr,
	)

	// A client that presented no usable session id has no way to know the
	// one it was just issued; announce it as the first outbound event.
	if sid != presented {
		s.bus.Emit(r.Context(), client, "session", bus.Payload{"sid": sid}, bus.EmitOptions{})
	}

	// Run blocks for the connection's lifetime; the HTTP handler goroutine
	// is the read pump.
	client.Run(r.Context())
}
