package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPort           = 5000
	DefaultSocketPath     = "/bet"
	DefaultWriteTimeout   = 5 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultPingInterval   = 15 * time.Second
	DefaultMaxMessageSize = 4096
	DefaultSendBuffer     = 256
	DefaultRedisAddr      = "localhost:6379"
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 10
	DefaultMinConns       = 2
	DefaultSessionPrefix  = "cb"
	DefaultTokenBytes     = 16
	DefaultAnonymousTTL   = 10 * time.Second

	DefaultIdentityTimeout = 10 * time.Second
	DefaultIdentityRetries = 3
)

func (c *GatewayConfig) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.SocketPath == "" {
		c.Server.SocketPath = DefaultSocketPath
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PongWait == 0 {
		c.Server.PongWait = DefaultPongWait
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = DefaultSendBuffer
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Session defaults
	if c.Session.Prefix == "" {
		c.Session.Prefix = DefaultSessionPrefix
	}
	if c.Session.TokenBytes == 0 {
		c.Session.TokenBytes = DefaultTokenBytes
	}
	if c.Session.AnonymousTTL == 0 {
		c.Session.AnonymousTTL = DefaultAnonymousTTL
	}

	// Identity defaults
	if c.Identity.Timeout == 0 {
		c.Identity.Timeout = DefaultIdentityTimeout
	}
	if c.Identity.Retries == 0 {
		c.Identity.Retries = DefaultIdentityRetries
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
