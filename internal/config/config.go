package config

import "time"

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Identity IdentityConfig `yaml:"identity"`
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// ServerConfig holds HTTP/WebSocket listener settings.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	SocketPath     string        `yaml:"socket_path"` // WebSocket endpoint (e.g., /bet)
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PongWait       time.Duration `yaml:"pong_wait"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBuffer     int           `yaml:"send_buffer"` // Per-connection outbound queue size
}

// RedisConfig holds the shared session store connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds the relational store connection.
// The gateway only reads currency and account data; domain records are
// owned by handler logic.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// IdentityConfig holds the external identity provider connection. An
// empty URL disables the login endpoint; sessions stay anonymous.
type IdentityConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// SessionConfig holds session token and expiry settings.
type SessionConfig struct {
	Prefix       string        `yaml:"prefix"`        // Redis key namespace
	TokenBytes   int           `yaml:"token_bytes"`   // Entropy per session id
	AnonymousTTL time.Duration `yaml:"anonymous_ttl"` // Expiry window for unclaimed sessions
}
