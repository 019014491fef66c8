package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds configuration for the sync server.
type Config struct {
	// Addr is the address to listen on (e.g., ":3001" or "localhost:3001").
	// Default: ":3001".
	Addr string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the upgrade request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// HeartbeatInterval is the time between server-initiated pings on each
	// connection. Default: 30 seconds.
	HeartbeatInterval time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 512KB.
	MaxMessageSize int64

	// MaxConns is the maximum number of concurrent connections.
	// 0 means no limit. Default: 0.
	MaxConns int

	// DisableOwnershipCheck lifts the restriction of get commands to the
	// connection's own owner identity. The zero value enforces the check;
	// disabling it reproduces the legacy unauthenticated behavior and logs
	// a warning at startup.
	DisableOwnershipCheck bool

	// BroadcastConcurrency is the maximum number of in-flight deliveries per
	// broadcast. Default: 16.
	BroadcastConcurrency int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// MetricsRegistry receives the server's Prometheus instruments and backs
	// the /metrics endpoint. Default: a fresh registry per server.
	MetricsRegistry *prometheus.Registry
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:                 ":3001",
		ReadBufferSize:       4096,
		WriteBufferSize:      4096,
		CheckOrigin:          SameOriginCheck,
		HeartbeatInterval:    30 * time.Second,
		WriteTimeout:         10 * time.Second,
		MaxMessageSize:       512 * 1024,
		MaxConns:             0,
		BroadcastConcurrency: 16,
		ShutdownTimeout:      30 * time.Second,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// WithAddr sets the listen address and returns the config for chaining.
func (c *Config) WithAddr(addr string) *Config {
	c.Addr = addr
	return c
}

// WithHeartbeatInterval sets the heartbeat interval and returns the config
// for chaining.
func (c *Config) WithHeartbeatInterval(d time.Duration) *Config {
	c.HeartbeatInterval = d
	return c
}

// WithDisableOwnershipCheck sets whether the owner check on get commands is
// lifted and returns the config for chaining.
func (c *Config) WithDisableOwnershipCheck(disable bool) *Config {
	c.DisableOwnershipCheck = disable
	return c
}

// WithMaxConns sets the connection limit and returns the config for chaining.
func (c *Config) WithMaxConns(max int) *Config {
	c.MaxConns = max
	return c
}

// SameOriginCheck validates that the WebSocket request origin matches the
// host. Requests without an Origin header (non-browser clients) are allowed.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}

	return originURL.Host == host
}
