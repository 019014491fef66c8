package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/draftsync/draftsync/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "draftsync.json"

	// DefaultAddr is the default listen address.
	DefaultAddr = ":3001"

	// DefaultHeartbeatSeconds is the default ping interval.
	DefaultHeartbeatSeconds = 30

	// BackendMemory keeps drafts in process memory.
	BackendMemory = "memory"

	// BackendDynamoDB persists drafts to a DynamoDB table.
	BackendDynamoDB = "dynamodb"
)

// Config represents the complete draftsync.json configuration.
type Config struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty"`

	// HeartbeatSeconds is the interval between server pings on each
	// connection.
	HeartbeatSeconds int `json:"heartbeatSeconds,omitempty"`

	// EnforceOwnership restricts get commands to the connection's own
	// userId. Nil means enabled.
	EnforceOwnership *bool `json:"enforceOwnership,omitempty"`

	// MaxConns limits concurrent WebSocket connections. 0 means no limit.
	MaxConns int `json:"maxConns,omitempty"`

	// Store selects and configures the draft storage backend.
	Store StoreConfig `json:"store,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// StoreConfig configures the storage backend.
type StoreConfig struct {
	// Backend is "memory" or "dynamodb".
	Backend string `json:"backend,omitempty"`

	// Table is the DynamoDB table name.
	Table string `json:"table,omitempty"`

	// Region is the AWS region for the DynamoDB backend.
	Region string `json:"region,omitempty"`

	// Endpoint overrides the DynamoDB endpoint, typically for a local
	// instance.
	Endpoint string `json:"endpoint,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Addr:             DefaultAddr,
		HeartbeatSeconds: DefaultHeartbeatSeconds,
		Store: StoreConfig{
			Backend: BackendMemory,
			Table:   "drafts",
		},
	}
}

// Load reads draftsync.json from dir. A missing file is not an error and
// yields the defaults.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads the configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.configPath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the configuration was loaded from, or "" for the
// defaults.
func (c *Config) Path() string {
	return c.configPath
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.HeartbeatSeconds == 0 {
		c.HeartbeatSeconds = DefaultHeartbeatSeconds
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.Store.Table == "" {
		c.Store.Table = "drafts"
	}
}

// Validate reports configuration values that cannot be used.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendDynamoDB:
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if c.HeartbeatSeconds < 0 {
		return fmt.Errorf("config: heartbeatSeconds must not be negative")
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("config: maxConns must not be negative")
	}
	return nil
}

// ServerConfig translates the file configuration into the server's Config.
func (c *Config) ServerConfig() *server.Config {
	sc := server.DefaultConfig().
		WithAddr(c.Addr).
		WithHeartbeatInterval(time.Duration(c.HeartbeatSeconds) * time.Second).
		WithMaxConns(c.MaxConns)
	if c.EnforceOwnership != nil {
		sc.WithDisableOwnershipCheck(!*c.EnforceOwnership)
	}
	return sc
}
