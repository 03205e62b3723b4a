// Package config provides hierarchical configuration loading for Habitat.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the Habitat server.
type Config struct {
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
	Simulation Simulation `yaml:"simulation"`
	Sync       Sync       `yaml:"sync"`
	NATS       NATS       `yaml:"nats"`
	Postgres   Postgres   `yaml:"postgres"`
	Cache      Cache      `yaml:"cache"`
	OTEL       OTEL       `yaml:"otel"`
	MCP        MCP        `yaml:"mcp"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port           string        `yaml:"port"`
	CORSOrigin     string        `yaml:"cors_origin"`
	RequestsPerSec float64       `yaml:"requests_per_second"` // Per-IP REST limit
	RequestBurst   int           `yaml:"request_burst"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"` // How long Idempotency-Key responses replay
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Simulation holds world, executor and event bus settings.
type Simulation struct {
	TickInterval   time.Duration `yaml:"tick_interval"`   // Perception decay period
	HandlerTimeout time.Duration `yaml:"handler_timeout"` // Deadline passed to each bus handler
	ActionTimeout  time.Duration `yaml:"action_timeout"`  // Deadline for one tool effect
	ThoughtWindow  int           `yaml:"thought_window"`  // Thoughts kept per agent (default: 20)
	MaxPerceptions int           `yaml:"max_perceptions"` // Perception entries kept per agent (default: 100)
	DefaultRoom    string        `yaml:"default_room"`    // Room the chat user joins when no target is given
	CommandBuffer  int           `yaml:"command_buffer"`  // Capacity of the mutation command queue
	Seed           bool          `yaml:"seed"`            // Create the demo room and agents at startup
	AutoStart      bool          `yaml:"auto_start"`      // Start the clock at boot
}

// Sync holds observer connection settings.
type Sync struct {
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	SendBuffer        int           `yaml:"send_buffer"`
	MaxFailures       int           `yaml:"max_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
	CommandsPerSecond float64       `yaml:"commands_per_second"`
	CommandBurst      int           `yaml:"command_burst"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the mirror.
type NATS struct {
	URL string `yaml:"url"`
}

// Postgres holds event journal configuration. An empty DSN disables the journal.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// Cache holds the tiered snapshot cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L2Bucket    string        `yaml:"l2_bucket"`
	L2TTL       time.Duration `yaml:"l2_ttl"`
}

// OTEL holds OpenTelemetry exporter configuration.
type OTEL struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// MCP holds the cognition backend tool server configuration.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	APIKey  string `yaml:"api_key"` // Bearer token required when set
	// SecretsFile is a YAML map whose mcp_api_key overrides APIKey. It is
	// re-read on SIGHUP.
	SecretsFile string `yaml:"secrets_file"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:           "8080",
			CORSOrigin:     "http://localhost:3000",
			RequestsPerSec: 50,
			RequestBurst:   100,
			IdempotencyTTL: 10 * time.Minute,
			ShutdownGrace:  10 * time.Second,
		},
		Logging: Logging{
			Level:   "info",
			Service: "habitat",
		},
		Simulation: Simulation{
			TickInterval:   time.Second,
			HandlerTimeout: 2 * time.Second,
			ActionTimeout:  30 * time.Second,
			ThoughtWindow:  20,
			MaxPerceptions: 100,
			DefaultRoom:    "main",
			CommandBuffer:  256,
		},
		Sync: Sync{
			SnapshotInterval:  2 * time.Second,
			WriteTimeout:      5 * time.Second,
			SendBuffer:        64,
			MaxFailures:       3,
			BreakerTimeout:    30 * time.Second,
			CommandsPerSecond: 20,
			CommandBurst:      40,
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Cache: Cache{
			L1MaxSizeMB: 32,
			L2Bucket:    "HABITAT_SNAPSHOTS",
			L2TTL:       time.Minute,
		},
		OTEL: OTEL{
			Endpoint:    "localhost:4317",
			ServiceName: "habitat",
		},
		MCP: MCP{
			Enabled: true,
			Path:    "/mcp",
		},
	}
}
