package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "habitat.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("HABITAT_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "HABITAT_PORT")
	setString(&cfg.Server.CORSOrigin, "HABITAT_CORS_ORIGIN")
	setFloat64(&cfg.Server.RequestsPerSec, "HABITAT_REQUESTS_PER_SECOND")
	setInt(&cfg.Server.RequestBurst, "HABITAT_REQUEST_BURST")
	setDuration(&cfg.Server.IdempotencyTTL, "HABITAT_IDEMPOTENCY_TTL")
	setDuration(&cfg.Server.ShutdownGrace, "HABITAT_SHUTDOWN_GRACE")

	setString(&cfg.Logging.Level, "HABITAT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "HABITAT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "HABITAT_LOG_ASYNC")

	// Simulation
	setDuration(&cfg.Simulation.TickInterval, "HABITAT_TICK_INTERVAL")
	setDuration(&cfg.Simulation.HandlerTimeout, "HABITAT_HANDLER_TIMEOUT")
	setDuration(&cfg.Simulation.ActionTimeout, "HABITAT_ACTION_TIMEOUT")
	setInt(&cfg.Simulation.ThoughtWindow, "HABITAT_THOUGHT_WINDOW")
	setInt(&cfg.Simulation.MaxPerceptions, "HABITAT_MAX_PERCEPTIONS")
	setString(&cfg.Simulation.DefaultRoom, "HABITAT_DEFAULT_ROOM")
	setInt(&cfg.Simulation.CommandBuffer, "HABITAT_COMMAND_BUFFER")
	setBool(&cfg.Simulation.Seed, "HABITAT_SEED")
	setBool(&cfg.Simulation.AutoStart, "HABITAT_AUTO_START")

	// Sync
	setDuration(&cfg.Sync.SnapshotInterval, "HABITAT_SNAPSHOT_INTERVAL")
	setDuration(&cfg.Sync.WriteTimeout, "HABITAT_WRITE_TIMEOUT")
	setInt(&cfg.Sync.SendBuffer, "HABITAT_SEND_BUFFER")
	setInt(&cfg.Sync.MaxFailures, "HABITAT_MAX_FAILURES")
	setDuration(&cfg.Sync.BreakerTimeout, "HABITAT_BREAKER_TIMEOUT")
	setFloat64(&cfg.Sync.CommandsPerSecond, "HABITAT_COMMANDS_PER_SECOND")
	setInt(&cfg.Sync.CommandBurst, "HABITAT_COMMAND_BURST")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "HABITAT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "HABITAT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "HABITAT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "HABITAT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "HABITAT_PG_HEALTH_CHECK")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "HABITAT_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "HABITAT_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "HABITAT_CACHE_L2_TTL")

	setBool(&cfg.OTEL.Enabled, "HABITAT_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")

	setBool(&cfg.MCP.Enabled, "HABITAT_MCP_ENABLED")
	setString(&cfg.MCP.Path, "HABITAT_MCP_PATH")
	setString(&cfg.MCP.APIKey, "HABITAT_MCP_API_KEY")
	setString(&cfg.MCP.SecretsFile, "HABITAT_SECRETS_FILE")
}

// validate checks that required fields are set and bounds are sane.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.RequestBurst < 1 {
		return errors.New("server.request_burst must be >= 1")
	}
	if cfg.Simulation.TickInterval <= 0 {
		return errors.New("simulation.tick_interval must be > 0")
	}
	if cfg.Simulation.HandlerTimeout <= 0 {
		return errors.New("simulation.handler_timeout must be > 0")
	}
	if cfg.Simulation.ActionTimeout <= 0 {
		return errors.New("simulation.action_timeout must be > 0")
	}
	if cfg.Simulation.ThoughtWindow < 1 {
		return errors.New("simulation.thought_window must be >= 1")
	}
	if cfg.Simulation.MaxPerceptions < 1 {
		return errors.New("simulation.max_perceptions must be >= 1")
	}
	if cfg.Simulation.CommandBuffer < 1 {
		return errors.New("simulation.command_buffer must be >= 1")
	}
	if cfg.Sync.SnapshotInterval <= 0 {
		return errors.New("sync.snapshot_interval must be > 0")
	}
	if cfg.Sync.SendBuffer < 1 {
		return errors.New("sync.send_buffer must be >= 1")
	}
	if cfg.Sync.MaxFailures < 1 {
		return errors.New("sync.max_failures must be >= 1")
	}
	if cfg.Sync.CommandBurst < 1 {
		return errors.New("sync.command_burst must be >= 1")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.MCP.Enabled && cfg.MCP.Path == "" {
		return errors.New("mcp.path is required when mcp is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
