package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where commands look for the configuration file.
const DefaultPath = "foundry.yml"

// Environment variables that override file settings.
const (
	EnvRedisURL = "FOUNDRY_REDIS_URL"
	EnvInstance = "FOUNDRY_INSTANCE"
	EnvLogLevel = "FOUNDRY_LOG_LEVEL"
)

// Store backends
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Bus backends
const (
	BusRedis    = "redis"
	BusNATS     = "nats"
	BusEmbedded = "embedded"
)

const (
	defaultMaxIterations       = 5
	defaultCollaboratorRetries = 2
)

// Instance names become part of Redis keys and NATS subjects.
var instanceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// FoundryConfig represents the top-level foundry.yml configuration
type FoundryConfig struct {
	Version  string        `yaml:"version"`
	Instance string        `yaml:"instance"`
	Store    StoreConfig   `yaml:"store"`
	Bus      BusConfig     `yaml:"bus"`
	Engine   EngineConfig  `yaml:"engine"`
	Agents   AgentsConfig  `yaml:"agents,omitempty"`
	Server   ServerConfig  `yaml:"server"`
	Logging  LoggingConfig `yaml:"logging"`
}

// StoreConfig selects the checkpoint store
type StoreConfig struct {
	Backend    string `yaml:"backend"` // redis or sqlite
	RedisURL   string `yaml:"redis_url,omitempty"`
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

// BusConfig selects the progress event transport
type BusConfig struct {
	Backend string `yaml:"backend"` // redis, nats or embedded
	NATSURL string `yaml:"nats_url,omitempty"`
}

// EngineConfig tunes the run loop
type EngineConfig struct {
	MaxIterations       *int          `yaml:"max_iterations,omitempty"` // Default revision cap for new sessions (default = 5)
	StepTimeout         time.Duration `yaml:"step_timeout,omitempty"`   // 0 disables the watchdog
	CollaboratorRetries *int          `yaml:"collaborator_retries,omitempty"`
}

// AgentsConfig binds each collaborator role to an external command.
// A nil role uses the built-in collaborator.
type AgentsConfig struct {
	Drafter    *Agent `yaml:"drafter,omitempty"`
	Safety     *Agent `yaml:"safety,omitempty"`
	Critic     *Agent `yaml:"critic,omitempty"`
	Supervisor *Agent `yaml:"supervisor,omitempty"`
}

// Agent represents a single collaborator command
type Agent struct {
	Command []string      `yaml:"command"`
	Dir     string        `yaml:"dir,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Default returns a configuration that runs against a local Redis.
func Default() *FoundryConfig {
	maxIterations := defaultMaxIterations
	retries := defaultCollaboratorRetries
	return &FoundryConfig{
		Version:  "1.0",
		Instance: "default",
		Store: StoreConfig{
			Backend:    StoreRedis,
			RedisURL:   "redis://localhost:6379/0",
			SQLitePath: "foundry.db",
		},
		Bus: BusConfig{
			Backend: BusRedis,
			NATSURL: "nats://127.0.0.1:4222",
		},
		Engine: EngineConfig{
			MaxIterations:       &maxIterations,
			CollaboratorRetries: &retries,
		},
		Server:  ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// ApplyEnv overrides file settings from the environment.
func (c *FoundryConfig) ApplyEnv() {
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Store.RedisURL = v
	}
	if v := os.Getenv(EnvInstance); v != "" {
		c.Instance = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Validate fills defaults and performs strict validation on the configuration
func (c *FoundryConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = "default"
	}
	if !instanceNamePattern.MatchString(c.Instance) {
		return fmt.Errorf("invalid instance name %q: use letters, digits, '-' or '_'", c.Instance)
	}

	if c.Store.Backend == "" {
		c.Store.Backend = StoreRedis
	}
	switch c.Store.Backend {
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis backend")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid store.backend: %s (must be 'redis' or 'sqlite')", c.Store.Backend)
	}

	if c.Bus.Backend == "" {
		c.Bus.Backend = BusRedis
	}
	switch c.Bus.Backend {
	case BusRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("bus.backend 'redis' requires store.redis_url")
		}
	case BusNATS:
		if c.Bus.NATSURL == "" {
			return fmt.Errorf("bus.nats_url is required for the nats backend")
		}
	case BusEmbedded:
	default:
		return fmt.Errorf("invalid bus.backend: %s (must be 'redis', 'nats' or 'embedded')", c.Bus.Backend)
	}

	if c.Engine.MaxIterations == nil {
		v := defaultMaxIterations
		c.Engine.MaxIterations = &v
	}
	if *c.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine.max_iterations must be >= 1, got %d", *c.Engine.MaxIterations)
	}
	if c.Engine.CollaboratorRetries == nil {
		v := defaultCollaboratorRetries
		c.Engine.CollaboratorRetries = &v
	}
	if *c.Engine.CollaboratorRetries < 0 {
		return fmt.Errorf("engine.collaborator_retries must be >= 0, got %d", *c.Engine.CollaboratorRetries)
	}
	if c.Engine.StepTimeout < 0 {
		return fmt.Errorf("engine.step_timeout must not be negative")
	}

	roles := map[string]*Agent{
		"drafter":    c.Agents.Drafter,
		"safety":     c.Agents.Safety,
		"critic":     c.Agents.Critic,
		"supervisor": c.Agents.Supervisor,
	}
	for role, a := range roles {
		if a == nil {
			continue
		}
		if err := a.Validate(role); err != nil {
			return err
		}
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging.format: %s (must be 'json' or 'console')", c.Logging.Format)
	}

	return nil
}

// Validate performs validation on a single collaborator command
func (a *Agent) Validate(role string) error {
	if len(a.Command) == 0 {
		return fmt.Errorf("agent '%s': command is required", role)
	}
	if a.Timeout < 0 {
		return fmt.Errorf("agent '%s': timeout must not be negative", role)
	}
	if a.Dir != "" {
		if info, err := os.Stat(a.Dir); err != nil || !info.IsDir() {
			return fmt.Errorf("agent '%s': working directory does not exist: %s", role, a.Dir)
		}
	}
	return nil
}

// Load reads foundry.yml from path, applies environment overrides and validates it
func Load(path string) (*FoundryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadOrDefault behaves like Load but falls back to Default when path does not exist.
func LoadOrDefault(path string) (*FoundryConfig, error) {
	config, err := Load(path)
	if err == nil {
		return config, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	config = Default()
	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
