// Package config loads and validates the Paige server configuration from an
// optional YAML file plus environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the Paige backend.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Observer ObserverConfig `yaml:"observer"`
	Session  SessionConfig  `yaml:"session"`
	Buffers  BuffersConfig  `yaml:"buffers"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	// Port is the HTTP/WebSocket listen port (1-65535).
	Port int `yaml:"port"`

	// ProjectDir is the workspace root. Required; must be an absolute path
	// to an existing directory. All tool-surface reads are confined to it.
	ProjectDir string `yaml:"project_dir"`

	// DataDir holds the SQLite database and memory index.
	// Defaults to ~/.paige.
	DataDir string `yaml:"data_dir"`
}

type ModelConfig struct {
	// APIKey is the Anthropic API key. When empty, model-backed features
	// (observer triage, coaching pipeline, memory) degrade to no-ops.
	APIKey string `yaml:"api_key"`

	// CallTimeout bounds each model call. Default 60s.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type ObserverConfig struct {
	// Cooldown is the minimum interval between delivered nudges.
	Cooldown time.Duration `yaml:"cooldown"`

	// ConfidenceThreshold is the minimum classifier confidence for a nudge.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// FlowStateThreshold is the number of user actions inside
	// FlowStateWindow that marks the developer as in flow.
	FlowStateThreshold int           `yaml:"flow_state_threshold"`
	FlowStateWindow    time.Duration `yaml:"flow_state_window"`

	// BufferUpdateTriggerCount is how many buffer summaries accumulate
	// before triage runs.
	BufferUpdateTriggerCount int `yaml:"buffer_update_trigger_count"`

	// ExplainRequestTriggerCount is how many explain requests accumulate
	// before triage runs.
	ExplainRequestTriggerCount int `yaml:"explain_request_trigger_count"`
}

type SessionConfig struct {
	// IdleTimeout cancels an active session after this long with no
	// user-initiated action. Zero disables the timeout.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

type BuffersConfig struct {
	// SummaryInterval is the period of the buffer-summary flush.
	SummaryInterval time.Duration `yaml:"summary_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with all defaults applied and nothing validated.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 3001,
		},
		Model: ModelConfig{
			CallTimeout: 60 * time.Second,
		},
		Observer: ObserverConfig{
			Cooldown:                   120 * time.Second,
			ConfidenceThreshold:        0.7,
			FlowStateThreshold:         10,
			FlowStateWindow:            60 * time.Second,
			BufferUpdateTriggerCount:   5,
			ExplainRequestTriggerCount: 3,
		},
		Session: SessionConfig{
			IdleTimeout: 30 * time.Minute,
		},
		Buffers: BuffersConfig{
			SummaryInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the given YAML file (if path is non-empty),
// applies environment overrides, fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Server.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.Server.DataDir = filepath.Join(home, ".paige")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT %q is not a number", v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("PROJECT_DIR"); v != "" {
		cfg.Server.ProjectDir = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration for startup-blocking problems.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range 1-65535", c.Server.Port)
	}

	if c.Server.ProjectDir == "" {
		return fmt.Errorf("project_dir is required (set PROJECT_DIR)")
	}
	if !filepath.IsAbs(c.Server.ProjectDir) {
		return fmt.Errorf("project_dir %q must be absolute", c.Server.ProjectDir)
	}
	info, err := os.Stat(c.Server.ProjectDir)
	if err != nil {
		return fmt.Errorf("project_dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project_dir %q is not a directory", c.Server.ProjectDir)
	}

	if c.Observer.ConfidenceThreshold < 0 || c.Observer.ConfidenceThreshold > 1 {
		return fmt.Errorf("observer confidence_threshold %v out of range 0-1", c.Observer.ConfidenceThreshold)
	}
	if c.Buffers.SummaryInterval <= 0 {
		return fmt.Errorf("buffers summary_interval must be positive")
	}
	return nil
}

// ModelEnabled reports whether model-backed features are available.
func (c *Config) ModelEnabled() bool {
	return c.Model.APIKey != ""
}
