// Package config loads autoflow settings.
// Priority: env vars > config file > defaults.
package config

import (
	"os"
	"path/filepath"

	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/resilience"
	"github.com/rendis/autoflow/internal/telemetry"
)

// Store drivers.
const (
	StoreLibSQL = "libsql"
	StoreFile   = "file"
	StoreNone   = "none"
)

// Event bus backends.
const (
	EventsMemory    = "memory"
	EventsWatermill = "watermill"
	EventsNone      = "none"
)

// Config holds all autoflow configuration.
type Config struct {
	Engine    engine.Config          `yaml:"engine"`
	Retry     resilience.RetryConfig `yaml:"retry"`
	Telemetry telemetry.Config       `yaml:"telemetry"`
	Log       LogConfig              `yaml:"log"`
	Store     StoreConfig            `yaml:"store"`
	Events    EventsConfig           `yaml:"events"`
	Providers ProvidersConfig        `yaml:"providers"`
	Schedules []ScheduleConfig       `yaml:"schedules" validate:"dive"`
}

// LogConfig selects level and encoding of the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// StoreConfig selects where run records are written.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=libsql file none"`
	// Path is a database file for libsql and a directory for file.
	Path string `yaml:"path" validate:"required_unless=Driver none"`
}

// EventsConfig selects the engine event bus.
type EventsConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory watermill none"`
}

// ProvidersConfig lists the MCP servers exposed to provider nodes.
type ProvidersConfig struct {
	Fallbacks []string    `yaml:"fallbacks"`
	MCP       []MCPServer `yaml:"mcp" validate:"dive"`
}

// MCPServer is a provider backed by a tool of an MCP server started over stdio.
type MCPServer struct {
	Name    string            `yaml:"name" validate:"required"`
	Command string            `yaml:"command" validate:"required"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Tool    string            `yaml:"tool" validate:"required"`
}

// ScheduleConfig runs a workflow file on a cron schedule.
type ScheduleConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Cron     string `yaml:"cron" validate:"required"`
	Workflow string `yaml:"workflow" validate:"required"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine:    engine.DefaultConfig(),
		Retry:     resilience.DefaultRetryConfig(),
		Telemetry: telemetry.Config{ServiceName: "autoflow"},
		Log:       LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Driver: StoreLibSQL,
			Path:   filepath.Join(Dir(), "autoflow.db"),
		},
		Events: EventsConfig{Backend: EventsWatermill},
	}
}

// Dir is the per-user autoflow directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autoflow"
	}
	return filepath.Join(home, ".autoflow")
}

// DefaultPath is the config file read when none is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}
