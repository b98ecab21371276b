// Package copilot – config.go defines all configuration structures
// for the Zoey assistant.
package copilot

import (
	"fmt"
	"time"

	"github.com/jholhewres/zoey/pkg/zoey/channels/discord"
	"github.com/jholhewres/zoey/pkg/zoey/channels/telegram"
	"github.com/jholhewres/zoey/pkg/zoey/flow"
	"github.com/jholhewres/zoey/pkg/zoey/gateway"
	"github.com/jholhewres/zoey/pkg/zoey/integrations/pushover"
	"github.com/jholhewres/zoey/pkg/zoey/scheduler"
)

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant name used in greetings and the system prompt.
	Name string `yaml:"name"`

	// Timezone is the IANA zone used to resolve times (e.g. "America/New_York").
	Timezone string `yaml:"timezone"`

	// AdminID is the user key allowed to run /broadcast ("telegram:12345").
	AdminID string `yaml:"admin_id"`

	// Instructions are the base system prompt instructions.
	Instructions string `yaml:"instructions"`

	// API configures the completion provider.
	API APIConfig `yaml:"api"`

	// Channels configures communication channels.
	Channels ChannelsConfig `yaml:"channels"`

	// Database configures the central SQLite database.
	Database DatabaseConfig `yaml:"database"`

	// Scheduler configures reminder storage and delivery.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Flows configures the conversational flow engine.
	Flows flow.Config `yaml:"flows"`

	// Integrations configures external search and notification services.
	Integrations IntegrationsConfig `yaml:"integrations"`

	// Gateway configures the health and metrics HTTP server.
	Gateway gateway.Config `yaml:"gateway"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig configures the OpenAI-compatible endpoint.
type APIConfig struct {
	// BaseURL is the API base URL. Empty uses the OpenAI default.
	BaseURL string `yaml:"base_url"`

	// APIKey is the provider key. Prefer the keyring or ${OPENAI_API_KEY}.
	APIKey string `yaml:"api_key"`

	// Model is the chat model (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`
}

// ChannelsConfig holds configuration for all channels.
type ChannelsConfig struct {
	Telegram telegram.Config `yaml:"telegram"`
	Discord  discord.Config  `yaml:"discord"`
}

// DatabaseConfig configures the central database.
type DatabaseConfig struct {
	// Path is the SQLite file. Relative paths resolve against the config file.
	Path string `yaml:"path"`
}

// SchedulerConfig configures reminder storage and the dispatcher.
type SchedulerConfig struct {
	// Storage is "sqlite" (default) or "file".
	Storage string `yaml:"storage"`

	// FilePath is the JSON file used when Storage is "file".
	FilePath string `yaml:"file_path"`

	scheduler.DispatcherConfig `yaml:",inline"`
}

// IntegrationsConfig configures external services.
type IntegrationsConfig struct {
	// SpotifyKey is "client_id:client_secret".
	SpotifyKey string `yaml:"spotify_key"`

	// WikipediaURL overrides the Wikipedia endpoint.
	WikipediaURL string `yaml:"wikipedia_url,omitempty"`

	Pushover pushover.Config `yaml:"pushover"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:     "Zoey",
		Timezone: "Local",
		Instructions: "You are a friendly personal assistant. " +
			"Keep answers short and helpful.",
		API: APIConfig{
			Model: "gpt-4o-mini",
		},
		Channels: ChannelsConfig{
			Telegram: telegram.DefaultConfig(),
		},
		Database: DatabaseConfig{
			Path: "./data/zoey.db",
		},
		Scheduler: SchedulerConfig{
			Storage:          "sqlite",
			FilePath:         "./data/reminders.json",
			DispatcherConfig: scheduler.DefaultDispatcherConfig(),
		},
		Flows: flow.DefaultConfig(),
		Gateway: gateway.Config{
			Address: "127.0.0.1:8085",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Location returns the configured timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Validate reports configuration errors that would prevent startup.
func (c *Config) Validate() error {
	switch c.Scheduler.Storage {
	case "", "sqlite", "file":
	default:
		return fmt.Errorf("scheduler.storage must be sqlite or file, got %q", c.Scheduler.Storage)
	}
	if c.Scheduler.Storage == "file" && c.Scheduler.FilePath == "" {
		return fmt.Errorf("scheduler.file_path is required for file storage")
	}
	if c.Timezone != "" && c.Timezone != "Local" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	if c.Scheduler.Retries < 0 {
		return fmt.Errorf("scheduler.delivery_retries must not be negative")
	}
	return nil
}
