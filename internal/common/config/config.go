// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Discord     DiscordConfig     `mapstructure:"discord"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Events      EventsConfig      `mapstructure:"events"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Supervisor  SupervisorConfig  `mapstructure:"supervisor"`
}

// ServerConfig holds the debug HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AgentConfig holds subprocess agent configuration.
type AgentConfig struct {
	// Command is the executable to spawn for a named agent when the caller
	// does not override it; per-agent overrides live in AgentCommands.
	Command string `mapstructure:"command"`
	// AgentCommands maps an agent name to its executable + args, e.g.
	// "claude": ["claude-agent", "--acp"].
	AgentCommands map[string][]string `mapstructure:"agentCommands"`
	// WorkDir is the working directory agent subprocesses are spawned in.
	WorkDir string `mapstructure:"workDir"`
	// SpawnTimeoutSeconds bounds how long a spawn waits for the ACP
	// initialize handshake, in seconds.
	SpawnTimeoutSeconds int `mapstructure:"spawnTimeoutSeconds"`
	// HealthIntervalSeconds is the period of the health-check loop.
	HealthIntervalSeconds int `mapstructure:"healthIntervalSeconds"`
	// HealthFailureThreshold is the number of consecutive failed health
	// checks before an agent instance is marked unhealthy.
	HealthFailureThreshold int `mapstructure:"healthFailureThreshold"`
	// MaxRestartBackoffSeconds caps the exponential spawn-retry backoff.
	MaxRestartBackoffSeconds int `mapstructure:"maxRestartBackoffSeconds"`
	// IdentityBaseDir is the directory holding the single identity.yaml.
	IdentityBaseDir string `mapstructure:"identityBaseDir"`
	// CheckpointDir is where per-agent checkpoint files
	// (<agent>.checkpoint.yaml) are stored.
	CheckpointDir string `mapstructure:"checkpointDir"`
	// ContextRotationThreshold is the fraction (0-1) of context-window usage
	// that triggers a session rotation for every key bound to that agent.
	ContextRotationThreshold float64 `mapstructure:"contextRotationThreshold"`
	// RecentConversationMaxAgeMs bounds how old a turn may be and still be
	// folded into a rotated/recovered session's context-restoration preamble.
	RecentConversationMaxAgeMs int `mapstructure:"recentConversationMaxAgeMs"`
	// AgentEnv maps an agent name to extra environment variables passed to
	// its subprocess. These win over the inherited process environment but
	// never over the KYNETIC_-reserved names the lifecycle manager sets.
	AgentEnv map[string]map[string]string `mapstructure:"agentEnv"`
}

// DiscordConfig holds Discord adapter configuration.
type DiscordConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// TelegramConfig holds Telegram adapter configuration.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// EventsConfig holds event bus configuration.
type EventsConfig struct {
	// Backend selects the EventBus implementation: "memory" or "nats".
	Backend string `mapstructure:"backend"`
	NATSURL string `mapstructure:"natsUrl"`
}

// PersistenceConfig holds store configuration.
type PersistenceConfig struct {
	// Driver selects the store implementation: "sqlite" or "memory".
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// SupervisorConfig holds the parameters of the requestRestart IPC contract.
type SupervisorConfig struct {
	// RestartSignalPath is the file the supervisor watches for restart requests.
	RestartSignalPath string `mapstructure:"restartSignalPath"`
}

func (a *AgentConfig) SpawnTimeout() time.Duration {
	return time.Duration(a.SpawnTimeoutSeconds) * time.Second
}

func (a *AgentConfig) HealthInterval() time.Duration {
	return time.Duration(a.HealthIntervalSeconds) * time.Second
}

func (a *AgentConfig) MaxRestartBackoff() time.Duration {
	return time.Duration(a.MaxRestartBackoffSeconds) * time.Second
}

func (a *AgentConfig) RecentConversationMaxAge() time.Duration {
	return time.Duration(a.RecentConversationMaxAgeMs) * time.Millisecond
}

// detectDefaultLogFormat favors JSON under an orchestration platform, text
// on an interactive terminal.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("KYNETIC_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8089)

	v.SetDefault("agent.command", "")
	v.SetDefault("agent.workDir", ".")
	v.SetDefault("agent.spawnTimeoutSeconds", 30)
	v.SetDefault("agent.healthIntervalSeconds", 15)
	v.SetDefault("agent.healthFailureThreshold", 3)
	v.SetDefault("agent.maxRestartBackoffSeconds", 300)
	v.SetDefault("agent.identityBaseDir", "./identities")
	v.SetDefault("agent.checkpointDir", "./checkpoints")
	v.SetDefault("agent.contextRotationThreshold", 0.70)
	v.SetDefault("agent.recentConversationMaxAgeMs", 24*60*60*1000)

	v.SetDefault("discord.enabled", false)
	v.SetDefault("discord.token", "")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")

	v.SetDefault("events.backend", "memory")
	v.SetDefault("events.natsUrl", "")

	v.SetDefault("persistence.driver", "sqlite")
	v.SetDefault("persistence.path", "./kynetic.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("supervisor.restartSignalPath", "")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix KYNETIC_.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("KYNETIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("discord.token", "KYNETIC_DISCORD_TOKEN")
	_ = v.BindEnv("telegram.token", "KYNETIC_TELEGRAM_TOKEN")
	_ = v.BindEnv("logging.level", "KYNETIC_LOG_LEVEL")
	_ = v.BindEnv("events.natsUrl", "KYNETIC_EVENTS_NATS_URL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/kynetic/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Discord.Enabled && cfg.Discord.Token == "" {
		errs = append(errs, "discord.token is required when discord.enabled is true")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram.enabled is true")
	}
	if !cfg.Discord.Enabled && !cfg.Telegram.Enabled {
		errs = append(errs, "at least one channel (discord or telegram) must be enabled")
	}

	validBackends := map[string]bool{"memory": true, "nats": true}
	if !validBackends[cfg.Events.Backend] {
		errs = append(errs, "events.backend must be one of: memory, nats")
	}
	if cfg.Events.Backend == "nats" && cfg.Events.NATSURL == "" {
		errs = append(errs, "events.natsUrl is required when events.backend is nats")
	}

	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Persistence.Driver] {
		errs = append(errs, "persistence.driver must be one of: sqlite, memory")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Agent.HealthFailureThreshold <= 0 {
		errs = append(errs, "agent.healthFailureThreshold must be positive")
	}
	if cfg.Agent.ContextRotationThreshold <= 0 || cfg.Agent.ContextRotationThreshold > 1 {
		errs = append(errs, "agent.contextRotationThreshold must be between 0 (exclusive) and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
