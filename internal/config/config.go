// Package config handles configuration loading for taskcrew.
// It supports XDG config paths, project-level overrides, environment
// variables, and hot reload of the config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for taskcrew.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Discord      DiscordConfig      `mapstructure:"discord"`
	Squad        SquadConfig        `mapstructure:"squad"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int    `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// DiscordConfig holds Discord delivery settings.
type DiscordConfig struct {
	// Token is the bot token; empty disables Discord delivery.
	Token string `mapstructure:"token"`
	// DefaultChannel receives notifications for unmapped squads.
	DefaultChannel string `mapstructure:"default_channel"`
	// Channels maps squad IDs to channel IDs.
	Channels map[string]string `mapstructure:"channels"`
}

// SquadConfig holds squad identity settings.
type SquadConfig struct {
	// ID is the squad this process serves.
	ID string `mapstructure:"id"`
	// WorkflowsDir holds YAML workflow definitions loaded at startup.
	WorkflowsDir string `mapstructure:"workflows_dir"`
}

// QueueConfig holds task queue settings.
type QueueConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// KeepLast bounds how many terminal executions the ledger retains.
	KeepLast int `mapstructure:"keep_last"`
}

// OrchestratorConfig holds dispatch loop settings.
type OrchestratorConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
}

// WorkflowConfig holds workflow engine settings.
type WorkflowConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StepTimeout  time.Duration `mapstructure:"step_timeout"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DBPath is the SQLite database path; empty uses the XDG data default.
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds debug logging settings.
type LoggingConfig struct {
	// DebugLog is the debug log file path; empty disables debug logging.
	DebugLog string `mapstructure:"debug_log"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (TASKCREW_*, ANTHROPIC_API_KEY, DISCORD_BOT_TOKEN)
// 2. Project config (.taskcrew.yaml in current directory or a parent)
// 3. User config (~/.config/taskcrew/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("TASKCREW")
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("discord.token", "DISCORD_BOT_TOKEN")

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in secrets.
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.Discord.Token = os.ExpandEnv(cfg.Discord.Token)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("discord.token", "")
	v.SetDefault("discord.default_channel", "")

	v.SetDefault("squad.id", "default")
	v.SetDefault("squad.workflows_dir", "")

	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_delay", "60s")
	v.SetDefault("queue.keep_last", 50)

	v.SetDefault("orchestrator.tick_interval", "10s")
	v.SetDefault("orchestrator.task_timeout", "5m")

	v.SetDefault("workflow.poll_interval", "2s")
	v.SetDefault("workflow.step_timeout", "5m")

	v.SetDefault("storage.db_path", "")
	v.SetDefault("logging.debug_log", "")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{MaxTokens: 8192},
		Squad:     SquadConfig{ID: "default"},
		Queue: QueueConfig{
			MaxRetries: 3,
			RetryDelay: 60 * time.Second,
			KeepLast:   50,
		},
		Orchestrator: OrchestratorConfig{
			TickInterval: 10 * time.Second,
			TaskTimeout:  5 * time.Minute,
		},
		Workflow: WorkflowConfig{
			PollInterval: 2 * time.Second,
			StepTimeout:  5 * time.Minute,
		},
	}
}

// getUserConfigDir returns the XDG config directory for taskcrew.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskcrew")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskcrew")
	}
	return filepath.Join(home, ".config", "taskcrew")
}

// findProjectConfig searches for .taskcrew.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".taskcrew.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}
