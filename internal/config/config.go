package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kylemclaren/claude-tasker/internal/agent"
	"github.com/kylemclaren/claude-tasker/internal/executor"
	"github.com/kylemclaren/claude-tasker/internal/recurring"
)

// EnvPrefix prefixes every environment override, e.g. CLAUDE_TASKER_POLL_INTERVAL
const EnvPrefix = "CLAUDE_TASKER"

// Config holds typed configuration for every command
type Config struct {
	DataDir                string               `mapstructure:"data_dir" yaml:"data_dir" validate:"required"`
	LogLevel               string               `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat              string               `mapstructure:"log_format" yaml:"log_format" validate:"oneof=text json"`
	PollInterval           time.Duration        `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0"`
	MaxRetryAttempts       int                  `mapstructure:"max_retry_attempts" yaml:"max_retry_attempts" validate:"min=0,max=100"`
	EscalateActionFailures bool                 `mapstructure:"escalate_action_failures" yaml:"escalate_action_failures"`
	Agent                  AgentConfig          `mapstructure:"agent" yaml:"agent"`
	Executor               ExecutorConfig       `mapstructure:"executor" yaml:"executor"`
	HTTP                   HTTPConfig           `mapstructure:"http" yaml:"http"`
	Webhooks               WebhookConfig        `mapstructure:"webhooks" yaml:"webhooks"`
	Recurring              []recurring.Producer `mapstructure:"recurring" yaml:"recurring" validate:"dive"`
}

// AgentConfig selects the agent backend
type AgentConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend" validate:"oneof=api cli"`
	Model       string        `mapstructure:"model" yaml:"model" validate:"required"`
	MaxTokens   int64         `mapstructure:"max_tokens" yaml:"max_tokens" validate:"gt=0"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature" validate:"gte=0,lte=1"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url,omitempty" validate:"omitempty,url"`
	CLIPath     string        `mapstructure:"cli_path" yaml:"cli_path"`
}

// ExecutorConfig controls action execution
type ExecutorConfig struct {
	WorkDir          string        `mapstructure:"work_dir" yaml:"work_dir" validate:"required"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout" yaml:"command_timeout" validate:"gt=0"`
	CodeTimeout      time.Duration `mapstructure:"code_timeout" yaml:"code_timeout" validate:"gt=0"`
	CodeMaxSteps     uint64        `mapstructure:"code_max_steps" yaml:"code_max_steps" validate:"gt=0"`
	BlockedCommands  []string      `mapstructure:"blocked_commands" yaml:"blocked_commands"`
	AllowedWriteDirs []string      `mapstructure:"allowed_write_dirs" yaml:"allowed_write_dirs,omitempty"`
}

// HTTPConfig controls the API server
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required"`
}

// WebhookConfig holds notification destinations
type WebhookConfig struct {
	Discord string `mapstructure:"discord" yaml:"discord,omitempty" validate:"omitempty,url"`
	Slack   string `mapstructure:"slack" yaml:"slack,omitempty" validate:"omitempty,url"`
}

// DefaultDataDir returns ~/.claude-tasker
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude-tasker"
	}
	return filepath.Join(home, ".claude-tasker")
}

// Defaults returns the built-in configuration
func Defaults() Config {
	a := agent.DefaultConfig()
	e := executor.DefaultConfig()
	return Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         "info",
		LogFormat:        "text",
		PollInterval:     30 * time.Second,
		MaxRetryAttempts: 3,
		Agent: AgentConfig{
			Backend:     a.Backend,
			Model:       a.Model,
			MaxTokens:   a.MaxTokens,
			Temperature: a.Temperature,
			Timeout:     a.Timeout,
			CLIPath:     a.CLIPath,
		},
		Executor: ExecutorConfig{
			WorkDir:         e.WorkDir,
			CommandTimeout:  e.CommandTimeout,
			CodeTimeout:     e.CodeTimeout,
			CodeMaxSteps:    e.CodeMaxSteps,
			BlockedCommands: e.BlockedCommands,
		},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Recurring: []recurring.Producer{},
	}
}

// SetDefaults registers every default with v so env overrides and Unmarshal see all keys
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("max_retry_attempts", d.MaxRetryAttempts)
	v.SetDefault("escalate_action_failures", d.EscalateActionFailures)
	v.SetDefault("agent.backend", d.Agent.Backend)
	v.SetDefault("agent.model", d.Agent.Model)
	v.SetDefault("agent.max_tokens", d.Agent.MaxTokens)
	v.SetDefault("agent.temperature", d.Agent.Temperature)
	v.SetDefault("agent.timeout", d.Agent.Timeout)
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.base_url", "")
	v.SetDefault("agent.cli_path", d.Agent.CLIPath)
	v.SetDefault("executor.work_dir", d.Executor.WorkDir)
	v.SetDefault("executor.command_timeout", d.Executor.CommandTimeout)
	v.SetDefault("executor.code_timeout", d.Executor.CodeTimeout)
	v.SetDefault("executor.code_max_steps", d.Executor.CodeMaxSteps)
	v.SetDefault("executor.blocked_commands", d.Executor.BlockedCommands)
	v.SetDefault("executor.allowed_write_dirs", []string{})
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("webhooks.discord", "")
	v.SetDefault("webhooks.slack", "")
	v.SetDefault("recurring", []any{})
}

// BindEnv enables CLAUDE_TASKER_* overrides for nested keys
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads .env from the working directory and the data dir. Existing environment
// variables win.
func LoadDotEnv(dataDir string) {
	for _, path := range []string{".env", filepath.Join(dataDir, ".env")} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates configuration from v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Executor.WorkDir = expandHome(cfg.Executor.WorkDir)
	for i, dir := range cfg.Executor.AllowedWriteDirs {
		cfg.Executor.AllowedWriteDirs[i] = expandHome(dir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and recurring schedules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool, len(c.Recurring))
	for _, p := range c.Recurring {
		if seen[p.Name] {
			return fmt.Errorf("invalid config: duplicate recurring producer %q", p.Name)
		}
		seen[p.Name] = true
		if err := recurring.Validate(p.Cron); err != nil {
			return fmt.Errorf("invalid config: recurring %q: %w", p.Name, err)
		}
	}
	return nil
}

// DBPath returns the task store location
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "tasks.db")
}

// AgentClientConfig converts to the agent package config
func (c *Config) AgentClientConfig() agent.Config {
	return agent.Config{
		Backend:     c.Agent.Backend,
		Model:       c.Agent.Model,
		MaxTokens:   c.Agent.MaxTokens,
		Temperature: c.Agent.Temperature,
		Timeout:     c.Agent.Timeout,
		APIKey:      c.Agent.APIKey,
		BaseURL:     c.Agent.BaseURL,
		CLIPath:     c.Agent.CLIPath,
	}
}

// ExecutorRunConfig converts to the executor package config. File writes default to the
// work dir, the data dir and the OS temp dir.
func (c *Config) ExecutorRunConfig() executor.Config {
	dirs := c.Executor.AllowedWriteDirs
	if len(dirs) == 0 {
		dirs = []string{c.Executor.WorkDir, c.DataDir, os.TempDir()}
	}
	return executor.Config{
		WorkDir:          c.Executor.WorkDir,
		CommandTimeout:   c.Executor.CommandTimeout,
		CodeTimeout:      c.Executor.CodeTimeout,
		CodeMaxSteps:     c.Executor.CodeMaxSteps,
		BlockedCommands:  c.Executor.BlockedCommands,
		AllowedWriteDirs: dirs,
	}
}

// DefaultYAML renders the default configuration as a commented config file
func DefaultYAML() ([]byte, error) {
	body, err := yaml.Marshal(Defaults())
	if err != nil {
		return nil, fmt.Errorf("failed to render defaults: %w", err)
	}
	header := "# claude-tasker config\n" +
		"# Priority: CLI flag > environment (" + EnvPrefix + "_*) > this file > default.\n" +
		"# Durations accept Go duration strings: 30s, 1m, 2m30s.\n\n"
	return append([]byte(header), body...), nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
