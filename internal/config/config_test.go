package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/claude-tasker/internal/recurring"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

// TestLoad_Defaults - an empty config yields the documented defaults
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 3, cfg.MaxRetryAttempts)
	assert.False(t, cfg.EscalateActionFailures)
	assert.Equal(t, "api", cfg.Agent.Backend)
	assert.Equal(t, int64(4000), cfg.Agent.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Agent.Temperature, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Agent.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Executor.CommandTimeout)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, filepath.Join(cfg.DataDir, "tasks.db"), cfg.DBPath())
}

// TestLoad_EnvOverride - prefixed environment variables override defaults
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CLAUDE_TASKER_POLL_INTERVAL", "5s")
	t.Setenv("CLAUDE_TASKER_MAX_RETRY_ATTEMPTS", "1")
	t.Setenv("CLAUDE_TASKER_AGENT_BACKEND", "cli")

	cfg, err := Load(newViper())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 1, cfg.MaxRetryAttempts)
	assert.Equal(t, "cli", cfg.Agent.Backend)
}

// TestLoad_File - values and recurring producers are read from YAML
func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/claude-tasker-test
poll_interval: 1m
escalate_action_failures: true
agent:
  backend: cli
  cli_path: /usr/local/bin/claude
webhooks:
  slack: https://hooks.slack.com/services/x
recurring:
  - name: nightly
    cron: "0 3 * * *"
    description: prune caches
    priority: 2
    tags: [ops]
`), 0644))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/claude-tasker-test", cfg.DataDir)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.True(t, cfg.EscalateActionFailures)
	assert.Equal(t, "/usr/local/bin/claude", cfg.Agent.CLIPath)
	assert.Equal(t, "https://hooks.slack.com/services/x", cfg.Webhooks.Slack)
	require.Len(t, cfg.Recurring, 1)
	assert.Equal(t, "nightly", cfg.Recurring[0].Name)
	assert.Equal(t, []string{"ops"}, cfg.Recurring[0].Tags)
}

// TestValidate_Rejects - bad values are reported
func TestValidate_Rejects(t *testing.T) {
	tests := map[string]func(*Config){
		"bad backend":       func(c *Config) { c.Agent.Backend = "smoke-signals" },
		"negative retries":  func(c *Config) { c.MaxRetryAttempts = -1 },
		"zero poll":         func(c *Config) { c.PollInterval = 0 },
		"bad log level":     func(c *Config) { c.LogLevel = "loud" },
		"bad webhook":       func(c *Config) { c.Webhooks.Discord = "not a url" },
		"bad cron":          func(c *Config) { c.Recurring = append(c.Recurring, producer("a", "nope")) },
		"duplicate produce": func(c *Config) { c.Recurring = append(c.Recurring, producer("a", "@daily"), producer("a", "@hourly")) },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

// TestDefaultYAML_RoundTrip - the rendered default file loads back to the defaults
func TestDefaultYAML_RoundTrip(t *testing.T) {
	data, err := DefaultYAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "poll_interval")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	d := Defaults()
	assert.Equal(t, d.PollInterval, cfg.PollInterval)
	assert.Equal(t, d.Agent.Timeout, cfg.Agent.Timeout)
	assert.Equal(t, d.Executor.BlockedCommands, cfg.Executor.BlockedCommands)
}

// TestExecutorRunConfig_DefaultWriteDirs - file writes default to work, data and temp dirs
func TestExecutorRunConfig_DefaultWriteDirs(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = "/data"
	cfg.Executor.WorkDir = "/work"

	ec := cfg.ExecutorRunConfig()
	assert.Equal(t, []string{"/work", "/data", os.TempDir()}, ec.AllowedWriteDirs)
}

// TestLoadDotEnv - .env files fill unset variables only
func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CLAUDE_TASKER_TEST_A=fromfile\nCLAUDE_TASKER_TEST_B=fromfile\n"), 0644))
	t.Setenv("CLAUDE_TASKER_TEST_B", "fromenv")
	t.Setenv("CLAUDE_TASKER_TEST_A", "")
	os.Unsetenv("CLAUDE_TASKER_TEST_A")

	LoadDotEnv(dir)
	t.Cleanup(func() { os.Unsetenv("CLAUDE_TASKER_TEST_A") })

	assert.Equal(t, "fromfile", os.Getenv("CLAUDE_TASKER_TEST_A"))
	assert.Equal(t, "fromenv", os.Getenv("CLAUDE_TASKER_TEST_B"))
}

func producer(name, expr string) recurring.Producer {
	return recurring.Producer{Name: name, Cron: expr, Description: "run " + name, Priority: 3}
}
