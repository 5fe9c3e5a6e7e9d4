package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kylemclaren/claude-tasker/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "claude-tasker",
	Short: "Autonomous task queue executed by Claude",
	Long: `claude-tasker keeps a priority queue of plain-language tasks, hands each one to
Claude, and runs the shell commands, code and file writes found in the reply.

Run without a subcommand to open the interactive TUI.`,
	SilenceUsage: true,
	RunE:         runTUI,
}

// Execute is the entry point called from cmd/claude-tasker/main.go
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ~/.claude-tasker/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text | json")
	rootCmd.PersistentFlags().String("data-dir", config.DefaultDataDir(), "directory holding the task store")
	bindFlag("log_level", rootCmd.PersistentFlags(), "log-level")
	bindFlag("log_format", rootCmd.PersistentFlags(), "log-format")
	bindFlag("data_dir", rootCmd.PersistentFlags(), "data-dir")

	rootCmd.AddCommand(addCmd, listCmd, statusCmd, deleteCmd, logCmd)
	rootCmd.AddCommand(runCmd, daemonCmd, serveCmd, tuiCmd)
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)
	config.BindEnv(v)

	dataDir := v.GetString("data_dir")
	config.LoadDotEnv(dataDir)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(dataDir)
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	}
}

// loadConfig decodes and validates configuration, then applies the logging settings
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg, os.Stderr); err != nil {
		return nil, err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		log.WithField("path", used).Debug("Loaded config file")
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config, out io.Writer) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)
	log.SetOutput(out)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// ensureDataDir creates the data directory on first use
func ensureDataDir(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", cfg.DataDir, err)
	}
	return nil
}

func pidPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "daemon.pid")
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}
