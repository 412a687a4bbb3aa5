package cmd

import (
	"fmt"
	"log/slog"
	"maps"

	"github.com/spf13/cobra"

	"github.com/zhubert/koine/internal/config"
	"github.com/zhubert/koine/internal/logger"
)

var (
	configFile            string
	quietMode             bool
	logLevel              string
	version, commit, date string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "koine",
	Short: "HTTP gateway in front of the Claude CLI",
	Long: `koine exposes the claude CLI as an HTTP service. Each request spawns one
worker process; answers come back as JSON or as a server-sent event stream.

Configuration is read from ./koine.yaml or ~/.koine/koine.yaml (or --config),
then KOINE_* environment variables, then flags.`,
	Example: `  koine serve                          # Start the gateway on :3100
  koine serve --port 8080              # Listen on another port
  koine config                         # Print the effective configuration
  koine status --url http://host:3100  # Show slot usage of a running gateway`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./koine.yaml or ~/.koine/koine.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "Reduce logging to info level only")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	// Hide the auto-generated completion command
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// Execute runs the root command
func Execute() error {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	return rootCmd.Execute()
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("koine %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("koine %s\n", version)
}

// loadConfig resolves configuration for cmd. bindings maps config keys to
// flag names; a flag only overrides when it was set explicitly.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	v := config.NewViper(configFile)
	keys := map[string]string{"log.level": "log-level"}
	maps.Copy(keys, bindings)
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if quietMode {
		cfg.Log.Level = "info"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
}
