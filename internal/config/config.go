// Package config loads gateway configuration from defaults, an optional YAML
// file, KOINE_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "koine"
	configType = "yaml"
	envPrefix  = "KOINE"
)

// Structured output modes for the worker.
const (
	// StructuredModePrompt injects schema instructions into the system prompt.
	// Output streams incrementally but may need fallback extraction.
	StructuredModePrompt = "prompt"
	// StructuredModeNative passes the schema to the worker's constrained
	// decoding flag. Only the complete object is available.
	StructuredModeNative = "native"
)

// Defaults.
const (
	DefaultPort               = 3100
	DefaultTimeout            = 5 * time.Minute
	DefaultStreamTimeout      = 10 * time.Minute
	DefaultKillGrace          = 1 * time.Second
	DefaultStreamingLimit     = 3
	DefaultNonStreamingLimit  = 5
	DefaultRetryAfter         = 5 * time.Second
	DefaultMaxBodyBytes       = 1 << 20
	DefaultMaxOutputBytes     = 16 << 20
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultWorkerBinary       = "claude"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "console"
	DefaultStructuredModeName = StructuredModePrompt
)

// Config is the complete gateway configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Worker      WorkerConfig      `mapstructure:"worker" yaml:"worker"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency" yaml:"concurrency"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	AuthKey         string        `mapstructure:"auth_key" yaml:"auth_key"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WorkerConfig controls how the worker process is invoked.
type WorkerConfig struct {
	Binary          string            `mapstructure:"binary" yaml:"binary"`
	WorkDir         string            `mapstructure:"work_dir" yaml:"work_dir,omitempty"`
	EnvFile         string            `mapstructure:"env_file" yaml:"env_file,omitempty"`
	Env             map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	Model           string            `mapstructure:"model" yaml:"model,omitempty"`
	AllowedTools    []string          `mapstructure:"allowed_tools" yaml:"allowed_tools,omitempty"`
	DisallowedTools []string          `mapstructure:"disallowed_tools" yaml:"disallowed_tools,omitempty"`
	StructuredMode  string            `mapstructure:"structured_mode" yaml:"structured_mode"`
	Timeout         time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	StreamTimeout   time.Duration     `mapstructure:"stream_timeout" yaml:"stream_timeout"`
	KillGrace       time.Duration     `mapstructure:"kill_grace" yaml:"kill_grace"`
	MaxOutputBytes  int               `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
}

// ConcurrencyConfig holds per-class admission limits.
type ConcurrencyConfig struct {
	Streaming    int           `mapstructure:"streaming" yaml:"streaming"`
	NonStreaming int           `mapstructure:"non_streaming" yaml:"non_streaming"`
	RetryAfter   time.Duration `mapstructure:"retry_after" yaml:"retry_after"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// NewViper returns a viper instance with defaults, env binding and search
// paths applied. Callers may bind flags to it before calling Load.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.auth_key", "")
	v.SetDefault("server.max_body_bytes", DefaultMaxBodyBytes)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("worker.binary", DefaultWorkerBinary)
	v.SetDefault("worker.work_dir", "")
	v.SetDefault("worker.env_file", "")
	v.SetDefault("worker.model", "")
	v.SetDefault("worker.allowed_tools", []string{})
	v.SetDefault("worker.disallowed_tools", []string{})
	v.SetDefault("worker.structured_mode", DefaultStructuredModeName)
	v.SetDefault("worker.timeout", DefaultTimeout)
	v.SetDefault("worker.stream_timeout", DefaultStreamTimeout)
	v.SetDefault("worker.kill_grace", DefaultKillGrace)
	v.SetDefault("worker.max_output_bytes", DefaultMaxOutputBytes)
	v.SetDefault("concurrency.streaming", DefaultStreamingLimit)
	v.SetDefault("concurrency.non_streaming", DefaultNonStreamingLimit)
	v.SetDefault("concurrency.retry_after", DefaultRetryAfter)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".koine"))
		}
	}
	return v
}

// Load reads the config file (a missing file is fine unless it was named
// explicitly), decodes everything into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Worker.Binary) == "" {
		problems = append(problems, "worker.binary must not be empty")
	}
	switch c.Worker.StructuredMode {
	case StructuredModePrompt, StructuredModeNative:
	default:
		problems = append(problems, fmt.Sprintf("worker.structured_mode %q must be %q or %q",
			c.Worker.StructuredMode, StructuredModePrompt, StructuredModeNative))
	}
	if c.Worker.Timeout <= 0 {
		problems = append(problems, "worker.timeout must be positive")
	}
	if c.Worker.StreamTimeout <= 0 {
		problems = append(problems, "worker.stream_timeout must be positive")
	}
	if c.Worker.KillGrace <= 0 {
		problems = append(problems, "worker.kill_grace must be positive")
	}
	if c.Concurrency.Streaming < 0 {
		problems = append(problems, "concurrency.streaming must be >= 0")
	}
	if c.Concurrency.NonStreaming < 0 {
		problems = append(problems, "concurrency.non_streaming must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Redacted returns a copy safe for printing.
func (c Config) Redacted() Config {
	if c.Server.AuthKey != "" {
		c.Server.AuthKey = "********"
	}
	if len(c.Worker.Env) > 0 {
		env := make(map[string]string, len(c.Worker.Env))
		for k := range c.Worker.Env {
			env[k] = "********"
		}
		c.Worker.Env = env
	}
	return c
}
