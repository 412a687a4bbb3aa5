package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "claude", cfg.Worker.Binary)
	assert.Equal(t, 5*time.Minute, cfg.Worker.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Worker.StreamTimeout)
	assert.Equal(t, time.Second, cfg.Worker.KillGrace)
	assert.Equal(t, 3, cfg.Concurrency.Streaming)
	assert.Equal(t, 5, cfg.Concurrency.NonStreaming)
	assert.Equal(t, StructuredModePrompt, cfg.Worker.StructuredMode)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "koine.yaml")
	content := `server:
  port: 4000
  auth_key: from-file
worker:
  binary: /usr/local/bin/claude
  timeout: 90s
  allowed_tools: [Read, Grep]
concurrency:
  streaming: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("KOINE_SERVER_AUTH_KEY", "from-env")

	cfg, err := Load(NewViper(path))
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Server.AuthKey, "env overrides file")
	assert.Equal(t, "/usr/local/bin/claude", cfg.Worker.Binary)
	assert.Equal(t, 90*time.Second, cfg.Worker.Timeout)
	assert.Equal(t, []string{"Read", "Grep"}, cfg.Worker.AllowedTools)
	assert.Equal(t, 0, cfg.Concurrency.Streaming, "zero is a legal kill-switch")
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(NewViper(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server: ServerConfig{Port: 3100},
			Worker: WorkerConfig{
				Binary:         "claude",
				StructuredMode: StructuredModePrompt,
				Timeout:        time.Minute,
				StreamTimeout:  time.Minute,
				KillGrace:      time.Second,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "negative streaming", mutate: func(c *Config) { c.Concurrency.Streaming = -1 }, wantErr: "concurrency.streaming"},
		{name: "negative non-streaming", mutate: func(c *Config) { c.Concurrency.NonStreaming = -2 }, wantErr: "concurrency.non_streaming"},
		{name: "empty binary", mutate: func(c *Config) { c.Worker.Binary = " " }, wantErr: "worker.binary"},
		{name: "bad mode", mutate: func(c *Config) { c.Worker.StructuredMode = "magic" }, wantErr: "structured_mode"},
		{name: "zero grace", mutate: func(c *Config) { c.Worker.KillGrace = 0 }, wantErr: "kill_grace"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{AuthKey: "secret"},
		Worker: WorkerConfig{Env: map[string]string{"ANTHROPIC_API_KEY": "sk-ant"}},
	}
	r := cfg.Redacted()
	assert.Equal(t, "********", r.Server.AuthKey)
	assert.Equal(t, "********", r.Worker.Env["ANTHROPIC_API_KEY"])
	assert.Equal(t, "secret", cfg.Server.AuthKey)
	assert.Equal(t, "sk-ant", cfg.Worker.Env["ANTHROPIC_API_KEY"])
}
