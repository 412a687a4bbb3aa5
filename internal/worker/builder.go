package worker

import (
	"log/slog"
	"os"

	"github.com/zhubert/koine/internal/config"
	"github.com/zhubert/koine/internal/executor"
)

// Builder produces executor invocations from requests. The environment is
// resolved once, at construction.
type Builder struct {
	cfg      config.WorkerConfig
	env      map[string]string
	redactor *Redactor
}

// NewBuilder resolves the worker environment from the process environment,
// cfg.EnvFile and cfg.Env. extraSecrets are scrubbed from diagnostics too.
func NewBuilder(cfg config.WorkerConfig, log *slog.Logger, extraSecrets ...string) (*Builder, error) {
	env, err := BuildEnv(os.Environ(), cfg.EnvFile, cfg.Env)
	if err != nil {
		return nil, err
	}
	log.Debug("worker environment resolved", "vars", len(env), "envFile", cfg.EnvFile)
	return &Builder{cfg: cfg, env: env, redactor: NewRedactor(env, extraSecrets...)}, nil
}

// Invocation builds the command line for req.
func (b *Builder) Invocation(req Request, streaming bool) executor.Invocation {
	timeout := b.cfg.Timeout
	if streaming {
		timeout = b.cfg.StreamTimeout
	}
	return executor.Invocation{
		Binary: b.cfg.Binary,
		Args: BuildArgs(req, ArgOptions{
			Streaming:       streaming,
			StructuredMode:  b.cfg.StructuredMode,
			DefaultModel:    b.cfg.Model,
			AllowedTools:    b.cfg.AllowedTools,
			DisallowedTools: b.cfg.DisallowedTools,
		}),
		Env:     b.env,
		Dir:     b.cfg.WorkDir,
		Timeout: timeout,
	}
}

// NativeSchema reports whether structured requests use constrained decoding.
func (b *Builder) NativeSchema() bool {
	return b.cfg.StructuredMode == config.StructuredModeNative
}

// Redact scrubs known secrets from s.
func (b *Builder) Redact(s string) string {
	return b.redactor.Redact(s)
}
