package worker

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
)

// nestedSessionVars make the worker CLI refuse to start when the gateway is
// itself launched from inside a worker session.
var nestedSessionVars = []string{
	"CLAUDECODE",
	"CLAUDE_CODE_ENTRYPOINT",
	"CLAUDE_CODE_TEAM_MODE",
}

// BuildEnv resolves the worker environment. Later sources win: the
// inherited environment (minus nested-session markers), then the env file,
// then explicit overrides.
func BuildEnv(inherited []string, envFile string, overrides map[string]string) (map[string]string, error) {
	env := make(map[string]string, len(inherited)+len(overrides))
	for _, kv := range inherited {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	for _, k := range nestedSessionVars {
		delete(env, k)
	}

	if envFile != "" {
		fromFile, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("read worker env file %s: %w", envFile, err)
		}
		for k, v := range fromFile {
			env[k] = v
		}
	}

	for k, v := range overrides {
		env[k] = v
	}
	return env, nil
}
