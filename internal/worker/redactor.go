package worker

import (
	"slices"
	"strings"
)

// knownSecretEnvVars are always treated as secrets when present.
var knownSecretEnvVars = []string{
	"ANTHROPIC_API_KEY",
	"ANTHROPIC_AUTH_TOKEN",
	"CLAUDE_CODE_OAUTH_TOKEN",
	"KOINE_SERVER_AUTH_KEY",
}

// secretMarkers flag other variables whose names suggest a credential.
var secretMarkers = []string{"KEY", "TOKEN", "SECRET", "PASSWORD"}

// minSecretLen keeps short values like "1" from redacting half of a log line.
const minSecretLen = 8

// Redactor replaces known secret values with a placeholder so worker
// diagnostics can be logged and returned to clients safely.
type Redactor struct {
	secrets []string
}

// NewRedactor collects secret values from env. extra values (the gateway's
// own auth key, for example) are added as-is.
func NewRedactor(env map[string]string, extra ...string) *Redactor {
	var secrets []string
	add := func(v string) {
		if len(v) >= minSecretLen && !slices.Contains(secrets, v) {
			secrets = append(secrets, v)
		}
	}
	for name, val := range env {
		if slices.Contains(knownSecretEnvVars, name) || looksSecret(name) {
			add(val)
		}
	}
	for _, v := range extra {
		add(v)
	}
	// Longest first, so a secret containing another is replaced whole.
	slices.SortFunc(secrets, func(a, b string) int { return len(b) - len(a) })
	return &Redactor{secrets: secrets}
}

func looksSecret(name string) bool {
	upper := strings.ToUpper(name)
	for _, m := range secretMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

// Redact replaces every occurrence of a known secret in text with
// "[REDACTED]".
func (r *Redactor) Redact(text string) string {
	if r == nil {
		return text
	}
	for _, secret := range r.secrets {
		text = strings.ReplaceAll(text, secret, "[REDACTED]")
	}
	return text
}
