package worker

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/koine/internal/config"
	"github.com/zhubert/koine/internal/testutil"
)

func TestComposeTools(t *testing.T) {
	got := ComposeTools([]string{"Read", "Grep"}, []string{"Grep", "Bash", ""}, []string{"Read", "Edit"})
	assert.Equal(t, []string{"Read", "Grep", "Bash", "Edit"}, got)
	assert.Nil(t, ComposeTools())
}

func TestResolveTools(t *testing.T) {
	tests := []struct {
		name       string
		configured []string
		requested  []string
		disallowed []string
		want       []string
	}{
		{
			name: "defaults only",
			want: DefaultAllowedTools,
		},
		{
			name:       "union keeps order",
			configured: []string{"WebFetch"},
			requested:  []string{"Bash", "Read"},
			want:       []string{"Read", "Glob", "Grep", "WebFetch", "Bash"},
		},
		{
			name:       "disallow beats allow",
			configured: []string{"Bash"},
			requested:  []string{"Bash", "WebSearch"},
			disallowed: []string{"Bash", "Grep"},
			want:       []string{"Read", "Glob", "WebSearch"},
		},
		{
			name:       "disallow everything",
			disallowed: DefaultAllowedTools,
			want:       []string{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveTools(tc.configured, tc.requested, tc.disallowed)
			assert.Equal(t, tc.want, got)
			for _, d := range tc.disallowed {
				assert.NotContains(t, got, d)
			}
		})
	}
}

func argValue(args []string, flag string) (string, bool) {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return "", false
	}
	return args[i+1], true
}

func TestBuildArgs_SingleShot(t *testing.T) {
	args := BuildArgs(Request{Prompt: "--help me", System: "Be brief.", SessionID: "s-1"}, ArgOptions{DefaultModel: "sonnet"})

	assert.Equal(t, "--print", args[0])
	v, _ := argValue(args, "--output-format")
	assert.Equal(t, "json", v)
	v, _ = argValue(args, "--model")
	assert.Equal(t, "sonnet", v)
	v, _ = argValue(args, "--resume")
	assert.Equal(t, "s-1", v)
	v, _ = argValue(args, "--append-system-prompt")
	assert.Equal(t, "Be brief.", v)
	assert.NotContains(t, args, "--include-partial-messages")

	assert.Equal(t, []string{"--", "--help me"}, args[len(args)-2:], "prompt is last and escaped")
}

func TestBuildArgs_Streaming(t *testing.T) {
	args := BuildArgs(Request{Prompt: "hi", Model: "haiku"}, ArgOptions{Streaming: true, DefaultModel: "sonnet"})

	v, _ := argValue(args, "--output-format")
	assert.Equal(t, "stream-json", v)
	assert.Contains(t, args, "--verbose")
	assert.Contains(t, args, "--include-partial-messages")
	v, _ = argValue(args, "--model")
	assert.Equal(t, "haiku", v, "request model overrides default")
	assert.NotContains(t, args, "--resume")
}

func TestBuildArgs_StructuredPromptMode(t *testing.T) {
	schema := []byte(`{"type":"object","properties":{"name":{"type":"string"}}}`)
	args := BuildArgs(Request{Prompt: "who?", System: "Be exact.", Schema: schema},
		ArgOptions{StructuredMode: config.StructuredModePrompt})

	sys, ok := argValue(args, "--append-system-prompt")
	require.True(t, ok)
	assert.Contains(t, sys, "Be exact.")
	assert.Contains(t, sys, string(schema))
	assert.NotContains(t, args, "--json-schema")
}

func TestBuildArgs_StructuredNativeMode(t *testing.T) {
	schema := []byte(`{"type":"object"}`)
	args := BuildArgs(Request{Prompt: "who?", Schema: schema}, ArgOptions{StructuredMode: config.StructuredModeNative})

	v, ok := argValue(args, "--json-schema")
	require.True(t, ok)
	assert.Equal(t, string(schema), v)
	assert.NotContains(t, args, "--append-system-prompt")
}

func TestBuildArgs_Tools(t *testing.T) {
	args := BuildArgs(Request{Prompt: "x", AllowedTools: []string{"Bash"}},
		ArgOptions{AllowedTools: []string{"WebFetch"}, DisallowedTools: []string{"Bash"}})

	v, _ := argValue(args, "--allowedTools")
	assert.Equal(t, "Read,Glob,Grep,WebFetch", v)
	v, _ = argValue(args, "--disallowedTools")
	assert.Equal(t, "Bash", v)
}

func TestBuildEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "worker.env")
	require.NoError(t, os.WriteFile(envFile, []byte("ANTHROPIC_API_KEY=sk-from-file\nSHARED=file\n"), 0o600))

	inherited := []string{"PATH=/bin", "CLAUDECODE=1", "CLAUDE_CODE_ENTRYPOINT=cli", "SHARED=inherited", "malformed"}
	env, err := BuildEnv(inherited, envFile, map[string]string{"SHARED": "override"})
	require.NoError(t, err)

	assert.Equal(t, "/bin", env["PATH"])
	assert.Equal(t, "sk-from-file", env["ANTHROPIC_API_KEY"])
	assert.Equal(t, "override", env["SHARED"])
	assert.NotContains(t, env, "CLAUDECODE")
	assert.NotContains(t, env, "CLAUDE_CODE_ENTRYPOINT")
}

func TestBuildEnv_MissingFile(t *testing.T) {
	_, err := BuildEnv(nil, filepath.Join(t.TempDir(), "nope.env"), nil)
	require.Error(t, err)
}

func TestRedactor(t *testing.T) {
	r := NewRedactor(map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-123456789",
		"MY_SERVICE_TOKEN":  "tok-abcdefgh",
		"PATH":              "/usr/bin:/bin",
		"SHORT_KEY":         "abc",
	}, "gateway-secret-key")

	in := "auth failed for sk-ant-123456789 using tok-abcdefgh and gateway-secret-key on /usr/bin:/bin abc"
	got := r.Redact(in)
	assert.Equal(t, "auth failed for [REDACTED] using [REDACTED] and [REDACTED] on /usr/bin:/bin abc", got)

	var nilRedactor *Redactor
	assert.Equal(t, "x", nilRedactor.Redact("x"))
}

func TestBuilder_Invocation(t *testing.T) {
	t.Setenv("CLAUDECODE", "1")
	cfg := config.WorkerConfig{
		Binary:         "/opt/claude",
		WorkDir:        "/srv",
		Env:            map[string]string{"ANTHROPIC_API_KEY": "sk-ant-0123456789"},
		Model:          "sonnet",
		StructuredMode: config.StructuredModeNative,
		Timeout:        time.Minute,
		StreamTimeout:  3 * time.Minute,
	}
	b, err := NewBuilder(cfg, testutil.DiscardLogger())
	require.NoError(t, err)

	single := b.Invocation(Request{Prompt: "hi"}, false)
	assert.Equal(t, "/opt/claude", single.Binary)
	assert.Equal(t, "/srv", single.Dir)
	assert.Equal(t, time.Minute, single.Timeout)
	assert.Equal(t, "sk-ant-0123456789", single.Env["ANTHROPIC_API_KEY"])
	assert.NotContains(t, single.Env, "CLAUDECODE")

	streaming := b.Invocation(Request{Prompt: "hi"}, true)
	assert.Equal(t, 3*time.Minute, streaming.Timeout)

	assert.True(t, b.NativeSchema())
	assert.Equal(t, "key [REDACTED]", b.Redact("key sk-ant-0123456789"))
}
