// Package testutil provides shared test helpers used across packages.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// DiscardLogger returns a slog.Logger that discards all output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FakeWorker writes an executable shell script to a temp dir and returns its
// path. The body runs under /bin/sh with the worker's arguments in "$@".
func FakeWorker(t testing.TB, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake worker: %v", err)
	}
	return path
}

// StreamLines is a canned stream-json transcript: an init message, two text
// deltas and a result. Useful as the stdout of a fake streaming worker.
const StreamLines = `{"type":"system","subtype":"init","session_id":"sess-abc"}
{"type":"stream_event","session_id":"sess-abc","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}}
{"type":"stream_event","session_id":"sess-abc","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":", world"}}}
{"type":"result","subtype":"success","is_error":false,"result":"Hello, world","session_id":"sess-abc","usage":{"input_tokens":12,"output_tokens":4}}
`

// PrintfScript returns a shell body that prints s verbatim to stdout.
func PrintfScript(s string) string {
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return "cat <<'KOINE_EOF'\n" + s + "KOINE_EOF"
}
