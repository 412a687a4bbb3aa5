// Package worker turns validated generation requests into worker command
// lines: arguments, environment, tool permissions and schema instructions.
package worker

import (
	"fmt"
	"strings"

	"github.com/zhubert/koine/internal/config"
)

// Request is a validated generation request.
type Request struct {
	Prompt       string
	System       string
	SessionID    string
	Model        string
	Schema       []byte
	AllowedTools []string
}

// Structured reports whether the request asks for a JSON object.
func (r Request) Structured() bool { return len(r.Schema) > 0 }

// ArgOptions are the gateway-level settings that shape every invocation.
type ArgOptions struct {
	Streaming       bool
	StructuredMode  string
	DefaultModel    string
	AllowedTools    []string
	DisallowedTools []string
}

// BuildArgs returns the worker CLI arguments for req. The prompt is always
// last, after "--", so it is never parsed as a flag.
func BuildArgs(req Request, opts ArgOptions) []string {
	args := []string{"--print"}
	if opts.Streaming {
		args = append(args, "--output-format", "stream-json", "--verbose", "--include-partial-messages")
	} else {
		args = append(args, "--output-format", "json")
	}

	model := req.Model
	if model == "" {
		model = opts.DefaultModel
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}

	system := req.System
	if req.Structured() {
		if opts.StructuredMode == config.StructuredModeNative {
			args = append(args, "--json-schema", string(req.Schema))
		} else {
			system = joinPrompt(system, SchemaInstructions(req.Schema))
		}
	}
	if system != "" {
		args = append(args, "--append-system-prompt", system)
	}

	if tools := ResolveTools(opts.AllowedTools, req.AllowedTools, opts.DisallowedTools); len(tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
	}

	return append(args, "--", req.Prompt)
}

// SchemaInstructions tells the worker to answer with JSON matching schema.
func SchemaInstructions(schema []byte) string {
	return fmt.Sprintf(`Respond ONLY with a single JSON value that conforms to the JSON Schema below.
Do not wrap it in Markdown code fences. Do not add any text before or after it.

JSON Schema:
%s`, schema)
}

func joinPrompt(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}
