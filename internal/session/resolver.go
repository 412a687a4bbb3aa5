// Package session derives the outward session identifier and token usage
// from worker output.
package session

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/zhubert/koine/internal/errs"
)

// Usage is normalized token accounting. TotalTokens is always recomputed.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// NewUsage builds a Usage, clamping negative counts to zero.
func NewUsage(input, output int) Usage {
	input = max(input, 0)
	output = max(output, 0)
	return Usage{InputTokens: input, OutputTokens: output, TotalTokens: input + output}
}

// ResolveSessionID picks the worker's id, else the client's continuation id,
// else a fresh UUID. The result is never empty.
func ResolveSessionID(workerReported, clientSupplied string) string {
	if workerReported != "" {
		return workerReported
	}
	if clientSupplied != "" {
		return clientSupplied
	}
	return uuid.NewString()
}

// ResolveUsage reads input_tokens and output_tokens from a worker usage
// object. Missing counts are zero; any reported total is ignored.
func ResolveUsage(usage gjson.Result) Usage {
	return NewUsage(int(usage.Get("input_tokens").Int()), int(usage.Get("output_tokens").Int()))
}

// Result is the worker's terminal result message.
type Result struct {
	Text      string
	SessionID string
	Usage     Usage
	IsError   bool
	Subtype   string
	// Structured is the constrained-decoding output, when the worker ran with
	// a JSON schema. It does not exist otherwise.
	Structured gjson.Result
}

// FromMessage converts a parsed result message.
func FromMessage(msg gjson.Result) Result {
	return Result{
		Text:       msg.Get("result").String(),
		SessionID:  msg.Get("session_id").String(),
		Usage:      ResolveUsage(msg.Get("usage")),
		IsError:    msg.Get("is_error").Bool(),
		Subtype:    msg.Get("subtype").String(),
		Structured: msg.Get("structured_output"),
	}
}

// Err classifies a result the worker itself flagged as failed.
func (r Result) Err() error {
	if !r.IsError {
		return nil
	}
	msg := r.Text
	if msg == "" {
		msg = r.Subtype
	}
	return errs.New(errs.CodeExit, "worker reported an error: %s", msg)
}

// ParseResult parses the complete stdout of a single-shot run. It accepts a
// lone result object or an array of messages ending in one.
func ParseResult(stdout []byte) (Result, error) {
	raw := bytes.TrimSpace(stdout)
	if len(raw) == 0 {
		return Result{}, errs.New(errs.CodeParse, "worker produced no output")
	}
	if !gjson.ValidBytes(raw) {
		return Result{}, errs.New(errs.CodeParse, "worker output is not valid JSON").WithRawText(string(raw))
	}

	doc := gjson.ParseBytes(raw)
	if doc.IsArray() {
		var last gjson.Result
		doc.ForEach(func(_, msg gjson.Result) bool {
			if msg.Get("type").String() == "result" {
				last = msg
			}
			return true
		})
		if !last.Exists() {
			return Result{}, errs.New(errs.CodeParse, "worker output has no result message").WithRawText(string(raw))
		}
		doc = last
	}
	if !doc.IsObject() || !doc.Get("result").Exists() && !doc.Get("structured_output").Exists() {
		return Result{}, errs.New(errs.CodeParse, "worker output has no result field").WithRawText(string(raw))
	}
	return FromMessage(doc), nil
}
