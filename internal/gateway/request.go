package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/zhubert/koine/internal/errs"
	"github.com/zhubert/koine/internal/worker"
)

// generationRequest is the JSON body accepted by every generation route.
type generationRequest struct {
	Prompt       string          `json:"prompt"`
	System       string          `json:"system,omitempty"`
	SessionID    string          `json:"sessionId,omitempty"`
	Model        string          `json:"model,omitempty"`
	Schema       json.RawMessage `json:"schema,omitempty"`
	AllowedTools []string        `json:"allowedTools,omitempty"`
}

func (g generationRequest) toWorker() worker.Request {
	return worker.Request{
		Prompt:       g.Prompt,
		System:       g.System,
		SessionID:    g.SessionID,
		Model:        g.Model,
		Schema:       []byte(g.Schema),
		AllowedTools: g.AllowedTools,
	}
}

// decodeRequest reads and validates the body. structured routes require a
// schema that is a JSON object; text routes ignore any schema sent.
func decodeRequest(w http.ResponseWriter, r *http.Request, maxBytes int64, structured bool) (generationRequest, error) {
	var req generationRequest
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, errs.New(errs.CodeValidation, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return req, errs.Wrap(errs.CodeValidation, err, "read request body")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return req, errs.New(errs.CodeValidation, "request body is required")
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, errs.Wrap(errs.CodeValidation, err, "invalid JSON body")
	}
	if err := req.validate(structured); err != nil {
		return req, err
	}
	if !structured {
		req.Schema = nil
	}
	return req, nil
}

func (g generationRequest) validate(structured bool) error {
	var problems []string
	if strings.TrimSpace(g.Prompt) == "" {
		problems = append(problems, "prompt is required")
	}
	if strings.HasPrefix(g.SessionID, "-") {
		problems = append(problems, "sessionId must not start with '-'")
	}
	if strings.HasPrefix(g.Model, "-") {
		problems = append(problems, "model must not start with '-'")
	}
	for _, tool := range g.AllowedTools {
		if strings.TrimSpace(tool) == "" || strings.ContainsAny(tool, ",\n") {
			problems = append(problems, fmt.Sprintf("allowedTools entry %q is invalid", tool))
		}
	}
	if structured {
		switch {
		case len(g.Schema) == 0 || string(g.Schema) == "null":
			problems = append(problems, "schema is required")
		case !gjson.ParseBytes(g.Schema).IsObject():
			problems = append(problems, "schema must be a JSON object")
		}
	}
	if len(problems) > 0 {
		return errs.New(errs.CodeValidation, "invalid request: %s", strings.Join(problems, "; "))
	}
	return nil
}
