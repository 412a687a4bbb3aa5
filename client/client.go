// Package client is a Go SDK for the koine gateway.
//
// A Client wraps one gateway endpoint:
//
//	c, err := client.New(client.Config{BaseURL: "http://localhost:3100", AuthKey: key})
//	res, err := c.GenerateText(ctx, client.Request{Prompt: "Say hello"})
//
// Structured output is typed through GenerateObject, which reflects a JSON
// Schema from the type parameter:
//
//	type Person struct {
//		Name string `json:"name"`
//		Age  int    `json:"age"`
//	}
//	res, err := client.GenerateObject[Person](ctx, c, client.Request{Prompt: "Invent a person"})
//
// Every failure is an *Error carrying the gateway's error code.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/sjson"
)

// DefaultTimeout bounds single-shot calls when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Minute

// Config identifies a gateway.
type Config struct {
	// BaseURL of the gateway, e.g. http://localhost:3100.
	BaseURL string
	// AuthKey is sent as a bearer token.
	AuthKey string
	// Model is an alias ("sonnet", "haiku") or full model name. Empty uses
	// the gateway's default.
	Model string
	// Timeout bounds GenerateText and GenerateObject. Streams are bounded
	// only by the caller's context.
	Timeout time.Duration
	// HTTPClient overrides http.DefaultClient.
	HTTPClient *http.Client
}

// Client talks to one gateway. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("client: BaseURL is required")
	}
	if cfg.AuthKey == "" {
		return nil, errors.New("client: AuthKey is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{cfg: cfg, http: hc}, nil
}

// Request is the input shared by every call.
type Request struct {
	Prompt string
	// System is an optional system prompt.
	System string
	// SessionID continues an earlier conversation.
	SessionID string
}

// Usage is token accounting for one call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// TextResult is the answer to GenerateText.
type TextResult struct {
	Text      string
	Usage     Usage
	SessionID string
}

// GenerateText asks for a plain-text answer.
func (c *Client) GenerateText(ctx context.Context, req Request) (*TextResult, error) {
	body, err := c.buildBody(req, nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	data, err := c.do(ctx, "/generate-text", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Text      *string `json:"text"`
		Usage     *Usage  `json:"usage"`
		SessionID *string `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, invalidResponse(err)
	}
	if resp.Text == nil || resp.Usage == nil || resp.SessionID == nil {
		return nil, invalidResponse(errors.New("missing text, usage or sessionId"))
	}
	return &TextResult{Text: *resp.Text, Usage: *resp.Usage, SessionID: *resp.SessionID}, nil
}

// buildBody encodes req, omitting empty fields. schema is raw JSON or nil.
func (c *Client) buildBody(req Request, schema []byte) ([]byte, error) {
	body := []byte(`{}`)
	fields := []struct{ key, value string }{
		{"system", req.System},
		{"prompt", req.Prompt},
		{"sessionId", req.SessionID},
		{"model", c.cfg.Model},
	}
	var err error
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if body, err = sjson.SetBytes(body, f.key, f.value); err != nil {
			return nil, fmt.Errorf("client: encode %s: %w", f.key, err)
		}
	}
	if schema != nil {
		if body, err = sjson.SetRawBytes(body, "schema", schema); err != nil {
			return nil, fmt.Errorf("client: encode schema: %w", err)
		}
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AuthKey)
	return req, nil
}

// do posts body and returns the response body of a 2xx answer.
func (c *Client) do(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Code: CodeHTTP, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: CodeHTTP, Message: "read response: " + err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorFromResponse(resp, data)
	}
	return data, nil
}
