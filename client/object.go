package client

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
)

var schemaReflector = jsonschema.Reflector{
	Anonymous:      true,
	DoNotReference: true,
}

// ObjectResult is the answer to GenerateObject.
type ObjectResult[T any] struct {
	Object    T
	RawText   string
	Usage     Usage
	SessionID string
}

// SchemaFor reflects the JSON Schema the gateway receives for T.
func SchemaFor[T any]() ([]byte, error) {
	schema := schemaReflector.Reflect(new(T))
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("client: encode schema: %w", err)
	}
	return data, nil
}

// GenerateObject asks for a JSON answer shaped like T and decodes it. A
// response that does not decode into T is a VALIDATION_ERROR carrying the
// raw worker text.
func GenerateObject[T any](ctx context.Context, c *Client, req Request) (*ObjectResult[T], error) {
	schema, err := SchemaFor[T]()
	if err != nil {
		return nil, err
	}
	body, err := c.buildBody(req, schema)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	data, err := c.do(ctx, "/generate-object", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Object    json.RawMessage `json:"object"`
		RawText   *string         `json:"rawText"`
		Usage     *Usage          `json:"usage"`
		SessionID *string         `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, invalidResponse(err)
	}
	if resp.Object == nil || resp.RawText == nil || resp.Usage == nil || resp.SessionID == nil {
		return nil, invalidResponse(errors.New("missing object, rawText, usage or sessionId"))
	}

	var obj T
	if err := json.Unmarshal(resp.Object, &obj); err != nil {
		return nil, &Error{
			Code:    CodeValidation,
			Message: "response validation failed: " + err.Error(),
			RawText: *resp.RawText,
			Err:     err,
		}
	}
	return &ObjectResult[T]{
		Object:    obj,
		RawText:   *resp.RawText,
		Usage:     *resp.Usage,
		SessionID: *resp.SessionID,
	}, nil
}
