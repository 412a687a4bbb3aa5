package client

import (
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
)

// Client-side error codes. Gateway codes (VALIDATION_ERROR, EXIT_ERROR, ...)
// are passed through unchanged.
const (
	CodeHTTP            = "HTTP_ERROR"
	CodeInvalidResponse = "INVALID_RESPONSE"
	CodeValidation      = "VALIDATION_ERROR"
	CodeSSEParse        = "SSE_PARSE_ERROR"
	CodeNoSession       = "NO_SESSION"
	CodeNoUsage         = "NO_USAGE"
	CodeStream          = "STREAM_ERROR"
)

// Error is returned by every Client call.
type Error struct {
	Code    string
	Message string
	// RawText is the worker output behind a parse or validation failure.
	RawText string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// errorFromResponse decodes a gateway error body. Bodies that are not the
// gateway's JSON shape become HTTP_ERROR with the status line.
func errorFromResponse(resp *http.Response, body []byte) *Error {
	var payload struct {
		Error   *string `json:"error"`
		Code    *string `json:"code"`
		RawText string  `json:"rawText"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == nil || payload.Code == nil {
		return &Error{Code: CodeHTTP, Message: fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))}
	}
	return &Error{Code: *payload.Code, Message: *payload.Error, RawText: payload.RawText}
}

func invalidResponse(err error) *Error {
	return &Error{Code: CodeInvalidResponse, Message: "invalid response from gateway: " + err.Error(), Err: err}
}
