package gateway

import (
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/zhubert/koine/internal/errs"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string    `json:"error"`
	Code    errs.Code `json:"code"`
	RawText string    `json:"rawText,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response","code":"INTERNAL_ERROR"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError maps err to its HTTP status and error body.
func writeError(w http.ResponseWriter, log *slog.Logger, err error, redact func(string) string) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	body := errorBody{Error: redact(err.Error()), Code: code}
	if e, ok := errs.As(err); ok {
		body.RawText = redact(e.RawText)
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", code, "status", status, "error", body.Error)
	} else {
		log.Info("request rejected", "code", code, "status", status, "error", body.Error)
	}
	writeJSON(w, status, body)
}

// statusRecorder captures the response status for access logging. It keeps
// Flush and Unwrap so event streams still work through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
