package admission

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/zhubert/koine/internal/errs"
)

// Middleware admits requests of one class through a Gate.
type Middleware struct {
	gate       *Gate
	retryAfter time.Duration
	log        *slog.Logger
}

// NewMiddleware returns a Middleware. retryAfter becomes the Retry-After
// header on rejections, rounded up to whole seconds.
func NewMiddleware(gate *Gate, retryAfter time.Duration, log *slog.Logger) *Middleware {
	return &Middleware{gate: gate, retryAfter: retryAfter, log: log}
}

// Wrap guards next with a slot from class. The slot is released exactly once:
// when next returns or panics, or when the client goes away, whichever
// happens first.
func (m *Middleware) Wrap(class Class, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.gate.Acquire(class) {
			m.log.Warn("concurrency limit reached", "class", class, "path", r.URL.Path)
			m.reject(w, class)
			return
		}

		var once sync.Once
		release := func() {
			once.Do(func() { m.gate.Release(class) })
		}
		stop := context.AfterFunc(r.Context(), release)
		defer func() {
			stop()
			release()
		}()

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) reject(w http.ResponseWriter, class Class) {
	secs := int((m.retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	body, _ := json.Marshal(map[string]string{
		"error": "Concurrency limit reached for " + string(class) + " requests",
		"code":  string(errs.CodeConcurrencyLimit),
	})
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write(body)
}
