// Package gateway serves the HTTP API in front of the worker: bearer auth,
// request validation, admission control, and the single-shot and streaming
// generation routes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zhubert/koine/internal/admission"
	"github.com/zhubert/koine/internal/config"
	"github.com/zhubert/koine/internal/executor"
	"github.com/zhubert/koine/internal/logger"
	"github.com/zhubert/koine/internal/worker"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg       *config.Config
	log       *slog.Logger
	gate      *admission.Gate
	admit     *admission.Middleware
	exec      *executor.Executor
	builder   *worker.Builder
	startedAt time.Time
}

// New builds a Server from cfg. The admission gate is sized from
// cfg.Concurrency.
func New(cfg *config.Config, log *slog.Logger, exec *executor.Executor, builder *worker.Builder) (*Server, error) {
	gate, err := admission.NewGate(map[admission.Class]int{
		admission.Streaming:    cfg.Concurrency.Streaming,
		admission.NonStreaming: cfg.Concurrency.NonStreaming,
	})
	if err != nil {
		return nil, fmt.Errorf("configure admission gate: %w", err)
	}
	return &Server{
		cfg:       cfg,
		log:       log,
		gate:      gate,
		admit:     admission.NewMiddleware(gate, cfg.Concurrency.RetryAfter, log),
		exec:      exec,
		builder:   builder,
		startedAt: time.Now().UTC(),
	}, nil
}

// Gate exposes the admission gate, mainly for status reporting.
func (s *Server) Gate() *admission.Gate { return s.gate }

// Handler returns the routed, logged handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	guard := func(class admission.Class, h http.HandlerFunc) http.Handler {
		return s.requireBearer(s.admit.Wrap(class, h))
	}
	mux.Handle("POST /generate-text", guard(admission.NonStreaming, s.handleGenerate(false)))
	mux.Handle("POST /generate-object", guard(admission.NonStreaming, s.handleGenerate(true)))
	mux.Handle("POST /stream", guard(admission.Streaming, s.handleStream(false)))
	mux.Handle("POST /stream-object", guard(admission.Streaming, s.handleStream(true)))

	return s.accessLog(mux)
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. In-flight requests get server.shutdown_timeout to finish; after
// that their contexts are canceled, which terminates their workers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gateway listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down gateway", "timeout", s.cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("graceful shutdown timed out, canceling in-flight requests", "error", err)
		cancelBase()
		_ = srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("gateway stopped")
	return nil
}

type requestLogKey struct{}

// accessLog assigns each request an id and a scoped logger, and logs the
// outcome once the handler returns.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		log := logger.WithRequest(s.log, id, r.Method+" "+r.URL.Path)
		w.Header().Set("X-Request-Id", id)

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestLogKey{}, log)))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		log.Info("request completed", "status", status, "duration", time.Since(start))
	})
}

func (s *Server) requestLog(r *http.Request) *slog.Logger {
	if log, ok := r.Context().Value(requestLogKey{}).(*slog.Logger); ok {
		return log
	}
	return s.log
}
