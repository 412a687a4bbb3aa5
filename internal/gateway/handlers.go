package gateway

import (
	"net/http"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/zhubert/koine/internal/admission"
	"github.com/zhubert/koine/internal/errs"
	"github.com/zhubert/koine/internal/logger"
	"github.com/zhubert/koine/internal/partialjson"
	"github.com/zhubert/koine/internal/session"
	"github.com/zhubert/koine/internal/stream"
)

type textResponse struct {
	Text      string        `json:"text"`
	Usage     session.Usage `json:"usage"`
	SessionID string        `json:"sessionId"`
}

type objectResponse struct {
	Object    any           `json:"object"`
	RawText   string        `json:"rawText"`
	Usage     session.Usage `json:"usage"`
	SessionID string        `json:"sessionId"`
}

type healthResponse struct {
	Status      string                                   `json:"status"`
	StartedAt   strfmt.DateTime                          `json:"startedAt"`
	Uptime      string                                   `json:"uptime"`
	Concurrency map[admission.Class]admission.PoolStatus `json:"concurrency"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		StartedAt:   strfmt.DateTime(s.startedAt),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		Concurrency: s.gate.Status(),
	})
}

// handleGenerate runs the worker to completion and answers with one JSON
// document.
func (s *Server) handleGenerate(structured bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := s.requestLog(r)
		req, err := decodeRequest(w, r, s.cfg.Server.MaxBodyBytes, structured)
		if err != nil {
			writeError(w, log, err, s.builder.Redact)
			return
		}

		res, err := s.exec.Run(r.Context(), s.builder.Invocation(req.toWorker(), false))
		if err != nil {
			writeError(w, log, err, s.builder.Redact)
			return
		}
		log.Debug("worker finished", "duration", res.Duration, "bytes", len(res.Stdout))

		result, err := session.ParseResult(res.Stdout)
		if err != nil {
			writeError(w, log, err, s.builder.Redact)
			return
		}
		if err := result.Err(); err != nil {
			writeError(w, log, err, s.builder.Redact)
			return
		}
		sessionID := session.ResolveSessionID(result.SessionID, req.SessionID)
		log = logger.WithSession(log, sessionID)
		log.Info("generation complete",
			"inputTokens", result.Usage.InputTokens, "outputTokens", result.Usage.OutputTokens)

		if !structured {
			writeJSON(w, http.StatusOK, textResponse{Text: result.Text, Usage: result.Usage, SessionID: sessionID})
			return
		}

		source := result.Text
		if result.Structured.Exists() {
			source = result.Structured.Raw
		}
		obj, strategy, err := partialjson.Extract(source)
		if err != nil {
			writeError(w, log, err, s.builder.Redact)
			return
		}
		if strategy != partialjson.StrategyDirect {
			log.Warn("structured output needed fallback extraction", "strategy", strategy)
		}
		writeJSON(w, http.StatusOK, objectResponse{
			Object:    obj,
			RawText:   source,
			Usage:     result.Usage,
			SessionID: sessionID,
		})
	}
}

// handleStream relays the worker's output as server-sent events.
func (s *Server) handleStream(structured bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := s.requestLog(r)
		req, err := decodeRequest(w, r, s.cfg.Server.MaxBodyBytes, structured)
		if err != nil {
			writeError(w, log, err, s.builder.Redact)
			return
		}

		sink, err := stream.NewSSESink(w, r, log)
		if err != nil {
			writeError(w, log, errs.Wrap(errs.CodeInternal, err, "open event stream"), s.builder.Redact)
			return
		}

		inv := s.builder.Invocation(req.toWorker(), true)
		tr := stream.NewTranslator(sink, stream.Options{
			Structured:      structured,
			NativeSchema:    s.builder.NativeSchema(),
			ClientSessionID: req.SessionID,
			Timeout:         inv.Timeout,
			Redact:          s.builder.Redact,
		}, log)

		proc, err := s.exec.Start(r.Context(), inv)
		if err != nil {
			tr.Abort(err)
			return
		}

		out := tr.Run(r.Context(), proc)
		log = logger.WithSession(log, out.SessionID)
		switch {
		case out.ClientGone:
			log.Info("stream ended by client", "exit", out.Exit.Code, "signal", out.Exit.Signal)
		case out.Err != nil:
			log.Warn("stream failed", "code", errs.CodeOf(out.Err))
		default:
			log.Info("stream complete",
				"inputTokens", out.Usage.InputTokens, "outputTokens", out.Usage.OutputTokens)
		}
	}
}
