package server

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/lead-import/internal/queue"
	"github.com/sells-group/lead-import/internal/worker"
)

// maxWebhookBytes caps a queue message body.
const maxWebhookBytes = 1 << 20

// verifySignature rejects webhook deliveries whose body does not carry a
// valid HMAC. The verified body is restored for the handler.
func (s *Server) verifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, "could not read body")
			return
		}
		sig := r.Header.Get(queue.SignatureHeader)
		if sig == "" || !queue.Verify(s.cfg.WebhookSecret, body, sig) {
			zap.L().Warn("webhook signature rejected", zap.String("path", r.URL.Path))
			respondError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleParseWebhook(w http.ResponseWriter, r *http.Request) {
	s.runWorker(w, r, queue.KindParse, func(ctx context.Context, m queue.Message) worker.Result {
		return s.parse.Run(ctx, m)
	})
}

func (s *Server) handleCommitWebhook(w http.ResponseWriter, r *http.Request) {
	s.runWorker(w, r, queue.KindCommit, func(ctx context.Context, m queue.Message) worker.Result {
		return s.commit.Run(ctx, m)
	})
}

// runWorker decodes the verified message and maps the typed worker result
// onto HTTP statuses for the queue: 200 acknowledges (success and
// terminal failures alike, redelivery cannot fix the latter), 503 asks
// for redelivery.
func (s *Server) runWorker(w http.ResponseWriter, r *http.Request, kind queue.Kind,
	run func(context.Context, queue.Message) worker.Result) {

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read body")
		return
	}
	msg, err := queue.DecodeMessage(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid message")
		return
	}
	if msg.Kind != kind {
		respondError(w, http.StatusBadRequest, "message kind does not match endpoint")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.WorkerTimeout)
	defer cancel()

	res := run(ctx, msg)
	switch res.Code {
	case worker.CodeRetryable:
		zap.L().Warn("worker invocation retryable",
			zap.String("kind", string(kind)), zap.String("job_id", msg.JobID), zap.Error(res.Err))
		respondError(w, http.StatusServiceUnavailable, "retry later")
	case worker.CodeTerminal:
		zap.L().Error("worker invocation terminal",
			zap.String("kind", string(kind)), zap.String("job_id", msg.JobID), zap.Error(res.Err))
		respondJSON(w, http.StatusOK, map[string]string{"result": "terminal", "error": res.Err.Error()})
	default:
		respondJSON(w, http.StatusOK, map[string]string{"result": "ok"})
	}
}
