// Package server exposes the import pipeline over HTTP: job creation and
// control for the owning application, and signed webhook endpoints the
// queue delivers worker triggers to.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/lead-import/internal/blob"
	"github.com/sells-group/lead-import/internal/queue"
	"github.com/sells-group/lead-import/internal/store"
	"github.com/sells-group/lead-import/internal/worker"
)

// Config holds the HTTP surface settings.
type Config struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	WebhookSecret  string   `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// WorkerTimeout bounds one webhook-triggered invocation. Default: 10m.
	WorkerTimeout time.Duration `yaml:"worker_timeout" mapstructure:"worker_timeout"`
}

// Server wires the stores, queue and workers behind the router.
type Server struct {
	cfg    Config
	store  store.Store
	blobs  blob.Store
	pub    queue.Publisher
	parse  *worker.ParseWorker
	commit *worker.CommitWorker

	http *http.Server
}

func New(cfg Config, st store.Store, blobs blob.Store, pub queue.Publisher,
	parse *worker.ParseWorker, commit *worker.CommitWorker) *Server {
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = 10 * time.Minute
	}
	s := &Server{
		cfg:    cfg,
		store:  st,
		blobs:  blobs,
		pub:    pub,
		parse:  parse,
		commit: commit,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi router. Exposed for httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))

		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/file", s.handleJobFileURL)
		r.Post("/jobs/{id}/start", s.handleStartJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Patch("/jobs/{id}/options", s.handleUpdateOptions)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.verifySignature)
		r.Post("/webhooks/import/parse", s.handleParseWebhook)
		r.Post("/webhooks/import/commit", s.handleCommitWebhook)
	})

	// Health endpoints identify the worker behind the deployment and
	// must have no side effects.
	r.Get("/health", s.handleHealth("api"))
	r.Get("/health/parse", s.handleHealth("parse-worker"))
	r.Get("/health/commit", s.handleHealth("commit-worker"))

	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("http server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		zap.L().Info("http server shutting down")
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(identity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"worker": identity,
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
