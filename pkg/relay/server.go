// Package relay serves the webhook and agent HTTP API.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/codeGROOVE-dev/playlock/pkg/agent"
	"github.com/codeGROOVE-dev/playlock/pkg/github"
	"github.com/codeGROOVE-dev/playlock/pkg/workflow"
)

const (
	maxWebhookBytes = 25 << 20 // GitHub caps payloads at 25MB
	maxAPIBytes     = 5 << 20
)

// Agent is the agent surface the API exposes.
type Agent interface {
	Execute(ctx context.Context, task agent.Task) (agent.Result, error)
	Status(ctx context.Context) agent.Status
}

// Workflow handles webhook events.
type Workflow interface {
	HandlePullRequest(ctx context.Context, ev github.PullRequestEvent) (*agent.Result, error)
	HandleIssue(ctx context.Context, ev github.IssuesEvent) (*agent.Result, error)
	HandlePush(ctx context.Context, ev github.PushEvent) error
	Status(ctx context.Context) workflow.Status
}

// Server routes HTTP requests to the agent and the workflow.
type Server struct {
	agent       Agent
	workflow    Workflow
	logger      *slog.Logger
	limiter     *rateLimiter
	async       bool
	taskTimeout time.Duration
	now         func() time.Time

	background sync.WaitGroup
	baseCtx    context.Context
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAsync acknowledges webhooks with 202 and handles them in the
// background. Failures are then only logged.
func WithAsync(async bool) Option {
	return func(s *Server) { s.async = async }
}

// WithRateLimit allows limit /api requests per window and client IP.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(s *Server) { s.limiter = newRateLimiter(limit, window) }
}

// WithTaskTimeout bounds each agent task and webhook.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *Server) { s.taskTimeout = d }
}

// WithBaseContext is the parent of background webhook work.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

// New creates a server.
func New(a Agent, wf Workflow, opts ...Option) *Server {
	s := &Server{
		agent:       a,
		workflow:    wf,
		logger:      slog.Default(),
		limiter:     newRateLimiter(60, time.Minute),
		taskTimeout: 2 * time.Minute,
		now:         time.Now,
		baseCtx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until background webhook handling has finished.
func (s *Server) Wait() { s.background.Wait() }

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/webhooks/github", func(r chi.Router) {
		r.Use(limitBody(maxWebhookBytes))
		r.Post("/pull_request", s.handlePullRequest)
		r.Post("/issues", s.handleIssues)
		r.Post("/push", s.handlePush)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.middleware)
		r.Use(limitBody(maxAPIBytes))
		r.Get("/agents/goose/status", s.handleAgentStatus)
		r.Get("/workflows/goose/status", s.handleWorkflowStatus)
		r.Post("/agents/goose/execute", s.handleExecute)
		r.Post("/goose/analyze", s.handleAnalyze)
		r.Post("/goose/generate", s.handleGenerate)
		r.Post("/goose/review", s.handleReview)
	})
	return r
}

// requestID assigns a UUID to requests that arrive without one so that
// middleware.RequestID adopts it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(middleware.RequestIDHeader, id)
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func errorBody(r *http.Request, msg string) map[string]string {
	return map[string]string{"error": msg, "requestId": middleware.GetReqID(r.Context())}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": s.now().UTC()})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Status(r.Context()))
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workflow.Status(r.Context()))
}

func decode(w http.ResponseWriter, r *http.Request, logger *slog.Logger, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Warn("invalid request", "path", r.URL.Path, "error", err, "remote_addr", r.RemoteAddr)
		status := http.StatusBadRequest
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorBody(r, "invalid request body"))
		return false
	}
	return true
}
