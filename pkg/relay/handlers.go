package relay

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/codeGROOVE-dev/playlock/pkg/agent"
	"github.com/codeGROOVE-dev/playlock/pkg/github"
	"github.com/codeGROOVE-dev/playlock/pkg/workflow"
)

const eventHeader = "X-GitHub-Event"

// webhookReply is the body of a synchronously handled webhook.
type webhookReply struct {
	RequestID string        `json:"requestId"`
	Skipped   bool          `json:"skipped,omitempty"`
	Result    *agent.Result `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// checkEvent answers GitHub's ping and rejects payloads delivered to the
// wrong route. It reports whether the handler should continue.
func checkEvent(w http.ResponseWriter, r *http.Request, want string) bool {
	switch got := r.Header.Get(eventHeader); got {
	case "", want:
		return true
	case "ping":
		writeJSON(w, http.StatusOK, map[string]string{"message": "pong", "requestId": middleware.GetReqID(r.Context())})
		return false
	default:
		writeJSON(w, http.StatusBadRequest, errorBody(r, "unexpected event "+got+" for "+want+" webhook"))
		return false
	}
}

// dispatch runs handle synchronously, or in the background when the
// server is async.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, event string, handle func(context.Context) (*agent.Result, error)) {
	id := middleware.GetReqID(r.Context())
	log := s.logger.With("event", event, "request_id", id)

	if s.async {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			ctx, cancel := context.WithTimeout(s.baseCtx, s.taskTimeout)
			defer cancel()
			if _, err := handle(ctx); err != nil {
				log.Error("webhook handling failed", "error", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "Webhook received", "requestId": id})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.taskTimeout)
	defer cancel()
	res, err := handle(ctx)
	if err != nil {
		log.Error("webhook handling failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, workflow.ErrDisabled) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, webhookReply{RequestID: id, Result: res, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, webhookReply{RequestID: id, Skipped: res == nil, Result: res})
}

func (s *Server) handlePullRequest(w http.ResponseWriter, r *http.Request) {
	if !checkEvent(w, r, "pull_request") {
		return
	}
	var ev github.PullRequestEvent
	if !decode(w, r, s.logger, &ev) {
		return
	}
	s.logger.Info("received pull_request webhook", "action", ev.Action, "repo", ev.Repository.FullName, "number", ev.PullRequest.Number)
	s.dispatch(w, r, "pull_request", func(ctx context.Context) (*agent.Result, error) {
		return s.workflow.HandlePullRequest(ctx, ev)
	})
}

func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	if !checkEvent(w, r, "issues") {
		return
	}
	var ev github.IssuesEvent
	if !decode(w, r, s.logger, &ev) {
		return
	}
	s.logger.Info("received issues webhook", "action", ev.Action, "repo", ev.Repository.FullName, "number", ev.Issue.Number)
	s.dispatch(w, r, "issues", func(ctx context.Context) (*agent.Result, error) {
		return s.workflow.HandleIssue(ctx, ev)
	})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if !checkEvent(w, r, "push") {
		return
	}
	var ev github.PushEvent
	if !decode(w, r, s.logger, &ev) {
		return
	}
	s.logger.Info("received push webhook", "ref", ev.Ref, "repo", ev.Repository.FullName)
	s.dispatch(w, r, "push", func(ctx context.Context) (*agent.Result, error) {
		return nil, s.workflow.HandlePush(ctx, ev)
	})
}

// runTask executes task and maps failures to a status code; the body is
// always the agent result.
func (s *Server) runTask(w http.ResponseWriter, r *http.Request, task agent.Task) {
	ctx, cancel := context.WithTimeout(r.Context(), s.taskTimeout)
	defer cancel()
	res, err := s.agent.Execute(ctx, task)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, agent.ErrUnsupportedTask):
		writeJSON(w, http.StatusBadRequest, res)
	case errors.Is(err, agent.ErrDisabled):
		writeJSON(w, http.StatusServiceUnavailable, res)
	default:
		s.logger.Error("task failed", "type", task.Type, "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, res)
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var task agent.Task
	if !decode(w, r, s.logger, &task) {
		return
	}
	if task.Type == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(r, "task type is required"))
		return
	}
	s.runTask(w, r, task)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Files   []any          `json:"files"`
		Type    string         `json:"type"`
		Context map[string]any `json:"context"`
	}
	if !decode(w, r, s.logger, &req) {
		return
	}
	if len(req.Files) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody(r, "files are required"))
		return
	}
	input := map[string]any{"files": req.Files, "context": req.Context}
	if req.Type != "" {
		input["type"] = req.Type
	}
	s.runTask(w, r, agent.Task{Type: agent.CodeAnalysis, Input: input})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt   string         `json:"prompt"`
		Language string         `json:"language"`
		Style    string         `json:"style"`
		Context  map[string]any `json:"context"`
	}
	if !decode(w, r, s.logger, &req) {
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(r, "prompt is required"))
		return
	}
	input := map[string]any{"prompt": req.Prompt, "context": req.Context}
	if req.Language != "" {
		input["language"] = req.Language
	}
	if req.Style != "" {
		input["style"] = req.Style
	}
	s.runTask(w, r, agent.Task{Type: agent.CodeGeneration, Input: input})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Files   []any          `json:"files"`
		Focus   []string       `json:"focus"`
		Context map[string]any `json:"context"`
	}
	if !decode(w, r, s.logger, &req) {
		return
	}
	if len(req.Files) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody(r, "files are required"))
		return
	}
	input := map[string]any{"files": req.Files, "context": req.Context}
	if len(req.Focus) > 0 {
		input["focus"] = req.Focus
	}
	s.runTask(w, r, agent.Task{Type: agent.CodeReview, Input: input})
}
