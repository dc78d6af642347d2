// Package agent turns relay tasks into calls against a coding agent
// backend, one explicit session per unit of work.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Name identifies the agent in results and status.
	Name        = "goose"
	displayName = "Goose AI Agent"
	version     = "1.0.0"

	endSessionTimeout = 10 * time.Second
)

var (
	// ErrUnsupportedTask is returned for task types the agent cannot run.
	ErrUnsupportedTask = errors.New("unsupported task type")
	// ErrDisabled is returned by every operation of a disabled agent.
	ErrDisabled = errors.New("agent is disabled")
)

// Backend executes requests inside sessions. Implementations must be safe
// for concurrent use.
type Backend interface {
	Name() string
	Health(ctx context.Context) error
	StartSession(ctx context.Context, sessionContext map[string]any) (string, error)
	EndSession(ctx context.Context, sessionID string) error
	Execute(ctx context.Context, sessionID string, req Request) (json.RawMessage, error)
}

type field struct {
	in, out string // out defaults to in
	def     any
}

type capability struct {
	description string
	fields      []field
}

// Capabilities in the order they are advertised.
var capabilityOrder = []string{
	CodeGeneration, CodeAnalysis, CodeRefactoring, BugFixing, TestGeneration,
	DocumentationGeneration, CodeReview, ImprovementSuggestions, PRAnalysis,
}

var capabilities = map[string]capability{
	CodeGeneration: {"Generate new code based on requirements",
		[]field{{in: "prompt"}, {in: "language"}, {in: "style", def: "clean"}}},
	CodeAnalysis: {"Analyze code for quality, security, and best practices",
		[]field{{in: "files"}, {in: "type", out: "analysisType", def: "full"}}},
	CodeRefactoring: {"Refactor code to improve quality and maintainability",
		[]field{{in: "code"}, {in: "goal"}, {in: "constraints", def: []string{}}}},
	BugFixing: {"Identify and fix bugs in code",
		[]field{{in: "code"}, {in: "issues"}}},
	TestGeneration: {"Generate unit tests for code",
		[]field{{in: "code"}, {in: "framework", def: "jest"}, {in: "coverage", def: "full"}}},
	DocumentationGeneration: {"Generate documentation for code",
		[]field{{in: "code"}, {in: "style", def: "jsdoc"}, {in: "level", def: "detailed"}}},
	CodeReview: {"Review code and provide feedback",
		[]field{{in: "files"}, {in: "focus", def: []string{"quality", "security", "performance"}}}},
	ImprovementSuggestions: {"Suggest improvements for code",
		[]field{{in: "code"}, {in: "category", def: "all"}}},
	PRAnalysis: {"Analyze a pull request", nil},
}

// Agent routes tasks to a Backend.
type Agent struct {
	backend  Backend
	logger   *slog.Logger
	now      func() time.Time
	enabled  bool
	sessions atomic.Int32

	mu          sync.Mutex
	initialized bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithEnabled enables or disables the agent. Agents are enabled by default.
func WithEnabled(enabled bool) Option {
	return func(a *Agent) { a.enabled = enabled }
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates an agent over backend.
func New(backend Backend, opts ...Option) *Agent {
	a := &Agent{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
		enabled: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Capabilities lists the task types the agent can run.
func (*Agent) Capabilities() []string {
	return append([]string(nil), capabilityOrder...)
}

// CanHandle reports whether taskType is a known capability.
func (*Agent) CanHandle(taskType string) bool {
	_, ok := capabilities[taskType]
	return ok
}

// Initialize checks the backend is reachable. It succeeds once and is a
// no-op afterwards.
func (a *Agent) Initialize(ctx context.Context) error {
	if !a.enabled {
		return ErrDisabled
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}
	a.logger.Info("initializing agent", "backend", a.backend.Name())
	if err := a.backend.Health(ctx); err != nil {
		return fmt.Errorf("agent backend %s unavailable: %w", a.backend.Name(), err)
	}
	a.initialized = true
	a.logger.Info("agent initialized", "backend", a.backend.Name())
	return nil
}

// Shutdown marks the agent uninitialized; the next task checks the
// backend again.
func (a *Agent) Shutdown() {
	a.mu.Lock()
	a.initialized = false
	a.mu.Unlock()
	a.logger.Info("agent shut down")
}

func (a *Agent) isInitialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// Status reports the agent's state. Health is only probed once the agent
// has connected.
func (a *Agent) Status(ctx context.Context) Status {
	connected := a.isInitialized()
	healthy := false
	if connected {
		if err := a.backend.Health(ctx); err != nil {
			a.logger.Warn("health check failed", "error", err)
		} else {
			healthy = true
		}
	}
	return Status{
		Name:          Name,
		DisplayName:   displayName,
		Version:       version,
		Backend:       a.backend.Name(),
		Initialized:   connected,
		Enabled:       a.enabled,
		Healthy:       healthy,
		Capabilities:  a.Capabilities(),
		Connected:     connected,
		SessionActive: a.sessions.Load() > 0,
	}
}

// Execute runs task and always returns a populated Result. The error is
// non-nil exactly when Result.Success is false.
func (a *Agent) Execute(ctx context.Context, task Task) (Result, error) {
	res := Result{Agent: Name, TaskType: task.Type}
	a.logger.Info("executing task", "type", task.Type)
	out, err := a.execute(ctx, task)
	res.Timestamp = a.now().UTC()
	if err != nil {
		a.logger.Error("task failed", "type", task.Type, "error", err)
		res.Error = err.Error()
		return res, err
	}
	a.logger.Info("task completed", "type", task.Type)
	res.Success = true
	res.Result = out
	return res, nil
}

func (a *Agent) execute(ctx context.Context, task Task) (any, error) {
	if !a.enabled {
		return nil, ErrDisabled
	}
	if !a.CanHandle(task.Type) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTask, task.Type)
	}
	if err := a.Initialize(ctx); err != nil {
		return nil, err
	}

	if task.Type == PRAnalysis {
		var in PRInput
		src := any(task.Input)
		if pr, ok := task.Input["pr"]; ok {
			src = pr
		}
		if err := decodeInto(src, &in); err != nil {
			return nil, fmt.Errorf("decoding pull request input: %w", err)
		}
		return a.AnalyzePR(ctx, in)
	}

	req, sctx := buildRequest(task)
	id, err := a.startSession(ctx, sctx)
	if err != nil {
		return nil, err
	}
	defer a.endSession(ctx, id)
	raw, err := a.backend.Execute(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("executing %s: %w", req.Type, err)
	}
	return raw, nil
}

// buildRequest applies the capability's description and defaults. A
// "context" map inside the input is merged over the task context.
func buildRequest(task Task) (Request, map[string]any) {
	c := capabilities[task.Type]
	req := Request{
		Type:        task.Type,
		Description: c.description,
		Input:       map[string]any{},
		Parameters:  map[string]any{},
	}
	for _, f := range c.fields {
		out := f.out
		if out == "" {
			out = f.in
		}
		if v, ok := task.Input[f.in]; ok && v != nil {
			req.Input[out] = v
		} else if f.def != nil {
			req.Input[out] = f.def
		}
	}
	if p, ok := task.Input["parameters"].(map[string]any); ok {
		req.Parameters = p
	}

	sctx := map[string]any{}
	for k, v := range task.Context {
		sctx[k] = v
	}
	if inner, ok := task.Input["context"].(map[string]any); ok {
		for k, v := range inner {
			sctx[k] = v
		}
	}
	return req, sctx
}

func (a *Agent) startSession(ctx context.Context, sctx map[string]any) (string, error) {
	id, err := a.backend.StartSession(ctx, sctx)
	if err != nil {
		return "", fmt.Errorf("starting session: %w", err)
	}
	a.sessions.Add(1)
	a.logger.Debug("session started", "session", id)
	return id, nil
}

// endSession closes the session even when ctx is already done.
func (a *Agent) endSession(ctx context.Context, id string) {
	a.sessions.Add(-1)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endSessionTimeout)
	defer cancel()
	if err := a.backend.EndSession(ctx, id); err != nil {
		a.logger.Warn("failed to end session", "session", id, "error", err)
		return
	}
	a.logger.Debug("session ended", "session", id)
}

// AnalyzePR runs analysis, review and improvement suggestions over a pull
// request's patches in one dedicated session.
func (a *Agent) AnalyzePR(ctx context.Context, in PRInput) (*PRReport, error) {
	sctx := map[string]any{
		"repository":  in.Repository,
		"prNumber":    in.Number,
		"branch":      in.Branch,
		"baseBranch":  in.BaseBranch,
		"author":      in.Author,
		"title":       in.Title,
		"description": in.Description,
	}
	id, err := a.startSession(ctx, sctx)
	if err != nil {
		return nil, err
	}
	defer a.endSession(ctx, id)

	analysisFiles := make([]map[string]any, 0, len(in.Files))
	reviewFiles := make([]map[string]any, 0, len(in.Files))
	patches := make([]string, 0, len(in.Files))
	for _, f := range in.Files {
		analysisFiles = append(analysisFiles, map[string]any{"path": f.Path, "content": f.Patch, "status": f.Status})
		reviewFiles = append(reviewFiles, map[string]any{"path": f.Path, "content": f.Patch})
		patches = append(patches, f.Patch)
	}

	report := &PRReport{SessionID: id}
	steps := []struct {
		task Task
		out  any
	}{
		{Task{Type: CodeAnalysis, Input: map[string]any{"files": analysisFiles, "type": "pr_review"}}, &report.Analysis},
		{Task{Type: CodeReview, Input: map[string]any{"files": reviewFiles, "focus": []string{"quality", "security", "best-practices"}}}, &report.Review},
		{Task{Type: ImprovementSuggestions, Input: map[string]any{"code": strings.Join(patches, "\n"), "category": "all"}}, &report.Suggestions},
	}
	for _, s := range steps {
		req, _ := buildRequest(s.task)
		raw, err := a.backend.Execute(ctx, id, req)
		if err != nil {
			return nil, fmt.Errorf("executing %s for %s#%d: %w", req.Type, in.Repository, in.Number, err)
		}
		if err := decodeInto(raw, s.out); err != nil {
			return nil, fmt.Errorf("decoding %s result: %w", req.Type, err)
		}
	}
	return report, nil
}
