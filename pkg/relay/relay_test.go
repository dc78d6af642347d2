package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/playlock/pkg/agent"
	"github.com/codeGROOVE-dev/playlock/pkg/github"
	"github.com/codeGROOVE-dev/playlock/pkg/workflow"
)

type stubAgent struct {
	mu    sync.Mutex
	tasks []agent.Task
	err   error
}

func (s *stubAgent) Execute(_ context.Context, task agent.Task) (agent.Result, error) {
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
	res := agent.Result{Agent: agent.Name, TaskType: task.Type}
	if s.err != nil {
		res.Error = s.err.Error()
		return res, s.err
	}
	res.Success = true
	res.Result = map[string]any{"ok": true}
	return res, nil
}

func (*stubAgent) Status(context.Context) agent.Status {
	return agent.Status{Name: agent.Name, Enabled: true}
}

type stubWorkflow struct {
	mu     sync.Mutex
	prs    []github.PullRequestEvent
	issues []github.IssuesEvent
	pushes []github.PushEvent
	err    error
}

func (s *stubWorkflow) HandlePullRequest(_ context.Context, ev github.PullRequestEvent) (*agent.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prs = append(s.prs, ev)
	if s.err != nil {
		return nil, s.err
	}
	return &agent.Result{Success: true, Agent: agent.Name, TaskType: agent.PRAnalysis}, nil
}

func (s *stubWorkflow) HandleIssue(_ context.Context, ev github.IssuesEvent) (*agent.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = append(s.issues, ev)
	return nil, s.err
}

func (s *stubWorkflow) HandlePush(_ context.Context, ev github.PushEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, ev)
	return s.err
}

func (*stubWorkflow) Status(context.Context) workflow.Status {
	return workflow.Status{Enabled: true, Features: workflow.DefaultConfig()}
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	resp := rec.Result()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("%s %s: non-JSON body %q", method, path, data)
		}
	}
	return resp, out
}

const prPayload = `{"action":"opened","pull_request":{"number":4,"head":{"ref":"f"},"base":{"ref":"main"}},"repository":{"name":"r","full_name":"o/r","owner":{"login":"o"}}}`

func TestHealth(t *testing.T) {
	s := New(&stubAgent{}, &stubWorkflow{})
	s.now = func() time.Time { return time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC) }
	resp, body := do(t, s.Handler(), "GET", "/health", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["timestamp"] != "2024-02-03T04:05:06Z" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("no request id assigned")
	}
}

func TestWebhooks(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		event      string
		wfErr      error
		wantStatus int
		check      func(t *testing.T, wf *stubWorkflow, body map[string]any)
	}{
		{
			name: "pull request", path: "/webhooks/github/pull_request", body: prPayload, event: "pull_request",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, wf *stubWorkflow, body map[string]any) {
				if len(wf.prs) != 1 || wf.prs[0].PullRequest.Number != 4 {
					t.Errorf("prs = %+v", wf.prs)
				}
				res, _ := body["result"].(map[string]any)
				if res["success"] != true || res["taskType"] != "pr_analysis" {
					t.Errorf("body = %v", body)
				}
			},
		},
		{
			name: "pull request failure", path: "/webhooks/github/pull_request", body: prPayload,
			wfErr: errors.New("agent down"), wantStatus: http.StatusInternalServerError,
			check: func(t *testing.T, _ *stubWorkflow, body map[string]any) {
				if body["error"] != "agent down" {
					t.Errorf("body = %v", body)
				}
			},
		},
		{
			name: "workflow disabled", path: "/webhooks/github/push", body: `{"ref":"refs/heads/main"}`,
			wfErr: fmt.Errorf("push: %w", workflow.ErrDisabled), wantStatus: http.StatusServiceUnavailable,
		},
		{
			name: "issue skipped", path: "/webhooks/github/issues", body: `{"action":"opened","issue":{"number":1,"title":"crash"}}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, wf *stubWorkflow, body map[string]any) {
				if len(wf.issues) != 1 || body["skipped"] != true {
					t.Errorf("issues = %d body = %v", len(wf.issues), body)
				}
			},
		},
		{
			name: "push", path: "/webhooks/github/push", body: `{"ref":"refs/heads/main","commits":[{"id":"a"}]}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, wf *stubWorkflow, _ map[string]any) {
				if len(wf.pushes) != 1 || len(wf.pushes[0].Commits) != 1 {
					t.Errorf("pushes = %+v", wf.pushes)
				}
			},
		},
		{
			name: "ping", path: "/webhooks/github/push", body: `{"zen":"x"}`, event: "ping",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, wf *stubWorkflow, body map[string]any) {
				if body["message"] != "pong" || len(wf.pushes) != 0 {
					t.Errorf("ping body = %v", body)
				}
			},
		},
		{name: "wrong event", path: "/webhooks/github/push", body: `{}`, event: "issues", wantStatus: http.StatusBadRequest},
		{name: "bad json", path: "/webhooks/github/issues", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "wrong method", path: "/webhooks/github/issues", wantStatus: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := &stubWorkflow{err: tt.wfErr}
			h := New(&stubAgent{}, wf).Handler()
			method := http.MethodPost
			if tt.name == "wrong method" {
				method = http.MethodGet
			}
			var header []string
			if tt.event != "" {
				header = []string{"X-GitHub-Event", tt.event}
			}
			resp, body := do(t, h, method, tt.path, tt.body, header...)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.check != nil {
				tt.check(t, wf, body)
			}
		})
	}
}

func TestAsyncWebhook(t *testing.T) {
	wf := &stubWorkflow{err: errors.New("logged only")}
	s := New(&stubAgent{}, wf, WithAsync(true))
	resp, body := do(t, s.Handler(), "POST", "/webhooks/github/pull_request", prPayload)
	if resp.StatusCode != http.StatusAccepted || body["message"] != "Webhook received" {
		t.Fatalf("async reply = %d %v", resp.StatusCode, body)
	}
	s.Wait()
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if len(wf.prs) != 1 {
		t.Errorf("background handler ran %d times", len(wf.prs))
	}
}

func TestAPI(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		agentErr   error
		wantStatus int
		wantType   string
		wantInput  map[string]any
	}{
		{name: "agent status", method: "GET", path: "/api/agents/goose/status", wantStatus: http.StatusOK},
		{name: "workflow status", method: "GET", path: "/api/workflows/goose/status", wantStatus: http.StatusOK},
		{
			name: "execute", method: "POST", path: "/api/agents/goose/execute",
			body:       `{"type":"bug_fixing","input":{"code":"x"}}`,
			wantStatus: http.StatusOK, wantType: "bug_fixing", wantInput: map[string]any{"code": "x"},
		},
		{
			name: "execute unsupported", method: "POST", path: "/api/agents/goose/execute",
			body: `{"type":"deploy"}`, agentErr: fmt.Errorf("%w: deploy", agent.ErrUnsupportedTask),
			wantStatus: http.StatusBadRequest, wantType: "deploy",
		},
		{
			name: "execute failure", method: "POST", path: "/api/agents/goose/execute",
			body: `{"type":"code_review"}`, agentErr: errors.New("backend 502"),
			wantStatus: http.StatusInternalServerError, wantType: "code_review",
		},
		{name: "execute without type", method: "POST", path: "/api/agents/goose/execute", body: `{}`, wantStatus: http.StatusBadRequest},
		{
			name: "analyze", method: "POST", path: "/api/goose/analyze",
			body:       `{"files":[{"path":"a.go"}],"type":"security"}`,
			wantStatus: http.StatusOK, wantType: "code_analysis", wantInput: map[string]any{"type": "security"},
		},
		{name: "analyze without files", method: "POST", path: "/api/goose/analyze", body: `{"type":"x"}`, wantStatus: http.StatusBadRequest},
		{
			name: "generate", method: "POST", path: "/api/goose/generate",
			body:       `{"prompt":"fizzbuzz","language":"go"}`,
			wantStatus: http.StatusOK, wantType: "code_generation", wantInput: map[string]any{"prompt": "fizzbuzz", "language": "go"},
		},
		{name: "generate without prompt", method: "POST", path: "/api/goose/generate", body: `{}`, wantStatus: http.StatusBadRequest},
		{
			name: "review", method: "POST", path: "/api/goose/review",
			body:       `{"files":[{"path":"a.go"}],"focus":["security"]}`,
			wantStatus: http.StatusOK, wantType: "code_review",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ag := &stubAgent{err: tt.agentErr}
			h := New(ag, &stubWorkflow{}).Handler()
			resp, body := do(t, h, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantType == "" {
				return
			}
			if len(ag.tasks) != 1 || ag.tasks[0].Type != tt.wantType {
				t.Fatalf("tasks = %+v", ag.tasks)
			}
			if body["taskType"] != tt.wantType {
				t.Errorf("body = %v", body)
			}
			for k, v := range tt.wantInput {
				if ag.tasks[0].Input[k] != v {
					t.Errorf("input[%s] = %v, want %v", k, ag.tasks[0].Input[k], v)
				}
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	s := New(&stubAgent{}, &stubWorkflow{}, WithRateLimit(2, time.Minute))
	h := s.Handler()
	for i, want := range []int{200, 200, 429} {
		resp, _ := do(t, h, "GET", "/api/agents/goose/status", "", "X-Real-IP", "10.0.0.1")
		if resp.StatusCode != want {
			t.Errorf("request %d status = %d, want %d", i, resp.StatusCode, want)
		}
	}
	if resp, _ := do(t, h, "GET", "/api/agents/goose/status", "", "X-Real-IP", "10.0.0.2"); resp.StatusCode != 200 {
		t.Error("limit shared across clients")
	}
	if resp, _ := do(t, h, "GET", "/health", "", "X-Real-IP", "10.0.0.1"); resp.StatusCode != 200 {
		t.Error("health is rate limited")
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	if !rl.allow("a") || rl.allow("a") {
		t.Fatal("limit of one not enforced")
	}
	now = now.Add(61 * time.Second)
	if !rl.allow("a") {
		t.Error("window did not slide")
	}

	rl = newRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }
	for i := range 3 {
		if !rl.allow("b") {
			t.Fatalf("request %d rejected within the burst", i)
		}
	}
	if rl.allow("b") {
		t.Error("fourth request in the window allowed")
	}
	now = now.Add(20 * time.Second)
	if !rl.allow("b") || rl.allow("b") {
		t.Error("one request should be refilled every window/limit")
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	rl := newRateLimiter(1, 20*time.Millisecond)
	if !rl.allow("10.0.0.9") {
		t.Fatal("first request rejected")
	}
	if _, ok := rl.limiters.GetIfPresent("10.0.0.9"); !ok {
		t.Fatal("bucket not tracked")
	}
	time.Sleep(100 * time.Millisecond)
	if _, ok := rl.limiters.GetIfPresent("10.0.0.9"); ok {
		t.Error("idle client still tracked after a full window")
	}
}
