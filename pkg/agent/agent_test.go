package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeGoose is an in-process goose server recording what it was sent.
type fakeGoose struct {
	mu       sync.Mutex
	started  []map[string]any
	ended    []string
	executed []Request
	auth     []string
	healthy  bool
	next     int
}

func (f *fakeGoose) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("POST /session/start", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding session start: %v", err)
		}
		f.mu.Lock()
		f.next++
		id := fmt.Sprintf("s%d", f.next)
		f.started = append(f.started, body)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()
		fmt.Fprintf(w, `{"sessionId":%q}`, id)
	})
	mux.HandleFunc("POST /session/end", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding session end: %v", err)
		}
		f.mu.Lock()
		f.ended = append(f.ended, body.SessionID)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /task/execute", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SessionID string  `json:"sessionId"`
			Task      Request `json:"task"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding task: %v", err)
		}
		if body.SessionID == "" {
			t.Error("task executed without a session")
		}
		f.mu.Lock()
		f.executed = append(f.executed, body.Task)
		f.mu.Unlock()
		switch body.Task.Type {
		case CodeAnalysis:
			fmt.Fprint(w, `{"complexityScore":8,"hasSecurityIssues":true,"needsTests":true}`)
		case CodeReview:
			fmt.Fprint(w, `{"comments":[{"file":"a.go","line":3,"message":"nil check"}],"highlights":[{"type":"positive","message":"clear names"}]}`)
		case ImprovementSuggestions:
			fmt.Fprint(w, `{"items":[{"title":"t1","description":"d1"}]}`)
		case BugFixing:
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "boom")
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"echo": body.Task.Input})
		}
	})
	return mux
}

func newTestAgent(t *testing.T, f *fakeGoose, opts ...Option) (*Agent, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	backend := NewHTTPBackend(srv.URL, WithAPIKey("k"), WithHealthRetry(1, time.Millisecond))
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	return New(backend, opts...), srv
}

func TestCapabilities(t *testing.T) {
	a := New(NewHTTPBackend(""))
	caps := a.Capabilities()
	if len(caps) != 9 || caps[0] != CodeGeneration || caps[8] != PRAnalysis {
		t.Errorf("Capabilities() = %v", caps)
	}
	caps[0] = "mutated"
	if a.Capabilities()[0] != CodeGeneration {
		t.Error("Capabilities() exposes internal state")
	}
	if a.CanHandle("deploy") || !a.CanHandle(BugFixing) {
		t.Error("CanHandle mismatch")
	}
}

func TestBuildRequestDefaults(t *testing.T) {
	tests := []struct {
		task    Task
		wantKey string
		want    any
	}{
		{Task{Type: CodeGeneration, Input: map[string]any{"prompt": "x"}}, "style", "clean"},
		{Task{Type: CodeAnalysis, Input: map[string]any{"files": []any{}}}, "analysisType", "full"},
		{Task{Type: CodeAnalysis, Input: map[string]any{"type": "security"}}, "analysisType", "security"},
		{Task{Type: TestGeneration, Input: map[string]any{"code": "c"}}, "framework", "jest"},
		{Task{Type: TestGeneration, Input: map[string]any{"code": "c"}}, "coverage", "full"},
		{Task{Type: DocumentationGeneration, Input: map[string]any{}}, "style", "jsdoc"},
		{Task{Type: DocumentationGeneration, Input: map[string]any{}}, "level", "detailed"},
		{Task{Type: ImprovementSuggestions, Input: map[string]any{}}, "category", "all"},
	}
	for _, tt := range tests {
		t.Run(tt.task.Type+"/"+tt.wantKey, func(t *testing.T) {
			req, _ := buildRequest(tt.task)
			if req.Input[tt.wantKey] != tt.want {
				t.Errorf("input[%s] = %v, want %v", tt.wantKey, req.Input[tt.wantKey], tt.want)
			}
			if req.Description == "" {
				t.Error("missing description")
			}
		})
	}

	req, _ := buildRequest(Task{Type: CodeReview, Input: map[string]any{}})
	focus, ok := req.Input["focus"].([]string)
	if !ok || strings.Join(focus, ",") != "quality,security,performance" {
		t.Errorf("review focus = %v", req.Input["focus"])
	}

	_, sctx := buildRequest(Task{
		Type:    CodeGeneration,
		Input:   map[string]any{"context": map[string]any{"repository": "o/r"}},
		Context: map[string]any{"repository": "x", "issueNumber": 4},
	})
	if sctx["repository"] != "o/r" || sctx["issueNumber"] != 4 {
		t.Errorf("session context = %v", sctx)
	}
}

func TestExecute(t *testing.T) {
	f := &fakeGoose{healthy: true}
	a, _ := newTestAgent(t, f)
	ctx := context.Background()

	res, err := a.Execute(ctx, Task{Type: CodeGeneration, Input: map[string]any{"prompt": "write fizzbuzz", "language": "go"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Agent != "goose" || res.TaskType != CodeGeneration || res.Timestamp.IsZero() {
		t.Errorf("result = %+v", res)
	}
	out, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"echo":{"language":"go","prompt":"write fizzbuzz","style":"clean"}`) {
		t.Errorf("marshalled result = %s", out)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.started) != 1 || len(f.ended) != 1 || f.ended[0] != "s1" {
		t.Errorf("sessions started=%d ended=%v", len(f.started), f.ended)
	}
	if f.auth[0] != "Bearer k" {
		t.Errorf("Authorization = %q", f.auth[0])
	}
	if f.started[0]["model"] != DefaultModel || f.started[0]["maxTokens"] != float64(4096) {
		t.Errorf("session start body = %v", f.started[0])
	}
}

func TestExecuteFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported", func(t *testing.T) {
		a, _ := newTestAgent(t, &fakeGoose{healthy: true})
		res, err := a.Execute(ctx, Task{Type: "deploy"})
		if !errors.Is(err, ErrUnsupportedTask) {
			t.Fatalf("err = %v", err)
		}
		if res.Success || !strings.Contains(res.Error, "deploy") || res.TaskType != "deploy" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		a, _ := newTestAgent(t, &fakeGoose{healthy: true}, WithEnabled(false))
		if _, err := a.Execute(ctx, Task{Type: CodeReview}); !errors.Is(err, ErrDisabled) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("unhealthy backend", func(t *testing.T) {
		f := &fakeGoose{}
		a, _ := newTestAgent(t, f)
		res, err := a.Execute(ctx, Task{Type: CodeReview})
		if err == nil || res.Success {
			t.Fatalf("Execute succeeded against an unhealthy backend")
		}
		if len(f.started) != 0 {
			t.Error("session started before the backend was healthy")
		}
	})

	t.Run("backend error ends session", func(t *testing.T) {
		f := &fakeGoose{healthy: true}
		a, _ := newTestAgent(t, f)
		_, err := a.Execute(ctx, Task{Type: BugFixing, Input: map[string]any{"code": "x"}})
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Fatalf("err = %v", err)
		}
		if len(f.ended) != 1 {
			t.Errorf("ended sessions = %v", f.ended)
		}
	})
}

func TestAnalyzePR(t *testing.T) {
	f := &fakeGoose{healthy: true}
	a, _ := newTestAgent(t, f)
	res, err := a.Execute(context.Background(), Task{Type: PRAnalysis, Input: map[string]any{
		"pr": PRInput{
			Repository: "o/r", Number: 9, Title: "t", Author: "dev", Branch: "feat", BaseBranch: "main",
			Files: []PRFile{{Path: "a.go", Patch: "+a", Status: "modified"}, {Path: "b.go", Patch: "+b", Status: "added"}},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	report, ok := res.Result.(*PRReport)
	if !ok {
		t.Fatalf("result type %T", res.Result)
	}
	if report.Analysis == nil || report.Analysis.ComplexityScore != 8 || !report.Analysis.HasSecurityIssues || !report.Analysis.NeedsTests {
		t.Errorf("analysis = %+v", report.Analysis)
	}
	if report.Review == nil || len(report.Review.Comments) != 1 || report.Review.Comments[0].Line != 3 {
		t.Errorf("review = %+v", report.Review)
	}
	if report.Suggestions == nil || len(report.Suggestions.Items) != 1 {
		t.Errorf("suggestions = %+v", report.Suggestions)
	}
	if report.SessionID != "s1" {
		t.Errorf("session = %s", report.SessionID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.started) != 1 || len(f.ended) != 1 {
		t.Fatalf("pr analysis used %d sessions, ended %d", len(f.started), len(f.ended))
	}
	sctx, _ := f.started[0]["context"].(map[string]any)
	if sctx["branch"] != "feat" || sctx["baseBranch"] != "main" || sctx["author"] != "dev" {
		t.Errorf("session context = %v", sctx)
	}
	if len(f.executed) != 3 {
		t.Fatalf("executed %d tasks", len(f.executed))
	}
	if f.executed[0].Input["analysisType"] != "pr_review" {
		t.Errorf("analysis input = %v", f.executed[0].Input)
	}
	if f.executed[2].Input["code"] != "+a\n+b" {
		t.Errorf("suggestion code = %q", f.executed[2].Input["code"])
	}
}

func TestStatus(t *testing.T) {
	f := &fakeGoose{healthy: true}
	a, _ := newTestAgent(t, f)
	ctx := context.Background()
	st := a.Status(ctx)
	if st.Connected || st.Healthy || !st.Enabled || len(st.Capabilities) != 9 || st.Backend != "goose-http" {
		t.Errorf("status before init = %+v", st)
	}
	if err := a.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	st = a.Status(ctx)
	if !st.Connected || !st.Healthy || st.SessionActive {
		t.Errorf("status after init = %+v", st)
	}
	a.Shutdown()
	if a.Status(ctx).Connected {
		t.Error("still connected after Shutdown")
	}
}

func TestGeminiBackend(t *testing.T) {
	var prompts []string
	g := newGeminiBackend(func(_ context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return "Here you go:\n```json\n{\"code\":\"fmt.Println(1)\",\"language\":\"go\"}\n```", nil
	}, "test-model", slog.Default())

	a := New(g)
	res, err := a.Execute(context.Background(), Task{
		Type:    CodeGeneration,
		Input:   map[string]any{"prompt": "print one"},
		Context: map[string]any{"repository": "o/r"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var gen Generated
	if err := decodeInto(res.Result, &gen); err != nil {
		t.Fatal(err)
	}
	if gen.Code != "fmt.Println(1)" || gen.Language != "go" {
		t.Errorf("generated = %+v", gen)
	}
	if len(prompts) != 1 || !strings.Contains(prompts[0], `"repository": "o/r"`) || !strings.Contains(prompts[0], "print one") {
		t.Errorf("prompt = %q", prompts)
	}
	if len(g.sessions) != 0 {
		t.Errorf("%d sessions left open", len(g.sessions))
	}
	if _, err := g.Execute(context.Background(), "nope", Request{Type: CodeGeneration}); err == nil {
		t.Error("unknown session accepted")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`{"a":1}`, `{"a":1}`, false},
		{"```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"```\n{\"a\":1}\n```", `{"a":1}`, false},
		{`Sure! {"a":1} hope it helps`, `{"a":1}`, false},
		{"no json here", "", true},
	}
	for _, tt := range tests {
		got, err := extractJSON(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("extractJSON(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestIsTransientError(t *testing.T) {
	if !isTransientError(errors.New("Error 503: Service Unavailable")) {
		t.Error("503 not transient")
	}
	if isTransientError(errors.New("invalid argument")) {
		t.Error("invalid argument is transient")
	}
}
