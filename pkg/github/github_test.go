package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestIsValidGitHubToken(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"", false},
		{"ghp_abc", true},
		{"github_pat_11ABC", true},
		{"ghs_x", true},
		{strings.Repeat("a1", 20), true},
		{strings.Repeat("z", 40), false},
		{"short", false},
	}
	for _, tt := range tests {
		if got := isValidGitHubToken(tt.token); got != tt.want {
			t.Errorf("isValidGitHubToken(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestListPullRequestFiles(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/repos/o/r/pulls/7/files" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "token ghp_test" {
			t.Errorf("Authorization = %q", got)
		}
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		page := r.URL.Query().Get("page")
		count := 100
		if page == "2" {
			count = 3
		}
		files := make([]File, count)
		for i := range files {
			files[i] = File{Filename: fmt.Sprintf("p%s/f%d.go", page, i), Patch: "@@"}
		}
		_ = json.NewEncoder(w).Encode(files)
	}))
	defer srv.Close()

	c := NewClient("ghp_test", WithBaseURL(srv.URL), WithRetry(3, time.Millisecond))
	files, err := c.ListPullRequestFiles(context.Background(), "o", "r", 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 103 {
		t.Fatalf("got %d files, want 103", len(files))
	}
	if files[102].Filename != "p2/f2.go" {
		t.Errorf("last file = %s", files[102].Filename)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (one retry)", calls.Load())
	}
}

func TestListPullRequestFilesRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL), WithRetry(5, time.Millisecond))
	if _, err := c.ListPullRequestFiles(context.Background(), "o", "r", 1); err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 1 {
		t.Errorf("rate limited request was retried %d times", calls.Load()-1)
	}
}

func TestWrites(t *testing.T) {
	type seen struct {
		method, path string
		body         map[string]any
	}
	var got []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		got = append(got, seen{r.Method, r.URL.Path, body})
		if strings.HasSuffix(r.URL.Path, "/labels") {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"message":"Validation Failed"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient("ghp_x", WithBaseURL(srv.URL+"/"))
	if err := c.CreateComment(ctx, "o", "r", 3, "hello"); err != nil {
		t.Errorf("CreateComment: %v", err)
	}
	if err := c.CreateReview(ctx, "o", "r", 3, Review{Comments: []ReviewComment{{Path: "a.go", Position: 2, Body: "x"}}}); err != nil {
		t.Errorf("CreateReview: %v", err)
	}
	err := c.AddLabels(ctx, "o", "r", 3, []string{"needs-tests"})
	if err == nil || !strings.Contains(err.Error(), "Validation Failed") {
		t.Errorf("AddLabels error = %v", err)
	}

	want := []struct{ method, path string }{
		{"POST", "/repos/o/r/issues/3/comments"},
		{"POST", "/repos/o/r/pulls/3/reviews"},
		{"POST", "/repos/o/r/issues/3/labels"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d requests, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].method != w.method || got[i].path != w.path {
			t.Errorf("request %d = %s %s, want %s %s", i, got[i].method, got[i].path, w.method, w.path)
		}
	}
	if got[0].body["body"] != "hello" {
		t.Errorf("comment body = %v", got[0].body)
	}
	if got[1].body["event"] != "COMMENT" {
		t.Errorf("review event = %v", got[1].body["event"])
	}
}

func TestWebhookPayloads(t *testing.T) {
	raw := `{"action":"opened","number":5,"pull_request":{"number":5,"title":"Add x","body":null,
"head":{"ref":"feat","sha":"abc"},"base":{"ref":"main","sha":"def"},"user":{"login":"dev"}},
"repository":{"name":"r","full_name":"o/r","owner":{"login":"o"}}}`
	var ev PullRequestEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.PullRequest.Number != 5 || ev.Repository.Owner.Login != "o" || ev.PullRequest.Head.Ref != "feat" || ev.PullRequest.Body != "" {
		t.Errorf("decoded = %+v", ev)
	}
}
