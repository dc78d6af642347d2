// Package workflow reacts to GitHub webhook events by running agent tasks
// and posting what comes back as reviews, labels and comments.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync/atomic"

	"github.com/codeGROOVE-dev/playlock/pkg/agent"
	"github.com/codeGROOVE-dev/playlock/pkg/github"
)

// Agent runs tasks. *agent.Agent implements it.
type Agent interface {
	Execute(ctx context.Context, task agent.Task) (agent.Result, error)
	Status(ctx context.Context) agent.Status
}

// GitHub is the subset of the REST API the workflow writes through.
type GitHub interface {
	ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]github.File, error)
	CreateComment(ctx context.Context, owner, repo string, number int, body string) error
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	CreateReview(ctx context.Context, owner, repo string, number int, review github.Review) error
}

// Labels applied from a pull request analysis.
const (
	LabelSecurity      = "security-review-needed"
	LabelComplexity    = "high-complexity"
	LabelPerformance   = "performance-review-needed"
	LabelNeedsTests    = "needs-tests"
	LabelNeedsDocs     = "needs-documentation"
	complexityCeiling  = 7
	defaultMaxComments = 50
)

// ErrDisabled is returned by handlers of a disabled workflow.
var ErrDisabled = errors.New("workflow is disabled")

var codeRequest = regexp.MustCompile(`(?i)generate|create|write|implement`)

// Config selects which automatic actions run.
type Config struct {
	Enabled        bool `json:"enabled"`
	AutoReview     bool `json:"autoReview"`  // analyze pull requests at all
	AutoComment    bool `json:"autoComment"` // post inline review comments
	AutoLabel      bool `json:"autoLabel"`
	ReviewOnOpen   bool `json:"reviewOnOpen"`   // opened, reopened, ready_for_review
	ReviewOnUpdate bool `json:"reviewOnUpdate"` // synchronize
	CommentOnIssue bool `json:"commentOnIssue"`
	MaxComments    int  `json:"maxComments"`
}

// DefaultConfig enables everything.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		AutoReview:     true,
		AutoComment:    true,
		AutoLabel:      true,
		ReviewOnOpen:   true,
		ReviewOnUpdate: true,
		CommentOnIssue: true,
		MaxComments:    defaultMaxComments,
	}
}

// Workflow handles webhook events.
type Workflow struct {
	agent  Agent
	gh     GitHub
	cfg    Config
	logger *slog.Logger

	handled atomic.Int64
	failed  atomic.Int64
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(w *Workflow) { w.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) { w.logger = l }
}

// New creates a workflow.
func New(a Agent, gh GitHub, opts ...Option) *Workflow {
	w := &Workflow{agent: a, gh: gh, cfg: DefaultConfig(), logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	if w.cfg.MaxComments <= 0 {
		w.cfg.MaxComments = defaultMaxComments
	}
	return w
}

// Status describes the workflow for the status endpoint.
type Status struct {
	Enabled  bool         `json:"enabled"`
	Agent    agent.Status `json:"agent"`
	Features Config       `json:"features"`
	Handled  int64        `json:"handled"`
	Failed   int64        `json:"failed"`
}

// Status reports configuration, counters and the agent's status.
func (w *Workflow) Status(ctx context.Context) Status {
	return Status{
		Enabled:  w.cfg.Enabled,
		Agent:    w.agent.Status(ctx),
		Features: w.cfg,
		Handled:  w.handled.Load(),
		Failed:   w.failed.Load(),
	}
}

func (w *Workflow) reviewable(action string) bool {
	switch action {
	case "opened", "reopened", "ready_for_review":
		return w.cfg.ReviewOnOpen
	case "synchronize":
		return w.cfg.ReviewOnUpdate
	}
	return false
}

// HandlePullRequest analyzes a pull request and publishes the results. It
// returns a nil result when the event is skipped. Failures to publish are
// logged and do not fail the call.
func (w *Workflow) HandlePullRequest(ctx context.Context, ev github.PullRequestEvent) (*agent.Result, error) {
	if !w.cfg.Enabled {
		return nil, ErrDisabled
	}
	repo, pr := ev.Repository, ev.PullRequest
	log := w.logger.With("repo", repo.FullName, "number", pr.Number, "action", ev.Action)
	if !w.cfg.AutoReview || !w.reviewable(ev.Action) {
		log.Info("pull request event skipped")
		return nil, nil
	}
	log.Info("handling pull request")

	res, err := w.analyzePullRequest(ctx, ev)
	if err != nil {
		w.failed.Add(1)
		log.Error("failed to handle pull request", "error", err)
		return res, err
	}
	w.handled.Add(1)
	log.Info("pull request processed")
	return res, nil
}

func (w *Workflow) analyzePullRequest(ctx context.Context, ev github.PullRequestEvent) (*agent.Result, error) {
	repo, pr := ev.Repository, ev.PullRequest
	owner, name := repo.Owner.Login, repo.Name

	files, err := w.gh.ListPullRequestFiles(ctx, owner, name, pr.Number)
	if err != nil {
		return nil, err
	}
	in := agent.PRInput{
		Repository:  repo.FullName,
		Number:      pr.Number,
		Title:       pr.Title,
		Description: pr.Body,
		Author:      pr.User.Login,
		Branch:      pr.Head.Ref,
		BaseBranch:  pr.Base.Ref,
		Files:       make([]agent.PRFile, 0, len(files)),
	}
	for _, f := range files {
		in.Files = append(in.Files, agent.PRFile{Path: f.Filename, Patch: f.Patch, Status: f.Status})
	}

	res, err := w.agent.Execute(ctx, agent.Task{
		Type:    agent.PRAnalysis,
		Input:   map[string]any{"pr": in},
		Context: map[string]any{"repository": repo.FullName, "prNumber": pr.Number, "action": ev.Action},
	})
	if err != nil {
		return &res, fmt.Errorf("analyzing %s#%d: %w", repo.FullName, pr.Number, err)
	}
	report, ok := res.Result.(*agent.PRReport)
	if !ok || report == nil {
		return &res, fmt.Errorf("analyzing %s#%d: unexpected result %T", repo.FullName, pr.Number, res.Result)
	}

	if w.cfg.AutoComment && report.Review != nil && len(report.Review.Comments) > 0 {
		comments := reviewComments(report.Review.Comments, w.cfg.MaxComments)
		if err := w.gh.CreateReview(ctx, owner, name, pr.Number, github.Review{Event: "COMMENT", Comments: comments}); err != nil {
			w.logger.Error("failed to post review comments", "repo", repo.FullName, "number", pr.Number, "error", err)
		} else {
			w.logger.Info("posted review comments", "repo", repo.FullName, "number", pr.Number, "count", len(comments))
		}
	}

	if w.cfg.AutoLabel && report.Analysis != nil {
		if labels := analysisLabels(report.Analysis); len(labels) > 0 {
			if err := w.gh.AddLabels(ctx, owner, name, pr.Number, labels); err != nil {
				w.logger.Error("failed to add labels", "repo", repo.FullName, "number", pr.Number, "error", err)
			} else {
				w.logger.Info("added labels", "repo", repo.FullName, "number", pr.Number, "labels", labels)
			}
		}
	}

	if err := w.gh.CreateComment(ctx, owner, name, pr.Number, summaryComment(len(files), report)); err != nil {
		w.logger.Error("failed to post summary comment", "repo", repo.FullName, "number", pr.Number, "error", err)
	}
	return &res, nil
}

// analysisLabels maps analysis flags to labels.
func analysisLabels(a *agent.Analysis) []string {
	var labels []string
	if a.HasSecurityIssues {
		labels = append(labels, LabelSecurity)
	}
	if a.ComplexityScore > complexityCeiling {
		labels = append(labels, LabelComplexity)
	}
	if a.HasPerformanceIssues {
		labels = append(labels, LabelPerformance)
	}
	if a.NeedsTests {
		labels = append(labels, LabelNeedsTests)
	}
	if a.NeedsDocumentation {
		labels = append(labels, LabelNeedsDocs)
	}
	return labels
}

// NeedsCode reports whether an issue asks for code to be written.
func NeedsCode(title, body string) bool {
	return codeRequest.MatchString(title + " " + body)
}

// HandleIssue runs code generation for issues asking for code and posts
// the suggestion. Issues that do not ask for code return a nil result.
func (w *Workflow) HandleIssue(ctx context.Context, ev github.IssuesEvent) (*agent.Result, error) {
	if !w.cfg.Enabled {
		return nil, ErrDisabled
	}
	repo, issue := ev.Repository, ev.Issue
	log := w.logger.With("repo", repo.FullName, "number", issue.Number, "action", ev.Action)
	log.Info("handling issue")
	if !w.cfg.CommentOnIssue || !NeedsCode(issue.Title, issue.Body) {
		return nil, nil
	}

	res, err := w.agent.Execute(ctx, agent.Task{
		Type: agent.CodeGeneration,
		Input: map[string]any{
			"prompt": issue.Title + "\n\n" + issue.Body,
		},
		Context: map[string]any{"repository": repo.FullName, "issueNumber": issue.Number},
	})
	if err != nil {
		w.failed.Add(1)
		log.Error("failed to handle issue", "error", err)
		return &res, fmt.Errorf("generating code for %s#%d: %w", repo.FullName, issue.Number, err)
	}

	var gen agent.Generated
	if err := decodeResult(res.Result, &gen); err != nil {
		w.failed.Add(1)
		return &res, fmt.Errorf("decoding generated code for %s#%d: %w", repo.FullName, issue.Number, err)
	}
	w.handled.Add(1)
	if gen.Code == "" {
		log.Info("agent returned no code")
		return &res, nil
	}
	if err := w.gh.CreateComment(ctx, repo.Owner.Login, repo.Name, issue.Number, codeComment(gen)); err != nil {
		log.Error("failed to post code suggestion", "error", err)
		return &res, nil
	}
	log.Info("posted code suggestion")
	return &res, nil
}

// HandlePush only records the push.
func (w *Workflow) HandlePush(_ context.Context, ev github.PushEvent) error {
	if !w.cfg.Enabled {
		return ErrDisabled
	}
	w.logger.Info("handling push", "repo", ev.Repository.FullName, "ref", ev.Ref, "commits", len(ev.Commits))
	w.handled.Add(1)
	return nil
}
