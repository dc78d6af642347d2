package agent

import (
	"encoding/json"
	"time"
)

// Task types the agent understands.
const (
	CodeGeneration          = "code_generation"
	CodeAnalysis            = "code_analysis"
	CodeRefactoring         = "code_refactoring"
	BugFixing               = "bug_fixing"
	TestGeneration          = "test_generation"
	DocumentationGeneration = "documentation_generation"
	CodeReview              = "code_review"
	ImprovementSuggestions  = "improvement_suggestions"
	PRAnalysis              = "pr_analysis"
)

// Task is a unit of work as received from callers. Input holds the
// task-specific fields; Context describes where the work comes from.
type Task struct {
	Type    string         `json:"type"`
	Input   map[string]any `json:"input"`
	Context map[string]any `json:"context,omitempty"`
}

// Request is what a backend executes inside a session.
type Request struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Input       map[string]any `json:"input"`
	Parameters  map[string]any `json:"parameters"`
}

// Result is the outcome of Agent.Execute.
type Result struct {
	Success   bool      `json:"success"`
	Agent     string    `json:"agent"`
	TaskType  string    `json:"taskType"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Analysis is the code_analysis output the relay acts on.
type Analysis struct {
	ComplexityScore      float64 `json:"complexityScore,omitempty"`
	HasSecurityIssues    bool    `json:"hasSecurityIssues"`
	HasPerformanceIssues bool    `json:"hasPerformanceIssues"`
	NeedsTests           bool    `json:"needsTests"`
	NeedsDocumentation   bool    `json:"needsDocumentation"`
	TestCoverage         string  `json:"testCoverage,omitempty"`
	Summary              string  `json:"summary,omitempty"`
}

// ReviewNote is one inline finding of a code review.
type ReviewNote struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Language   string `json:"language,omitempty"`
}

// Highlight is a review remark; Type is "positive" or anything else.
type Highlight struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Review is the code_review output.
type Review struct {
	Comments   []ReviewNote `json:"comments,omitempty"`
	Highlights []Highlight  `json:"highlights,omitempty"`
}

// Suggestion is one improvement suggestion.
type Suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Suggestions is the improvement_suggestions output.
type Suggestions struct {
	Items []Suggestion `json:"items,omitempty"`
}

// PRReport is the pr_analysis output.
type PRReport struct {
	Analysis    *Analysis    `json:"analysis,omitempty"`
	Review      *Review      `json:"review,omitempty"`
	Suggestions *Suggestions `json:"suggestions,omitempty"`
	SessionID   string       `json:"sessionId"`
}

// Generated is the code_generation output.
type Generated struct {
	Code        string `json:"code,omitempty"`
	Language    string `json:"language,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// PRFile is a changed file handed to pr_analysis.
type PRFile struct {
	Path   string `json:"path"`
	Patch  string `json:"content"`
	Status string `json:"status,omitempty"`
}

// PRInput is the input of a pr_analysis task.
type PRInput struct {
	Repository  string   `json:"repository"`
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	Branch      string   `json:"branch"`
	BaseBranch  string   `json:"baseBranch"`
	Files       []PRFile `json:"files"`
}

// Status describes the agent for the status endpoints.
type Status struct {
	Name          string   `json:"name"`
	DisplayName   string   `json:"displayName"`
	Version       string   `json:"version"`
	Backend       string   `json:"backend"`
	Initialized   bool     `json:"initialized"`
	Enabled       bool     `json:"enabled"`
	Healthy       bool     `json:"healthy"`
	Capabilities  []string `json:"capabilities"`
	Connected     bool     `json:"connected"`
	SessionActive bool     `json:"sessionActive"`
}

// decodeInto converts a loosely typed value (a map from a JSON request or
// a backend reply) into out.
func decodeInto(v, out any) error {
	var b []byte
	switch x := v.(type) {
	case json.RawMessage:
		b = x
	case []byte:
		b = x
	default:
		var err error
		if b, err = json.Marshal(v); err != nil {
			return err
		}
	}
	return json.Unmarshal(b, out)
}
