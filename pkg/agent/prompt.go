package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// replyShapes describes the JSON object each task type must answer with.
var replyShapes = map[string]string{
	CodeGeneration: `{"code": string, "language": string, "explanation": string}`,
	CodeAnalysis: `{"complexityScore": number from 1 to 10, "hasSecurityIssues": boolean,
 "hasPerformanceIssues": boolean, "needsTests": boolean, "needsDocumentation": boolean,
 "testCoverage": string, "summary": string}`,
	CodeReview: `{"comments": [{"file": string, "line": diff position as integer, "message": string,
 "suggestion": replacement code or "", "language": string}],
 "highlights": [{"type": "positive" or "concern", "message": string}]}`,
	ImprovementSuggestions:  `{"items": [{"title": string, "description": string}]}`,
	CodeRefactoring:         `{"code": string, "explanation": string}`,
	BugFixing:               `{"code": string, "fixes": [{"issue": string, "explanation": string}]}`,
	TestGeneration:          `{"code": string, "framework": string, "explanation": string}`,
	DocumentationGeneration: `{"documentation": string, "code": string}`,
}

// buildPrompt renders a request for a model without server-side sessions:
// the session context travels with every prompt.
func buildPrompt(req Request, sessionContext map[string]any) (string, error) {
	shape, ok := replyShapes[req.Type]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTask, req.Type)
	}
	input, err := json.MarshalIndent(req.Input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding task input: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are a senior software engineer acting as a coding agent.\n\n")
	fmt.Fprintf(&b, "TASK (%s): %s\n\n", req.Type, req.Description)
	if len(sessionContext) > 0 {
		ctx, err := json.MarshalIndent(sessionContext, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding session context: %w", err)
		}
		fmt.Fprintf(&b, "CONTEXT:\n%s\n\n", ctx)
	}
	if len(req.Parameters) > 0 {
		params, err := json.MarshalIndent(req.Parameters, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding task parameters: %w", err)
		}
		fmt.Fprintf(&b, "PARAMETERS:\n%s\n\n", params)
	}
	fmt.Fprintf(&b, "INPUT:\n%s\n\n", input)
	fmt.Fprintf(&b, "Reply with a single JSON object of this shape and nothing else:\n%s\n", shape)
	return b.String(), nil
}
