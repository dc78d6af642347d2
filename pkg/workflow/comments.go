package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"

	"github.com/codeGROOVE-dev/playlock/pkg/agent"
	"github.com/codeGROOVE-dev/playlock/pkg/github"
)

const (
	maxSummarySuggestions = 5
	footer                = "\n---\n*This review was automatically generated by Goose AI. Please review the suggestions and apply them as appropriate.*"
)

var (
	htmlTag   = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9]*(\s[^>]*)?>`)
	sanitizer = bluemonday.UGCPolicy()
)

// markdown converts agent text that came back as HTML, after stripping
// anything GitHub would not render. Plain text and Markdown pass through.
func markdown(s string) string {
	if !htmlTag.MatchString(s) {
		return s
	}
	out, err := md.ConvertString(sanitizer.Sanitize(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(out)
}

func decodeResult(v, out any) error {
	var b []byte
	switch x := v.(type) {
	case json.RawMessage:
		b = x
	case nil:
		return fmt.Errorf("empty result")
	default:
		var err error
		if b, err = json.Marshal(v); err != nil {
			return err
		}
	}
	return json.Unmarshal(b, out)
}

func fence(lang, code string) string {
	if lang == "" {
		lang = "javascript"
	}
	return "```" + lang + "\n" + code + "\n```"
}

// reviewComments renders at most limit inline comments. Notes without a
// file or diff position cannot be anchored and are dropped.
func reviewComments(notes []agent.ReviewNote, limit int) []github.ReviewComment {
	var out []github.ReviewComment
	for _, n := range notes {
		if len(out) == limit {
			break
		}
		if n.File == "" || n.Line <= 0 {
			continue
		}
		body := "🦢 **Goose Review**\n\n" + markdown(n.Message) + "\n\n"
		if n.Suggestion != "" {
			body += "**Suggestion:**\n" + fence(n.Language, n.Suggestion)
		}
		out = append(out, github.ReviewComment{Path: n.File, Position: n.Line, Body: body})
	}
	return out
}

func yesNo(issue bool) string {
	if issue {
		return "⚠️ Yes"
	}
	return "✅ None detected"
}

// summaryComment renders the pull request summary.
func summaryComment(filesChanged int, r *agent.PRReport) string {
	var b strings.Builder
	b.WriteString("## 🦢 Goose AI Review\n\n")

	if a := r.Analysis; a != nil {
		complexity := "N/A"
		if a.ComplexityScore > 0 {
			complexity = fmt.Sprintf("%g", a.ComplexityScore)
		}
		coverage := a.TestCoverage
		if coverage == "" {
			coverage = "Unknown"
		}
		b.WriteString("### Analysis Summary\n\n")
		fmt.Fprintf(&b, "- **Files Changed:** %d\n", filesChanged)
		fmt.Fprintf(&b, "- **Complexity Score:** %s/10\n", complexity)
		fmt.Fprintf(&b, "- **Security Issues:** %s\n", yesNo(a.HasSecurityIssues))
		fmt.Fprintf(&b, "- **Performance Issues:** %s\n", yesNo(a.HasPerformanceIssues))
		fmt.Fprintf(&b, "- **Test Coverage:** %s\n\n", coverage)
		if a.Summary != "" {
			b.WriteString(markdown(a.Summary) + "\n\n")
		}
	}

	if r.Review != nil && len(r.Review.Highlights) > 0 {
		b.WriteString("### Review Highlights\n\n")
		for _, h := range r.Review.Highlights {
			mark := "⚠️"
			if h.Type == "positive" {
				mark = "✅"
			}
			fmt.Fprintf(&b, "%s %s\n", mark, markdown(h.Message))
		}
		b.WriteString("\n")
	}

	if s := r.Suggestions; s != nil && len(s.Items) > 0 {
		b.WriteString("### Improvement Suggestions\n\n")
		for i, item := range s.Items {
			if i == maxSummarySuggestions {
				break
			}
			fmt.Fprintf(&b, "%d. **%s**\n   %s\n\n", i+1, item.Title, markdown(item.Description))
		}
		if extra := len(s.Items) - maxSummarySuggestions; extra > 0 {
			fmt.Fprintf(&b, "*... and %d more suggestions*\n\n", extra)
		}
	}

	b.WriteString(footer)
	return b.String()
}

// codeComment renders a code suggestion for an issue.
func codeComment(g agent.Generated) string {
	var b strings.Builder
	b.WriteString("## 🦢 Goose Code Suggestion\n\n")
	b.WriteString("Here's a code implementation based on your request:\n\n")
	b.WriteString(fence(g.Language, g.Code) + "\n\n")
	if g.Explanation != "" {
		b.WriteString("**Explanation:**\n" + markdown(g.Explanation) + "\n\n")
	}
	b.WriteString("---\n*This code was automatically generated by Goose AI. Please review and test before using.*")
	return b.String()
}
