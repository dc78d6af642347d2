package quality

import (
	"regexp"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
)

// ItemSelector matches the descendants of a menu that may be quality options.
const ItemSelector = `button, li, [role="menuitem"], [role="option"], span, div`

var activeClassRe = regexp.MustCompile(`(?i)active|selected|current`)

// Candidate is one scored option of a quality menu.
type Candidate struct {
	Element dom.Element
	Label   string
	Active  bool
	Score   float64
}

// IsActive reports whether el looks like the currently selected option.
func IsActive(el dom.Element) bool {
	if dom.AttrOr(el, "aria-checked", "") == "true" {
		return true
	}
	return activeClassRe.MatchString(dom.AttrOr(el, "class", ""))
}

// Candidates scores every labelled option under menu, in document order.
// Options the table rejects are dropped.
func (t Table) Candidates(menu dom.Element) []Candidate {
	if menu == nil {
		return nil
	}
	var out []Candidate
	for _, el := range menu.QueryAll(ItemSelector) {
		label := dom.TrimmedText(el)
		if label == "" {
			continue
		}
		active := IsActive(el)
		score, ok := t.Score(label, active)
		if !ok {
			continue
		}
		out = append(out, Candidate{Element: el, Label: label, Active: active, Score: score})
	}
	return out
}

// Best returns the highest-scoring candidate. Ties go to the first one.
func Best(cands []Candidate) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range cands {
		if !found || c.Score > best.Score {
			best = c
			found = true
		}
	}
	return best, found
}

// BestLabel is Best over bare labels; active marks which labels are the
// current selection. It returns the index of the winner, or -1.
func (t Table) BestLabel(labels []string, active []bool) int {
	winner := -1
	var top float64
	for i, l := range labels {
		s, ok := t.Score(l, i < len(active) && active[i])
		if !ok {
			continue
		}
		if winner < 0 || s > top {
			winner, top = i, s
		}
	}
	return winner
}
