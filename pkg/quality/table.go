// Package quality picks and re-asserts the best streaming quality in a
// player's settings menu.
package quality

import (
	"fmt"
	"io"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ActiveBonus is added to the currently selected option so that re-confirming
// it wins a tie against an equal-scoring alternative.
const ActiveBonus = 0.5

// Pref maps a label pattern to a score.
type Pref struct {
	Pattern *regexp.Regexp
	Score   float64
}

// Table is an ordered preference list plus a deny pattern.
type Table struct {
	Prefs []Pref
	Deny  *regexp.Regexp
}

var resolutionRe = regexp.MustCompile(`(?i)(\d{3,4})\s*p`)

// DefaultTable is the built-in preference table.
var DefaultTable = Table{
	Prefs: []Pref{
		{Pattern: regexp.MustCompile(`(?i)^(source|original)$`), Score: 10000},
		{Pattern: regexp.MustCompile(`(?i)2160|4320|8k|4k`), Score: 2160},
		{Pattern: regexp.MustCompile(`(?i)1440|2k`), Score: 1440},
		{Pattern: regexp.MustCompile(`(?i)1080`), Score: 1080},
		{Pattern: regexp.MustCompile(`(?i)720`), Score: 720},
		{Pattern: regexp.MustCompile(`(?i)480`), Score: 480},
		{Pattern: regexp.MustCompile(`(?i)high(est)?`), Score: 700},
	},
	Deny: regexp.MustCompile(`(?i)auto`),
}

// Score rates a label against DefaultTable.
func Score(label string, active bool) (float64, bool) {
	return DefaultTable.Score(label, active)
}

// Score rates a label. ok is false when the label is denied or nothing in
// the table (nor a literal NNNp resolution) matches it.
func (t Table) Score(label string, active bool) (score float64, ok bool) {
	if label == "" {
		return 0, false
	}
	if t.Deny != nil && t.Deny.MatchString(label) {
		return 0, false
	}
	score = -1
	for _, p := range t.Prefs {
		if p.Pattern.MatchString(label) && p.Score > score {
			score = p.Score
		}
	}
	if m := resolutionRe.FindStringSubmatch(label); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && float64(n) > score {
			score = float64(n)
		}
	}
	// unmatched labels are never chosen, even the active one
	if score < 0 {
		return 0, false
	}
	if active {
		score += ActiveBonus
	}
	return score, true
}

type tableFile struct {
	Prefs []struct {
		Pattern string  `yaml:"pattern"`
		Score   float64 `yaml:"score"`
	} `yaml:"prefs"`
	Deny *string `yaml:"deny"`
}

// LoadTable reads a YAML preference table. Patterns are matched
// case-insensitively. An omitted deny keeps the default "auto"; an empty one
// disables denial.
func LoadTable(r io.Reader) (Table, error) {
	var f tableFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return Table{}, fmt.Errorf("decoding quality table: %w", err)
	}
	if len(f.Prefs) == 0 {
		return Table{}, fmt.Errorf("quality table has no prefs")
	}
	t := Table{Deny: DefaultTable.Deny}
	for i, p := range f.Prefs {
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			return Table{}, fmt.Errorf("pref %d pattern %q: %w", i, p.Pattern, err)
		}
		t.Prefs = append(t.Prefs, Pref{Pattern: re, Score: p.Score})
	}
	if f.Deny != nil {
		t.Deny = nil
		if *f.Deny != "" {
			re, err := regexp.Compile("(?i)" + *f.Deny)
			if err != nil {
				return Table{}, fmt.Errorf("deny pattern %q: %w", *f.Deny, err)
			}
			t.Deny = re
		}
	}
	return t, nil
}
