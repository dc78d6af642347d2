package overlay

import (
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/codeGROOVE-dev/playlock/pkg/prefs"
	"github.com/codeGROOVE-dev/playlock/pkg/quality"
	"github.com/codeGROOVE-dev/playlock/pkg/throttle"
)

func init() {
	color.NoColor = true
}

func TestStats(t *testing.T) {
	st := throttle.Stats{Busy: 91, Videos: 2, Buffers: []float64{3, 25}, Avg: 14, Dropped: []float64{1.5, -1}}
	got := Stats(st, throttle.DefaultConfig())
	for _, want := range []string{
		"CPU Busy: 91%  Videos: 2",
		"Buffers: [3.0, 25.0]s  Avg: 14.0s",
		"Dropped: [1.5%, N/A]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Stats output missing %q:\n%s", want, got)
		}
	}
}

func TestScores(t *testing.T) {
	labels := []string{"Auto", "480p", "Source", "720p"}
	rows, winner := ScoreLabels(quality.DefaultTable, labels, []bool{true, false, false, true})
	if winner != 2 {
		t.Fatalf("winner = %d, want Source", winner)
	}
	if rows[0].OK || !rows[3].Active || rows[3].Score != 720.5 {
		t.Errorf("rows = %+v", rows)
	}
	out := Scores(rows, winner)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 6 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[4], "▶ Source") {
		t.Errorf("winner line = %q", lines[4])
	}
	if !strings.Contains(lines[2], "rejected") {
		t.Errorf("Auto line = %q", lines[2])
	}
	if !strings.Contains(Scores(nil, -1), "no acceptable option") {
		t.Error("empty scoring did not report failure")
	}
}

func TestSpaces(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	out := Spaces([]prefs.Space{{ID: "a", Name: "Alpha", URL: "/space/a", LastAccessed: now.Add(-90 * time.Minute), AccessCount: 3}}, now)
	if !strings.Contains(out, " 1. Alpha /space/a (3x, 1h30m0s ago)") {
		t.Errorf("Spaces =\n%s", out)
	}
	if !strings.Contains(Spaces(nil, now), "no spaces") {
		t.Error("empty history not reported")
	}
}
