// Package overlay renders playerd's diagnostics for a terminal.
package overlay

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/codeGROOVE-dev/playlock/pkg/prefs"
	"github.com/codeGROOVE-dev/playlock/pkg/quality"
	"github.com/codeGROOVE-dev/playlock/pkg/throttle"
)

var (
	header = color.New(color.Bold)
	good   = color.New(color.FgGreen)
	warn   = color.New(color.FgYellow)
	bad    = color.New(color.FgRed)
	dim    = color.New(color.FgHiBlack)
)

// busyColor picks the colour for a CPU busy percentage relative to the
// relief thresholds.
func busyColor(busy, low, high float64) *color.Color {
	switch {
	case busy > high:
		return bad
	case busy < low:
		return good
	}
	return warn
}

// Stats renders a media snapshot like the in-page overlay, with colour.
func Stats(st throttle.Stats, cfg throttle.Config) string {
	var b strings.Builder
	b.WriteString(header.Sprint("📊 Media") + "\n")
	b.WriteString(strings.Repeat("─", 40) + "\n")
	fmt.Fprintf(&b, "CPU Busy: %s  Videos: %d\n",
		busyColor(st.Busy, cfg.Low, cfg.High).Sprintf("%.0f%%", st.Busy), st.Videos)

	bufs := make([]string, len(st.Buffers))
	for i, lead := range st.Buffers {
		c := good
		switch {
		case lead > cfg.BufferHardMax:
			c = bad
		case lead > cfg.BufferTarget:
			c = warn
		}
		bufs[i] = c.Sprintf("%.1f", lead)
	}
	fmt.Fprintf(&b, "Buffers: [%s]s  Avg: %.1fs\n", strings.Join(bufs, ", "), st.Avg)

	drops := make([]string, len(st.Dropped))
	for i, d := range st.Dropped {
		switch {
		case d < 0:
			drops[i] = dim.Sprint("N/A")
		case d >= 5:
			drops[i] = bad.Sprintf("%.1f%%", d)
		default:
			drops[i] = good.Sprintf("%.1f%%", d)
		}
	}
	fmt.Fprintf(&b, "Dropped: [%s]\n", strings.Join(drops, ", "))
	return b.String()
}

// Flash renders a one-line notice such as a hotkey confirmation.
func Flash(msg string) string {
	return warn.Sprint("» ") + msg
}

// ScoreRow is one label in a scoring table.
type ScoreRow struct {
	Label  string
	Active bool
	Score  float64
	OK     bool
}

// Scores renders the scoring of labels, marking the winner.
func Scores(rows []ScoreRow, winner int) string {
	var b strings.Builder
	b.WriteString(header.Sprint("🎚  Quality options") + "\n")
	b.WriteString(strings.Repeat("─", 40) + "\n")
	width := 5
	for _, r := range rows {
		width = max(width, len(r.Label))
	}
	for i, r := range rows {
		mark := "  "
		if i == winner {
			mark = good.Sprint("▶ ")
		}
		label := fmt.Sprintf("%-*s", width, r.Label)
		var score string
		switch {
		case !r.OK:
			label = dim.Sprint(label)
			score = dim.Sprint("rejected")
		case r.Score >= 10000:
			score = good.Sprintf("%8.1f", r.Score)
		default:
			score = fmt.Sprintf("%8.1f", r.Score)
		}
		active := ""
		if r.Active {
			active = warn.Sprint(" (active)")
		}
		fmt.Fprintf(&b, "%s%s %s%s\n", mark, label, score, active)
	}
	if winner < 0 {
		b.WriteString(bad.Sprint("no acceptable option") + "\n")
	}
	return b.String()
}

// ScoreLabels scores labels against table for Scores.
func ScoreLabels(table quality.Table, labels []string, active []bool) ([]ScoreRow, int) {
	rows := make([]ScoreRow, len(labels))
	for i, l := range labels {
		a := i < len(active) && active[i]
		s, ok := table.Score(l, a)
		rows[i] = ScoreRow{Label: l, Active: a, Score: s, OK: ok}
	}
	return rows, table.BestLabel(labels, active)
}

// Spaces renders the space visit history.
func Spaces(history []prefs.Space, now time.Time) string {
	if len(history) == 0 {
		return dim.Sprint("no spaces visited yet") + "\n"
	}
	var b strings.Builder
	b.WriteString(header.Sprint("🕘 Recent spaces") + "\n")
	b.WriteString(strings.Repeat("─", 40) + "\n")
	for i, sp := range history {
		ago := now.Sub(sp.LastAccessed).Round(time.Minute)
		fmt.Fprintf(&b, "%2d. %s %s %s\n", i+1, header.Sprint(sp.Name), dim.Sprint(sp.URL),
			dim.Sprintf("(%dx, %s ago)", sp.AccessCount, ago))
	}
	return b.String()
}
