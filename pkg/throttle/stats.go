package throttle

import (
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
)

// Stats is one diagnostic snapshot of a page's media.
type Stats struct {
	Busy    float64
	Videos  int
	Buffers []float64 // seconds buffered ahead, per video
	Avg     float64
	Dropped []float64 // dropped frame percentage per video, -1 when unknown
}

// Collect reads buffer and frame statistics of every video on the page.
func Collect(doc dom.Document, busy float64) Stats {
	videos := doc.QueryAll("video")
	st := Stats{Busy: busy, Videos: len(videos)}
	var sum float64
	for _, v := range videos {
		lead := 0.0
		if end, ok := v.Property("bufferedEnd"); ok {
			cur, _ := v.Property("currentTime")
			lead = end - cur
		}
		st.Buffers = append(st.Buffers, lead)
		sum += lead

		drop := -1.0
		total, _ := v.Property("totalVideoFrames")
		dropped, _ := v.Property("droppedVideoFrames")
		if total > 0 {
			drop = dropped * 100 / total
		}
		st.Dropped = append(st.Dropped, drop)
	}
	if len(videos) > 0 {
		st.Avg = sum / float64(len(videos))
	}
	return st
}

// String renders the snapshot as the plain-text overlay.
func (s Stats) String() string {
	bufs := make([]string, len(s.Buffers))
	for i, b := range s.Buffers {
		bufs[i] = fmt.Sprintf("%.1f", b)
	}
	drops := make([]string, len(s.Dropped))
	for i, d := range s.Dropped {
		drops[i] = "N/A"
		if d >= 0 {
			drops[i] = fmt.Sprintf("%.1f%%", d)
		}
	}
	return fmt.Sprintf("CPU Busy: %.0f%%  Videos: %d\nBuffers: [%s]s  Avg: %.1fs\nDropped: [%s]",
		s.Busy, s.Videos, strings.Join(bufs, ", "), s.Avg, strings.Join(drops, ", "))
}
