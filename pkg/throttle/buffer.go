package throttle

import "github.com/codeGROOVE-dev/playlock/pkg/dom"

// haveCurrentData is HTMLMediaElement.HAVE_CURRENT_DATA.
const haveCurrentData = 2

// TrimTarget returns the buffer target for a page showing n videos: busy
// grids keep less buffered.
func TrimTarget(target float64, n int) float64 {
	switch {
	case n >= 48:
		return max(6, target-4)
	case n >= 24:
		return max(8, target-2)
	}
	return target
}

// TrimSeek returns how far to skip forward for a video whose buffered lead
// over the play head is lead seconds. ok is false when the lead is within
// both target and hardMax. Skips are at most one second per call.
func TrimSeek(lead, target, hardMax float64) (skip float64, ok bool) {
	over := lead - target
	if over <= 0 && lead-hardMax <= 0 {
		return 0, false
	}
	return max(0.01, min(over, 1)), true
}

// TrimBuffers nudges every playing live video that has buffered too far
// ahead towards the live edge. It returns how many it moved.
func TrimBuffers(doc dom.Document, cfg Config) int {
	videos := doc.QueryAll("video")
	target := TrimTarget(cfg.BufferTarget, len(videos))
	moved := 0
	for _, v := range videos {
		if !dom.Playing(v) {
			continue
		}
		if rs, _ := v.Property("readyState"); rs < haveCurrentData {
			continue
		}
		end, ok := v.Property("bufferedEnd")
		if !ok {
			continue
		}
		cur, _ := v.Property("currentTime")
		skip, ok := TrimSeek(end-cur, target, cfg.BufferHardMax)
		if !ok {
			continue
		}
		if err := v.SetProperty("currentTime", cur+skip); err == nil {
			moved++
		}
	}
	return moved
}
