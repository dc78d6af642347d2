package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
)

// Action is what a relief evaluation asks of the page's media.
type Action int

// Relief actions.
const (
	Hold    Action = iota // between thresholds
	Relieve               // cap playback rate
	Restore               // back to normal speed
)

func (a Action) String() string {
	switch a {
	case Relieve:
		return "relieve"
	case Restore:
		return "restore"
	default:
		return "hold"
	}
}

// Throttle lowers the playback rate of a page's playing media while the CPU
// is saturated. The thresholds are strict: a sample exactly on either one
// changes nothing.
type Throttle struct {
	doc     dom.Document
	sampler Sampler
	tuning  *Tuning
	logger  *slog.Logger

	mu       sync.Mutex
	relieved bool
	last     float64
}

// NewThrottle returns a Throttle for doc. A nil logger means slog.Default().
func NewThrottle(doc dom.Document, sampler Sampler, tuning *Tuning, logger *slog.Logger) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttle{doc: doc, sampler: sampler, tuning: tuning, logger: logger}
}

// Relieved reports whether relief is in effect.
func (t *Throttle) Relieved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.relieved
}

// LastSample returns the most recent busy estimate.
func (t *Throttle) LastSample() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Evaluate feeds one busy sample into the hysteresis and returns the action
// for it, plus whether the relief state flipped.
func (t *Throttle) Evaluate(busy float64) (Action, bool) {
	cfg := t.tuning.Snapshot()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = busy
	switch {
	case busy > cfg.High:
		flipped := !t.relieved
		t.relieved = true
		return Relieve, flipped
	case busy < cfg.Low:
		flipped := t.relieved
		t.relieved = false
		return Restore, flipped
	}
	return Hold, false
}

// Tick samples the CPU once and applies the resulting action. It does
// nothing while relief is switched off.
func (t *Throttle) Tick(ctx context.Context) error {
	cfg := t.tuning.Snapshot()
	if !cfg.Relief {
		return nil
	}
	busy, err := t.sampler.Sample(ctx)
	if err != nil {
		return fmt.Errorf("sampling cpu: %w", err)
	}
	action, flipped := t.Evaluate(busy)
	n := ApplyRate(t.doc, action, cfg.ReliefRate)
	if flipped {
		t.logger.Info("cpu relief changed", "action", action, "busy", busy, "media", n)
	} else if n > 0 {
		t.logger.Debug("cpu relief applied", "action", action, "busy", busy, "media", n)
	}
	return nil
}

// ApplyRate sets the playback rate of every playing video for action and
// returns how many it changed. Relieve only lowers rates above rate;
// Restore only raises rates below 1.
func ApplyRate(doc dom.Document, action Action, rate float64) int {
	if action == Hold {
		return 0
	}
	changed := 0
	for _, v := range doc.QueryAll("video") {
		if !dom.Playing(v) {
			continue
		}
		cur, ok := v.Property("playbackRate")
		if !ok {
			cur = 1
		}
		target := cur
		switch action {
		case Relieve:
			if cur > rate {
				target = rate
			}
		case Restore:
			if cur < 1 {
				target = 1
			}
		}
		if target == cur {
			continue
		}
		if err := v.SetProperty("playbackRate", target); err == nil {
			changed++
		}
	}
	return changed
}
