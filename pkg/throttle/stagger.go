package throttle

import (
	"sync"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
	"github.com/codeGROOVE-dev/playlock/pkg/sched"
)

// HookedAttr marks videos the optimiser has already taken over.
const HookedAttr = "data-pl-hooked"

// Queue releases queued starts one per stagger step, so a grid of streams
// does not hit the network and the decoder at the same moment.
type Queue struct {
	sched  sched.Scheduler
	tuning *Tuning

	mu      sync.Mutex
	pending []func()
	timer   sched.Cancel
}

// NewQueue returns an empty queue.
func NewQueue(s sched.Scheduler, tuning *Tuning) *Queue {
	return &Queue{sched: s, tuning: tuning}
}

// Enqueue schedules start. With staggering off it runs immediately.
func (q *Queue) Enqueue(start func()) {
	if !q.staggering() {
		start()
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, start)
	if q.timer == nil {
		q.pumpLocked()
	}
}

func (q *Queue) staggering() bool {
	return q.tuning.Snapshot().Stagger
}

// Len returns the number of starts still waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close drops pending starts.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer()
		q.timer = nil
	}
	q.pending = nil
}

func (q *Queue) pumpLocked() {
	q.timer = q.sched.After(q.tuning.StaggerStep(), func() {
		q.mu.Lock()
		var next func()
		if len(q.pending) > 0 {
			next = q.pending[0]
			q.pending = q.pending[1:]
		}
		if len(q.pending) > 0 {
			q.pumpLocked()
		} else {
			q.timer = nil
		}
		q.mu.Unlock()
		if next != nil {
			next()
		}
	})
}

// HookVideos takes over videos not seen before: preload is set to auto
// unless the page asked for metadata only. On every call, hooked videos that
// started playing since the last call, whether already playing when first
// seen or started later by the page, are paused and re-started through q.
// It returns how many videos were newly hooked.
func HookVideos(doc dom.Document, q *Queue) int {
	hooked := 0
	for _, v := range doc.QueryAll("video") {
		state, seen := v.Attr(HookedAttr)
		if !seen {
			if err := v.SetAttr(HookedAttr, hookPaused); err != nil {
				continue
			}
			hooked++
			state = hookPaused
			if dom.AttrOr(v, "preload", "") != "metadata" {
				_ = v.SetAttr("preload", "auto")
			}
		}
		switch playing := dom.Playing(v); {
		case state == hookQueued:
		case !playing:
			if state != hookPaused {
				_ = v.SetAttr(HookedAttr, hookPaused)
			}
		case state == hookPaused:
			stagger(v, q)
		}
	}
	return hooked
}

// Values of HookedAttr.
const (
	hookPaused  = "1" // paused when last seen
	hookQueued  = "queued"
	hookPlaying = "playing"
)

func stagger(v dom.Element, q *Queue) {
	m, ok := v.(dom.Media)
	if !ok || !q.staggering() {
		_ = v.SetAttr(HookedAttr, hookPlaying)
		return
	}
	if err := m.Pause(); err != nil {
		return
	}
	_ = v.SetAttr(HookedAttr, hookQueued)
	q.Enqueue(func() {
		_ = v.SetAttr(HookedAttr, hookPlaying)
		// the page or the user may have started it meanwhile
		if p, _ := v.Property("paused"); p != 0 {
			_ = m.Play()
		}
	})
}
