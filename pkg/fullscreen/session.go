// Package fullscreen promotes a page's video player to fill the browser
// window without the native fullscreen API, and hands the promoted player to
// the quality locker.
package fullscreen

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
	"github.com/codeGROOVE-dev/playlock/pkg/quality"
	"github.com/codeGROOVE-dev/playlock/pkg/sched"
)

// MarkerAttr is set on the promoted container while fullscreen is applied.
const MarkerAttr = "data-iwf-applied"

// Default timings.
const (
	DefaultReentryDelay = 5 * time.Second
	DefaultLockDelay    = 800 * time.Millisecond
	DefaultOverlayRetry = 400 * time.Millisecond
	DefaultVolume       = 1.0
)

// State is the session's position in the fullscreen lifecycle.
type State int

// Session states.
const (
	Inactive State = iota
	Active
	Cooldown // inactive, re-entry not yet allowed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Cooldown:
		return "cooldown"
	default:
		return "inactive"
	}
}

var (
	promoteKeys = []string{"position", "top", "left", "width", "height", "z-index", "background-color"}
	promote     = map[string]string{
		"position":         "fixed",
		"top":              "0",
		"left":             "0",
		"width":            "100vw",
		"height":           "100vh",
		"z-index":          "9999",
		"background-color": "black",
	}
	sizeKeys = []string{"width", "height"}
)

type snapshot struct {
	style      string
	overflow   string
	background string
}

// Session is the fullscreen state of one page. All methods are safe for
// concurrent use; triggers may arrive from timers and browser events on any
// goroutine.
type Session struct {
	ctx          context.Context
	doc          dom.Document
	sched        sched.Scheduler
	locker       *quality.Locker
	logger       *slog.Logger
	volume       func() float64
	reentryDelay time.Duration
	lockDelay    time.Duration
	overlayRetry time.Duration

	mu        sync.Mutex
	container dom.Element
	snap      snapshot
	reentryAt time.Time
	reapply   sched.Cancel
	reapplyID int
	lockTimer sched.Cancel
	// promotion counts promotions and exits; a lock started for one
	// promotion must not act after it ends.
	promotion  uint64
	lockCancel context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithLocker sets the quality locker driven after promotion.
func WithLocker(l *quality.Locker) Option {
	return func(s *Session) { s.locker = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithVolume sets the source of the volume applied once per promotion.
func WithVolume(fn func() float64) Option {
	return func(s *Session) { s.volume = fn }
}

// WithTimings overrides the re-entry cooldown, the delay before the first
// quality lock and the wait after clicking a play overlay.
func WithTimings(reentry, lock, overlay time.Duration) Option {
	return func(s *Session) {
		s.reentryDelay = reentry
		s.lockDelay = lock
		s.overlayRetry = overlay
	}
}

// New returns an inactive session for doc. ctx bounds every quality lock the
// session starts.
func New(ctx context.Context, doc dom.Document, s sched.Scheduler, opts ...Option) *Session {
	sess := &Session{
		ctx:          ctx,
		doc:          doc,
		sched:        s,
		logger:       slog.Default(),
		volume:       func() float64 { return DefaultVolume },
		reentryDelay: DefaultReentryDelay,
		lockDelay:    DefaultLockDelay,
		overlayRetry: DefaultOverlayRetry,
	}
	for _, opt := range opts {
		opt(sess)
	}
	if sess.locker == nil {
		sess.locker = quality.NewLocker(doc, s, quality.WithLogger(sess.logger))
	}
	return sess
}

// State reports the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.activeLocked():
		return Active
	case s.sched.Now().Before(s.reentryAt):
		return Cooldown
	default:
		return Inactive
	}
}

// Active reports whether fullscreen is applied.
func (s *Session) Active() bool {
	return s.State() == Active
}

// Container returns the promoted container, or nil while inactive.
func (s *Session) Container() dom.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return nil
	}
	return s.container
}

// ReentryAt returns when re-entry becomes allowed after the last exit.
func (s *Session) ReentryAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reentryAt
}

// Step tries to promote the player. It is the handler for every trigger
// (mutation, resize, load, re-entry timer) and is a no-op during the cooldown
// or when the player is already promoted. It reports whether it promoted.
func (s *Session) Step() bool {
	s.mu.Lock()
	if s.ctx.Err() != nil || s.sched.Now().Before(s.reentryAt) {
		s.mu.Unlock()
		return false
	}
	if c := FindContainer(s.doc); c != nil && dom.HasAttr(c, MarkerAttr) {
		s.mu.Unlock()
		return false
	}
	if s.applyLocked() {
		s.endPromotionLocked()
		gen := s.promotion
		lockCtx, cancel := context.WithCancel(s.ctx)
		s.lockCancel = cancel
		s.lockTimer = s.sched.After(s.lockDelay, func() { s.lockAndRelock(lockCtx, gen) })
		s.mu.Unlock()
		return true
	}
	overlay := FindPlayOverlay(s.doc)
	s.mu.Unlock()

	if overlay != nil {
		if err := overlay.Click(); err != nil {
			s.logger.Debug("play overlay click failed", "error", err)
		}
		s.sched.After(s.overlayRetry, func() { s.Step() })
	}
	return false
}

// HandleKey handles a user keydown. Escape while active exits fullscreen and
// starts the re-entry cooldown; every other case is a no-op returning false.
func (s *Session) HandleKey(key string) bool {
	if key != "Escape" {
		return false
	}
	s.mu.Lock()
	if !s.activeLocked() {
		s.mu.Unlock()
		return false
	}
	s.restoreLocked()
	s.endPromotionLocked()
	s.reentryAt = s.sched.Now().Add(s.reentryDelay)
	if s.reapply != nil {
		s.reapply()
	}
	s.reapplyID++
	id := s.reapplyID
	s.reapply = s.sched.After(s.reentryDelay, func() {
		s.mu.Lock()
		if s.reapplyID == id {
			s.reapply = nil
		}
		s.mu.Unlock()
		s.Step()
	})
	reentry := s.reentryAt
	s.mu.Unlock()

	s.locker.Stop()
	s.logger.Info("in-window fullscreen exited", "reentry_at", reentry)
	return true
}

// Resize re-asserts the viewport size while active and otherwise tries to
// promote.
func (s *Session) Resize() {
	s.mu.Lock()
	if s.activeLocked() {
		err := dom.SetStyle(s.container, sizeKeys, promote)
		s.mu.Unlock()
		if err != nil {
			s.logger.Debug("resize failed", "error", err)
		}
		return
	}
	s.mu.Unlock()
	s.Step()
}

// Close cancels pending timers and the relock loop. Styles are left as they
// are.
func (s *Session) Close() {
	s.mu.Lock()
	if s.reapply != nil {
		s.reapply()
		s.reapply = nil
	}
	s.endPromotionLocked()
	s.mu.Unlock()
	s.locker.Stop()
}

func (s *Session) activeLocked() bool {
	return s.container != nil && dom.HasAttr(s.container, MarkerAttr)
}

func (s *Session) applyLocked() bool {
	container := FindContainer(s.doc)
	vid := FindVideo(s.doc)
	if container == nil || vid == nil || dom.HasAttr(container, MarkerAttr) {
		return false
	}
	root, body := s.doc.Root(), s.doc.Body()
	s.snap = snapshot{
		style:      dom.AttrOr(container, "style", ""),
		overflow:   dom.StyleValue(root, "overflow"),
		background: dom.StyleValue(body, "background-color"),
	}
	if err := dom.SetStyle(container, promoteKeys, promote); err != nil {
		s.logger.Debug("promoting container failed", "error", err)
		return false
	}
	if err := dom.SetStyle(root, []string{"overflow"}, map[string]string{"overflow": "hidden"}); err != nil {
		s.logger.Debug("hiding overflow failed", "error", err)
	}
	if err := dom.SetStyle(body, []string{"background-color"}, map[string]string{"background-color": "black"}); err != nil {
		s.logger.Debug("setting backdrop failed", "error", err)
	}
	if err := container.SetAttr(MarkerAttr, "1"); err != nil {
		s.logger.Debug("marking container failed", "error", err)
		return false
	}
	s.container = container
	// once per promotion; later user changes are left alone
	v := s.volume()
	if err := vid.SetProperty("volume", v); err != nil {
		s.logger.Debug("setting volume failed", "error", err)
	}
	s.logger.Info("in-window fullscreen applied", "tag", container.Tag(), "volume", v)
	return true
}

func (s *Session) restoreLocked() {
	if err := dom.RestoreStyle(s.container, s.snap.style); err != nil {
		s.logger.Debug("restoring container style failed", "error", err)
	}
	root, body := s.doc.Root(), s.doc.Body()
	if err := dom.SetStyle(root, []string{"overflow"}, map[string]string{"overflow": s.snap.overflow}); err != nil {
		s.logger.Debug("restoring overflow failed", "error", err)
	}
	if err := dom.SetStyle(body, []string{"background-color"}, map[string]string{"background-color": s.snap.background}); err != nil {
		s.logger.Debug("restoring background failed", "error", err)
	}
	if err := s.container.RemoveAttr(MarkerAttr); err != nil {
		s.logger.Debug("unmarking container failed", "error", err)
	}
	s.container = nil
	s.snap = snapshot{}
}

// endPromotionLocked invalidates the lock work of the current promotion:
// the pending first lock, an attempt still polling the menu and the relock
// target.
func (s *Session) endPromotionLocked() {
	s.promotion++
	if s.lockTimer != nil {
		s.lockTimer()
		s.lockTimer = nil
	}
	if s.lockCancel != nil {
		s.lockCancel()
		s.lockCancel = nil
	}
}

// promoted returns the container while promotion gen is still current.
func (s *Session) promoted(gen uint64) dom.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.promotion != gen || !s.activeLocked() {
		return nil
	}
	return s.container
}

func (s *Session) lockAndRelock(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if s.promotion != gen {
		s.mu.Unlock()
		return
	}
	s.lockTimer = nil
	s.mu.Unlock()

	c := s.promoted(gen)
	if c == nil || ctx.Err() != nil {
		return
	}
	s.locker.LockOnce(ctx, c)

	// the user may have exited while the menu was polled
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.promotion != gen || !s.activeLocked() || ctx.Err() != nil {
		return
	}
	s.locker.Start(ctx, func() dom.Element { return s.promoted(gen) })
}
