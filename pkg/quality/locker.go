package quality

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
	"github.com/codeGROOVE-dev/playlock/pkg/sched"
)

// Default timings of the lock protocol.
const (
	DefaultRelockPeriod = 30 * time.Second
	DefaultGearRetry    = 250 * time.Millisecond
	DefaultPollInterval = 200 * time.Millisecond
	DefaultPollAttempts = 5
)

// Locker opens a player's quality menu, selects the best option and keeps
// re-selecting it, because live players drift back to "Auto".
type Locker struct {
	table        Table
	doc          dom.Document
	sched        sched.Scheduler
	logger       *slog.Logger
	sleep        func(context.Context, time.Duration) error
	period       time.Duration
	gearRetry    time.Duration
	pollInterval time.Duration
	pollAttempts int

	busy sync.Mutex // held while a menu is being driven

	mu   sync.Mutex
	stop sched.Cancel
}

// Option configures a Locker.
type Option func(*Locker)

// WithTable replaces the preference table.
func WithTable(t Table) Option {
	return func(l *Locker) { l.table = t }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

// WithRelockPeriod sets how often the choice is re-asserted.
func WithRelockPeriod(d time.Duration) Option {
	return func(l *Locker) { l.period = d }
}

// WithPolling sets the wait before rescanning for the gear and the menu
// polling cadence.
func WithPolling(gearRetry, interval time.Duration, attempts int) Option {
	return func(l *Locker) {
		l.gearRetry = gearRetry
		l.pollInterval = interval
		l.pollAttempts = attempts
	}
}

// WithSleep replaces the wait used between menu probes.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(l *Locker) { l.sleep = fn }
}

// NewLocker returns a Locker for doc.
func NewLocker(doc dom.Document, s sched.Scheduler, opts ...Option) *Locker {
	l := &Locker{
		table:        DefaultTable,
		doc:          doc,
		sched:        s,
		logger:       slog.Default(),
		sleep:        sleepCtx,
		period:       DefaultRelockPeriod,
		gearRetry:    DefaultGearRetry,
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenMenu finds the quality menu of container, clicking the settings
// control if the menu is not already open.
func (l *Locker) OpenMenu(ctx context.Context, container dom.Element) dom.Element {
	if container == nil {
		return nil
	}
	_ = container.Hover()
	gear := FindGear(container)
	if gear == nil {
		// controls often render only after the pointer moves
		if err := l.sleep(ctx, l.gearRetry); err != nil {
			return nil
		}
		_ = container.Hover()
		gear = FindGear(container)
	}
	if gear == nil {
		l.logger.Debug("no settings control found")
		return nil
	}
	if menu := FindMenu(container); menu != nil {
		return menu
	}
	if err := gear.Click(); err != nil {
		l.logger.Debug("settings click failed", "error", err)
	}
	for i := 0; i < l.pollAttempts; i++ {
		if err := l.sleep(ctx, l.pollInterval); err != nil {
			return nil
		}
		if menu := FindMenu(container); menu != nil {
			return menu
		}
	}
	l.logger.Debug("quality menu did not open", "attempts", l.pollAttempts)
	return nil
}

// LockOnce runs the full protocol once and reports the option it clicked.
// It returns false when the menu or a usable option could not be found, when
// ctx ends before the option is clicked, or when another lock attempt is
// already in flight.
func (l *Locker) LockOnce(ctx context.Context, container dom.Element) (Candidate, bool) {
	if !l.busy.TryLock() {
		return Candidate{}, false
	}
	defer l.busy.Unlock()

	menu := l.OpenMenu(ctx, container)
	if menu == nil || ctx.Err() != nil {
		return Candidate{}, false
	}
	best, ok := Best(l.table.Candidates(menu))
	if !ok {
		l.logger.Debug("no acceptable quality option")
		return Candidate{}, false
	}
	if err := best.Element.Click(); err != nil {
		l.logger.Debug("quality click failed", "label", best.Label, "error", err)
		return Candidate{}, false
	}
	if err := l.doc.DispatchKey("Escape"); err != nil {
		l.logger.Debug("closing menu failed", "error", err)
	}
	l.logger.Info("quality locked", "label", best.Label, "score", best.Score, "was_active", best.Active)
	return best, true
}

// Start begins the relock loop. target is consulted on every tick and
// returns nil while there is nothing to lock. Starting a running loop is a
// no-op.
func (l *Locker) Start(ctx context.Context, target func() dom.Element) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return
	}
	l.stop = l.sched.Every(l.period, func() {
		if ctx.Err() != nil {
			return
		}
		if c := target(); c != nil {
			l.LockOnce(ctx, c)
		}
	})
	l.logger.Debug("relock loop started", "period", l.period)
}

// Stop cancels the relock loop if it is running.
func (l *Locker) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop == nil {
		return
	}
	l.stop()
	l.stop = nil
	l.logger.Debug("relock loop stopped")
}

// Running reports whether the relock loop is active.
func (l *Locker) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop != nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
