package throttle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
	"github.com/codeGROOVE-dev/playlock/pkg/sched"
)

// Optimizer runs the relief, trim and stats loops of one page and hooks
// new videos into the stagger queue.
type Optimizer struct {
	doc      dom.Document
	sched    sched.Scheduler
	tuning   *Tuning
	throttle *Throttle
	queue    *Queue
	sampler  Sampler
	logger   *slog.Logger

	// OnStats receives a snapshot every stats period while the overlay is on.
	OnStats func(Stats)

	mu      sync.Mutex
	cancels []sched.Cancel
}

// NewOptimizer wires the optimiser for doc. A nil sampler spins in-process.
func NewOptimizer(doc dom.Document, s sched.Scheduler, tuning *Tuning, sampler Sampler, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	if sampler == nil {
		sampler = SpinSampler{Window: tuning.Snapshot().SpinWindow}
	}
	return &Optimizer{
		doc:      doc,
		sched:    s,
		tuning:   tuning,
		throttle: NewThrottle(doc, sampler, tuning, logger),
		queue:    NewQueue(s, tuning),
		sampler:  sampler,
		logger:   logger,
	}
}

// Throttle returns the relief controller.
func (o *Optimizer) Throttle() *Throttle { return o.throttle }

// Queue returns the stagger queue.
func (o *Optimizer) Queue() *Queue { return o.queue }

// Start begins the periodic loops. Calling it twice is a no-op.
func (o *Optimizer) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancels != nil {
		return
	}
	cfg := o.tuning.Snapshot()
	o.cancels = []sched.Cancel{
		o.sched.Every(cfg.ReliefPeriod, func() {
			// play() starts no mutation, so new starts are caught here
			o.Mutated()
			if err := o.throttle.Tick(ctx); err != nil && ctx.Err() == nil {
				o.logger.Debug("relief tick failed", "error", err)
			}
		}),
		o.sched.Every(cfg.TrimPeriod, func() {
			if n := TrimBuffers(o.doc, o.tuning.Snapshot()); n > 0 {
				o.logger.Debug("trimmed live buffers", "videos", n)
			}
		}),
		o.sched.Every(cfg.StatsPeriod, func() { o.stats(ctx) }),
	}
	o.Mutated()
}

// Mutated hooks videos added since the last call and staggers hooked
// videos the page has started since.
func (o *Optimizer) Mutated() {
	if n := HookVideos(o.doc, o.queue); n > 0 {
		o.logger.Debug("hooked videos", "count", n, "queued", o.queue.Len())
	}
}

// HandleKey applies a hotkey and logs the setting it changed.
func (o *Optimizer) HandleKey(k Key) (string, bool) {
	msg, ok := o.tuning.HandleKey(k)
	if ok {
		o.logger.Info("tuning changed", "setting", msg)
	}
	return msg, ok
}

// Stop cancels the loops and drops queued starts.
func (o *Optimizer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.cancels {
		c()
	}
	o.cancels = nil
	o.queue.Close()
}

func (o *Optimizer) stats(ctx context.Context) {
	if !o.tuning.Snapshot().Overlay || o.OnStats == nil {
		return
	}
	busy, err := o.sampler.Sample(ctx)
	if err != nil {
		return
	}
	o.OnStats(Collect(o.doc, busy))
}
