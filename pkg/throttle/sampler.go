package throttle

import (
	"context"
	"time"
)

// Sampler estimates how busy the CPU is, as a percentage in [0, 100].
type Sampler interface {
	Sample(ctx context.Context) (float64, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (float64, error)

// Sample implements Sampler.
func (f SamplerFunc) Sample(ctx context.Context) (float64, error) { return f(ctx) }

// SpinSampler busy-waits for Window and reports how far the wait overran:
// a thread that is starved of CPU finishes the spin late.
type SpinSampler struct {
	Window time.Duration
	now    func() time.Time
}

// Sample implements Sampler. It blocks the calling goroutine for at least
// Window.
func (s SpinSampler) Sample(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	window := s.Window
	if window <= 0 {
		window = DefaultSpinWindow
	}
	now := s.now
	if now == nil {
		now = time.Now
	}
	start := now()
	for now().Sub(start) < window {
	}
	return Busy(now().Sub(start), window), nil
}

// Busy converts a spin that was meant to take window and took elapsed into
// a busy percentage.
func Busy(elapsed, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	pct := (float64(elapsed)/float64(window) - 1) * 100
	return min(max(pct, 0), 100)
}
