// Package throttle sheds playback load on pages that run many live videos:
// it lowers the playback rate while the CPU is saturated, trims live
// buffers, and staggers simultaneous starts.
package throttle

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Defaults of the media optimiser.
const (
	DefaultHigh          = 85.0
	DefaultLow           = 60.0
	DefaultReliefRate    = 0.92
	DefaultReliefPeriod  = 5 * time.Second
	DefaultSpinWindow    = 60 * time.Millisecond
	DefaultStaggerStep   = 250 * time.Millisecond
	DefaultBufferTarget  = 12.0
	DefaultBufferHardMax = 20.0
	DefaultTrimPeriod    = 8 * time.Second
	DefaultStatsPeriod   = time.Second

	minStaggerStep  = 100 * time.Millisecond
	maxStaggerStep  = time.Second
	minBufferTarget = 4.0
	maxBufferTarget = 30.0
	bufferStep      = 2.0
)

// Config is the set of knobs; the zero value is not useful, start from
// DefaultConfig.
type Config struct {
	Stagger       bool          `yaml:"stagger"`
	StaggerStep   time.Duration `yaml:"stagger_step"`
	BufferTarget  float64       `yaml:"buffer_target"`
	BufferHardMax float64       `yaml:"buffer_hard_max"`
	TrimPeriod    time.Duration `yaml:"trim_period"`
	Relief        bool          `yaml:"relief"`
	ReliefRate    float64       `yaml:"relief_rate"`
	ReliefPeriod  time.Duration `yaml:"relief_period"`
	High          float64       `yaml:"high"`
	Low           float64       `yaml:"low"`
	SpinWindow    time.Duration `yaml:"spin_window"`
	Overlay       bool          `yaml:"overlay"`
	StatsPeriod   time.Duration `yaml:"stats_period"`
}

// DefaultConfig returns the built-in settings: stagger and relief on,
// overlay off.
func DefaultConfig() Config {
	return Config{
		Stagger:       true,
		StaggerStep:   DefaultStaggerStep,
		BufferTarget:  DefaultBufferTarget,
		BufferHardMax: DefaultBufferHardMax,
		TrimPeriod:    DefaultTrimPeriod,
		Relief:        true,
		ReliefRate:    DefaultReliefRate,
		ReliefPeriod:  DefaultReliefPeriod,
		High:          DefaultHigh,
		Low:           DefaultLow,
		SpinWindow:    DefaultSpinWindow,
		StatsPeriod:   DefaultStatsPeriod,
	}
}

// Validate reports settings the optimiser cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Low > c.High:
		return fmt.Errorf("low threshold %.0f above high threshold %.0f", c.Low, c.High)
	case c.ReliefRate <= 0 || c.ReliefRate > 1:
		return fmt.Errorf("relief rate %.2f outside (0, 1]", c.ReliefRate)
	case c.ReliefPeriod <= 0 || c.TrimPeriod <= 0 || c.StatsPeriod <= 0:
		return fmt.Errorf("periods must be positive")
	case c.SpinWindow <= 0:
		return fmt.Errorf("spin window must be positive")
	case c.BufferHardMax <= 0:
		return fmt.Errorf("buffer hard max must be positive")
	}
	return nil
}

// Key is a keydown with its modifiers.
type Key struct {
	Key   string
	Ctrl  bool
	Shift bool
}

// Tuning is a Config that hotkeys adjust while pages are running.
type Tuning struct {
	mu  sync.Mutex
	cfg Config
}

// NewTuning wraps cfg.
func NewTuning(cfg Config) *Tuning {
	return &Tuning{cfg: cfg}
}

// Snapshot returns the current settings.
func (t *Tuning) Snapshot() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// StaggerStep returns the stagger step bounded to 100ms..1s.
func (t *Tuning) StaggerStep() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return min(max(t.cfg.StaggerStep, minStaggerStep), maxStaggerStep)
}

// HandleKey applies a Ctrl+Shift hotkey and returns the message to flash:
//
//	O  toggle overlay
//	S  toggle staggering
//	[  buffer target -2s (min 4s)
//	]  buffer target +2s (max 30s)
//	R  toggle CPU relief
//
// Other keys are ignored.
func (t *Tuning) HandleKey(k Key) (string, bool) {
	if !k.Ctrl || !k.Shift {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	// with Shift held most layouts report the braces
	switch strings.ToLower(k.Key) {
	case "o":
		t.cfg.Overlay = !t.cfg.Overlay
		return "Overlay: " + onOff(t.cfg.Overlay), true
	case "s":
		t.cfg.Stagger = !t.cfg.Stagger
		return "Stagger: " + onOff(t.cfg.Stagger), true
	case "[", "{":
		t.cfg.BufferTarget = max(minBufferTarget, t.cfg.BufferTarget-bufferStep)
		return fmt.Sprintf("Buffer target: %gs", t.cfg.BufferTarget), true
	case "]", "}":
		t.cfg.BufferTarget = min(maxBufferTarget, t.cfg.BufferTarget+bufferStep)
		return fmt.Sprintf("Buffer target: %gs", t.cfg.BufferTarget), true
	case "r":
		t.cfg.Relief = !t.cfg.Relief
		return "CPU relief: " + onOff(t.cfg.Relief), true
	}
	return "", false
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
