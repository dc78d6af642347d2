// Package cdpdom implements dom.Document over a live Chromium tab driven
// through the DevTools protocol.
package cdpdom

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const bindingName = "__playlock"

var (
	//go:embed scripts/events.js
	eventsScript string
	//go:embed scripts/codec.js
	codecScript string
)

// Options configures the browser.
type Options struct {
	Headless    bool
	UserDataDir string // keeps logins between runs when set
	Width       int
	Height      int
	PreferH264  bool          // install the codec preference script
	CallTimeout time.Duration // per DOM call; 0 means 5s
	Logger      *slog.Logger
}

// Browser owns a Chromium process.
type Browser struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	opts     Options
	logger   *slog.Logger
}

// NewBrowser starts Chromium. The process exits when ctx is cancelled or
// Close is called.
func NewBrowser(ctx context.Context, opts Options) (*Browser, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 800
	}
	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	if opts.UserDataDir != "" {
		flags = append(flags, chromedp.UserDataDir(opts.UserDataDir))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, flags...)
	return &Browser{allocCtx: allocCtx, cancel: cancel, opts: opts, logger: opts.Logger}, nil
}

// Close stops the browser.
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// Event is something the page reported through the event binding.
type Event struct {
	Type   string  `json:"type"` // mutation, load, resize, key or volume
	Key    string  `json:"key,omitempty"`
	Ctrl   bool    `json:"ctrl,omitempty"`
	Shift  bool    `json:"shift,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

func decodeEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("decoding page event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("page event without type")
	}
	return ev, nil
}

// Open creates a tab, installs the page scripts and navigates to url.
func (b *Browser) Open(ctx context.Context, url string) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.allocCtx)
	t := &Tab{
		ctx:     tabCtx,
		cancel:  cancel,
		timeout: b.opts.CallTimeout,
		logger:  b.logger.With("url", url),
		events:  make(chan Event, 64),
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		e, ok := ev.(*runtime.EventBindingCalled)
		if !ok || e.Name != bindingName {
			return
		}
		pe, err := decodeEvent(e.Payload)
		if err != nil {
			t.logger.Debug("bad page event", "error", err)
			return
		}
		// never block the CDP reader; mutations coalesce anyway
		select {
		case t.events <- pe:
		default:
			t.logger.Debug("page event dropped", "type", pe.Type)
		}
	})

	scripts := []string{eventsScript}
	if b.opts.PreferH264 {
		scripts = append(scripts, codecScript)
	}
	actions := []chromedp.Action{
		runtime.Enable(),
		runtime.AddBinding(bindingName),
	}
	for _, src := range scripts {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(src).Do(ctx)
			return err
		}))
	}
	actions = append(actions,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tabCtx, actions...) }()
	select {
	case err := <-done:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("opening %s: %w", url, err)
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
	t.logger.Info("tab ready")
	return t, nil
}
