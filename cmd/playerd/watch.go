package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/playlock/pkg/dom/cdpdom"
	"github.com/codeGROOVE-dev/playlock/pkg/fullscreen"
	"github.com/codeGROOVE-dev/playlock/pkg/overlay"
	"github.com/codeGROOVE-dev/playlock/pkg/prefs"
	"github.com/codeGROOVE-dev/playlock/pkg/quality"
	"github.com/codeGROOVE-dev/playlock/pkg/sched"
	"github.com/codeGROOVE-dev/playlock/pkg/throttle"
)

type watchOptions struct {
	headless   bool
	profile    string
	preferH264 bool
	overlay    bool
}

func watchCmd(o *options) *cobra.Command {
	w := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch URL",
		Short: "Open URL in Chromium and keep its player fullscreen and at the best quality",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd.OutOrStdout(), o, w, args[0])
		},
	}
	cmd.Flags().BoolVar(&w.headless, "headless", false, "run Chromium without a window")
	cmd.Flags().StringVar(&w.profile, "profile", os.Getenv("PLAYLOCK_PROFILE"), "Chromium user data dir, keeps logins between runs")
	cmd.Flags().BoolVar(&w.preferH264, "prefer-h264", true, "hide AV1 and VP9 support from the page")
	cmd.Flags().BoolVar(&w.overlay, "overlay", false, "print player statistics periodically (toggle with Ctrl+Shift+O)")
	return cmd
}

// siteVolume holds the volume applied on promotion, persisted per host.
type siteVolume struct {
	bits  atomic.Uint64
	store *prefs.Store
	host  string
}

func newSiteVolume(ctx context.Context, store *prefs.Store, host string, logger *slog.Logger) *siteVolume {
	sv := &siteVolume{store: store, host: host}
	v := fullscreen.DefaultVolume
	saved, ok, err := store.Volume(ctx, host)
	switch {
	case err != nil:
		logger.Warn("reading saved volume failed", "host", host, "error", err)
	case ok:
		v = saved
		logger.Info("restoring saved volume", "host", host, "volume", v)
	}
	sv.bits.Store(math.Float64bits(v))
	return sv
}

func (sv *siteVolume) get() float64 { return math.Float64frombits(sv.bits.Load()) }

func (sv *siteVolume) set(ctx context.Context, v float64) error {
	if v < 0 || v > 1 || v == sv.get() {
		return nil
	}
	sv.bits.Store(math.Float64bits(v))
	return sv.store.SetVolume(ctx, sv.host, v)
}

func runWatch(ctx context.Context, out io.Writer, o *options, w *watchOptions, url string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := o.logger()
	cfg, err := loadConfig(o.configFile)
	if err != nil {
		return err
	}
	if w.overlay {
		cfg.throttle.Overlay = true
	}

	store, err := o.openPrefs(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing prefs failed", "error", err)
		}
	}()

	browser, err := cdpdom.NewBrowser(ctx, cdpdom.Options{
		Headless:    w.headless,
		UserDataDir: w.profile,
		PreferH264:  w.preferH264,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer browser.Close()

	tab, err := browser.Open(ctx, url)
	if err != nil {
		return fmt.Errorf("opening %s: %w", url, err)
	}
	defer tab.Close()

	s := sched.NewCron(logger)
	defer s.Stop()

	host, err := tab.Host()
	if err != nil {
		logger.Warn("reading page host failed", "error", err)
	}
	vol := newSiteVolume(ctx, store, host, logger)

	locker := quality.NewLocker(tab, s, quality.WithTable(cfg.table), quality.WithLogger(logger))
	sess := fullscreen.New(ctx, tab, s,
		fullscreen.WithLocker(locker),
		fullscreen.WithLogger(logger),
		fullscreen.WithVolume(vol.get),
		fullscreen.WithTimings(cfg.reentry, cfg.lock, cfg.overlay),
	)
	defer sess.Close()

	tuning := throttle.NewTuning(cfg.throttle)
	opt := throttle.NewOptimizer(tab, s, tuning, tab.Sampler(cfg.throttle.SpinWindow), logger)
	opt.OnStats = func(st throttle.Stats) {
		fmt.Fprintln(out, overlay.Stats(st, tuning.Snapshot()))
	}
	opt.Start(ctx)
	defer opt.Stop()

	lastSpace := ""
	visit := func() {
		path, err := tab.Path()
		if err != nil {
			return
		}
		id, ok := prefs.SpaceID(path)
		if !ok || id == lastSpace {
			return
		}
		lastSpace = id
		loc, _ := tab.Location() //nolint:errcheck // falls back to /space/<id>
		history, err := store.VisitSpace(ctx, id, prefs.SpaceName(tab), loc)
		if err != nil {
			logger.Warn("recording space visit failed", "space", id, "error", err)
			return
		}
		logger.Info("space visited", "space", id, "visits", history[0].AccessCount)
	}

	logger.Info("watching", "url", url, "host", host)
	visit()
	sess.Step()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tab.Done():
			logger.Info("tab closed")
			return nil
		case ev := <-tab.Events():
			switch ev.Type {
			case "mutation":
				opt.Mutated()
				sess.Step()
			case "load":
				visit()
				opt.Mutated()
				sess.Step()
			case "resize":
				sess.Resize()
			case "key":
				if msg, ok := opt.HandleKey(throttle.Key{Key: ev.Key, Ctrl: ev.Ctrl, Shift: ev.Shift}); ok {
					fmt.Fprintln(out, overlay.Flash(msg))
					continue
				}
				sess.HandleKey(ev.Key)
			case "volume":
				if err := vol.set(ctx, ev.Volume); err != nil {
					logger.Warn("saving volume failed", "host", host, "error", err)
				}
			default:
				logger.Debug("ignoring page event", "type", ev.Type)
			}
		}
	}
}
