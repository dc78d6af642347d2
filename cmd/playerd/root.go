package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/codeGROOVE-dev/playlock/pkg/fullscreen"
	"github.com/codeGROOVE-dev/playlock/pkg/prefs"
	"github.com/codeGROOVE-dev/playlock/pkg/quality"
	"github.com/codeGROOVE-dev/playlock/pkg/throttle"
)

type options struct {
	configFile string
	dbPath     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "playerd",
		Short:         "Quality lock, in-window fullscreen and CPU relief for stream players",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&o.configFile, "config", os.Getenv("PLAYLOCK_CONFIG"), "YAML file with the quality table and tuning")
	root.PersistentFlags().StringVar(&o.dbPath, "db", os.Getenv("PLAYLOCK_DB"), "preferences database (default: user config dir)")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(watchCmd(o))
	root.AddCommand(scoreCmd(o))
	root.AddCommand(inspectCmd(o))
	root.AddCommand(historyCmd(o))
	return root
}

func (o *options) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (o *options) openPrefs(ctx context.Context) (*prefs.Store, error) {
	path := o.dbPath
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("finding config dir: %w", err)
		}
		dir = filepath.Join(dir, "playlock")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating config dir: %w", err)
		}
		path = filepath.Join(dir, "prefs.db")
	}
	return prefs.Open(ctx, path)
}

// config is the resolved runtime configuration.
type config struct {
	table    quality.Table
	throttle throttle.Config
	reentry  time.Duration
	lock     time.Duration
	overlay  time.Duration
}

type fileConfig struct {
	Quality    yaml.Node       `yaml:"quality"`
	Throttle   throttle.Config `yaml:"throttle"`
	Fullscreen struct {
		Reentry time.Duration `yaml:"reentry"`
		Lock    time.Duration `yaml:"lock"`
		Overlay time.Duration `yaml:"overlay"`
	} `yaml:"fullscreen"`
}

func defaultConfig() config {
	return config{
		table:    quality.DefaultTable,
		throttle: throttle.DefaultConfig(),
		reentry:  fullscreen.DefaultReentryDelay,
		lock:     fullscreen.DefaultLockDelay,
		overlay:  fullscreen.DefaultOverlayRetry,
	}
}

// loadConfig reads path over the defaults. Keys left out keep their default
// values; an empty path yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	var fc fileConfig
	fc.Throttle = cfg.throttle
	fc.Fullscreen.Reentry = cfg.reentry
	fc.Fullscreen.Lock = cfg.lock
	fc.Fullscreen.Overlay = cfg.overlay
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("decoding config %s: %w", path, err)
	}

	if fc.Quality.Kind != 0 {
		raw, err := yaml.Marshal(&fc.Quality)
		if err != nil {
			return cfg, fmt.Errorf("re-encoding quality table: %w", err)
		}
		if cfg.table, err = quality.LoadTable(bytes.NewReader(raw)); err != nil {
			return cfg, err
		}
	}
	if err := fc.Throttle.Validate(); err != nil {
		return cfg, fmt.Errorf("throttle config: %w", err)
	}
	if fc.Fullscreen.Reentry < 0 || fc.Fullscreen.Lock < 0 || fc.Fullscreen.Overlay < 0 {
		return cfg, fmt.Errorf("fullscreen delays must not be negative")
	}
	cfg.throttle = fc.Throttle
	cfg.reentry = fc.Fullscreen.Reentry
	cfg.lock = fc.Fullscreen.Lock
	cfg.overlay = fc.Fullscreen.Overlay
	return cfg, nil
}
