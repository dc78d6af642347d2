// Package main runs the webhook-to-agent relay server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeGROOVE-dev/playlock/pkg/agent"
	"github.com/codeGROOVE-dev/playlock/pkg/github"
	"github.com/codeGROOVE-dev/playlock/pkg/httpcache"
	"github.com/codeGROOVE-dev/playlock/pkg/relay"
	"github.com/codeGROOVE-dev/playlock/pkg/workflow"
)

var (
	port          = flag.String("port", "3000", "Port for the relay server (or set PORT)")
	githubToken   = flag.String("github-token", "", "GitHub API token (or set GITHUB_TOKEN)")
	backend       = flag.String("backend", "goose", "Agent backend: goose or gemini (or set AGENT_BACKEND)")
	gooseEndpoint = flag.String("goose-endpoint", "", "Goose server URL (or set GOOSE_ENDPOINT)")
	gooseAPIKey   = flag.String("goose-key", "", "Goose API key (or set GOOSE_API_KEY)")
	gooseModel    = flag.String("goose-model", "", "Goose model (or set GOOSE_MODEL)")
	geminiAPIKey  = flag.String("gemini-key", "", "Gemini API key (or set GEMINI_API_KEY)")
	geminiModel   = flag.String("gemini-model", agent.DefaultGeminiModel, "Gemini model to use (or set GEMINI_MODEL)")
	gcpProject    = flag.String("gcp-project", "", "GCP project ID (or set GCP_PROJECT)")
	cacheDir      = flag.String("cache-dir", "", "Cache directory (or set CACHE_DIR)")
	noCache       = flag.Bool("no-cache", false, "Disable caching of GitHub reads")
	async         = flag.Bool("async", false, "Acknowledge webhooks with 202 and handle them in the background")
	rateLimit     = flag.Int("rate-limit", 60, "API requests per minute per client")
	verbose       = flag.Bool("verbose", false, "Enable verbose logging")
	version       = flag.Bool("version", false, "Show version")
)

func envDefault(p *string, key string) {
	if *p == "" {
		*p = os.Getenv(key)
	}
}

func main() {
	// A missing .env is fine.
	_ = godotenv.Load() //nolint:errcheck // optional file
	flag.Parse()

	if *version {
		fmt.Println("playlock relay v1.0.0")
		return
	}

	level := slog.LevelInfo
	if *verbose || strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if p := os.Getenv("PORT"); p != "" && !isFlagSet("port") {
		*port = p
	}
	if b := os.Getenv("AGENT_BACKEND"); b != "" && !isFlagSet("backend") {
		*backend = b
	}
	if m := os.Getenv("GEMINI_MODEL"); m != "" && !isFlagSet("gemini-model") {
		*geminiModel = m
	}
	envDefault(githubToken, "GITHUB_TOKEN")
	envDefault(gooseEndpoint, "GOOSE_ENDPOINT")
	envDefault(gooseAPIKey, "GOOSE_API_KEY")
	envDefault(gooseModel, "GOOSE_MODEL")
	envDefault(geminiAPIKey, "GEMINI_API_KEY")
	envDefault(gcpProject, "GCP_PROJECT")
	envDefault(cacheDir, "CACHE_DIR")

	if *githubToken == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if token, err := exec.CommandContext(ctx, "gh", "auth", "token").Output(); err == nil {
			*githubToken = strings.TrimSpace(string(token))
		}
		cancel()
	}
	if *githubToken == "" {
		logger.Warn("no GitHub token; comments and labels will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("relay failed", "error", err)
		os.Exit(1)
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func newBackend(ctx context.Context, logger *slog.Logger) (agent.Backend, error) {
	switch *backend {
	case "goose":
		return agent.NewHTTPBackend(*gooseEndpoint,
			agent.WithAPIKey(*gooseAPIKey),
			agent.WithModel(*gooseModel),
			agent.WithBackendLogger(logger),
		), nil
	case "gemini":
		return agent.NewGeminiBackend(ctx, agent.GeminiConfig{
			APIKey:  *geminiAPIKey,
			Model:   *geminiModel,
			Project: *gcpProject,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("unknown agent backend %q", *backend)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	if *rateLimit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", *rateLimit)
	}
	b, err := newBackend(ctx, logger)
	if err != nil {
		return err
	}
	a := agent.New(b, agent.WithLogger(logger))
	if err := a.Initialize(ctx); err != nil {
		// Tasks retry initialization, so a backend that starts later is fine.
		logger.Warn("agent not ready yet", "error", err)
	}

	ghOpts := []github.Option{github.WithLogger(logger)}
	if !*noCache {
		dir := *cacheDir
		if dir == "" {
			if ucd, err := os.UserCacheDir(); err == nil {
				dir = filepath.Join(ucd, "playlock")
			}
		}
		cache, err := httpcache.New(ctx, dir, 5*time.Minute, logger)
		if err != nil {
			return fmt.Errorf("creating cache: %w", err)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("cache close failed", "error", err)
			}
		}()
		ghOpts = append(ghOpts, github.WithGetter(httpcache.NewClient(cache, &http.Client{Timeout: 30 * time.Second}, logger)))
	}
	gh := github.NewClient(*githubToken, ghOpts...)
	wf := workflow.New(a, gh, workflow.WithLogger(logger))

	srv := relay.New(a, wf,
		relay.WithLogger(logger),
		relay.WithAsync(*async),
		relay.WithRateLimit(*rateLimit, time.Minute),
		relay.WithBaseContext(ctx),
	)

	addr := ":" + strings.TrimPrefix(*port, ":")
	if _, err := strconv.Atoi(strings.TrimPrefix(addr, ":")); err != nil {
		return fmt.Errorf("invalid port %q", *port)
	}
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting relay server", "addr", addr, "backend", b.Name(), "async", *async)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	srv.Wait()
	a.Shutdown()
	return nil
}
