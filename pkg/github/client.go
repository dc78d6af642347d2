// Package github is a small REST client for the parts of the GitHub API the
// relay needs, plus the webhook payload types it consumes.
package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// Doer performs HTTP requests. *http.Client and *httpcache.Client both
// satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides methods for interacting with the GitHub API.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	getter     Doer // used for GETs, usually a caching wrapper of httpClient
	token      string
	baseURL    string
	userAgent  string
	retryDelay time.Duration
	attempts   uint
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithGetter routes GET requests through d, typically an httpcache.Client.
func WithGetter(d Doer) Option {
	return func(c *Client) { c.getter = d }
}

// WithRetry sets the GET retry attempts and initial delay.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.retryDelay = delay
	}
}

// NewClient creates a new GitHub API client.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		logger:     slog.Default(),
		httpClient: defaultHTTPClient(),
		token:      token,
		baseURL:    DefaultBaseURL,
		userAgent:  "playlock-relay/1.0",
		retryDelay: time.Second,
		attempts:   5,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.getter == nil {
		c.getter = c.httpClient
	}
	if token != "" && !isValidGitHubToken(token) {
		c.logger.Warn("GitHub token has an unrecognised format")
	}
	return c
}

// Configured reports whether the client has a token to write with.
func (c *Client) Configured() bool { return c.token != "" }

// isValidGitHubToken checks if a token looks valid (basic check).
func isValidGitHubToken(token string) bool {
	// Fine-grained: github_pat_, OAuth: gho_, App: ghs_, personal: ghp_
	if strings.HasPrefix(token, "github_pat_") ||
		strings.HasPrefix(token, "gho_") ||
		strings.HasPrefix(token, "ghs_") ||
		strings.HasPrefix(token, "ghp_") {
		return true
	}

	// Classic tokens are 40 hex chars
	if len(token) != 40 {
		return false
	}
	for _, c := range token {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil && body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	return req, nil
}

// getWithRetry performs a GET with exponential backoff and jitter. Rate
// limiting is not retried.
func (c *Client) getWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	start := time.Now()
	var resp *http.Response
	var lastErr error

	err := retry.Do(
		func() error {
			var err error
			resp, err = c.getter.Do(req.Clone(ctx))
			if err != nil {
				c.logger.Warn("GitHub request failed", "url", req.URL.String(), "error", err)
				lastErr = err
				return err
			}

			if resp.StatusCode == http.StatusTooManyRequests ||
				(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
				drain(c.logger, resp)
				lastErr = fmt.Errorf("rate limited by GitHub: %d", resp.StatusCode)
				return retry.Unrecoverable(lastErr)
			}

			if resp.StatusCode >= 500 {
				drain(c.logger, resp)
				lastErr = fmt.Errorf("server error from GitHub: %d", resp.StatusCode)
				return lastErr
			}
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(2*time.Minute),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("retrying GitHub request", "url", req.URL.String(), "attempt", n+1, "error", err)
		}),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		c.logger.Error("GitHub request failed after retries", "url", req.URL.String(), "error", lastErr, "duration", time.Since(start))
		if lastErr == nil {
			lastErr = err
		}
		return nil, lastErr
	}
	return resp, nil
}

func drain(logger *slog.Logger, resp *http.Response) {
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		logger.Debug("failed to drain response body", "error", err)
	}
	if err := resp.Body.Close(); err != nil {
		logger.Debug("failed to close response body", "error", err)
	}
}
