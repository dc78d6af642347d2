package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// DefaultEndpoint is where a local goose server listens.
	DefaultEndpoint = "http://localhost:8080"
	// DefaultModel is sent when no model is configured.
	DefaultModel = "goose-default"

	maxReplyBytes = 10 << 20
)

// HTTPBackend talks to a goose agent server over JSON/HTTP.
type HTTPBackend struct {
	client      *http.Client
	logger      *slog.Logger
	endpoint    string
	apiKey      string
	model       string
	userAgent   string
	temperature float64
	maxTokens   int
	attempts    uint
	retryDelay  time.Duration
}

// HTTPOption configures an HTTPBackend.
type HTTPOption func(*HTTPBackend)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(b *HTTPBackend) { b.apiKey = key }
}

// WithModel selects the model named in new sessions.
func WithModel(model string) HTTPOption {
	return func(b *HTTPBackend) {
		if model != "" {
			b.model = model
		}
	}
}

// WithHTTPClient replaces the HTTP client; its timeout bounds every call.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) { b.client = c }
}

// WithBackendLogger sets the backend's logger.
func WithBackendLogger(l *slog.Logger) HTTPOption {
	return func(b *HTTPBackend) { b.logger = l }
}

// WithHealthRetry sets retry attempts and initial delay for health checks.
func WithHealthRetry(attempts uint, delay time.Duration) HTTPOption {
	return func(b *HTTPBackend) {
		b.attempts = attempts
		b.retryDelay = delay
	}
}

// NewHTTPBackend creates a backend for the goose server at endpoint.
func NewHTTPBackend(endpoint string, opts ...HTTPOption) *HTTPBackend {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	b := &HTTPBackend{
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
		endpoint:    strings.TrimRight(endpoint, "/"),
		model:       DefaultModel,
		userAgent:   "playlock-relay/1.0",
		temperature: 0.2,
		maxTokens:   4096,
		attempts:    3,
		retryDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements Backend.
func (*HTTPBackend) Name() string { return "goose-http" }

func (b *HTTPBackend) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", b.userAgent)
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	return req, nil
}

// Health implements Backend. Transient failures are retried.
func (b *HTTPBackend) Health(ctx context.Context) error {
	return retry.Do(
		func() error {
			req, err := b.newRequest(ctx, http.MethodGet, "/health", http.NoBody)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := b.client.Do(req)
			if err != nil {
				return err
			}
			defer func() {
				if err := resp.Body.Close(); err != nil {
					b.logger.Debug("failed to close response body", "error", err)
				}
			}()
			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("health check returned %d", resp.StatusCode)
				if resp.StatusCode < 500 {
					return retry.Unrecoverable(err)
				}
				return err
			}
			return nil
		},
		retry.Attempts(b.attempts),
		retry.Delay(b.retryDelay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("retrying goose health check", "attempt", n+1, "error", err)
		}),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

// StartSession implements Backend.
func (b *HTTPBackend) StartSession(ctx context.Context, sessionContext map[string]any) (string, error) {
	if sessionContext == nil {
		sessionContext = map[string]any{}
	}
	var reply struct {
		SessionID string `json:"sessionId"`
	}
	err := b.post(ctx, "/session/start", map[string]any{
		"context":     sessionContext,
		"model":       b.model,
		"temperature": b.temperature,
		"maxTokens":   b.maxTokens,
	}, &reply)
	if err != nil {
		return "", err
	}
	if reply.SessionID == "" {
		return "", fmt.Errorf("session start returned no session id")
	}
	return reply.SessionID, nil
}

// EndSession implements Backend.
func (b *HTTPBackend) EndSession(ctx context.Context, sessionID string) error {
	return b.post(ctx, "/session/end", map[string]string{"sessionId": sessionID}, nil)
}

// Execute implements Backend.
func (b *HTTPBackend) Execute(ctx context.Context, sessionID string, req Request) (json.RawMessage, error) {
	var raw json.RawMessage
	err := b.post(ctx, "/task/execute", map[string]any{
		"sessionId": sessionID,
		"task":      req,
	}, &raw)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// post sends one request; these calls change server state and are not
// retried.
func (b *HTTPBackend) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}
	req, err := b.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			b.logger.Debug("failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fmt.Errorf("reading %s reply: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s reply: %w", path, err)
	}
	return nil
}
