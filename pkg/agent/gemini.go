package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures a GeminiBackend. Without an API key the Vertex
// AI backend is used with application default credentials.
type GeminiConfig struct {
	APIKey   string
	Model    string
	Project  string
	Location string
	Logger   *slog.Logger
}

// GeminiBackend runs tasks against Gemini. Sessions are kept locally; the
// session context is sent with every prompt.
type GeminiBackend struct {
	generate func(ctx context.Context, prompt string) (string, error)
	logger   *slog.Logger
	model    string

	mu       sync.Mutex
	sessions map[string]map[string]any
}

// NewGeminiBackend creates the genai client.
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	model := strings.TrimPrefix(cfg.Model, "models/")
	if model == "" {
		model = DefaultGeminiModel
	}

	var config *genai.ClientConfig
	if cfg.APIKey != "" {
		config = &genai.ClientConfig{
			Backend: genai.BackendGeminiAPI,
			APIKey:  cfg.APIKey,
		}
		cfg.Logger.Info("using Gemini API with API key", "model", model)
	} else {
		project := cfg.Project
		if project == "" {
			project = os.Getenv("GOOGLE_CLOUD_PROJECT")
		}
		if project == "" {
			return nil, errors.New("gemini backend needs an API key or a GCP project")
		}
		location := cfg.Location
		if location == "" {
			location = "us-central1"
		}
		config = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  project,
			Location: location,
		}
		cfg.Logger.Info("using Vertex AI with application default credentials", "project", project, "location", location, "model", model)
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	g := newGeminiBackend(nil, model, cfg.Logger)
	g.generate = func(ctx context.Context, prompt string) (string, error) {
		return g.callWithRetry(ctx, client, prompt)
	}
	return g, nil
}

func newGeminiBackend(generate func(context.Context, string) (string, error), model string, logger *slog.Logger) *GeminiBackend {
	return &GeminiBackend{
		generate: generate,
		logger:   logger,
		model:    model,
		sessions: make(map[string]map[string]any),
	}
}

// Name implements Backend.
func (*GeminiBackend) Name() string { return "gemini" }

// Health implements Backend. The SDK client holds no connection, so there
// is nothing to probe.
func (g *GeminiBackend) Health(context.Context) error {
	if g.generate == nil {
		return errors.New("gemini client not configured")
	}
	return nil
}

// StartSession implements Backend.
func (g *GeminiBackend) StartSession(_ context.Context, sessionContext map[string]any) (string, error) {
	id := uuid.NewString()
	g.mu.Lock()
	g.sessions[id] = sessionContext
	g.mu.Unlock()
	return id, nil
}

// EndSession implements Backend.
func (g *GeminiBackend) EndSession(_ context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[sessionID]; !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	delete(g.sessions, sessionID)
	return nil
}

// Execute implements Backend.
func (g *GeminiBackend) Execute(ctx context.Context, sessionID string, req Request) (json.RawMessage, error) {
	g.mu.Lock()
	sctx, ok := g.sessions[sessionID]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}

	prompt, err := buildPrompt(req, sctx)
	if err != nil {
		return nil, err
	}
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("raw Gemini response", "type", req.Type, "response_text", text)

	js, err := extractJSON(text)
	if err != nil {
		g.logger.Warn("failed to parse Gemini JSON response", "error", err, "response_text", text)
		return nil, fmt.Errorf("parsing Gemini response: %w", err)
	}
	return json.RawMessage(js), nil
}

func (g *GeminiBackend) callWithRetry(ctx context.Context, client *genai.Client, prompt string) (string, error) {
	temperature := float32(0.2)
	genConfig := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  4096,
		ResponseMIMEType: "application/json",
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt}}}}

	var text string
	err := retry.Do(
		func() error {
			resp, err := client.Models.GenerateContent(ctx, g.model, contents, genConfig)
			if err != nil {
				return err
			}
			if resp == nil || len(resp.Candidates) == 0 {
				return retry.Unrecoverable(errors.New("empty response from Gemini API"))
			}
			candidate := resp.Candidates[0]
			if candidate.Content == nil || len(candidate.Content.Parts) == 0 || candidate.Content.Parts[0].Text == "" {
				return retry.Unrecoverable(errors.New("no content in Gemini response"))
			}
			text = candidate.Content.Parts[0].Text
			return nil
		},
		retry.Attempts(4),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(isTransientError),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Debug("retrying Gemini API call", "attempt", n+1, "error", err)
		}),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("gemini API call: %w", err)
	}
	return text, nil
}

// isTransientError determines if an error should trigger a retry.
func isTransientError(err error) bool {
	s := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"rate limit", "quota", "timeout", "deadline", "unavailable",
		"internal server error", "502", "503", "504",
	} {
		if strings.Contains(s, indicator) {
			return true
		}
	}
	return false
}

// extractJSON pulls a JSON object out of a reply that may wrap it in a
// code fence or prose.
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if json.Valid([]byte(text)) {
		return text, nil
	}
	for _, fence := range []string{"```json", "```"} {
		if start := strings.Index(text, fence); start != -1 {
			start += len(fence)
			if end := strings.Index(text[start:], "```"); end != -1 {
				s := strings.TrimSpace(text[start : start+end])
				if json.Valid([]byte(s)) {
					return s, nil
				}
			}
		}
	}
	if start := strings.Index(text, "{"); start != -1 {
		if end := strings.LastIndex(text, "}"); end > start {
			s := text[start : end+1]
			if json.Valid([]byte(s)) {
				return s, nil
			}
		}
	}
	return "", errors.New("no valid JSON found in response")
}
