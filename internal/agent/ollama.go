package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/lumi/internal/domain"
)

// Ollama defaults.
const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "dolphin-llama3:8b"
	ollamaMaxAttempts  = 3
)

// OllamaOptions are the sampling options sent with every request.
type OllamaOptions struct {
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	NumCtx        int     `json:"num_ctx"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

// DefaultOllamaOptions mirrors the tuning used for llama3 class models.
func DefaultOllamaOptions() OllamaOptions {
	return OllamaOptions{Temperature: 0.7, TopP: 0.9, NumCtx: 4096, RepeatPenalty: 1.1}
}

// OllamaModel executes prompts against a local Ollama server.
type OllamaModel struct {
	baseURL string
	model   string
	options OllamaOptions
	client  *http.Client
	logger  *slog.Logger
	backoff time.Duration
}

// NewOllamaModel creates an Ollama-backed model. Empty arguments take defaults.
func NewOllamaModel(baseURL, model string, logger *slog.Logger) *OllamaModel {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaModel{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		options: DefaultOllamaOptions(),
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
		backoff: 500 * time.Millisecond,
	}
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options OllamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// ExecutePrompt posts to /api/generate, retrying empty or failed responses.
func (m *OllamaModel) ExecutePrompt(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   m.model,
		Prompt:  prompt,
		Stream:  false,
		Options: m.options,
	})
	if err != nil {
		return "", fmt.Errorf("encode ollama request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= ollamaMaxAttempts; attempt++ {
		out, err := m.generate(ctx, body)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		m.logger.Warn("Ollama request failed", "model", m.model, "attempt", attempt, "max_attempts", ollamaMaxAttempts, "error", err)
		if attempt < ollamaMaxAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(m.backoff * time.Duration(attempt)):
			}
		}
	}
	return "", lastErr
}

func (m *OllamaModel) generate(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("ollama at %s: %w: %w", m.baseURL, domain.ErrModelUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w: %w", domain.ErrModelExecution, err)
	}
	var parsed ollamaGenerateResponse
	decodeErr := json.Unmarshal(data, &parsed)
	if resp.StatusCode >= 400 {
		detail := parsed.Error
		if decodeErr != nil {
			detail = strings.TrimSpace(string(data))
		}
		if resp.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("ollama model %s: %w: %s", m.model, domain.ErrModelUnavailable, detail)
		}
		return "", fmt.Errorf("ollama status %d: %w: %s", resp.StatusCode, domain.ErrModelExecution, detail)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode ollama response: %w: %w", domain.ErrModelExecution, decodeErr)
	}

	text := strings.TrimSpace(parsed.Response)
	if text == "" {
		return "", fmt.Errorf("empty response from %s: %w", m.model, domain.ErrModelExecution)
	}
	return text, nil
}

// Health reports whether the configured model is pulled on the server.
func (m *OllamaModel) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("build tags request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama at %s: %w: %w", m.baseURL, domain.ErrModelUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, t := range tags.Models {
		names = append(names, t.Name)
	}
	if !slices.Contains(names, m.model) {
		return fmt.Errorf("model %s not pulled (available: %s): %w", m.model, strings.Join(names, ", "), domain.ErrModelUnavailable)
	}
	return nil
}

// Name implements LanguageModel.
func (m *OllamaModel) Name() string { return "ollama:" + m.model }
