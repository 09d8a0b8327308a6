package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/lumi/internal/domain"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiModel executes prompts with the Gemini API.
type GeminiModel struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiModel creates a Gemini-backed model. The client is created once and reused.
func NewGeminiModel(ctx context.Context, apiKey, model string) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required: %w", domain.ErrModelUnavailable)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w: %w", domain.ErrModelUnavailable, err)
	}
	return &GeminiModel{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0.7),
			TopP:        genai.Ptr[float32](0.9),
		},
	}, nil
}

// ExecutePrompt sends prompt as a single user turn.
func (g *GeminiModel) ExecutePrompt(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		g.config)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("gemini %s: %w: %w", g.model, domain.ErrModelExecution, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini %s returned no text: %w", g.model, domain.ErrModelExecution)
	}
	return text, nil
}

// Name implements LanguageModel.
func (g *GeminiModel) Name() string { return "gemini:" + g.model }
