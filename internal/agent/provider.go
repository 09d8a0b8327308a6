package agent

import (
	"context"
	"fmt"
	"log/slog"
)

// Provider names accepted by OpenModel.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderGrpc   = "grpc"
	ProviderStatic = "static"
)

// ModelOptions selects and configures one adapter.
type ModelOptions struct {
	Provider     string
	GeminiAPIKey string
	GeminiModel  string
	OllamaURL    string
	OllamaModel  string
	GrpcAddr     string
	// StaticReplies scripts the static provider, used for demos and offline runs.
	StaticReplies []string
}

// OpenModel builds the adapter named by opts.Provider. The returned close
// function releases any connection the adapter holds.
func OpenModel(ctx context.Context, opts ModelOptions, logger *slog.Logger) (LanguageModel, func(), error) {
	noop := func() {}
	switch opts.Provider {
	case ProviderGemini:
		m, err := NewGeminiModel(ctx, opts.GeminiAPIKey, opts.GeminiModel)
		if err != nil {
			return nil, noop, err
		}
		return m, noop, nil
	case ProviderOllama, "":
		return NewOllamaModel(opts.OllamaURL, opts.OllamaModel, logger), noop, nil
	case ProviderGrpc:
		m, err := NewGrpcModel(DefaultGrpcModelConfig(opts.GrpcAddr), logger)
		if err != nil {
			return nil, noop, err
		}
		return m, m.Close, nil
	case ProviderStatic:
		replies := opts.StaticReplies
		if len(replies) == 0 {
			replies = []string{"What do you remember most clearly about that moment?"}
		}
		return NewStaticModel(replies...), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown model provider %q", opts.Provider)
	}
}
