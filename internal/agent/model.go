// Package agent drives the language model for outlines, interview questions and drafts.
package agent

import (
	"context"
	"errors"

	"github.com/ashureev/lumi/internal/domain"
)

// LanguageModel is the inference capability. Implementations own their
// retry policy; callers make exactly one call per operation.
type LanguageModel interface {
	// ExecutePrompt sends a filled prompt and returns the raw completion.
	// It returns an error wrapping domain.ErrModelUnavailable when no model
	// can be reached and domain.ErrModelExecution when the call itself failed.
	ExecutePrompt(ctx context.Context, prompt string) (string, error)

	// Name identifies the adapter in logs.
	Name() string
}

// HealthChecker is implemented by models that can probe their backend
// without running a prompt.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// CheckHealth probes m when it supports probing. A nil model is unavailable.
func CheckHealth(ctx context.Context, m LanguageModel) error {
	if m == nil {
		return domain.ErrModelUnavailable
	}
	if hc, ok := m.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

// Messages written to lastResponse when the model capability fails.
const (
	MessageModelUnavailable = "The writing assistant is not available right now. Please try again in a moment."
	MessageModelExecution   = "I had trouble thinking of the next question. Could you tell me a little more?"
	MessageModelTimeout     = "That took longer than expected. Please try answering again."
	MessageUnexpected       = "Something went wrong. Please try again."
)

// UserMessage converts a capability error into the text shown to the author.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return MessageModelTimeout
	case errors.Is(err, domain.ErrModelUnavailable):
		return MessageModelUnavailable
	case errors.Is(err, domain.ErrModelExecution):
		return MessageModelExecution
	default:
		return MessageUnexpected
	}
}
