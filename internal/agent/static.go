package agent

import (
	"context"
	"sync"
)

// StaticModel replies from a fixed script. It is used offline and in tests.
type StaticModel struct {
	mu      sync.Mutex
	replies []string
	next    int
	prompts []string
	// Err, when set, is returned from every call.
	Err error
}

// NewStaticModel cycles through replies; with none it echoes nothing.
func NewStaticModel(replies ...string) *StaticModel {
	return &StaticModel{replies: replies}
}

// ExecutePrompt records the prompt and returns the next scripted reply.
func (m *StaticModel) ExecutePrompt(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	out := m.replies[m.next%len(m.replies)]
	m.next++
	return out, nil
}

// Name implements LanguageModel.
func (m *StaticModel) Name() string { return "static" }

// Prompts returns every prompt received so far.
func (m *StaticModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// LastPrompt returns the most recent prompt, or "".
func (m *StaticModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}
