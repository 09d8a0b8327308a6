package interview

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/lumi/internal/domain"
)

// Section headers of the context layout.
const (
	SceneHeader           = "Scene: "
	HistoryHeader         = "Conversation History:"
	CurrentResponseHeader = "Current User Response:"
)

// SceneSource is the read side of storage the builder needs.
type SceneSource interface {
	GetScene(ctx context.Context, id string) (*domain.Scene, error)
	GetInterviewHistoryByScene(ctx context.Context, sceneID string) (*domain.InterviewHistory, error)
}

// Builder composes scene titles and summarized history into context strings.
type Builder struct {
	src SceneSource
}

// NewBuilder creates a Builder reading from src.
func NewBuilder(src SceneSource) *Builder {
	return &Builder{src: src}
}

// BuildContextForInterview returns the two-section context for a scene.
func (b *Builder) BuildContextForInterview(ctx context.Context, sceneID string) (string, error) {
	scene, history, err := b.load(ctx, sceneID)
	if err != nil {
		return "", err
	}
	return Compose(scene.DisplayTitle(), SummarizeHistory(history)), nil
}

// BuildContextWithCurrentInput appends the just-submitted answer as a third section.
func (b *Builder) BuildContextWithCurrentInput(ctx context.Context, sceneID, input string) (string, error) {
	base, err := b.BuildContextForInterview(ctx, sceneID)
	if err != nil {
		return "", err
	}
	return WithCurrentInput(base, input), nil
}

// History returns the scene and its pairs in canonical order.
func (b *Builder) History(ctx context.Context, sceneID string) (*domain.Scene, []domain.QAPair, error) {
	scene, history, err := b.load(ctx, sceneID)
	if err != nil {
		return nil, nil, err
	}
	return scene, history.Ordered(), nil
}

func (b *Builder) load(ctx context.Context, sceneID string) (*domain.Scene, *domain.InterviewHistory, error) {
	scene, err := b.src.GetScene(ctx, sceneID)
	if err != nil {
		return nil, nil, fmt.Errorf("get scene %s: %w", sceneID, err)
	}
	if scene == nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrSceneNotFound, sceneID)
	}
	history, err := b.src.GetInterviewHistoryByScene(ctx, sceneID)
	if err != nil {
		return nil, nil, fmt.Errorf("get interview history for scene %s: %w", sceneID, err)
	}
	return scene, history, nil
}

// Compose lays out the scene title and history block.
func Compose(title, history string) string {
	return SceneHeader + title + "\n\n" + HistoryHeader + "\n" + history
}

// WithCurrentInput appends the current answer section to a composed context.
func WithCurrentInput(base, input string) string {
	return base + "\n\n" + CurrentResponseHeader + "\n" + input
}

// Context is a parsed context string.
type Context struct {
	SceneTitle   string
	History      string
	CurrentInput string
}

// ParseContext splits a string produced by Compose (optionally extended by
// WithCurrentInput). It reports false when s does not follow the layout.
func ParseContext(s string) (Context, bool) {
	if !strings.HasPrefix(s, SceneHeader) {
		return Context{}, false
	}
	rest := strings.TrimPrefix(s, SceneHeader)
	title, rest, ok := strings.Cut(rest, "\n\n"+HistoryHeader+"\n")
	if !ok {
		return Context{}, false
	}

	var c Context
	c.SceneTitle = title
	if history, current, found := strings.Cut(rest, "\n\n"+CurrentResponseHeader+"\n"); found {
		c.History = history
		c.CurrentInput = current
	} else {
		c.History = rest
	}
	return c, true
}

// PromptHistory is the history handed to the interview template: the
// summarized block followed by the current answer when there is one.
func (c Context) PromptHistory() string {
	if c.CurrentInput == "" {
		return c.History
	}
	return c.History + "\n\n" + CurrentResponseHeader + "\n" + c.CurrentInput
}
