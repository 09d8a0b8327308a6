package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/lumi/internal/domain"
	"github.com/ashureev/lumi/internal/interview"
	"github.com/ashureev/lumi/internal/prompt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/ashureev/lumi/internal/agent")

// DefaultModelTimeout bounds a single model call when none is configured.
const DefaultModelTimeout = 2 * time.Minute

// Orchestrator fills templates and performs one model round trip per operation.
type Orchestrator struct {
	model   LanguageModel
	timeout time.Duration
	log     ConversationLogger
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout bounds each model call. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithConversationLogger records prompts and completions.
func WithConversationLogger(l ConversationLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an orchestrator over model.
func NewOrchestrator(model LanguageModel, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		model:   model,
		timeout: DefaultModelTimeout,
		log:     noopConversationLogger{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OutlinePrompt fills the outline template for a raw topic.
func OutlinePrompt(topic string, uc domain.UserContext) string {
	return prompt.Fill(prompt.Outline.Text, uc, map[string]string{
		prompt.RawTextContent: topic,
	})
}

// InterviewPrompt fills the interview template. A context string in the
// Scene/Conversation History layout fills scene_title and
// conversation_history; anything else is used as an outline point.
func InterviewPrompt(contextInput string, uc domain.UserContext) string {
	if c, ok := interview.ParseContext(contextInput); ok {
		return prompt.Fill(prompt.Interview.Text, uc, map[string]string{
			prompt.SceneTitle:          c.SceneTitle,
			prompt.ConversationHistory: c.PromptHistory(),
		})
	}
	return prompt.Fill(prompt.InterviewOutlinePoint.Text, uc, map[string]string{
		prompt.OutlinePoint: contextInput,
	})
}

// DraftPrompt fills the draft template with every recorded pair.
func DraftPrompt(pairs []domain.QAPair, uc domain.UserContext, sceneTitleHint string) string {
	return prompt.Fill(prompt.Draft.Text, uc, map[string]string{
		prompt.QAndABlock:   interview.QABlock(pairs),
		prompt.OutlinePoint: sceneTitleHint,
	})
}

// ProcessNewTopic turns a raw topic into a markdown outline.
func (o *Orchestrator) ProcessNewTopic(ctx context.Context, topic string, uc domain.UserContext) (string, error) {
	return o.execute(ctx, prompt.NameOutline, OutlinePrompt(topic, uc))
}

// GenerateInterviewQuestion returns the next interview question.
func (o *Orchestrator) GenerateInterviewQuestion(ctx context.Context, contextInput string, uc domain.UserContext) (string, error) {
	return o.execute(ctx, prompt.NameInterview, InterviewPrompt(contextInput, uc))
}

// GenerateDraft writes narrative prose for one scene from its interview.
func (o *Orchestrator) GenerateDraft(ctx context.Context, history *domain.InterviewHistory, uc domain.UserContext, sceneTitleHint string) (string, error) {
	return o.execute(ctx, prompt.NameDraft, DraftPrompt(history.Ordered(), uc, sceneTitleHint))
}

func (o *Orchestrator) execute(ctx context.Context, kind, filled string) (string, error) {
	if o.model == nil {
		return "", fmt.Errorf("%s: %w", kind, domain.ErrModelUnavailable)
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "agent."+kind)
	defer span.End()
	span.SetAttributes(
		attribute.String("lumi.model", o.model.Name()),
		attribute.Int("lumi.prompt_chars", len(filled)),
	)

	scope := scopeFromContext(ctx)
	o.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     scope.UserID,
		SessionID:  scope.SessionID,
		Channel:    "model",
		Direction:  "outbound",
		EventType:  kind + "_prompt",
		ContentRaw: filled,
		Content:    cleanForReadability(filled),
		Meta:       map[string]any{"model": o.model.Name()},
	})

	start := time.Now()
	out, err := o.model.ExecutePrompt(ctx, filled)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "model call failed")
		o.logger.Warn("Model call failed",
			"kind", kind,
			"model", o.model.Name(),
			"user_id", scope.UserID,
			"duration", elapsed,
			"error", err,
		)
		return "", fmt.Errorf("%s: %w", kind, err)
	}

	o.logger.Debug("Model call completed", "kind", kind, "model", o.model.Name(), "duration", elapsed, "chars", len(out))
	o.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     scope.UserID,
		SessionID:  scope.SessionID,
		Channel:    "model",
		Direction:  "inbound",
		EventType:  kind + "_completion",
		ContentRaw: out,
		Content:    cleanForReadability(out),
		Meta: map[string]any{
			"model":       o.model.Name(),
			"duration_ms": elapsed.Milliseconds(),
		},
	})
	return out, nil
}

type scopeKey struct{}

// Scope tags conversation log events with the caller's identity.
type Scope struct {
	UserID    string
	SessionID string
}

// WithScope attaches a log scope to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFromContext(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	if s.UserID == "" {
		s.UserID = "anonymous"
	}
	if s.SessionID == "" {
		s.SessionID = "default"
	}
	return s
}
