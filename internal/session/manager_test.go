package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/lumi/internal/agent"
	"github.com/ashureev/lumi/internal/domain"
	"github.com/ashureev/lumi/internal/store"
)

type fixture struct {
	repo    *store.MemoryStore
	model   *agent.StaticModel
	story   *domain.Story
	chapter *domain.Chapter
	scene   *domain.Scene
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{repo: store.NewMemory(), model: agent.NewStaticModel(replies...)}

	f.story = &domain.Story{UserID: "u1", Title: "My Life"}
	if err := f.repo.CreateStory(ctx, f.story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	f.chapter = &domain.Chapter{StoryID: f.story.ID, Title: "Childhood"}
	if err := f.repo.CreateChapter(ctx, f.chapter); err != nil {
		t.Fatalf("CreateChapter: %v", err)
	}
	f.scene = &domain.Scene{ChapterID: f.chapter.ID, Title: domain.StringPtr("Kitchen Fire")}
	if err := f.repo.CreateScene(ctx, f.scene); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}
	return f
}

func (f *fixture) manager(model agent.LanguageModel) *Manager {
	if model == nil {
		model = f.model
	}
	return NewManager("u1", f.repo, agent.NewOrchestrator(model), nil)
}

func (f *fixture) start(t *testing.T, m *Manager) {
	t.Helper()
	if _, err := m.StartSession(context.Background(), f.story.ID, f.chapter.ID, &f.scene.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
}

func TestHandleUserInputWithoutSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "unused")
	m := f.manager(nil)

	rec, err := m.HandleUserInput(context.Background(), "hello", nil)
	if !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	if rec.LastResponse != NoActiveSceneMessage {
		t.Fatalf("expected fixed error response, got %q", rec.LastResponse)
	}
	if rec.IsAwaitingInput {
		t.Fatal("expected IsAwaitingInput unchanged")
	}
	if len(f.model.Prompts()) != 0 {
		t.Fatal("expected no model call")
	}
}

func TestStartSessionWithoutSceneClearsAwaiting(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "First question?")
	m := f.manager(nil)
	ctx := context.Background()

	f.start(t, m)
	if _, err := m.StartInterview(ctx, nil); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	rec, err := m.StartSession(ctx, f.story.ID, f.chapter.ID, nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if rec.IsAwaitingInput || rec.PendingQuestion != "" {
		t.Fatalf("expected no pending question without a scene, got %+v", rec)
	}

	rec, err = m.HandleUserInput(ctx, "answer", nil)
	if !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	if rec.IsAwaitingInput {
		t.Fatal("expected IsAwaitingInput unchanged")
	}
	if rec.State != domain.SessionActive {
		t.Fatalf("expected session to stay active, got %s", rec.State)
	}
}

// storedQuestions returns the questions recorded for a scene, in order.
func storedQuestions(t *testing.T, f *fixture, sceneID string) []string {
	t.Helper()
	h, err := f.repo.GetInterviewHistoryByScene(context.Background(), sceneID)
	if err != nil {
		t.Fatalf("GetInterviewHistoryByScene: %v", err)
	}
	var out []string
	for _, p := range h.Ordered() {
		out = append(out, p.Question)
	}
	return out
}

func TestFailedTurnKeepsPendingQuestion(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Where were you standing?", "What did you smell?")
	m := f.manager(nil)
	ctx := context.Background()
	f.start(t, m)

	if _, err := m.StartInterview(ctx, nil); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}

	f.model.Err = fmt.Errorf("bad output: %w", domain.ErrModelExecution)
	rec, err := m.HandleUserInput(ctx, "By the stove.", nil)
	if !errors.Is(err, domain.ErrModelExecution) {
		t.Fatalf("expected ErrModelExecution, got %v", err)
	}
	if rec.LastResponse == "Where were you standing?" || rec.PendingQuestion != "Where were you standing?" {
		t.Fatalf("expected error message with the question still pending, got %+v", rec)
	}

	f.model.Err = nil
	if _, err := m.HandleUserInput(ctx, "By the stove.", nil); err != nil {
		t.Fatalf("HandleUserInput retry: %v", err)
	}
	got := storedQuestions(t, f, f.scene.ID)
	if len(got) != 1 || got[0] != "Where were you standing?" {
		t.Fatalf("expected the asked question to be stored, got %q", got)
	}
}

func TestCancelledTurnLeavesRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Where were you standing?", "What did you smell?")
	m := f.manager(nil)
	f.start(t, m)

	if _, err := m.StartInterview(context.Background(), nil); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	before := m.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := m.HandleUserInput(ctx, "By the stove.", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rec.LastResponse != before.LastResponse || rec.State != domain.SessionActive {
		t.Fatalf("expected record untouched, got %+v", rec)
	}
	if got := storedQuestions(t, f, f.scene.ID); len(got) != 0 {
		t.Fatalf("expected nothing recorded, got %q", got)
	}

	if _, err := m.HandleUserInput(context.Background(), "By the stove.", nil); err != nil {
		t.Fatalf("HandleUserInput: %v", err)
	}
	got := storedQuestions(t, f, f.scene.ID)
	if len(got) != 1 || got[0] != "Where were you standing?" {
		t.Fatalf("expected the asked question to be stored, got %q", got)
	}
}

func TestSceneSwitchDropsPendingQuestion(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Question about kitchen?", "Question about the beach?", "Another kitchen question?")
	m := f.manager(nil)
	ctx := context.Background()
	f.start(t, m)

	beach := &domain.Scene{ChapterID: f.chapter.ID, Title: domain.StringPtr("Beach")}
	if err := f.repo.CreateScene(ctx, beach); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}

	if _, err := m.StartInterview(ctx, nil); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	rec, err := m.StartSession(ctx, f.story.ID, f.chapter.ID, &beach.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if rec.IsAwaitingInput || rec.PendingQuestion != "" {
		t.Fatalf("expected pending question cleared on scene switch, got %+v", rec)
	}
	if _, err := m.HandleUserInput(ctx, "The sand was hot.", nil); err != nil {
		t.Fatalf("HandleUserInput: %v", err)
	}
	if got := storedQuestions(t, f, beach.ID); len(got) != 1 || got[0] != "" {
		t.Fatalf("expected beach answer without a kitchen question, got %q", got)
	}

	// Re-selecting the current scene keeps its pending question.
	f.start(t, m)
	if _, err := m.StartInterview(ctx, nil); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	f.start(t, m)
	if _, err := m.HandleUserInput(ctx, "Smoke everywhere.", nil); err != nil {
		t.Fatalf("HandleUserInput: %v", err)
	}
	got := storedQuestions(t, f, f.scene.ID)
	if len(got) != 1 || got[0] != "Another kitchen question?" {
		t.Fatalf("expected the kitchen question to be kept, got %q", got)
	}
}

type failingSettingsRepo struct {
	*store.MemoryStore
}

func (failingSettingsRepo) GetAppSettings(context.Context, string) (*domain.AppSettings, error) {
	return nil, errors.New("disk unplugged")
}

func TestErrorStateHasItsOwnMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Q?")
	ctx := context.Background()
	m := NewManager("u1", failingSettingsRepo{f.repo}, agent.NewOrchestrator(f.model), nil)
	f.start(t, m)

	if _, err := m.StartInterview(ctx, nil); err == nil {
		t.Fatal("expected storage failure")
	}
	rec, err := m.HandleUserInput(ctx, "answer", nil)
	if !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	if rec.State != domain.SessionError || rec.LastResponse != SessionErrorMessage {
		t.Fatalf("expected error state message, got %+v", rec)
	}

	rec, err = m.StartSession(ctx, f.story.ID, f.chapter.ID, &f.scene.ID)
	if err != nil || rec.State != domain.SessionActive {
		t.Fatalf("expected restart to recover, got %+v, %v", rec, err)
	}
}

func TestInterviewFlowRecordsAnswers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Where were you standing?", "What did you smell?")
	m := f.manager(nil)
	ctx := context.Background()
	f.start(t, m)

	rec, err := m.StartInterview(ctx, nil)
	if err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	if rec.LastResponse != "Where were you standing?" || !rec.IsAwaitingInput {
		t.Fatalf("unexpected record after first question: %+v", rec)
	}
	if !strings.Contains(f.model.LastPrompt(), "This is the start of the conversation.") {
		t.Fatal("expected empty history sentinel in first prompt")
	}

	rec, err = m.HandleUserInput(ctx, "By the stove.", nil)
	if err != nil {
		t.Fatalf("HandleUserInput: %v", err)
	}
	if rec.LastResponse != "What did you smell?" {
		t.Fatalf("unexpected response %q", rec.LastResponse)
	}
	if !strings.Contains(f.model.LastPrompt(), "Current User Response:\nBy the stove.") {
		t.Fatal("expected current answer in prompt")
	}

	history, err := f.repo.GetInterviewHistoryByScene(ctx, f.scene.ID)
	if err != nil || history == nil {
		t.Fatalf("expected history, got %v, %v", history, err)
	}
	if history.Len() != 1 {
		t.Fatalf("expected 1 pair, got %d", history.Len())
	}
	p := history.Pairs[0]
	if p.Question != "Where were you standing?" || p.Answer != "By the stove." {
		t.Fatalf("unexpected pair %+v", p)
	}
}

func TestStartSessionValidatesReferences(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := f.manager(nil)
	ctx := context.Background()

	other := &domain.Story{UserID: "u1", Title: "Other"}
	_ = f.repo.CreateStory(ctx, other)

	_, err := m.StartSession(ctx, other.ID, f.chapter.ID, nil)
	if !errors.Is(err, domain.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
	_, err = m.StartSession(ctx, "missing", f.chapter.ID, nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	missing := "missing"
	_, err = m.StartSession(ctx, f.story.ID, f.chapter.ID, &missing)
	if !errors.Is(err, domain.ErrSceneNotFound) {
		t.Fatalf("expected ErrSceneNotFound, got %v", err)
	}
	rec := m.Snapshot()
	if rec.State != domain.SessionUninitialized {
		t.Fatal("expected rejected starts to leave the session uninitialized")
	}
	if rec.LastResponse != SceneNotFoundMessage {
		t.Fatalf("expected scene not found message, got %q", rec.LastResponse)
	}
}

func TestStartSessionIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := f.manager(nil)
	ctx := context.Background()

	f.start(t, m)
	rec, err := m.StartSession(ctx, f.story.ID, f.chapter.ID, nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if rec.State != domain.SessionActive || rec.HasActiveScene() {
		t.Fatalf("expected active session without scene, got %+v", rec)
	}
}

func TestModelFailureSetsUserMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.model.Err = fmt.Errorf("offline: %w", domain.ErrModelUnavailable)
	m := f.manager(nil)
	f.start(t, m)

	rec, err := m.HandleUserInput(context.Background(), "answer", nil)
	if !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if rec.LastResponse != agent.MessageModelUnavailable {
		t.Fatalf("unexpected response %q", rec.LastResponse)
	}
	if rec.IsAwaitingInput {
		t.Fatal("expected IsAwaitingInput unchanged on failure")
	}
	if rec.State != domain.SessionActive {
		t.Fatal("expected session to remain active after a model failure")
	}
	h, _ := f.repo.GetInterviewHistoryByScene(context.Background(), f.scene.ID)
	if h.Len() != 0 {
		t.Fatal("expected no pair recorded on failure")
	}
}

type gateModel struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateModel) ExecutePrompt(ctx context.Context, _ string) (string, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return "Next?", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gateModel) Name() string { return "gate" }

func TestConcurrentInputIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	gate := &gateModel{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := f.manager(gate)
	f.start(t, m)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = m.HandleUserInput(ctx, "one", nil)
	}()

	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first call")
	}

	if _, err := m.HandleUserInput(ctx, "two", nil); !errors.Is(err, domain.ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}

	close(gate.release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first call failed: %v", firstErr)
	}
}

type recordingSpeaker struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (s *recordingSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
	return s.err
}

func TestSpeakerReceivesResponse(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Who was with you?")
	m := f.manager(nil)
	f.start(t, m)

	sp := &recordingSpeaker{}
	if _, err := m.HandleUserInput(context.Background(), "answer", sp); err != nil {
		t.Fatalf("HandleUserInput: %v", err)
	}
	if len(sp.lines) != 1 || sp.lines[0] != "Who was with you?" {
		t.Fatalf("unexpected spoken lines %v", sp.lines)
	}

	sp.err = errors.New("audio device busy")
	_, err := m.HandleUserInput(context.Background(), "again", sp)
	if !errors.Is(err, domain.ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "First?")
	ctx := context.Background()

	m := f.manager(nil)
	if err := m.PauseSession(ctx); err != nil {
		t.Fatalf("PauseSession before start: %v", err)
	}
	if rec, _ := f.repo.GetSessionRecord(ctx, "u1"); rec != nil {
		t.Fatal("expected no record persisted before start")
	}

	f.start(t, m)
	if _, err := m.StartInterview(ctx, nil); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	m.SetPartialInput("I remember")
	if err := m.PauseSession(ctx); err != nil {
		t.Fatalf("PauseSession: %v", err)
	}

	resumed := f.manager(nil)
	rec, err := resumed.GetCurrentState(ctx)
	if err != nil {
		t.Fatalf("GetCurrentState: %v", err)
	}
	if rec.State != domain.SessionActive || *rec.ActiveSceneID != f.scene.ID {
		t.Fatalf("unexpected resumed record %+v", rec)
	}
	if rec.LastResponse != "First?" || !rec.IsAwaitingInput || rec.PendingQuestion != "First?" || rec.PartialInput != "I remember" {
		t.Fatalf("unexpected resumed record %+v", rec)
	}
}

func TestUserContextPersisted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Q?")
	ctx := context.Background()
	m := f.manager(nil)

	uc, err := m.UserContext(ctx)
	if err != nil || uc.UserName != "the author" {
		t.Fatalf("expected default context, got %+v, %v", uc, err)
	}

	if _, err := m.UpdateUserContext(ctx, domain.UserContext{UserName: "Dana", MentionedNames: []string{"Sam"}}); err != nil {
		t.Fatalf("UpdateUserContext: %v", err)
	}

	other := f.manager(nil)
	f.start(t, other)
	if _, err := other.StartInterview(ctx, nil); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	if !strings.Contains(f.model.LastPrompt(), "helping Dana develop") {
		t.Fatal("expected persisted user name in prompt")
	}
}

func TestProcessNewTopicAndDraft(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "## Childhood\n- Kitchen Fire")
	ctx := context.Background()
	m := f.manager(nil)

	outline, err := m.ProcessNewTopic(ctx, f.story.ID, "I grew up near the coast")
	if err != nil {
		t.Fatalf("ProcessNewTopic: %v", err)
	}
	story, _ := f.repo.GetStory(ctx, f.story.ID)
	if story.Outline != outline {
		t.Fatalf("expected outline saved on story, got %q", story.Outline)
	}

	history := &domain.InterviewHistory{SceneID: f.scene.ID}
	_ = f.repo.CreateInterviewHistory(ctx, history)
	_ = f.repo.CreateQAPair(ctx, &domain.QAPair{InterviewID: history.ID, Question: "Where?", Answer: "Home."})

	scene, err := m.DraftScene(ctx, f.scene.ID)
	if err != nil {
		t.Fatalf("DraftScene: %v", err)
	}
	if !strings.Contains(f.model.LastPrompt(), "Q: Where?\nA: Home.") {
		t.Fatal("expected pairs in draft prompt")
	}
	saved, _ := f.repo.GetScene(ctx, f.scene.ID)
	if saved.Draft == "" || saved.Draft != scene.Draft {
		t.Fatal("expected draft saved on scene")
	}

	if _, err := m.DraftScene(ctx, "missing"); !errors.Is(err, domain.ErrSceneNotFound) {
		t.Fatalf("expected ErrSceneNotFound, got %v", err)
	}
	if _, err := m.ProcessNewTopic(ctx, "missing", "topic"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeletedSceneSetsMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Q?")
	ctx := context.Background()
	m := f.manager(nil)
	f.start(t, m)

	_ = f.repo.DeleteScene(ctx, f.scene.ID)
	rec, err := m.HandleUserInput(ctx, "answer", nil)
	if !errors.Is(err, domain.ErrSceneNotFound) {
		t.Fatalf("expected ErrSceneNotFound, got %v", err)
	}
	if rec.LastResponse != SceneNotFoundMessage {
		t.Fatalf("unexpected response %q", rec.LastResponse)
	}
}
