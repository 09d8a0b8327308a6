// Package session implements the per-user interview session state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/lumi/internal/agent"
	"github.com/ashureev/lumi/internal/domain"
	"github.com/ashureev/lumi/internal/interview"
	"github.com/ashureev/lumi/internal/store"
)

// Fixed responses for local, non-fatal failures.
const (
	NoActiveSceneMessage = "Error: No active scene. Please start a session first."
	SceneNotFoundMessage = "Error: The selected scene no longer exists. Please choose another scene."
	SessionErrorMessage  = "Error: The session could not be saved. Please start the session again."
)

var timeNow = time.Now

// Speaker voices a response. A nil Speaker means text mode.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Manager owns the live SessionRecord of one user.
type Manager struct {
	userID  string
	repo    store.Repository
	orch    *agent.Orchestrator
	builder *interview.Builder
	logger  *slog.Logger

	// flight admits one model-backed operation at a time.
	flight sync.Mutex

	mu        sync.RWMutex
	record    *domain.SessionRecord
	uc        domain.UserContext
	ucLoaded  bool
	recLoaded bool
}

// NewManager creates a manager for userID. Nothing is read until first use.
func NewManager(userID string, repo store.Repository, orch *agent.Orchestrator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		userID:  userID,
		repo:    repo,
		orch:    orch,
		builder: interview.NewBuilder(repo),
		logger:  logger.With("user_id", userID),
		record:  domain.NewSessionRecord(userID),
		uc:      domain.DefaultUserContext(),
	}
}

// UserID returns the owning user.
func (m *Manager) UserID() string {
	return m.userID
}

// Snapshot returns a copy of the in-memory record without touching storage.
func (m *Manager) Snapshot() *domain.SessionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record.Clone()
}

// ensureRecord loads the persisted record once; later calls keep the live copy.
func (m *Manager) ensureRecord(ctx context.Context) error {
	m.mu.RLock()
	loaded := m.recLoaded
	m.mu.RUnlock()
	if loaded {
		return nil
	}

	persisted, err := m.repo.GetSessionRecord(ctx, m.userID)
	if err != nil {
		return fmt.Errorf("load session record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recLoaded {
		return nil
	}
	if persisted != nil {
		m.record = persisted
	}
	m.recLoaded = true
	return nil
}

// StartSession selects the active story, chapter and optional scene and moves
// the session to Active. Calling it again overwrites the pointers.
func (m *Manager) StartSession(ctx context.Context, storyID, chapterID string, sceneID *string) (*domain.SessionRecord, error) {
	if err := m.ensureRecord(ctx); err != nil {
		return m.fail(err)
	}
	if err := m.validateTarget(ctx, storyID, chapterID, sceneID); err != nil {
		if errors.Is(err, domain.ErrSceneNotFound) {
			m.mu.Lock()
			m.record.LastResponse = SceneNotFoundMessage
			snap := m.record.Clone()
			m.mu.Unlock()
			return snap, err
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidReference) {
			return m.Snapshot(), err
		}
		return m.fail(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.record
	if sceneID == nil || !r.HasActiveScene() || *r.ActiveSceneID != *sceneID {
		r.ClearPending()
	}
	r.ActiveStoryID = domain.StringPtr(storyID)
	r.ActiveChapterID = domain.StringPtr(chapterID)
	r.ActiveSceneID = nil
	if sceneID != nil {
		r.ActiveSceneID = domain.StringPtr(*sceneID)
	}
	r.State = domain.SessionActive
	r.PartialInput = ""
	m.logger.Info("Session started", "story_id", storyID, "chapter_id", chapterID, "has_scene", r.HasActiveScene())
	return r.Clone(), nil
}

func (m *Manager) validateTarget(ctx context.Context, storyID, chapterID string, sceneID *string) error {
	story, err := m.repo.GetStory(ctx, storyID)
	if err != nil {
		return fmt.Errorf("load story: %w", err)
	}
	if story == nil {
		return fmt.Errorf("story %s: %w", storyID, domain.ErrNotFound)
	}
	if story.UserID != "" && story.UserID != m.userID {
		return fmt.Errorf("story %s belongs to another user: %w", storyID, domain.ErrInvalidReference)
	}

	chapter, err := m.repo.GetChapter(ctx, chapterID)
	if err != nil {
		return fmt.Errorf("load chapter: %w", err)
	}
	if chapter == nil {
		return fmt.Errorf("chapter %s: %w", chapterID, domain.ErrNotFound)
	}
	if chapter.StoryID != storyID {
		return fmt.Errorf("chapter %s is not in story %s: %w", chapterID, storyID, domain.ErrInvalidReference)
	}

	if sceneID == nil {
		return nil
	}
	scene, err := m.repo.GetScene(ctx, *sceneID)
	if err != nil {
		return fmt.Errorf("load scene: %w", err)
	}
	if scene == nil {
		return fmt.Errorf("scene %s: %w", *sceneID, domain.ErrSceneNotFound)
	}
	if scene.ChapterID != chapterID {
		return fmt.Errorf("scene %s is not in chapter %s: %w", *sceneID, chapterID, domain.ErrInvalidReference)
	}
	return nil
}

// StartInterview asks the first question for the active scene.
func (m *Manager) StartInterview(ctx context.Context, speaker Speaker) (*domain.SessionRecord, error) {
	return m.converse(ctx, "", false, speaker)
}

// HandleUserInput answers the pending question with text and asks the next one.
// Without an active scene it sets a fixed error response, leaves
// IsAwaitingInput untouched, and returns ErrSessionNotActive. Once ctx is done
// the record is left as it was.
func (m *Manager) HandleUserInput(ctx context.Context, text string, speaker Speaker) (*domain.SessionRecord, error) {
	return m.converse(ctx, text, true, speaker)
}

func (m *Manager) converse(ctx context.Context, text string, withInput bool, speaker Speaker) (*domain.SessionRecord, error) {
	if !m.flight.TryLock() {
		return m.Snapshot(), domain.ErrSessionBusy
	}
	defer m.flight.Unlock()

	if err := m.ensureRecord(ctx); err != nil {
		return m.fail(err)
	}

	m.mu.Lock()
	if m.record.State != domain.SessionActive || !m.record.HasActiveScene() {
		m.record.LastResponse = NoActiveSceneMessage
		if m.record.State == domain.SessionError {
			m.record.LastResponse = SessionErrorMessage
		}
		snap := m.record.Clone()
		m.mu.Unlock()
		return snap, domain.ErrSessionNotActive
	}
	sceneID := *m.record.ActiveSceneID
	previousQuestion := ""
	if m.record.IsAwaitingInput {
		previousQuestion = m.record.PendingQuestion
	}
	m.mu.Unlock()

	uc, err := m.UserContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return m.Snapshot(), err
		}
		return m.fail(err)
	}

	var contextInput string
	if withInput {
		contextInput, err = m.builder.BuildContextWithCurrentInput(ctx, sceneID, text)
	} else {
		contextInput, err = m.builder.BuildContextForInterview(ctx, sceneID)
	}
	if errors.Is(err, domain.ErrSceneNotFound) {
		m.mu.Lock()
		m.record.LastResponse = SceneNotFoundMessage
		snap := m.record.Clone()
		m.mu.Unlock()
		return snap, err
	}
	if err != nil {
		if ctx.Err() != nil {
			return m.Snapshot(), err
		}
		return m.fail(err)
	}

	ctx = agent.WithScope(ctx, agent.Scope{UserID: m.userID, SessionID: sceneID})
	question, err := m.orch.GenerateInterviewQuestion(ctx, contextInput, uc)
	if ctx.Err() != nil {
		m.logger.Info("Interview turn abandoned", "scene_id", sceneID, "error", ctx.Err())
		if err == nil {
			err = ctx.Err()
		}
		return m.Snapshot(), err
	}
	if err != nil {
		m.logger.Warn("Interview question failed", "scene_id", sceneID, "error", err)
		m.mu.Lock()
		m.record.LastResponse = agent.UserMessage(err)
		snap := m.record.Clone()
		m.mu.Unlock()
		return snap, err
	}

	if withInput {
		if err := m.recordAnswer(ctx, sceneID, previousQuestion, text); err != nil {
			if ctx.Err() != nil {
				return m.Snapshot(), err
			}
			return m.fail(err)
		}
	}

	m.mu.Lock()
	m.record.LastResponse = question
	m.record.PendingQuestion = question
	m.record.IsAwaitingInput = true
	m.record.PartialInput = ""
	snap := m.record.Clone()
	m.mu.Unlock()

	if speaker != nil {
		if err := speaker.Speak(ctx, question); err != nil {
			return snap, fmt.Errorf("speak response: %w: %w", domain.ErrSynthesis, err)
		}
	}
	return snap, nil
}

// recordAnswer appends the exchange to the scene's interview history, creating it on first use.
func (m *Manager) recordAnswer(ctx context.Context, sceneID, question, answer string) error {
	history, err := m.repo.GetInterviewHistoryByScene(ctx, sceneID)
	if err != nil {
		return fmt.Errorf("load interview history: %w", err)
	}
	if history == nil {
		history = &domain.InterviewHistory{SceneID: sceneID}
		if err := m.repo.CreateInterviewHistory(ctx, history); err != nil {
			return fmt.Errorf("create interview history: %w", err)
		}
	}
	pair := &domain.QAPair{InterviewID: history.ID, Question: question, Answer: answer}
	if err := m.repo.CreateQAPair(ctx, pair); err != nil {
		return fmt.Errorf("record answer: %w", err)
	}
	return nil
}

// PauseSession persists the live record. It does nothing before the first
// StartSession.
func (m *Manager) PauseSession(ctx context.Context) error {
	m.mu.RLock()
	if m.record.State == domain.SessionUninitialized {
		m.mu.RUnlock()
		return nil
	}
	snap := m.record.Clone()
	m.mu.RUnlock()

	if snap.State == domain.SessionError && snap.ActiveStoryID != nil {
		snap.State = domain.SessionActive
	}
	if err := m.repo.UpsertSessionRecord(ctx, snap); err != nil {
		_, ferr := m.fail(fmt.Errorf("persist session record: %w", err))
		return ferr
	}

	m.mu.Lock()
	m.record.State = snap.State
	m.record.UpdatedAt = snap.UpdatedAt
	m.mu.Unlock()
	return nil
}

// GetCurrentState reloads the last persisted record. With nothing persisted
// the live record is returned unchanged.
func (m *Manager) GetCurrentState(ctx context.Context) (*domain.SessionRecord, error) {
	persisted, err := m.repo.GetSessionRecord(ctx, m.userID)
	if err != nil {
		return m.fail(fmt.Errorf("load session record: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.recLoaded = true
	if persisted != nil {
		m.record = persisted
	}
	return m.record.Clone(), nil
}

// SetInputMode switches between voice and text answering.
func (m *Manager) SetInputMode(mode domain.InputMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown input mode %q", mode)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record.InputMode = mode
	return nil
}

// SetPartialInput keeps an unfinished answer so it survives a pause.
func (m *Manager) SetPartialInput(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record.PartialInput = text
}

// UserContext returns the personalization for prompts, loading it from the
// user's settings on first use.
func (m *Manager) UserContext(ctx context.Context) (domain.UserContext, error) {
	m.mu.RLock()
	if m.ucLoaded {
		uc := m.uc.WithDefaults()
		m.mu.RUnlock()
		return uc, nil
	}
	m.mu.RUnlock()

	settings, err := m.repo.GetAppSettings(ctx, m.userID)
	if err != nil {
		return domain.UserContext{}, fmt.Errorf("load app settings: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ucLoaded {
		if settings != nil {
			m.uc = settings.UserContext
		}
		m.ucLoaded = true
	}
	return m.uc.WithDefaults(), nil
}

// UpdateUserContext replaces the personalization and persists it.
func (m *Manager) UpdateUserContext(ctx context.Context, uc domain.UserContext) (domain.UserContext, error) {
	uc = uc.WithDefaults()

	settings, err := m.repo.GetAppSettings(ctx, m.userID)
	if err != nil {
		return domain.UserContext{}, fmt.Errorf("load app settings: %w", err)
	}
	if settings == nil {
		settings = domain.NewAppSettings(m.userID, timeNow())
	}
	settings.UserContext = uc
	if err := m.repo.UpsertAppSettings(ctx, settings); err != nil {
		return domain.UserContext{}, fmt.Errorf("save app settings: %w", err)
	}

	m.mu.Lock()
	m.uc = uc
	m.ucLoaded = true
	m.mu.Unlock()
	return uc, nil
}

// ProcessNewTopic drafts an outline for the story from a raw topic and stores it on the story.
func (m *Manager) ProcessNewTopic(ctx context.Context, storyID, topic string) (string, error) {
	if !m.flight.TryLock() {
		return "", domain.ErrSessionBusy
	}
	defer m.flight.Unlock()

	story, err := m.ownedStory(ctx, storyID)
	if err != nil {
		return "", err
	}
	uc, err := m.UserContext(ctx)
	if err != nil {
		return "", err
	}

	ctx = agent.WithScope(ctx, agent.Scope{UserID: m.userID, SessionID: storyID})
	outline, err := m.orch.ProcessNewTopic(ctx, topic, uc)
	if err != nil {
		return "", err
	}
	story.Outline = outline
	if err := m.repo.UpdateStory(ctx, story); err != nil {
		return "", fmt.Errorf("save outline: %w", err)
	}
	return outline, nil
}

// DraftScene writes prose for a scene from its whole interview and stores it on the scene.
func (m *Manager) DraftScene(ctx context.Context, sceneID string) (*domain.Scene, error) {
	if !m.flight.TryLock() {
		return nil, domain.ErrSessionBusy
	}
	defer m.flight.Unlock()

	scene, pairs, err := m.builder.History(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	uc, err := m.UserContext(ctx)
	if err != nil {
		return nil, err
	}

	ctx = agent.WithScope(ctx, agent.Scope{UserID: m.userID, SessionID: sceneID})
	draft, err := m.orch.GenerateDraft(ctx, &domain.InterviewHistory{SceneID: sceneID, Pairs: pairs}, uc, scene.DisplayTitle())
	if err != nil {
		return nil, err
	}
	scene.Draft = draft
	if err := m.repo.UpdateScene(ctx, scene); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	return scene, nil
}

func (m *Manager) ownedStory(ctx context.Context, storyID string) (*domain.Story, error) {
	story, err := m.repo.GetStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("load story: %w", err)
	}
	if story == nil {
		return nil, fmt.Errorf("story %s: %w", storyID, domain.ErrNotFound)
	}
	if story.UserID != "" && story.UserID != m.userID {
		return nil, fmt.Errorf("story %s: %w", storyID, domain.ErrNotFound)
	}
	return story, nil
}

// fail marks the session as Error after a storage failure.
func (m *Manager) fail(err error) (*domain.SessionRecord, error) {
	m.logger.Error("Session storage failure", "error", err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record.State != domain.SessionUninitialized {
		m.record.State = domain.SessionError
	}
	return m.record.Clone(), err
}
