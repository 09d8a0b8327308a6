package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/lumi/internal/domain"
)

// MemoryStore implements Repository in process memory. Values are copied in
// and out so callers never alias stored state.
type MemoryStore struct {
	mu        sync.RWMutex
	stories   map[string]domain.Story
	chapters  map[string]domain.Chapter
	scenes    map[string]domain.Scene
	histories map[string]domain.InterviewHistory
	pairs     map[string]domain.QAPair
	settings  map[string]domain.AppSettings
	sessions  map[string]domain.SessionRecord
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		stories:   make(map[string]domain.Story),
		chapters:  make(map[string]domain.Chapter),
		scenes:    make(map[string]domain.Scene),
		histories: make(map[string]domain.InterviewHistory),
		pairs:     make(map[string]domain.QAPair),
		settings:  make(map[string]domain.AppSettings),
		sessions:  make(map[string]domain.SessionRecord),
	}
}

func (m *MemoryStore) CreateStory(_ context.Context, story *domain.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&story.ID)
	now := time.Now()
	if story.CreatedAt.IsZero() {
		story.CreatedAt = now
	}
	story.LastModified = now
	if story.Visibility == "" {
		story.Visibility = domain.VisibilityPrivate
	}
	m.stories[story.ID] = *story
	return nil
}

func (m *MemoryStore) GetStory(_ context.Context, id string) (*domain.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stories[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) UpdateStory(_ context.Context, story *domain.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stories[story.ID]; !ok {
		return fmt.Errorf("update story %s: %w", story.ID, domain.ErrNotFound)
	}
	story.LastModified = time.Now()
	m.stories[story.ID] = *story
	return nil
}

func (m *MemoryStore) DeleteStory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stories[id]; !ok {
		return fmt.Errorf("delete story %s: %w", id, domain.ErrNotFound)
	}
	delete(m.stories, id)
	for cid, c := range m.chapters {
		if c.StoryID == id {
			m.deleteChapterLocked(cid)
		}
	}
	return nil
}

func (m *MemoryStore) ListStories(_ context.Context, userID string) ([]*domain.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Story
	for _, s := range m.stories {
		if s.UserID == userID {
			s := s
			out = append(out, &s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateChapter(_ context.Context, chapter *domain.Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&chapter.ID)
	if chapter.CreatedAt.IsZero() {
		chapter.CreatedAt = time.Now()
	}
	m.chapters[chapter.ID] = *chapter
	return nil
}

func (m *MemoryStore) GetChapter(_ context.Context, id string) (*domain.Chapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chapters[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryStore) UpdateChapter(_ context.Context, chapter *domain.Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chapters[chapter.ID]; !ok {
		return fmt.Errorf("update chapter %s: %w", chapter.ID, domain.ErrNotFound)
	}
	m.chapters[chapter.ID] = *chapter
	return nil
}

func (m *MemoryStore) DeleteChapter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chapters[id]; !ok {
		return fmt.Errorf("delete chapter %s: %w", id, domain.ErrNotFound)
	}
	m.deleteChapterLocked(id)
	return nil
}

func (m *MemoryStore) deleteChapterLocked(id string) {
	delete(m.chapters, id)
	for sid, s := range m.scenes {
		if s.ChapterID == id {
			m.deleteSceneLocked(sid)
		}
	}
}

func (m *MemoryStore) ListChapters(_ context.Context, storyID string) ([]*domain.Chapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Chapter
	for _, c := range m.chapters {
		if c.StoryID == storyID {
			c := c
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *MemoryStore) CreateScene(_ context.Context, scene *domain.Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&scene.ID)
	now := time.Now()
	if scene.CreatedAt.IsZero() {
		scene.CreatedAt = now
	}
	scene.UpdatedAt = now
	m.scenes[scene.ID] = cloneScene(*scene)
	return nil
}

func (m *MemoryStore) GetScene(_ context.Context, id string) (*domain.Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenes[id]
	if !ok {
		return nil, nil
	}
	s = cloneScene(s)
	return &s, nil
}

func (m *MemoryStore) UpdateScene(_ context.Context, scene *domain.Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenes[scene.ID]; !ok {
		return fmt.Errorf("update scene %s: %w", scene.ID, domain.ErrNotFound)
	}
	scene.UpdatedAt = time.Now()
	m.scenes[scene.ID] = cloneScene(*scene)
	return nil
}

func (m *MemoryStore) DeleteScene(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenes[id]; !ok {
		return fmt.Errorf("delete scene %s: %w", id, domain.ErrNotFound)
	}
	m.deleteSceneLocked(id)
	return nil
}

func (m *MemoryStore) deleteSceneLocked(id string) {
	delete(m.scenes, id)
	for hid, h := range m.histories {
		if h.SceneID == id {
			m.deleteHistoryLocked(hid)
		}
	}
}

func (m *MemoryStore) ListScenes(_ context.Context, chapterID string) ([]*domain.Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Scene
	for _, s := range m.scenes {
		if s.ChapterID == chapterID {
			s := cloneScene(s)
			out = append(out, &s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *MemoryStore) CreateInterviewHistory(_ context.Context, history *domain.InterviewHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.histories {
		if h.SceneID == history.SceneID {
			return fmt.Errorf("scene %s already has an interview history", history.SceneID)
		}
	}
	ensureID(&history.ID)
	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now()
	}
	stored := *history
	stored.Pairs = nil
	m.histories[history.ID] = stored
	return nil
}

func (m *MemoryStore) GetInterviewHistory(_ context.Context, id string) (*domain.InterviewHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.histories[id]
	if !ok {
		return nil, nil
	}
	h.Pairs = m.pairsLocked(h.ID)
	return &h, nil
}

func (m *MemoryStore) GetInterviewHistoryByScene(_ context.Context, sceneID string) (*domain.InterviewHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.histories {
		if h.SceneID == sceneID {
			h.Pairs = m.pairsLocked(h.ID)
			return &h, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) DeleteInterviewHistory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.histories[id]; !ok {
		return fmt.Errorf("delete interview history %s: %w", id, domain.ErrNotFound)
	}
	m.deleteHistoryLocked(id)
	return nil
}

func (m *MemoryStore) deleteHistoryLocked(id string) {
	delete(m.histories, id)
	for pid, p := range m.pairs {
		if p.InterviewID == id {
			delete(m.pairs, pid)
		}
	}
}

func (m *MemoryStore) CreateQAPair(_ context.Context, pair *domain.QAPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.histories[pair.InterviewID]; !ok {
		return fmt.Errorf("create qa pair: interview %s: %w", pair.InterviewID, domain.ErrNotFound)
	}
	ensureID(&pair.ID)
	if pair.Timestamp.IsZero() {
		pair.Timestamp = time.Now()
	}
	m.pairs[pair.ID] = *pair
	return nil
}

func (m *MemoryStore) GetQAPair(_ context.Context, id string) (*domain.QAPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pairs[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) UpdateQAPair(_ context.Context, pair *domain.QAPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.pairs[pair.ID]
	if !ok {
		return fmt.Errorf("update qa pair %s: %w", pair.ID, domain.ErrNotFound)
	}
	existing.Question = pair.Question
	existing.Answer = pair.Answer
	m.pairs[pair.ID] = existing
	return nil
}

func (m *MemoryStore) DeleteQAPair(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pairs[id]; !ok {
		return fmt.Errorf("delete qa pair %s: %w", id, domain.ErrNotFound)
	}
	delete(m.pairs, id)
	return nil
}

func (m *MemoryStore) ListQAPairs(_ context.Context, interviewID string) ([]domain.QAPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pairsLocked(interviewID), nil
}

func (m *MemoryStore) pairsLocked(interviewID string) []domain.QAPair {
	var out []domain.QAPair
	for _, p := range m.pairs {
		if p.InterviewID == interviewID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (m *MemoryStore) GetAppSettings(_ context.Context, userID string) (*domain.AppSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[userID]
	if !ok {
		return nil, nil
	}
	s.UserContext = s.UserContext.WithDefaults()
	return &s, nil
}

func (m *MemoryStore) UpsertAppSettings(_ context.Context, settings *domain.AppSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = now
	}
	settings.UpdatedAt = now
	stored := *settings
	stored.UserContext.MentionedNames = append([]string(nil), settings.UserContext.MentionedNames...)
	m.settings[settings.UserID] = stored
	return nil
}

func (m *MemoryStore) GetSessionRecord(_ context.Context, userID string) (*domain.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpsertSessionRecord(_ context.Context, record *domain.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.UpdatedAt = time.Now()
	m.sessions[record.UserID] = *record.Clone()
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func cloneScene(s domain.Scene) domain.Scene {
	if s.Title != nil {
		s.Title = domain.StringPtr(*s.Title)
	}
	return s
}

var _ Repository = (*MemoryStore)(nil)
