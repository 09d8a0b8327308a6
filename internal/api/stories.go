package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/lumi/internal/domain"
	"github.com/ashureev/lumi/internal/identity"
	"github.com/ashureev/lumi/internal/outline"
	"github.com/go-chi/chi/v5"
)

type createStoryRequest struct {
	Title      string            `json:"title"`
	Visibility domain.Visibility `json:"visibility"`
}

type createChapterRequest struct {
	Title    string `json:"title"`
	Position int    `json:"position"`
}

type createSceneRequest struct {
	Title    *string `json:"title"`
	Position int     `json:"position"`
}

type topicRequest struct {
	Topic string `json:"topic"`
}

type importRequest struct {
	Markdown string `json:"markdown"`
}

type qaPairRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ListStories returns the caller's stories.
func (h *Handler) ListStories(w http.ResponseWriter, r *http.Request) {
	stories, err := h.repo.ListStories(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if stories == nil {
		stories = []*domain.Story{}
	}
	JSON(w, http.StatusOK, stories)
}

// CreateStory creates an empty private story.
func (h *Handler) CreateStory(w http.ResponseWriter, r *http.Request) {
	var req createStoryRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Visibility == "" {
		req.Visibility = domain.VisibilityPrivate
	}
	if !req.Visibility.Valid() {
		Error(w, http.StatusBadRequest, "invalid visibility")
		return
	}

	story := &domain.Story{
		UserID:     identity.UserIDFromContext(r.Context()),
		Title:      strings.TrimSpace(req.Title),
		Visibility: req.Visibility,
	}
	if err := h.repo.CreateStory(r.Context(), story); err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, story)
}

// GetStory returns one story.
func (h *Handler) GetStory(w http.ResponseWriter, r *http.Request) {
	story, err := h.ownedStory(r.Context(), chi.URLParam(r, "storyID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, story)
}

// DeleteStory removes a story with its chapters, scenes and interviews.
func (h *Handler) DeleteStory(w http.ResponseWriter, r *http.Request) {
	story, err := h.ownedStory(r.Context(), chi.URLParam(r, "storyID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.repo.DeleteStory(r.Context(), story.ID); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateOutline turns a raw topic into an outline stored on the story.
func (h *Handler) GenerateOutline(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		Error(w, http.StatusBadRequest, "topic is required")
		return
	}
	text, err := h.manager(r).ProcessNewTopic(r.Context(), chi.URLParam(r, "storyID"), req.Topic)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"outline": text})
}

// ImportOutline creates chapters and scenes from markdown, or from the
// story's saved outline when the body has none.
func (h *Handler) ImportOutline(w http.ResponseWriter, r *http.Request) {
	story, err := h.ownedStory(r.Context(), chi.URLParam(r, "storyID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req importRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	markdown := req.Markdown
	if strings.TrimSpace(markdown) == "" {
		markdown = story.Outline
	}
	sections := outline.Parse(markdown)
	if len(sections) == 0 {
		Error(w, http.StatusBadRequest, "outline has no chapters or points")
		return
	}
	chapters, err := outline.Import(r.Context(), h.repo, story.ID, sections)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, chapters)
}

// ListChapters returns a story's chapters.
func (h *Handler) ListChapters(w http.ResponseWriter, r *http.Request) {
	story, err := h.ownedStory(r.Context(), chi.URLParam(r, "storyID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	chapters, err := h.repo.ListChapters(r.Context(), story.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if chapters == nil {
		chapters = []*domain.Chapter{}
	}
	JSON(w, http.StatusOK, chapters)
}

// CreateChapter adds a chapter to a story.
func (h *Handler) CreateChapter(w http.ResponseWriter, r *http.Request) {
	story, err := h.ownedStory(r.Context(), chi.URLParam(r, "storyID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req createChapterRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}
	chapter := &domain.Chapter{StoryID: story.ID, Title: strings.TrimSpace(req.Title), Position: req.Position}
	if err := h.repo.CreateChapter(r.Context(), chapter); err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, chapter)
}

// ListScenes returns a chapter's scenes.
func (h *Handler) ListScenes(w http.ResponseWriter, r *http.Request) {
	chapter, err := h.ownedChapter(r.Context(), chi.URLParam(r, "chapterID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	scenes, err := h.repo.ListScenes(r.Context(), chapter.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if scenes == nil {
		scenes = []*domain.Scene{}
	}
	JSON(w, http.StatusOK, scenes)
}

// CreateScene adds a scene to a chapter. The title is optional.
func (h *Handler) CreateScene(w http.ResponseWriter, r *http.Request) {
	chapter, err := h.ownedChapter(r.Context(), chi.URLParam(r, "chapterID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req createSceneRequest
	if !decode(w, r, &req) {
		return
	}
	scene := &domain.Scene{ChapterID: chapter.ID, Title: req.Title, Position: req.Position}
	if err := h.repo.CreateScene(r.Context(), scene); err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, scene)
}

// GetSceneContext returns the context string the next interview prompt would use.
func (h *Handler) GetSceneContext(w http.ResponseWriter, r *http.Request) {
	scene, err := h.ownedScene(r.Context(), chi.URLParam(r, "sceneID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	text, err := h.builder.BuildContextForInterview(r.Context(), scene.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"context": text})
}

// DraftScene writes prose for a scene from its interview.
func (h *Handler) DraftScene(w http.ResponseWriter, r *http.Request) {
	scene, err := h.ownedScene(r.Context(), chi.URLParam(r, "sceneID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	drafted, err := h.manager(r).DraftScene(r.Context(), scene.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, drafted)
}

// UpdateQAPair is the explicit edit of a recorded answer. The timestamp,
// and with it the pair's place in the history, is kept.
func (h *Handler) UpdateQAPair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pair, err := h.repo.GetQAPair(ctx, chi.URLParam(r, "pairID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if pair == nil {
		Error(w, http.StatusNotFound, "qa pair not found")
		return
	}
	history, err := h.repo.GetInterviewHistory(ctx, pair.InterviewID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if history == nil {
		Error(w, http.StatusNotFound, "qa pair not found")
		return
	}
	if _, err := h.ownedScene(ctx, history.SceneID); err != nil {
		writeErr(w, r, err)
		return
	}

	var req qaPairRequest
	if !decode(w, r, &req) {
		return
	}
	pair.Question = req.Question
	pair.Answer = req.Answer
	if err := h.repo.UpdateQAPair(ctx, pair); err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, pair)
}

func (h *Handler) ownedStory(ctx context.Context, storyID string) (*domain.Story, error) {
	story, err := h.repo.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story == nil || story.UserID != identity.UserIDFromContext(ctx) {
		return nil, fmt.Errorf("story %s: %w", storyID, domain.ErrNotFound)
	}
	return story, nil
}

func (h *Handler) ownedChapter(ctx context.Context, chapterID string) (*domain.Chapter, error) {
	chapter, err := h.repo.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if chapter == nil {
		return nil, fmt.Errorf("chapter %s: %w", chapterID, domain.ErrNotFound)
	}
	if _, err := h.ownedStory(ctx, chapter.StoryID); err != nil {
		return nil, fmt.Errorf("chapter %s: %w", chapterID, domain.ErrNotFound)
	}
	return chapter, nil
}

func (h *Handler) ownedScene(ctx context.Context, sceneID string) (*domain.Scene, error) {
	scene, err := h.repo.GetScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if scene == nil {
		return nil, fmt.Errorf("scene %s: %w", sceneID, domain.ErrSceneNotFound)
	}
	if _, err := h.ownedChapter(ctx, scene.ChapterID); err != nil {
		return nil, fmt.Errorf("scene %s: %w", sceneID, domain.ErrSceneNotFound)
	}
	return scene, nil
}
