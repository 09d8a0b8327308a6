package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/lumi/internal/domain"
)

func newSQLiteForTest(t *testing.T) Repository {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "lumi.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachRepo(t *testing.T, fn func(t *testing.T, repo Repository)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteForTest(t)) })
}

func seedScene(t *testing.T, repo Repository, title *string) (*domain.Story, *domain.Chapter, *domain.Scene) {
	t.Helper()
	ctx := context.Background()
	story := &domain.Story{UserID: "u1", Title: "My Life"}
	if err := repo.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	chapter := &domain.Chapter{StoryID: story.ID, Title: "Childhood"}
	if err := repo.CreateChapter(ctx, chapter); err != nil {
		t.Fatalf("CreateChapter: %v", err)
	}
	scene := &domain.Scene{ChapterID: chapter.ID, Title: title}
	if err := repo.CreateScene(ctx, scene); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}
	return story, chapter, scene
}

func TestStoryLifecycle(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		story, _, _ := seedScene(t, repo, domain.StringPtr("Kitchen Fire"))

		if story.ID == "" {
			t.Fatal("expected generated story ID")
		}
		if story.Visibility != domain.VisibilityPrivate {
			t.Errorf("expected default visibility private, got %q", story.Visibility)
		}

		got, err := repo.GetStory(ctx, story.ID)
		if err != nil || got == nil {
			t.Fatalf("GetStory: %v, %v", got, err)
		}
		if got.Title != "My Life" {
			t.Errorf("expected title My Life, got %q", got.Title)
		}

		got.Outline = "- one"
		if err := repo.UpdateStory(ctx, got); err != nil {
			t.Fatalf("UpdateStory: %v", err)
		}
		again, _ := repo.GetStory(ctx, story.ID)
		if again.Outline != "- one" {
			t.Errorf("expected outline persisted, got %q", again.Outline)
		}

		list, err := repo.ListStories(ctx, "u1")
		if err != nil || len(list) != 1 {
			t.Fatalf("ListStories: %d, %v", len(list), err)
		}

		if err := repo.DeleteStory(ctx, story.ID); err != nil {
			t.Fatalf("DeleteStory: %v", err)
		}
		gone, err := repo.GetStory(ctx, story.ID)
		if err != nil || gone != nil {
			t.Errorf("expected nil after delete, got %v, %v", gone, err)
		}
	})
}

func TestMissingEntities(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		scene, err := repo.GetScene(ctx, "nope")
		if err != nil || scene != nil {
			t.Errorf("expected nil, nil for missing scene, got %v, %v", scene, err)
		}
		if err := repo.UpdateStory(ctx, &domain.Story{ID: "nope"}); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound on update, got %v", err)
		}
		if err := repo.DeleteScene(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound on delete, got %v", err)
		}
		h, err := repo.GetInterviewHistoryByScene(ctx, "nope")
		if err != nil || h != nil {
			t.Errorf("expected nil history, got %v, %v", h, err)
		}
	})
}

func TestSceneTitleNullable(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		_, chapter, scene := seedScene(t, repo, nil)

		got, err := repo.GetScene(ctx, scene.ID)
		if err != nil {
			t.Fatalf("GetScene: %v", err)
		}
		if got.Title != nil {
			t.Errorf("expected nil title, got %q", *got.Title)
		}
		if got.DisplayTitle() != domain.UntitledScene {
			t.Errorf("expected untitled display, got %q", got.DisplayTitle())
		}

		second := &domain.Scene{ChapterID: chapter.ID, Title: domain.StringPtr("B"), Position: 1}
		if err := repo.CreateScene(ctx, second); err != nil {
			t.Fatalf("CreateScene: %v", err)
		}
		scenes, err := repo.ListScenes(ctx, chapter.ID)
		if err != nil || len(scenes) != 2 {
			t.Fatalf("ListScenes: %d, %v", len(scenes), err)
		}
		if scenes[1].ID != second.ID {
			t.Errorf("expected scenes ordered by position")
		}
	})
}

func TestInterviewHistoryPairsOrdered(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		_, _, scene := seedScene(t, repo, domain.StringPtr("Kitchen Fire"))

		history := &domain.InterviewHistory{SceneID: scene.ID}
		if err := repo.CreateInterviewHistory(ctx, history); err != nil {
			t.Fatalf("CreateInterviewHistory: %v", err)
		}
		if err := repo.CreateInterviewHistory(ctx, &domain.InterviewHistory{SceneID: scene.ID}); err == nil {
			t.Error("expected second history for the same scene to fail")
		}

		base := time.Now()
		// Insert out of order; reads must come back by timestamp.
		for _, off := range []int{2, 0, 1} {
			pair := &domain.QAPair{
				InterviewID: history.ID,
				Question:    "Q" + string(rune('0'+off)),
				Answer:      "A" + string(rune('0'+off)),
				Timestamp:   base.Add(time.Duration(off) * time.Second),
			}
			if err := repo.CreateQAPair(ctx, pair); err != nil {
				t.Fatalf("CreateQAPair: %v", err)
			}
		}

		got, err := repo.GetInterviewHistoryByScene(ctx, scene.ID)
		if err != nil || got == nil {
			t.Fatalf("GetInterviewHistoryByScene: %v, %v", got, err)
		}
		if got.Len() != 3 {
			t.Fatalf("expected 3 pairs, got %d", got.Len())
		}
		for i, p := range got.Pairs {
			want := "Q" + string(rune('0'+i))
			if p.Question != want {
				t.Errorf("pair %d: expected %s, got %s", i, want, p.Question)
			}
		}

		edit := got.Pairs[0]
		edit.Answer = "edited"
		if err := repo.UpdateQAPair(ctx, &edit); err != nil {
			t.Fatalf("UpdateQAPair: %v", err)
		}
		p, _ := repo.GetQAPair(ctx, edit.ID)
		if p.Answer != "edited" {
			t.Errorf("expected edited answer, got %q", p.Answer)
		}

		if err := repo.DeleteScene(ctx, scene.ID); err != nil {
			t.Fatalf("DeleteScene: %v", err)
		}
		pairs, err := repo.ListQAPairs(ctx, history.ID)
		if err != nil {
			t.Fatalf("ListQAPairs: %v", err)
		}
		if len(pairs) != 0 {
			t.Errorf("expected pairs removed with scene, got %d", len(pairs))
		}
	})
}

func TestAppSettingsUpsert(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		none, err := repo.GetAppSettings(ctx, "u1")
		if err != nil || none != nil {
			t.Fatalf("expected no settings, got %v, %v", none, err)
		}

		settings := domain.NewAppSettings("u1", time.Now())
		settings.UserContext = domain.UserContext{
			UserName:       "Dana",
			MentionedNames: []string{"Mom", "Sam"},
		}
		if err := repo.UpsertAppSettings(ctx, settings); err != nil {
			t.Fatalf("UpsertAppSettings: %v", err)
		}

		got, err := repo.GetAppSettings(ctx, "u1")
		if err != nil || got == nil {
			t.Fatalf("GetAppSettings: %v, %v", got, err)
		}
		if got.UserContext.UserName != "Dana" {
			t.Errorf("expected Dana, got %q", got.UserContext.UserName)
		}
		if got.UserContext.UserThemes != "their life" {
			t.Errorf("expected default themes, got %q", got.UserContext.UserThemes)
		}
		if got.UserContext.MentionedNamesList() != "Mom, Sam" {
			t.Errorf("unexpected names %q", got.UserContext.MentionedNamesList())
		}
	})
}

func TestSessionRecordUpsert(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		record := domain.NewSessionRecord("u1")
		record.State = domain.SessionActive
		record.ActiveStoryID = domain.StringPtr("s1")
		record.ActiveSceneID = domain.StringPtr("sc1")
		record.LastResponse = "What did the kitchen smell like?"
		record.IsAwaitingInput = true
		record.PendingQuestion = record.LastResponse
		if err := repo.UpsertSessionRecord(ctx, record); err != nil {
			t.Fatalf("UpsertSessionRecord: %v", err)
		}

		got, err := repo.GetSessionRecord(ctx, "u1")
		if err != nil || got == nil {
			t.Fatalf("GetSessionRecord: %v, %v", got, err)
		}
		if got.State != domain.SessionActive || !got.IsAwaitingInput {
			t.Errorf("unexpected record %+v", got)
		}
		if got.PendingQuestion != "What did the kitchen smell like?" {
			t.Errorf("pending question = %q", got.PendingQuestion)
		}
		if got.ActiveChapterID != nil {
			t.Errorf("expected nil chapter, got %q", *got.ActiveChapterID)
		}
		if !got.HasActiveScene() || *got.ActiveSceneID != "sc1" {
			t.Errorf("expected active scene sc1")
		}

		record.IsAwaitingInput = false
		record.ActiveSceneID = nil
		if err := repo.UpsertSessionRecord(ctx, record); err != nil {
			t.Fatalf("UpsertSessionRecord: %v", err)
		}
		got, _ = repo.GetSessionRecord(ctx, "u1")
		if got.IsAwaitingInput || got.HasActiveScene() {
			t.Errorf("expected cleared record, got %+v", got)
		}
	})
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "cassandra"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
