package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/lumi/internal/agent"
	"github.com/ashureev/lumi/internal/domain"
	"github.com/ashureev/lumi/internal/session"
	"github.com/ashureev/lumi/internal/store"
)

func memoryOpener(repo *store.MemoryStore, model *agent.StaticModel) openFunc {
	return func(_ context.Context, userID string) (*app, error) {
		return &app{
			repo:  repo,
			model: model,
			mgr:   session.NewManager(userID, repo, agent.NewOrchestrator(model), nil),
			close: func() {},
		}, nil
	}
}

func run(t *testing.T, open openFunc, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(open, strings.NewReader(stdin), &out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("lumi %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestOutlineInterviewWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := store.NewMemory()
	dir := t.TempDir()

	ucPath := filepath.Join(dir, "author.yaml")
	if err := os.WriteFile(ucPath, []byte("user_name: Dana\nuser_themes: growing up on the coast\nmentioned_names: [Sam]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	rawPath := filepath.Join(dir, "coast.txt")
	if err := os.WriteFile(rawPath, []byte("I grew up near the coast with my brother Sam."), 0o600); err != nil {
		t.Fatal(err)
	}

	outlineModel := agent.NewStaticModel("## Childhood\n- The storm of '89")
	out := run(t, memoryOpener(repo, outlineModel), "", "outline", rawPath, "--user-context", ucPath)
	if !strings.Contains(out, "Imported 1 chapters") {
		t.Fatalf("unexpected outline output:\n%s", out)
	}
	prompt := outlineModel.LastPrompt()
	if !strings.Contains(prompt, "Dana") || !strings.Contains(prompt, "I grew up near the coast with my brother Sam.") {
		t.Fatal("expected user context and raw text in outline prompt")
	}

	stories, _ := repo.ListStories(ctx, "local")
	if len(stories) != 1 || stories[0].Title != "coast" {
		t.Fatalf("unexpected stories %+v", stories)
	}
	storyID := stories[0].ID

	interviewModel := agent.NewStaticModel("What did the sky look like?", "Where was Sam?")
	out = run(t, memoryOpener(repo, interviewModel), "Green and low.\ndone\n", "interview", "--story-id", storyID)
	if !strings.Contains(out, "Lumi: What did the sky look like?") || !strings.Contains(out, "Lumi: Where was Sam?") {
		t.Fatalf("unexpected interview output:\n%s", out)
	}

	chapters, _ := repo.ListChapters(ctx, storyID)
	scenes, _ := repo.ListScenes(ctx, chapters[0].ID)
	history, _ := repo.GetInterviewHistoryByScene(ctx, scenes[0].ID)
	if history.Len() != 1 || history.Pairs[0].Answer != "Green and low." {
		t.Fatalf("unexpected history %+v", history)
	}

	draftModel := agent.NewStaticModel("The sky went green before the storm.")
	draftPath := filepath.Join(dir, "draft.md")
	run(t, memoryOpener(repo, draftModel), "", "write", "--story-id", storyID, "-o", draftPath)
	data, err := os.ReadFile(draftPath)
	if err != nil {
		t.Fatalf("read draft: %v", err)
	}
	if string(data) != "## The storm of '89\n\nThe sky went green before the storm.\n\n" {
		t.Fatalf("unexpected draft %q", data)
	}
	if !strings.Contains(draftModel.LastPrompt(), "Q: What did the sky look like?\nA: Green and low.") {
		t.Fatal("expected pairs in draft prompt")
	}
}

func TestInterviewSkipsDoneScenes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := store.NewMemory()
	story := &domain.Story{UserID: "local", Title: "Life"}
	_ = repo.CreateStory(ctx, story)
	chapter := &domain.Chapter{StoryID: story.ID, Title: "One"}
	_ = repo.CreateChapter(ctx, chapter)
	scene := &domain.Scene{ChapterID: chapter.ID, Title: domain.StringPtr("Done already")}
	_ = repo.CreateScene(ctx, scene)
	h := &domain.InterviewHistory{SceneID: scene.ID}
	_ = repo.CreateInterviewHistory(ctx, h)
	_ = repo.CreateQAPair(ctx, &domain.QAPair{InterviewID: h.ID, Question: "Q", Answer: "A"})

	model := agent.NewStaticModel("unused")
	out := run(t, memoryOpener(repo, model), "", "interview", "--story-id", story.ID)
	if !strings.Contains(out, `Skipping "Done already"`) {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if len(model.Prompts()) != 0 {
		t.Fatal("expected no model calls")
	}
}

func TestCheckModel(t *testing.T) {
	t.Parallel()
	out := run(t, memoryOpener(store.NewMemory(), agent.NewStaticModel("x")), "", "check-model")
	if strings.TrimSpace(out) != "Model static: ok" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestLoadUserContextDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "uc.yaml")
	if err := os.WriteFile(path, []byte("user_name: Dana\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	uc, err := loadUserContext(path)
	if err != nil {
		t.Fatalf("loadUserContext: %v", err)
	}
	if uc.UserName != "Dana" || uc.UserDescription != "an author" {
		t.Fatalf("unexpected context %+v", uc)
	}
}

func TestPromptPreview(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "uc.yaml")
	if err := os.WriteFile(path, []byte("user_name: Dana\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	model := agent.NewStaticModel("unused")
	out := run(t, memoryOpener(store.NewMemory(), model), "",
		"--user-context", path, "prompt", "outline", "--param", "raw_text_content=I grew up near the coast")
	if !strings.Contains(out, "I grew up near the coast") || !strings.Contains(out, "Dana") {
		t.Fatalf("unexpected prompt:\n%s", out)
	}
	if strings.Contains(out, "{user_name}") || strings.Contains(out, "{raw_text_content}") {
		t.Fatalf("unfilled placeholders:\n%s", out)
	}
	if len(model.Prompts()) != 0 {
		t.Fatal("expected no model calls")
	}
}
