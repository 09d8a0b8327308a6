package interview

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/lumi/internal/domain"
)

type fakeSource struct {
	scenes    map[string]*domain.Scene
	histories map[string]*domain.InterviewHistory
}

func (f *fakeSource) GetScene(_ context.Context, id string) (*domain.Scene, error) {
	return f.scenes[id], nil
}

func (f *fakeSource) GetInterviewHistoryByScene(_ context.Context, sceneID string) (*domain.InterviewHistory, error) {
	return f.histories[sceneID], nil
}

func kitchenFire() *fakeSource {
	return &fakeSource{
		scenes: map[string]*domain.Scene{
			"s1": {ID: "s1", Title: domain.StringPtr("Kitchen Fire")},
			"s2": {ID: "s2"},
		},
		histories: map[string]*domain.InterviewHistory{
			"s1": {ID: "h1", SceneID: "s1", Pairs: makePairs(7)},
		},
	}
}

func TestBuildContextForInterviewEndToEnd(t *testing.T) {
	t.Parallel()

	b := NewBuilder(kitchenFire())
	got, err := b.BuildContextForInterview(context.Background(), "s1")
	if err != nil {
		t.Fatalf("BuildContextForInterview failed: %v", err)
	}

	order := []string{
		"Scene: Kitchen Fire",
		"Conversation History:",
		"Q: Q0", "A: A0",
		"Q: Q1", "A: A1",
		"\n[2 additional questions and answers were discussed...]\n",
		"Q: Q4", "A: A4",
		"Q: Q5", "A: A5",
		"Q: Q6", "A: A6",
	}
	last := -1
	for _, s := range order {
		idx := strings.Index(got, s)
		if idx < 0 {
			t.Fatalf("expected %q in context:\n%s", s, got)
		}
		if idx <= last {
			t.Fatalf("%q out of order in context:\n%s", s, got)
		}
		last = idx
	}
	for _, s := range []string{"Q: Q2", "Q: Q3"} {
		if strings.Contains(got, s) {
			t.Fatalf("elided pair %q present in context", s)
		}
	}
}

func TestBuildContextUntitledAndEmpty(t *testing.T) {
	t.Parallel()

	b := NewBuilder(kitchenFire())
	got, err := b.BuildContextForInterview(context.Background(), "s2")
	if err != nil {
		t.Fatalf("BuildContextForInterview failed: %v", err)
	}
	want := "Scene: Untitled Scene\n\nConversation History:\n" + NoConversation
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildContextSceneNotFound(t *testing.T) {
	t.Parallel()

	b := NewBuilder(kitchenFire())
	_, err := b.BuildContextForInterview(context.Background(), "missing")
	if !errors.Is(err, domain.ErrSceneNotFound) {
		t.Fatalf("expected ErrSceneNotFound, got %v", err)
	}
}

func TestBuildContextWithCurrentInput(t *testing.T) {
	t.Parallel()

	b := NewBuilder(kitchenFire())
	got, err := b.BuildContextWithCurrentInput(context.Background(), "s2", "The curtains caught first.")
	if err != nil {
		t.Fatalf("BuildContextWithCurrentInput failed: %v", err)
	}
	if !strings.HasSuffix(got, "\n\nCurrent User Response:\nThe curtains caught first.") {
		t.Fatalf("unexpected context: %q", got)
	}
}

func TestParseContextRoundTrip(t *testing.T) {
	t.Parallel()

	history := Summarize(makePairs(3))
	c, ok := ParseContext(WithCurrentInput(Compose("Kitchen Fire", history), "smoke"))
	if !ok {
		t.Fatal("expected composed context to parse")
	}
	if c.SceneTitle != "Kitchen Fire" || c.History != history || c.CurrentInput != "smoke" {
		t.Fatalf("unexpected parse: %+v", c)
	}
	if !strings.HasSuffix(c.PromptHistory(), "Current User Response:\nsmoke") {
		t.Fatalf("unexpected prompt history: %q", c.PromptHistory())
	}

	if _, ok := ParseContext("- Moving to the coast in 1989"); ok {
		t.Fatal("expected bare outline point not to parse")
	}
}
