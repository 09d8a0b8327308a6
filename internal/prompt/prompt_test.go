package prompt

import (
	"strings"
	"testing"

	"github.com/ashureev/lumi/internal/domain"
)

func dana() domain.UserContext {
	return domain.UserContext{
		UserName:        "Dana",
		UserDescription: "a retired teacher",
		UserThemes:      "the sea and family",
		MentionedNames:  []string{"DJ", "Jeromey"},
	}
}

func TestFillUserContext(t *testing.T) {
	t.Parallel()

	got := Fill("{user_name} is {user_description}; themes: {user_themes}; names: {mentioned_names_list}", dana(), nil)
	want := "Dana is a retired teacher; themes: the sea and family; names: DJ, Jeromey"
	if got != want {
		t.Fatalf("Fill() = %q, want %q", got, want)
	}
}

func TestFillExtraAfterUserContext(t *testing.T) {
	t.Parallel()

	got := Fill("Scene: {scene_title} by {user_name}", dana(), map[string]string{
		SceneTitle: "Kitchen Fire",
	})
	if got != "Scene: Kitchen Fire by Dana" {
		t.Fatalf("unexpected fill: %q", got)
	}
}

func TestFillLeavesUnknownPlaceholders(t *testing.T) {
	t.Parallel()

	got := Fill("{foo} and {user_name} and {bar}", dana(), map[string]string{"bar": "baz"})
	if got != "{foo} and Dana and baz" {
		t.Fatalf("unexpected fill: %q", got)
	}
}

func TestFillIsDeterministic(t *testing.T) {
	t.Parallel()

	extra := map[string]string{
		"a": "{b}",
		"b": "B",
		"c": "C",
	}
	first := Fill("{a}{b}{c}{d}", dana(), extra)
	for i := 0; i < 50; i++ {
		if got := Fill("{a}{b}{c}{d}", dana(), extra); got != first {
			t.Fatalf("run %d: got %q, want %q", i, got, first)
		}
	}
	if first != "BBC{d}" {
		t.Fatalf("unexpected fill: %q", first)
	}
}

func TestFillOutlineTemplate(t *testing.T) {
	t.Parallel()

	topic := "I grew up near the coast"
	got := Fill(Outline.Text, dana(), map[string]string{RawTextContent: topic})

	if strings.Contains(got, "{user_name}") {
		t.Fatal("expected every {user_name} to be replaced")
	}
	if strings.Contains(got, "{raw_text_content}") {
		t.Fatal("expected {raw_text_content} to be replaced")
	}
	if !strings.Contains(got, topic) {
		t.Fatalf("expected topic %q in prompt", topic)
	}
	if n := strings.Count(got, "Dana"); n != strings.Count(Outline.Text, "{user_name}") {
		t.Fatalf("expected %d occurrences of Dana, got %d", strings.Count(Outline.Text, "{user_name}"), n)
	}
}

func TestTemplatesDeclareTheirPlaceholders(t *testing.T) {
	t.Parallel()

	for _, tmpl := range []Template{Outline, Interview, InterviewOutlinePoint, Draft} {
		for _, p := range tmpl.Params {
			if !strings.Contains(tmpl.Text, Token(p)) {
				t.Errorf("template %s declares %s but does not use it", tmpl.Name, p)
			}
		}
	}
}

func TestMissing(t *testing.T) {
	t.Parallel()

	missing := Missing(Draft, map[string]string{OutlinePoint: "x"})
	if len(missing) != 1 || missing[0] != QAndABlock {
		t.Fatalf("Missing() = %v", missing)
	}
}

func TestByName(t *testing.T) {
	t.Parallel()

	if _, err := ByName("nope"); err == nil {
		t.Fatal("expected error for unknown template")
	}
	tmpl, err := ByName(NameDraft)
	if err != nil || tmpl.Name != NameDraft {
		t.Fatalf("ByName(draft) = %v, %v", tmpl.Name, err)
	}
}
