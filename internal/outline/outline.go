// Package outline turns a markdown outline into chapters and scenes.
package outline

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/lumi/internal/domain"
)

// DefaultChapterTitle holds points that appear before the first heading.
const DefaultChapterTitle = "Beginnings"

// Section is one chapter heading with its outline points.
type Section struct {
	Title  string
	Points []string
}

// Parse reads "## " headings as chapters and "-" or "*" bullets as points.
// Other lines are ignored.
func Parse(markdown string) []Section {
	var sections []Section
	for _, raw := range strings.Split(markdown, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "## "):
			title := strings.TrimSpace(strings.TrimPrefix(line, "## "))
			if title == "" {
				continue
			}
			sections = append(sections, Section{Title: title})
		case IsPoint(line):
			point := strings.TrimSpace(line[1:])
			if point == "" {
				continue
			}
			if len(sections) == 0 {
				sections = append(sections, Section{Title: DefaultChapterTitle})
			}
			last := &sections[len(sections)-1]
			last.Points = append(last.Points, point)
		}
	}
	return sections
}

// IsPoint reports whether a trimmed line is a bullet.
func IsPoint(line string) bool {
	return strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*")
}

// Store is the write side of storage Import needs.
type Store interface {
	ListChapters(ctx context.Context, storyID string) ([]*domain.Chapter, error)
	CreateChapter(ctx context.Context, chapter *domain.Chapter) error
	CreateScene(ctx context.Context, scene *domain.Scene) error
}

// Import appends the sections to a story as chapters, each point becoming a
// titled scene. Positions continue after the story's existing chapters.
func Import(ctx context.Context, repo Store, storyID string, sections []Section) ([]*domain.Chapter, error) {
	existing, err := repo.ListChapters(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	next := 0
	for _, c := range existing {
		if c.Position >= next {
			next = c.Position + 1
		}
	}

	created := make([]*domain.Chapter, 0, len(sections))
	for i, s := range sections {
		chapter := &domain.Chapter{StoryID: storyID, Title: s.Title, Position: next + i}
		if err := repo.CreateChapter(ctx, chapter); err != nil {
			return created, fmt.Errorf("create chapter %q: %w", s.Title, err)
		}
		for j, p := range s.Points {
			scene := &domain.Scene{ChapterID: chapter.ID, Title: domain.StringPtr(p), Position: j}
			if err := repo.CreateScene(ctx, scene); err != nil {
				return created, fmt.Errorf("create scene %q: %w", p, err)
			}
		}
		created = append(created, chapter)
	}
	return created, nil
}
