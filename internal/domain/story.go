package domain

import (
	"strings"
	"time"
)

// UntitledScene is used wherever a scene has no title.
const UntitledScene = "Untitled Scene"

// Visibility controls who can read a story.
type Visibility string

const (
	// VisibilityPrivate keeps the story to its author.
	VisibilityPrivate Visibility = "private"
	// VisibilitySharedAnonymously publishes the story without attribution.
	VisibilitySharedAnonymously Visibility = "shared_anonymously"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilitySharedAnonymously
}

// Story is the root of an author's memoir.
type Story struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Title        string     `json:"title"`
	Outline      string     `json:"outline,omitempty"`
	Visibility   Visibility `json:"visibility"`
	CreatedAt    time.Time  `json:"created_at"`
	LastModified time.Time  `json:"last_modified"`
}

// Chapter groups scenes inside a story.
type Chapter struct {
	ID        string    `json:"id"`
	StoryID   string    `json:"story_id"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// Scene is the unit an interview is conducted for.
type Scene struct {
	ID        string    `json:"id"`
	ChapterID string    `json:"chapter_id"`
	Title     *string   `json:"title,omitempty"`
	Position  int       `json:"position"`
	Draft     string    `json:"draft,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayTitle returns the scene title or UntitledScene when absent or blank.
func (s *Scene) DisplayTitle() string {
	if s == nil || s.Title == nil || strings.TrimSpace(*s.Title) == "" {
		return UntitledScene
	}
	return *s.Title
}

// StringPtr returns a pointer to a copy of v.
func StringPtr(v string) *string {
	return &v
}
