// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"

	"github.com/ashureev/lumi/internal/domain"
	"github.com/google/uuid"
)

// Repository is the plain CRUD storage collaborator. It carries no business
// rules. Reads of missing entities return nil, nil. Updates and deletes of
// missing entities return domain.ErrNotFound.
type Repository interface {
	CreateStory(ctx context.Context, story *domain.Story) error
	GetStory(ctx context.Context, id string) (*domain.Story, error)
	UpdateStory(ctx context.Context, story *domain.Story) error
	DeleteStory(ctx context.Context, id string) error
	// ListStories returns a user's stories, oldest first.
	ListStories(ctx context.Context, userID string) ([]*domain.Story, error)

	CreateChapter(ctx context.Context, chapter *domain.Chapter) error
	GetChapter(ctx context.Context, id string) (*domain.Chapter, error)
	UpdateChapter(ctx context.Context, chapter *domain.Chapter) error
	DeleteChapter(ctx context.Context, id string) error
	// ListChapters returns a story's chapters by position.
	ListChapters(ctx context.Context, storyID string) ([]*domain.Chapter, error)

	CreateScene(ctx context.Context, scene *domain.Scene) error
	GetScene(ctx context.Context, id string) (*domain.Scene, error)
	UpdateScene(ctx context.Context, scene *domain.Scene) error
	DeleteScene(ctx context.Context, id string) error
	// ListScenes returns a chapter's scenes by position.
	ListScenes(ctx context.Context, chapterID string) ([]*domain.Scene, error)

	// CreateInterviewHistory fails if the scene already owns a history.
	CreateInterviewHistory(ctx context.Context, history *domain.InterviewHistory) error
	GetInterviewHistory(ctx context.Context, id string) (*domain.InterviewHistory, error)
	// GetInterviewHistoryByScene returns the history with its pairs loaded.
	GetInterviewHistoryByScene(ctx context.Context, sceneID string) (*domain.InterviewHistory, error)
	DeleteInterviewHistory(ctx context.Context, id string) error

	CreateQAPair(ctx context.Context, pair *domain.QAPair) error
	GetQAPair(ctx context.Context, id string) (*domain.QAPair, error)
	UpdateQAPair(ctx context.Context, pair *domain.QAPair) error
	DeleteQAPair(ctx context.Context, id string) error
	// ListQAPairs returns a history's pairs in timestamp order.
	ListQAPairs(ctx context.Context, interviewID string) ([]domain.QAPair, error)

	GetAppSettings(ctx context.Context, userID string) (*domain.AppSettings, error)
	UpsertAppSettings(ctx context.Context, settings *domain.AppSettings) error

	GetSessionRecord(ctx context.Context, userID string) (*domain.SessionRecord, error)
	UpsertSessionRecord(ctx context.Context, record *domain.SessionRecord) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Driver        string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
}

// Open creates the repository named by opts.Driver.
func Open(ctx context.Context, opts Options) (Repository, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewSQLite(opts.SQLitePath)
	case DriverMongo:
		return NewMongo(ctx, opts.MongoURI, opts.MongoDatabase)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

func ensureID(id *string) {
	if *id == "" {
		*id = NewID()
	}
}
