package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/lumi/internal/domain"
	"github.com/ashureev/lumi/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes session record writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		outline TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_modified INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stories_user ON stories(user_id);

	CREATE TABLE IF NOT EXISTS chapters (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		position INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chapters_story ON chapters(story_id, position);

	CREATE TABLE IF NOT EXISTS scenes (
		id TEXT PRIMARY KEY,
		chapter_id TEXT NOT NULL REFERENCES chapters(id) ON DELETE CASCADE,
		title TEXT,
		position INTEGER NOT NULL,
		draft TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scenes_chapter ON scenes(chapter_id, position);

	CREATE TABLE IF NOT EXISTS interview_histories (
		id TEXT PRIMARY KEY,
		scene_id TEXT NOT NULL UNIQUE REFERENCES scenes(id) ON DELETE CASCADE,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS qa_pairs (
		id TEXT PRIMARY KEY,
		interview_id TEXT NOT NULL REFERENCES interview_histories(id) ON DELETE CASCADE,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_qa_pairs_interview ON qa_pairs(interview_id, timestamp);

	CREATE TABLE IF NOT EXISTS app_settings (
		user_id TEXT PRIMARY KEY,
		app_version TEXT NOT NULL,
		user_context_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_records (
		user_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		active_story_id TEXT,
		active_chapter_id TEXT,
		active_scene_id TEXT,
		input_mode TEXT NOT NULL,
		partial_input TEXT NOT NULL DEFAULT '',
		last_response TEXT NOT NULL DEFAULT '',
		is_awaiting_input INTEGER NOT NULL DEFAULT 0,
		pending_question TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateStory inserts a story, assigning an ID when empty.
func (s *SQLiteStore) CreateStory(ctx context.Context, story *domain.Story) error {
	ensureID(&story.ID)
	now := time.Now()
	if story.CreatedAt.IsZero() {
		story.CreatedAt = now
	}
	story.LastModified = now
	if story.Visibility == "" {
		story.Visibility = domain.VisibilityPrivate
	}

	query := `
		INSERT INTO stories (id, user_id, title, outline, visibility, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		story.ID, story.UserID, story.Title, story.Outline, string(story.Visibility),
		story.CreatedAt.UnixNano(), story.LastModified.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert story: %w", err)
	}
	return nil
}

const storyColumns = `id, user_id, title, outline, visibility, created_at, last_modified`

func scanStory(row interface{ Scan(...any) error }) (*domain.Story, error) {
	var story domain.Story
	var visibility string
	var createdAt, lastModified int64
	if err := row.Scan(&story.ID, &story.UserID, &story.Title, &story.Outline,
		&visibility, &createdAt, &lastModified); err != nil {
		return nil, err
	}
	story.Visibility = domain.Visibility(visibility)
	story.CreatedAt = time.Unix(0, createdAt)
	story.LastModified = time.Unix(0, lastModified)
	return &story, nil
}

// GetStory retrieves a story by ID.
func (s *SQLiteStore) GetStory(ctx context.Context, id string) (*domain.Story, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	story, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan story row: %w", err)
	}
	return story, nil
}

// UpdateStory replaces a story's mutable fields.
func (s *SQLiteStore) UpdateStory(ctx context.Context, story *domain.Story) error {
	story.LastModified = time.Now()
	query := `UPDATE stories SET title = ?, outline = ?, visibility = ?, last_modified = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query,
		story.Title, story.Outline, string(story.Visibility), story.LastModified.UnixNano(), story.ID)
	if err != nil {
		return fmt.Errorf("update story: %w", err)
	}
	return requireRow(result, "update story", story.ID)
}

// DeleteStory removes a story and everything under it.
func (s *SQLiteStore) DeleteStory(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "stories", "delete story", id)
}

// ListStories returns a user's stories, oldest first.
func (s *SQLiteStore) ListStories(ctx context.Context, userID string) ([]*domain.Story, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE user_id = ? ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer closeRows(rows, "stories")

	var stories []*domain.Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story row: %w", err)
		}
		stories = append(stories, story)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return stories, nil
}

// CreateChapter inserts a chapter, assigning an ID when empty.
func (s *SQLiteStore) CreateChapter(ctx context.Context, chapter *domain.Chapter) error {
	ensureID(&chapter.ID)
	if chapter.CreatedAt.IsZero() {
		chapter.CreatedAt = time.Now()
	}
	query := `INSERT INTO chapters (id, story_id, title, position, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		chapter.ID, chapter.StoryID, chapter.Title, chapter.Position, chapter.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert chapter: %w", err)
	}
	return nil
}

const chapterColumns = `id, story_id, title, position, created_at`

func scanChapter(row interface{ Scan(...any) error }) (*domain.Chapter, error) {
	var chapter domain.Chapter
	var createdAt int64
	if err := row.Scan(&chapter.ID, &chapter.StoryID, &chapter.Title, &chapter.Position, &createdAt); err != nil {
		return nil, err
	}
	chapter.CreatedAt = time.Unix(0, createdAt)
	return &chapter, nil
}

// GetChapter retrieves a chapter by ID.
func (s *SQLiteStore) GetChapter(ctx context.Context, id string) (*domain.Chapter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE id = ?`, id)
	chapter, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chapter row: %w", err)
	}
	return chapter, nil
}

// UpdateChapter replaces a chapter's title and position.
func (s *SQLiteStore) UpdateChapter(ctx context.Context, chapter *domain.Chapter) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chapters SET title = ?, position = ? WHERE id = ?`,
		chapter.Title, chapter.Position, chapter.ID)
	if err != nil {
		return fmt.Errorf("update chapter: %w", err)
	}
	return requireRow(result, "update chapter", chapter.ID)
}

// DeleteChapter removes a chapter and its scenes.
func (s *SQLiteStore) DeleteChapter(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "chapters", "delete chapter", id)
}

// ListChapters returns a story's chapters by position.
func (s *SQLiteStore) ListChapters(ctx context.Context, storyID string) ([]*domain.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE story_id = ? ORDER BY position, rowid`, storyID)
	if err != nil {
		return nil, fmt.Errorf("query chapters: %w", err)
	}
	defer closeRows(rows, "chapters")

	var chapters []*domain.Chapter
	for rows.Next() {
		chapter, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter row: %w", err)
		}
		chapters = append(chapters, chapter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return chapters, nil
}

// CreateScene inserts a scene, assigning an ID when empty.
func (s *SQLiteStore) CreateScene(ctx context.Context, scene *domain.Scene) error {
	ensureID(&scene.ID)
	now := time.Now()
	if scene.CreatedAt.IsZero() {
		scene.CreatedAt = now
	}
	scene.UpdatedAt = now

	query := `
		INSERT INTO scenes (id, chapter_id, title, position, draft, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		scene.ID, scene.ChapterID, nullableString(scene.Title), scene.Position, scene.Draft,
		scene.CreatedAt.UnixNano(), scene.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert scene: %w", err)
	}
	return nil
}

const sceneColumns = `id, chapter_id, title, position, draft, created_at, updated_at`

func scanScene(row interface{ Scan(...any) error }) (*domain.Scene, error) {
	var scene domain.Scene
	var title sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&scene.ID, &scene.ChapterID, &title, &scene.Position, &scene.Draft,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if title.Valid {
		scene.Title = domain.StringPtr(title.String)
	}
	scene.CreatedAt = time.Unix(0, createdAt)
	scene.UpdatedAt = time.Unix(0, updatedAt)
	return &scene, nil
}

// GetScene retrieves a scene by ID.
func (s *SQLiteStore) GetScene(ctx context.Context, id string) (*domain.Scene, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id = ?`, id)
	scene, err := scanScene(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan scene row: %w", err)
	}
	return scene, nil
}

// UpdateScene replaces a scene's title, position and draft.
func (s *SQLiteStore) UpdateScene(ctx context.Context, scene *domain.Scene) error {
	scene.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE scenes SET title = ?, position = ?, draft = ?, updated_at = ? WHERE id = ?`,
		nullableString(scene.Title), scene.Position, scene.Draft, scene.UpdatedAt.UnixNano(), scene.ID)
	if err != nil {
		return fmt.Errorf("update scene: %w", err)
	}
	return requireRow(result, "update scene", scene.ID)
}

// DeleteScene removes a scene and its interview history.
func (s *SQLiteStore) DeleteScene(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "scenes", "delete scene", id)
}

// ListScenes returns a chapter's scenes by position.
func (s *SQLiteStore) ListScenes(ctx context.Context, chapterID string) ([]*domain.Scene, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE chapter_id = ? ORDER BY position, rowid`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("query scenes: %w", err)
	}
	defer closeRows(rows, "scenes")

	var scenes []*domain.Scene
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scene row: %w", err)
		}
		scenes = append(scenes, scene)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenes: %w", err)
	}
	return scenes, nil
}

// CreateInterviewHistory inserts an empty history for a scene.
func (s *SQLiteStore) CreateInterviewHistory(ctx context.Context, history *domain.InterviewHistory) error {
	ensureID(&history.ID)
	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interview_histories (id, scene_id, created_at) VALUES (?, ?, ?)`,
		history.ID, history.SceneID, history.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert interview history: %w", err)
	}
	return nil
}

// GetInterviewHistory retrieves a history and its pairs by ID.
func (s *SQLiteStore) GetInterviewHistory(ctx context.Context, id string) (*domain.InterviewHistory, error) {
	return s.getHistory(ctx, `SELECT id, scene_id, created_at FROM interview_histories WHERE id = ?`, id)
}

// GetInterviewHistoryByScene retrieves the history owned by a scene.
func (s *SQLiteStore) GetInterviewHistoryByScene(ctx context.Context, sceneID string) (*domain.InterviewHistory, error) {
	return s.getHistory(ctx, `SELECT id, scene_id, created_at FROM interview_histories WHERE scene_id = ?`, sceneID)
}

func (s *SQLiteStore) getHistory(ctx context.Context, query, arg string) (*domain.InterviewHistory, error) {
	var history domain.InterviewHistory
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&history.ID, &history.SceneID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan interview history row: %w", err)
	}
	history.CreatedAt = time.Unix(0, createdAt)

	pairs, err := s.ListQAPairs(ctx, history.ID)
	if err != nil {
		return nil, err
	}
	history.Pairs = pairs
	return &history, nil
}

// DeleteInterviewHistory removes a history and its pairs.
func (s *SQLiteStore) DeleteInterviewHistory(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "interview_histories", "delete interview history", id)
}

// CreateQAPair appends a pair to an interview history.
func (s *SQLiteStore) CreateQAPair(ctx context.Context, pair *domain.QAPair) error {
	ensureID(&pair.ID)
	if pair.Timestamp.IsZero() {
		pair.Timestamp = time.Now()
	}
	return s.withRetry(ctx, "insert qa pair", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO qa_pairs (id, interview_id, question, answer, timestamp) VALUES (?, ?, ?, ?, ?)`,
			pair.ID, pair.InterviewID, pair.Question, pair.Answer, pair.Timestamp.UnixNano())
		return err
	})
}

// GetQAPair retrieves a single pair by ID.
func (s *SQLiteStore) GetQAPair(ctx context.Context, id string) (*domain.QAPair, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, interview_id, question, answer, timestamp FROM qa_pairs WHERE id = ?`, id)
	pair, err := scanQAPair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan qa pair row: %w", err)
	}
	return pair, nil
}

func scanQAPair(row interface{ Scan(...any) error }) (*domain.QAPair, error) {
	var pair domain.QAPair
	var ts int64
	if err := row.Scan(&pair.ID, &pair.InterviewID, &pair.Question, &pair.Answer, &ts); err != nil {
		return nil, err
	}
	pair.Timestamp = time.Unix(0, ts)
	return &pair, nil
}

// UpdateQAPair edits the question and answer text of a pair.
func (s *SQLiteStore) UpdateQAPair(ctx context.Context, pair *domain.QAPair) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE qa_pairs SET question = ?, answer = ? WHERE id = ?`,
		pair.Question, pair.Answer, pair.ID)
	if err != nil {
		return fmt.Errorf("update qa pair: %w", err)
	}
	return requireRow(result, "update qa pair", pair.ID)
}

// DeleteQAPair removes a pair.
func (s *SQLiteStore) DeleteQAPair(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "qa_pairs", "delete qa pair", id)
}

// ListQAPairs returns a history's pairs in timestamp order.
func (s *SQLiteStore) ListQAPairs(ctx context.Context, interviewID string) ([]domain.QAPair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, interview_id, question, answer, timestamp FROM qa_pairs
		 WHERE interview_id = ? ORDER BY timestamp, rowid`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("query qa pairs: %w", err)
	}
	defer closeRows(rows, "qa pairs")

	var pairs []domain.QAPair
	for rows.Next() {
		pair, err := scanQAPair(rows)
		if err != nil {
			return nil, fmt.Errorf("scan qa pair row: %w", err)
		}
		pairs = append(pairs, *pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate qa pairs: %w", err)
	}
	return pairs, nil
}

// GetAppSettings retrieves a user's settings record.
func (s *SQLiteStore) GetAppSettings(ctx context.Context, userID string) (*domain.AppSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, app_version, user_context_json, created_at, updated_at
		 FROM app_settings WHERE user_id = ?`, userID)

	var settings domain.AppSettings
	var contextJSON string
	var createdAt, updatedAt int64
	err := row.Scan(&settings.UserID, &settings.AppVersion, &contextJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan app settings row: %w", err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &settings.UserContext); err != nil {
		return nil, fmt.Errorf("decode user context: %w", err)
	}
	settings.UserContext = settings.UserContext.WithDefaults()
	settings.CreatedAt = time.Unix(0, createdAt)
	settings.UpdatedAt = time.Unix(0, updatedAt)
	return &settings, nil
}

// UpsertAppSettings creates or replaces a user's settings record.
func (s *SQLiteStore) UpsertAppSettings(ctx context.Context, settings *domain.AppSettings) error {
	now := time.Now()
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = now
	}
	settings.UpdatedAt = now

	contextJSON, err := json.Marshal(settings.UserContext)
	if err != nil {
		return fmt.Errorf("encode user context: %w", err)
	}

	query := `
	INSERT INTO app_settings (user_id, app_version, user_context_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		app_version = excluded.app_version,
		user_context_json = excluded.user_context_json,
		updated_at = excluded.updated_at`
	return s.withRetry(ctx, "upsert app settings", func() error {
		_, err := s.db.ExecContext(ctx, query,
			settings.UserID, settings.AppVersion, string(contextJSON),
			settings.CreatedAt.UnixNano(), settings.UpdatedAt.UnixNano())
		return err
	})
}

// GetSessionRecord retrieves the persisted session for a user.
func (s *SQLiteStore) GetSessionRecord(ctx context.Context, userID string) (*domain.SessionRecord, error) {
	query := `
		SELECT user_id, state, active_story_id, active_chapter_id, active_scene_id,
		       input_mode, partial_input, last_response, is_awaiting_input, pending_question, updated_at
		FROM session_records WHERE user_id = ?`

	var record domain.SessionRecord
	var state, mode string
	var storyID, chapterID, sceneID sql.NullString
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&record.UserID, &state, &storyID, &chapterID, &sceneID,
		&mode, &record.PartialInput, &record.LastResponse, &record.IsAwaitingInput,
		&record.PendingQuestion, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session record: %w", err)
	}

	record.State = domain.SessionState(state)
	record.InputMode = domain.InputMode(mode)
	record.ActiveStoryID = fromNull(storyID)
	record.ActiveChapterID = fromNull(chapterID)
	record.ActiveSceneID = fromNull(sceneID)
	record.UpdatedAt = time.Unix(0, updatedAt)
	return &record, nil
}

// UpsertSessionRecord creates or replaces the persisted session for a user.
func (s *SQLiteStore) UpsertSessionRecord(ctx context.Context, record *domain.SessionRecord) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	record.UpdatedAt = time.Now()
	query := `
		INSERT INTO session_records (
			user_id, state, active_story_id, active_chapter_id, active_scene_id,
			input_mode, partial_input, last_response, is_awaiting_input, pending_question, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			state = excluded.state,
			active_story_id = excluded.active_story_id,
			active_chapter_id = excluded.active_chapter_id,
			active_scene_id = excluded.active_scene_id,
			input_mode = excluded.input_mode,
			partial_input = excluded.partial_input,
			last_response = excluded.last_response,
			is_awaiting_input = excluded.is_awaiting_input,
			pending_question = excluded.pending_question,
			updated_at = excluded.updated_at`
	return s.withRetry(ctx, "upsert session record", func() error {
		_, err := s.db.ExecContext(ctx, query,
			record.UserID, string(record.State),
			nullableString(record.ActiveStoryID), nullableString(record.ActiveChapterID),
			nullableString(record.ActiveSceneID),
			string(record.InputMode), record.PartialInput, record.LastResponse,
			record.IsAwaitingInput, record.PendingQuestion, record.UpdatedAt.UnixNano(),
		)
		return err
	})
}

// withRetry retries op with exponential backoff while SQLite reports lock contention.
func (s *SQLiteStore) withRetry(ctx context.Context, what string, op func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("sqlite busy, retrying", "op", what, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *SQLiteStore) deleteByID(ctx context.Context, table, what, id string) error {
	// Table names are package constants, never user input.
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return requireRow(result, what, id)
}

func requireRow(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}

func nullableString(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return domain.StringPtr(v.String)
}

var _ Repository = (*SQLiteStore)(nil)
