package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ashureev/lumi/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names used by MongoStore.
const (
	collStories   = "stories"
	collChapters  = "chapters"
	collScenes    = "scenes"
	collHistories = "interview_histories"
	collPairs     = "qa_pairs"
	collSettings  = "app_settings"
	collSessions  = "session_records"
)

// MongoStore implements Repository using MongoDB.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
	pairSeq  seqClock
}

// NewMongo connects to uri and prepares indexes in the named database.
func NewMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &MongoStore{client: client, database: client.Database(database)}
	if err := s.createIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	slog.Info("Connected to MongoDB", "database", database)
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collStories:  {{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}}},
		collChapters: {{Keys: bson.D{{Key: "story_id", Value: 1}, {Key: "position", Value: 1}}}},
		collScenes:   {{Keys: bson.D{{Key: "chapter_id", Value: 1}, {Key: "position", Value: 1}}}},
		collHistories: {{
			Keys:    bson.D{{Key: "scene_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		collPairs: {{Keys: bson.D{{Key: "interview_id", Value: 1}, {Key: "timestamp_ns", Value: 1}, {Key: "seq", Value: 1}}}},
	}
	for name, models := range indexes {
		if _, err := s.database.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return nil
}

type storyDoc struct {
	ID           string    `bson:"_id"`
	UserID       string    `bson:"user_id"`
	Title        string    `bson:"title"`
	Outline      string    `bson:"outline"`
	Visibility   string    `bson:"visibility"`
	CreatedAt    time.Time `bson:"created_at"`
	LastModified time.Time `bson:"last_modified"`
}

func (d storyDoc) toDomain() *domain.Story {
	return &domain.Story{
		ID: d.ID, UserID: d.UserID, Title: d.Title, Outline: d.Outline,
		Visibility: domain.Visibility(d.Visibility), CreatedAt: d.CreatedAt, LastModified: d.LastModified,
	}
}

type chapterDoc struct {
	ID        string    `bson:"_id"`
	StoryID   string    `bson:"story_id"`
	Title     string    `bson:"title"`
	Position  int       `bson:"position"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d chapterDoc) toDomain() *domain.Chapter {
	return &domain.Chapter{ID: d.ID, StoryID: d.StoryID, Title: d.Title, Position: d.Position, CreatedAt: d.CreatedAt}
}

type sceneDoc struct {
	ID        string    `bson:"_id"`
	ChapterID string    `bson:"chapter_id"`
	Title     *string   `bson:"title,omitempty"`
	Position  int       `bson:"position"`
	Draft     string    `bson:"draft"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d sceneDoc) toDomain() *domain.Scene {
	return &domain.Scene{
		ID: d.ID, ChapterID: d.ChapterID, Title: d.Title, Position: d.Position,
		Draft: d.Draft, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

type historyDoc struct {
	ID        string    `bson:"_id"`
	SceneID   string    `bson:"scene_id"`
	CreatedAt time.Time `bson:"created_at"`
}

// pairDoc is sorted on TimestampNS then Seq, since BSON dates keep only
// milliseconds.
type pairDoc struct {
	ID          string    `bson:"_id"`
	InterviewID string    `bson:"interview_id"`
	Question    string    `bson:"question"`
	Answer      string    `bson:"answer"`
	Timestamp   time.Time `bson:"timestamp"`
	TimestampNS int64     `bson:"timestamp_ns"`
	Seq         int64     `bson:"seq"`
}

// seqClock hands out strictly increasing stamps seeded from the wall clock,
// so insertion order also holds across restarts.
type seqClock struct {
	last atomic.Int64
}

func (c *seqClock) next(now time.Time) int64 {
	for {
		last := c.last.Load()
		v := now.UnixNano()
		if v <= last {
			v = last + 1
		}
		if c.last.CompareAndSwap(last, v) {
			return v
		}
	}
}

func (d pairDoc) toDomain() domain.QAPair {
	return domain.QAPair{ID: d.ID, InterviewID: d.InterviewID, Question: d.Question, Answer: d.Answer, Timestamp: d.Timestamp}
}

type settingsDoc struct {
	UserID      string             `bson:"_id"`
	AppVersion  string             `bson:"app_version"`
	UserContext domain.UserContext `bson:"user_context"`
	CreatedAt   time.Time          `bson:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at"`
}

type sessionDoc struct {
	UserID          string    `bson:"_id"`
	State           string    `bson:"state"`
	ActiveStoryID   *string   `bson:"active_story_id,omitempty"`
	ActiveChapterID *string   `bson:"active_chapter_id,omitempty"`
	ActiveSceneID   *string   `bson:"active_scene_id,omitempty"`
	InputMode       string    `bson:"input_mode"`
	PartialInput    string    `bson:"partial_input"`
	LastResponse    string    `bson:"last_response"`
	IsAwaitingInput bool      `bson:"is_awaiting_input"`
	PendingQuestion string    `bson:"pending_question"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func (s *MongoStore) coll(name string) *mongo.Collection {
	return s.database.Collection(name)
}

// findOne decodes the first match into out. It reports false when nothing matched.
func (s *MongoStore) findOne(ctx context.Context, coll string, filter bson.M, out any) (bool, error) {
	err := s.coll(coll).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find %s: %w", coll, err)
	}
	return true, nil
}

func (s *MongoStore) replace(ctx context.Context, coll, id string, doc any) error {
	res, err := s.coll(coll).ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return fmt.Errorf("replace %s: %w", coll, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("replace %s %s: %w", coll, id, domain.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) upsert(ctx context.Context, coll, id string, doc any) error {
	_, err := s.coll(coll).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", coll, err)
	}
	return nil
}

func (s *MongoStore) deleteOne(ctx context.Context, coll, id string) error {
	res, err := s.coll(coll).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete %s: %w", coll, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete %s %s: %w", coll, id, domain.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) ids(ctx context.Context, coll string, filter bson.M) ([]string, error) {
	cursor, err := s.coll(coll).Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("find %s ids: %w", coll, err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s ids: %w", coll, err)
	}
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out, nil
}

func (s *MongoStore) CreateStory(ctx context.Context, story *domain.Story) error {
	ensureID(&story.ID)
	now := time.Now()
	if story.CreatedAt.IsZero() {
		story.CreatedAt = now
	}
	story.LastModified = now
	if story.Visibility == "" {
		story.Visibility = domain.VisibilityPrivate
	}
	_, err := s.coll(collStories).InsertOne(ctx, storyDoc{
		ID: story.ID, UserID: story.UserID, Title: story.Title, Outline: story.Outline,
		Visibility: string(story.Visibility), CreatedAt: story.CreatedAt, LastModified: story.LastModified,
	})
	if err != nil {
		return fmt.Errorf("insert story: %w", err)
	}
	return nil
}

func (s *MongoStore) GetStory(ctx context.Context, id string) (*domain.Story, error) {
	var doc storyDoc
	ok, err := s.findOne(ctx, collStories, bson.M{"_id": id}, &doc)
	if err != nil || !ok {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (s *MongoStore) UpdateStory(ctx context.Context, story *domain.Story) error {
	story.LastModified = time.Now()
	res, err := s.coll(collStories).UpdateOne(ctx, bson.M{"_id": story.ID}, bson.M{"$set": bson.M{
		"title":         story.Title,
		"outline":       story.Outline,
		"visibility":    string(story.Visibility),
		"last_modified": story.LastModified,
	}})
	if err != nil {
		return fmt.Errorf("update story: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update story %s: %w", story.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) DeleteStory(ctx context.Context, id string) error {
	if err := s.deleteOne(ctx, collStories, id); err != nil {
		return err
	}
	chapterIDs, err := s.ids(ctx, collChapters, bson.M{"story_id": id})
	if err != nil {
		return err
	}
	for _, cid := range chapterIDs {
		if err := s.DeleteChapter(ctx, cid); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (s *MongoStore) ListStories(ctx context.Context, userID string) ([]*domain.Story, error) {
	cursor, err := s.coll(collStories).Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find stories: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []storyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode stories: %w", err)
	}
	out := make([]*domain.Story, len(docs))
	for i, d := range docs {
		out[i] = d.toDomain()
	}
	return out, nil
}

func (s *MongoStore) CreateChapter(ctx context.Context, chapter *domain.Chapter) error {
	ensureID(&chapter.ID)
	if chapter.CreatedAt.IsZero() {
		chapter.CreatedAt = time.Now()
	}
	_, err := s.coll(collChapters).InsertOne(ctx, chapterDoc{
		ID: chapter.ID, StoryID: chapter.StoryID, Title: chapter.Title,
		Position: chapter.Position, CreatedAt: chapter.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert chapter: %w", err)
	}
	return nil
}

func (s *MongoStore) GetChapter(ctx context.Context, id string) (*domain.Chapter, error) {
	var doc chapterDoc
	ok, err := s.findOne(ctx, collChapters, bson.M{"_id": id}, &doc)
	if err != nil || !ok {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (s *MongoStore) UpdateChapter(ctx context.Context, chapter *domain.Chapter) error {
	return s.replace(ctx, collChapters, chapter.ID, chapterDoc{
		ID: chapter.ID, StoryID: chapter.StoryID, Title: chapter.Title,
		Position: chapter.Position, CreatedAt: chapter.CreatedAt,
	})
}

func (s *MongoStore) DeleteChapter(ctx context.Context, id string) error {
	if err := s.deleteOne(ctx, collChapters, id); err != nil {
		return err
	}
	sceneIDs, err := s.ids(ctx, collScenes, bson.M{"chapter_id": id})
	if err != nil {
		return err
	}
	for _, sid := range sceneIDs {
		if err := s.DeleteScene(ctx, sid); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (s *MongoStore) ListChapters(ctx context.Context, storyID string) ([]*domain.Chapter, error) {
	cursor, err := s.coll(collChapters).Find(ctx, bson.M{"story_id": storyID},
		options.Find().SetSort(bson.D{{Key: "position", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find chapters: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []chapterDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode chapters: %w", err)
	}
	out := make([]*domain.Chapter, len(docs))
	for i, d := range docs {
		out[i] = d.toDomain()
	}
	return out, nil
}

func (s *MongoStore) CreateScene(ctx context.Context, scene *domain.Scene) error {
	ensureID(&scene.ID)
	now := time.Now()
	if scene.CreatedAt.IsZero() {
		scene.CreatedAt = now
	}
	scene.UpdatedAt = now
	_, err := s.coll(collScenes).InsertOne(ctx, sceneDocFrom(scene))
	if err != nil {
		return fmt.Errorf("insert scene: %w", err)
	}
	return nil
}

func sceneDocFrom(scene *domain.Scene) sceneDoc {
	return sceneDoc{
		ID: scene.ID, ChapterID: scene.ChapterID, Title: scene.Title, Position: scene.Position,
		Draft: scene.Draft, CreatedAt: scene.CreatedAt, UpdatedAt: scene.UpdatedAt,
	}
}

func (s *MongoStore) GetScene(ctx context.Context, id string) (*domain.Scene, error) {
	var doc sceneDoc
	ok, err := s.findOne(ctx, collScenes, bson.M{"_id": id}, &doc)
	if err != nil || !ok {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (s *MongoStore) UpdateScene(ctx context.Context, scene *domain.Scene) error {
	scene.UpdatedAt = time.Now()
	return s.replace(ctx, collScenes, scene.ID, sceneDocFrom(scene))
}

func (s *MongoStore) DeleteScene(ctx context.Context, id string) error {
	if err := s.deleteOne(ctx, collScenes, id); err != nil {
		return err
	}
	var doc historyDoc
	ok, err := s.findOne(ctx, collHistories, bson.M{"scene_id": id}, &doc)
	if err != nil || !ok {
		return err
	}
	return s.DeleteInterviewHistory(ctx, doc.ID)
}

func (s *MongoStore) ListScenes(ctx context.Context, chapterID string) ([]*domain.Scene, error) {
	cursor, err := s.coll(collScenes).Find(ctx, bson.M{"chapter_id": chapterID},
		options.Find().SetSort(bson.D{{Key: "position", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find scenes: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []sceneDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode scenes: %w", err)
	}
	out := make([]*domain.Scene, len(docs))
	for i, d := range docs {
		out[i] = d.toDomain()
	}
	return out, nil
}

func (s *MongoStore) CreateInterviewHistory(ctx context.Context, history *domain.InterviewHistory) error {
	ensureID(&history.ID)
	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now()
	}
	_, err := s.coll(collHistories).InsertOne(ctx, historyDoc{
		ID: history.ID, SceneID: history.SceneID, CreatedAt: history.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert interview history: %w", err)
	}
	return nil
}

func (s *MongoStore) GetInterviewHistory(ctx context.Context, id string) (*domain.InterviewHistory, error) {
	return s.getHistory(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetInterviewHistoryByScene(ctx context.Context, sceneID string) (*domain.InterviewHistory, error) {
	return s.getHistory(ctx, bson.M{"scene_id": sceneID})
}

func (s *MongoStore) getHistory(ctx context.Context, filter bson.M) (*domain.InterviewHistory, error) {
	var doc historyDoc
	ok, err := s.findOne(ctx, collHistories, filter, &doc)
	if err != nil || !ok {
		return nil, err
	}
	pairs, err := s.ListQAPairs(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return &domain.InterviewHistory{ID: doc.ID, SceneID: doc.SceneID, Pairs: pairs, CreatedAt: doc.CreatedAt}, nil
}

func (s *MongoStore) DeleteInterviewHistory(ctx context.Context, id string) error {
	if err := s.deleteOne(ctx, collHistories, id); err != nil {
		return err
	}
	if _, err := s.coll(collPairs).DeleteMany(ctx, bson.M{"interview_id": id}); err != nil {
		return fmt.Errorf("delete qa pairs: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateQAPair(ctx context.Context, pair *domain.QAPair) error {
	ensureID(&pair.ID)
	if pair.Timestamp.IsZero() {
		pair.Timestamp = time.Now()
	}
	_, err := s.coll(collPairs).InsertOne(ctx, s.newPairDoc(pair))
	if err != nil {
		return fmt.Errorf("insert qa pair: %w", err)
	}
	return nil
}

func (s *MongoStore) newPairDoc(pair *domain.QAPair) pairDoc {
	return pairDoc{
		ID: pair.ID, InterviewID: pair.InterviewID, Question: pair.Question, Answer: pair.Answer,
		Timestamp: pair.Timestamp, TimestampNS: pair.Timestamp.UnixNano(), Seq: s.pairSeq.next(time.Now()),
	}
}

func (s *MongoStore) GetQAPair(ctx context.Context, id string) (*domain.QAPair, error) {
	var doc pairDoc
	ok, err := s.findOne(ctx, collPairs, bson.M{"_id": id}, &doc)
	if err != nil || !ok {
		return nil, err
	}
	p := doc.toDomain()
	return &p, nil
}

func (s *MongoStore) UpdateQAPair(ctx context.Context, pair *domain.QAPair) error {
	res, err := s.coll(collPairs).UpdateOne(ctx, bson.M{"_id": pair.ID}, bson.M{"$set": bson.M{
		"question": pair.Question,
		"answer":   pair.Answer,
	}})
	if err != nil {
		return fmt.Errorf("update qa pair: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update qa pair %s: %w", pair.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) DeleteQAPair(ctx context.Context, id string) error {
	return s.deleteOne(ctx, collPairs, id)
}

func (s *MongoStore) ListQAPairs(ctx context.Context, interviewID string) ([]domain.QAPair, error) {
	cursor, err := s.coll(collPairs).Find(ctx, bson.M{"interview_id": interviewID},
		options.Find().SetSort(bson.D{{Key: "timestamp_ns", Value: 1}, {Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find qa pairs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []pairDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode qa pairs: %w", err)
	}
	out := make([]domain.QAPair, len(docs))
	for i, d := range docs {
		out[i] = d.toDomain()
	}
	return out, nil
}

func (s *MongoStore) GetAppSettings(ctx context.Context, userID string) (*domain.AppSettings, error) {
	var doc settingsDoc
	ok, err := s.findOne(ctx, collSettings, bson.M{"_id": userID}, &doc)
	if err != nil || !ok {
		return nil, err
	}
	return &domain.AppSettings{
		UserID: doc.UserID, AppVersion: doc.AppVersion, UserContext: doc.UserContext.WithDefaults(),
		CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (s *MongoStore) UpsertAppSettings(ctx context.Context, settings *domain.AppSettings) error {
	now := time.Now()
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = now
	}
	settings.UpdatedAt = now
	return s.upsert(ctx, collSettings, settings.UserID, settingsDoc{
		UserID: settings.UserID, AppVersion: settings.AppVersion, UserContext: settings.UserContext,
		CreatedAt: settings.CreatedAt, UpdatedAt: settings.UpdatedAt,
	})
}

func (s *MongoStore) GetSessionRecord(ctx context.Context, userID string) (*domain.SessionRecord, error) {
	var doc sessionDoc
	ok, err := s.findOne(ctx, collSessions, bson.M{"_id": userID}, &doc)
	if err != nil || !ok {
		return nil, err
	}
	return &domain.SessionRecord{
		UserID: doc.UserID, State: domain.SessionState(doc.State),
		ActiveStoryID: doc.ActiveStoryID, ActiveChapterID: doc.ActiveChapterID, ActiveSceneID: doc.ActiveSceneID,
		InputMode: domain.InputMode(doc.InputMode), PartialInput: doc.PartialInput,
		LastResponse: doc.LastResponse, IsAwaitingInput: doc.IsAwaitingInput, PendingQuestion: doc.PendingQuestion,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (s *MongoStore) UpsertSessionRecord(ctx context.Context, record *domain.SessionRecord) error {
	record.UpdatedAt = time.Now()
	return s.upsert(ctx, collSessions, record.UserID, sessionDoc{
		UserID: record.UserID, State: string(record.State),
		ActiveStoryID: record.ActiveStoryID, ActiveChapterID: record.ActiveChapterID, ActiveSceneID: record.ActiveSceneID,
		InputMode: string(record.InputMode), PartialInput: record.PartialInput,
		LastResponse: record.LastResponse, IsAwaitingInput: record.IsAwaitingInput, PendingQuestion: record.PendingQuestion,
		UpdatedAt: record.UpdatedAt,
	})
}

// Ping verifies the deployment is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

var _ Repository = (*MongoStore)(nil)
