package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vasu-devs/Socratis/internal/model"
)

const sessionsCollection = "sessions"

// sessionDoc is the stored shape. Filter columns are lifted out of the
// embedded session so they can be indexed.
type sessionDoc struct {
	ID                   string         `bson:"_id"`
	Status               string         `bson:"status"`
	CurrentQuestionIndex int            `bson:"current_question_index"`
	HasFeedback          bool           `bson:"has_feedback"`
	Version              int64          `bson:"version"`
	CreatedAt            time.Time      `bson:"created_at"`
	UpdatedAt            time.Time      `bson:"updated_at"`
	Session              *model.Session `bson:"session"`
}

func toDoc(s *model.Session) sessionDoc {
	return sessionDoc{
		ID:                   s.SessionID,
		Status:               string(s.Status),
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		HasFeedback:          s.Feedback != nil,
		Version:              s.Version,
		CreatedAt:            s.CreatedAt.UTC(),
		UpdatedAt:            s.UpdatedAt.UTC(),
		Session:              s,
	}
}

// Mongo is the document-store durable tier.
type Mongo struct {
	client *mongo.Client
	col    *mongo.Collection
}

// NewMongo connects to uri and prepares the sessions collection in dbName.
func NewMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	m := &Mongo{client: client, col: client.Database(dbName).Collection(sessionsCollection)}
	_, err = m.col.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "has_feedback", Value: 1}, {Key: "updated_at", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return m, nil
}

func (m *Mongo) Close() error {
	return m.client.Disconnect(context.Background())
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Create inserts a new session document.
func (m *Mongo) Create(ctx context.Context, s *model.Session) error {
	_, err := m.col.InsertOne(ctx, toDoc(s))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("create %s: %w", s.SessionID, ErrExists)
	}
	if err != nil {
		return unavailable("insert session", err)
	}
	return nil
}

// Get loads a session by id.
func (m *Mongo) Get(ctx context.Context, id string) (*model.Session, error) {
	var doc sessionDoc
	err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	if doc.Session == nil {
		return nil, fmt.Errorf("decode session %s: empty document", id)
	}
	return doc.Session, nil
}

// Update replaces the document when the stored version matches.
func (m *Mongo) Update(ctx context.Context, s *model.Session, expectedVersion int64) error {
	res, err := m.col.ReplaceOne(ctx, bson.M{"_id": s.SessionID, "version": expectedVersion}, toDoc(s))
	if err != nil {
		return unavailable("update session", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := m.col.CountDocuments(ctx, bson.M{"_id": s.SessionID})
	if err != nil {
		return unavailable("update session", err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", s.SessionID, ErrNotFound)
	}
	return fmt.Errorf("update %s at version %d: %w", s.SessionID, expectedVersion, ErrConflict)
}

// ListAwaitingReport returns completed sessions that still lack feedback.
func (m *Mongo) ListAwaitingReport(ctx context.Context, before time.Time, limit int) ([]string, error) {
	filter := bson.M{
		"status":       string(model.StatusCompleted),
		"has_feedback": false,
		"updated_at":   bson.M{"$lt": before.UTC()},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})
	cur, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable("list awaiting report", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	return ids, cur.Err()
}

// List returns every session, optionally filtered by status, oldest first.
func (m *Mongo) List(ctx context.Context, status model.SessionStatus) ([]*model.Session, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = string(status)
	}
	cur, err := m.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	defer cur.Close(ctx)

	var docs []sessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	out := make([]*model.Session, 0, len(docs))
	for _, d := range docs {
		if d.Session != nil {
			out = append(out, d.Session)
		}
	}
	return out, nil
}
