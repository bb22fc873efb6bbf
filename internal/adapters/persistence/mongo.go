package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ratingsCollection   = "ratings"
	decisionsCollection = "decisions"
	metaCollection      = "snapshots"
	latestSnapshotID    = "latest"
	connectTimeout      = 10 * time.Second
)

// MongoStore persists ratings and decisions in MongoDB collections.
// Ratings are upserted by entity id; decisions are insert-only.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database

	mu    sync.Mutex
	saved int // decisions already written
}

type snapshotMeta struct {
	ID        string    `bson:"_id"`
	SavedAt   time.Time `bson:"savedAt"`
	Decisions int       `bson:"decisions"`
}

// NewMongoStore connects to uri and prepares the collections in database.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetMaxConnIdleTime(5 * time.Minute)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{client: client, database: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		collection string
		models     []mongo.IndexModel
	}{
		{
			ratingsCollection,
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "entityId", Value: 1}}, Options: options.Index().SetUnique(true)},
				{Keys: bson.D{{Key: "rating", Value: -1}, {Key: "entityId", Value: 1}}},
			},
		},
		{
			decisionsCollection,
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "createdAt", Value: 1}}},
			},
		},
	}
	for _, idx := range indexes {
		if _, err := s.database.Collection(idx.collection).Indexes().CreateMany(ctx, idx.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", idx.collection, err)
		}
	}
	return nil
}

// Name implements Store.
func (s *MongoStore) Name() string { return "mongo" }

// Load implements Store.
func (s *MongoStore) Load(ctx context.Context) (Snapshot, error) {
	var meta snapshotMeta
	err := s.database.Collection(metaCollection).FindOne(ctx, bson.M{"_id": latestSnapshotID}).Decode(&meta)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot meta: %w", err)
	}

	var snap Snapshot
	snap.SavedAt = meta.SavedAt

	cursor, err := s.database.Collection(ratingsCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "rating", Value: -1}, {Key: "entityId", Value: 1}}))
	if err != nil {
		return Snapshot{}, fmt.Errorf("load ratings: %w", err)
	}
	if err := cursor.All(ctx, &snap.Ratings); err != nil {
		return Snapshot{}, fmt.Errorf("decode ratings: %w", err)
	}

	// UUIDv7 ids sort in creation order.
	cursor, err = s.database.Collection(decisionsCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return Snapshot{}, fmt.Errorf("load decisions: %w", err)
	}
	if err := cursor.All(ctx, &snap.Decisions); err != nil {
		return Snapshot{}, fmt.Errorf("decode decisions: %w", err)
	}

	s.mu.Lock()
	s.saved = len(snap.Decisions)
	s.mu.Unlock()
	return snap, nil
}

// Save implements Store. Only decisions appended since the last Save or
// Load are inserted.
func (s *MongoStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(snap.Ratings) > 0 {
		writes := make([]mongo.WriteModel, 0, len(snap.Ratings))
		for _, r := range snap.Ratings {
			writes = append(writes, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"entityId": r.EntityID}).
				SetReplacement(r).
				SetUpsert(true))
		}
		if _, err := s.database.Collection(ratingsCollection).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
			return fmt.Errorf("save ratings: %w", err)
		}
	}

	if s.saved > len(snap.Decisions) {
		s.saved = 0
	}
	if pending := snap.Decisions[s.saved:]; len(pending) > 0 {
		docs := make([]interface{}, len(pending))
		for i, d := range pending {
			docs[i] = d
		}
		_, err := s.database.Collection(decisionsCollection).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("save decisions: %w", err)
		}
	}

	meta := snapshotMeta{ID: latestSnapshotID, SavedAt: snap.SavedAt, Decisions: len(snap.Decisions)}
	_, err := s.database.Collection(metaCollection).ReplaceOne(ctx, bson.M{"_id": latestSnapshotID}, meta,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save snapshot meta: %w", err)
	}
	s.saved = len(snap.Decisions)
	return nil
}

// Close implements Store.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
