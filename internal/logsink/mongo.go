package logsink

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSink appends Records directly to a collection, grounded on the
// teacher's mongo_repository.go pattern: a thin wrapper exposing the same
// method set as FileSink so it is a drop-in alternative, never a
// replacement requirement.
type MongoSink struct {
	collection *mongo.Collection
}

// NewMongoSink wraps the given collection.
func NewMongoSink(db *mongo.Database, collection string) *MongoSink {
	return &MongoSink{collection: db.Collection(collection)}
}

// Log inserts r immediately; MongoSink does not buffer.
func (s *MongoSink) Log(ctx context.Context, r Record) error {
	_, err := s.collection.InsertOne(ctx, r)
	if err != nil {
		return fmt.Errorf("logsink: insert record: %w", err)
	}
	return nil
}

// Flush is a no-op: MongoSink writes synchronously on Log.
func (s *MongoSink) Flush(ctx context.Context) error { return nil }

// Close is a no-op; the caller owns the *mongo.Client lifecycle.
func (s *MongoSink) Close() error { return nil }

// EnsureIndexes creates the index this sink's repository needs at
// startup, here just a unique index on id.
func (s *MongoSink) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
