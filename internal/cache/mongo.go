package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	cacheDbName  = "gatherly"
	cacheColName = "cache_entries"
)

type cacheDoc struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// Mongo backs the cache with a TTL-indexed collection, so entries
// survive process restarts and are shared across instances.
type Mongo struct {
	client *mongo.Client
}

func NewMongo(ctx context.Context, client *mongo.Client) (*Mongo, error) {
	m := &Mongo{client: client}
	col := m.col()
	_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(0).
			SetName("expires_at_ttl"),
	})
	if err != nil {
		return nil, fmt.Errorf("error creating cache TTL index: %v", err)
	}
	return m, nil
}

func (m *Mongo) col() *mongo.Collection {
	return m.client.Database(cacheDbName).Collection(cacheColName)
}

func (m *Mongo) Get(ctx context.Context, key string) ([]byte, error) {
	var doc cacheDoc
	err := m.col().FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %v", err)
	}
	// The TTL monitor only sweeps periodically; treat a stale hit as a
	// miss rather than serving an expired entry.
	if time.Now().After(doc.ExpiresAt) {
		return nil, ErrMiss
	}
	return doc.Value, nil
}

func (m *Mongo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	doc := cacheDoc{
		Key:       key,
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	}
	opts := options.Replace().SetUpsert(true)
	_, err := m.col().ReplaceOne(ctx, bson.M{"_id": key}, doc, opts)
	if err != nil {
		return fmt.Errorf("cache set: %v", err)
	}
	return nil
}

func (m *Mongo) Delete(ctx context.Context, key string) error {
	_, err := m.col().DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("cache delete: %v", err)
	}
	return nil
}

func (m *Mongo) DeletePattern(ctx context.Context, prefix string) error {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	_, err := m.col().DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("cache delete pattern: %v", err)
	}
	return nil
}
