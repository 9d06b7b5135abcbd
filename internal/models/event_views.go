package models

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	EventViewsDbName  = "gatherly"
	EventViewsColName = "event_views"
)

type EventView struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EventID   string             `bson:"event_id" json:"event_id" validate:"required"`
	OwnerID   string             `bson:"owner_id" json:"owner_id" validate:"required"`
	UserID    *string            `bson:"user_id,omitempty" json:"user_id,omitempty"` // optional, for authenticated viewers
	SessionID string             `bson:"session_id" json:"session_id" validate:"required"`
	IPAddress string             `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	UserAgent string             `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
	ViewedAt  time.Time          `bson:"viewed_at" json:"viewed_at"`
	ExpiresAt time.Time          `bson:"expires_at" json:"expires_at"` // TTL index field
}

type EventViewStats struct {
	EventID       string `json:"event_id"`
	TotalViews    int64  `json:"total_views"`
	UniqueViews   int64  `json:"unique_views"`
	ViewsToday    int64  `json:"views_today"`
	ViewsThisWeek int64  `json:"views_this_week"`
}

type EventViewsRepo interface {
	TrackEventView(ctx context.Context, view *EventView) error
	GetEventViewStats(ctx context.Context, eventID string) (*EventViewStats, error)
	EnsureViewIndexes(ctx context.Context) error
}

// EnsureViewIndexes creates the TTL and dedup indexes for view records.
func (mdb *MongodbRepo) EnsureViewIndexes(ctx context.Context) error {
	col, err := mdb.GetCollection(ctx, EventViewsDbName, EventViewsColName)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	indexes := []mongo.IndexModel{
		// Documents expire at the time stored in expires_at.
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(0).
				SetName("expires_at_ttl"),
		},
		{
			Keys: bson.D{
				{Key: "event_id", Value: 1},
				{Key: "session_id", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetName("event_session_unique"),
		},
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "viewed_at", Value: -1}},
			Options: options.Index().SetName("event_viewed_at_idx"),
		},
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "viewed_at", Value: -1}},
			Options: options.Index().SetName("owner_viewed_at_idx"),
		},
	}

	_, err = col.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("error creating view indexes: %v", err)
	}
	return nil
}

// TrackEventView records one view per session per event. Repeat views
// from the same session within an hour are silently dropped.
func (mdb *MongodbRepo) TrackEventView(ctx context.Context, view *EventView) error {
	col, err := mdb.GetCollection(ctx, EventViewsDbName, EventViewsColName)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	oneHourAgo := time.Now().Add(-1 * time.Hour)
	var recent EventView
	err = col.FindOne(ctx, bson.M{
		"event_id":   view.EventID,
		"session_id": view.SessionID,
		"viewed_at":  bson.M{"$gte": oneHourAgo},
	}).Decode(&recent)
	if err == nil {
		return nil
	}

	now := time.Now()
	view.ViewedAt = now
	view.ExpiresAt = now.Add(30 * 24 * time.Hour)
	if view.ID.IsZero() {
		view.ID = primitive.NewObjectID()
	}

	_, err = col.InsertOne(ctx, view)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("error inserting event view: %v", err)
	}
	return nil
}

func (mdb *MongodbRepo) GetEventViewStats(ctx context.Context, eventID string) (*EventViewStats, error) {
	col, err := mdb.GetCollection(ctx, EventViewsDbName, EventViewsColName)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	stats := &EventViewStats{EventID: eventID}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfWeek := startOfDay.AddDate(0, 0, -int(now.Weekday()))

	totalCount, err := col.CountDocuments(ctx, bson.M{"event_id": eventID})
	if err != nil {
		return nil, fmt.Errorf("error counting total views: %v", err)
	}
	stats.TotalViews = totalCount

	uniquePipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"event_id": eventID}}},
		{{Key: "$group", Value: bson.M{"_id": "$session_id"}}},
		{{Key: "$count", Value: "unique_sessions"}},
	}
	uniqueCursor, err := col.Aggregate(ctx, uniquePipeline)
	if err != nil {
		return nil, fmt.Errorf("error aggregating unique views: %v", err)
	}
	defer uniqueCursor.Close(ctx)

	var uniqueResult []bson.M
	if err := uniqueCursor.All(ctx, &uniqueResult); err != nil {
		return nil, fmt.Errorf("error decoding unique views: %v", err)
	}
	if len(uniqueResult) > 0 {
		if count, ok := uniqueResult[0]["unique_sessions"].(int32); ok {
			stats.UniqueViews = int64(count)
		}
	}

	todayCount, err := col.CountDocuments(ctx, bson.M{
		"event_id":  eventID,
		"viewed_at": bson.M{"$gte": startOfDay},
	})
	if err != nil {
		return nil, fmt.Errorf("error counting today's views: %v", err)
	}
	stats.ViewsToday = todayCount

	weekCount, err := col.CountDocuments(ctx, bson.M{
		"event_id":  eventID,
		"viewed_at": bson.M{"$gte": startOfWeek},
	})
	if err != nil {
		return nil, fmt.Errorf("error counting this week's views: %v", err)
	}
	stats.ViewsThisWeek = weekCount

	return stats, nil
}
