package models

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ReviewsRepo interface {
	CreateReview(ctx context.Context, review *Review) (*Review, error)
	GetReviewByID(ctx context.Context, id string) (*Review, error)
	GetReviewsByEvent(ctx context.Context, eventID string, page, limit int) ([]*Review, int64, error)
	GetReviewsByUser(ctx context.Context, userID string) ([]*Review, error)
	UpdateReview(ctx context.Context, id string, set map[string]interface{}) (*Review, error)
	DeleteReview(ctx context.Context, id string) error
	SummarizeEventRating(ctx context.Context, eventID string) (*RatingSummary, error)
	WriteRatingSummary(ctx context.Context, eventID string, summary *RatingSummary) error
}

func (mdb *MongodbRepo) reviewsCol(ctx context.Context) (*mongo.Collection, error) {
	return mdb.GetCollection(ctx, ReviewsDbName, ReviewsColName)
}

func (mdb *MongodbRepo) CreateReview(ctx context.Context, review *Review) (*Review, error) {
	if err := review.ValidateReview(); err != nil {
		return nil, err
	}
	if err := review.BeforeCreate(); err != nil {
		return nil, fmt.Errorf("failed to prepare review: %w", err)
	}
	col, err := mdb.reviewsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	if _, err := col.InsertOne(ctx, review); err != nil {
		return nil, fmt.Errorf("failed to insert review: %v", err)
	}
	return review, nil
}

func (mdb *MongodbRepo) GetReviewByID(ctx context.Context, id string) (*Review, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid review id %q", ErrNotFound, id)
	}
	col, err := mdb.reviewsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	var review Review
	err = col.FindOne(ctx, bson.M{"_id": oid}).Decode(&review)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: review %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %v", err)
	}
	return &review, nil
}

func (mdb *MongodbRepo) GetReviewsByEvent(ctx context.Context, eventID string, page, limit int) ([]*Review, int64, error) {
	col, err := mdb.reviewsCol(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("error getting collection: %v", err)
	}

	filter := bson.M{"event_id": eventID}
	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count reviews: %v", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cursor, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find reviews: %v", err)
	}
	defer cursor.Close(ctx)

	reviews := []*Review{}
	if err := cursor.All(ctx, &reviews); err != nil {
		return nil, 0, fmt.Errorf("failed to decode reviews: %v", err)
	}
	return reviews, total, nil
}

func (mdb *MongodbRepo) GetReviewsByUser(ctx context.Context, userID string) ([]*Review, error) {
	col, err := mdb.reviewsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	cursor, err := col.Find(ctx, bson.M{"user_id": userID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find reviews: %v", err)
	}
	defer cursor.Close(ctx)

	reviews := []*Review{}
	if err := cursor.All(ctx, &reviews); err != nil {
		return nil, fmt.Errorf("failed to decode reviews: %v", err)
	}
	return reviews, nil
}

func (mdb *MongodbRepo) UpdateReview(ctx context.Context, id string, set map[string]interface{}) (*Review, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid review id %q", ErrNotFound, id)
	}
	col, err := mdb.reviewsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated Review
	err = col.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: review %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update review: %v", err)
	}
	return &updated, nil
}

func (mdb *MongodbRepo) DeleteReview(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: invalid review id %q", ErrNotFound, id)
	}
	col, err := mdb.reviewsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	res, err := col.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to delete review: %v", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: review %s", ErrNotFound, id)
	}
	return nil
}

// SummarizeEventRating recomputes the event's rating aggregate from
// scratch rather than adjusting incrementally, so a lost increment can
// never drift the stored value.
func (mdb *MongodbRepo) SummarizeEventRating(ctx context.Context, eventID string) (*RatingSummary, error) {
	col, err := mdb.reviewsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"event_id": eventID}}},
		{{Key: "$group", Value: bson.M{
			"_id":            nil,
			"average_rating": bson.M{"$avg": "$rating"},
			"review_count":   bson.M{"$sum": 1},
		}}},
	}

	cursor, err := col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reviews: %v", err)
	}
	defer cursor.Close(ctx)

	var results []RatingSummary
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode rating summary: %v", err)
	}
	if len(results) == 0 {
		return &RatingSummary{}, nil
	}

	summary := results[0]
	summary.AverageRating = math.Round(summary.AverageRating*10) / 10
	return &summary, nil
}

// WriteRatingSummary writes the two derived rating fields onto the
// owning event. It intentionally ignores the soft-delete flag: reviews
// of a deleted event keep their referential integrity.
func (mdb *MongodbRepo) WriteRatingSummary(ctx context.Context, eventID string, summary *RatingSummary) error {
	oid, err := primitive.ObjectIDFromHex(eventID)
	if err != nil {
		return fmt.Errorf("%w: invalid event id %q", ErrNotFound, eventID)
	}
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	_, err = col.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"average_rating": summary.AverageRating,
		"review_count":   summary.ReviewCount,
	}})
	if err != nil {
		return fmt.Errorf("failed to write rating summary: %v", err)
	}
	return nil
}
