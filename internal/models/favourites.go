package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	FavouriteDbName  = "gatherly"
	FavouriteColName = "favourites"
)

type FavouriteItem struct {
	EventID string    `bson:"event_id" json:"event_id"`
	AddedAt time.Time `bson:"added_at" json:"added_at"`
}

// Favourite holds a user's favourited events keyed by event id, so
// re-favouriting the same event is an idempotent overwrite rather than
// a duplicate. Favourites may reference soft-deleted events; the
// event stays addressable by id for exactly this reason.
type Favourite struct {
	ID        primitive.ObjectID       `bson:"_id,omitempty" json:"id"`
	UserID    string                   `bson:"user_id" json:"user_id" validate:"required"`
	Items     map[string]FavouriteItem `bson:"items" json:"items"`
	CreatedAt time.Time                `bson:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt time.Time                `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

type FavouriteRepo interface {
	AddToFavourites(ctx context.Context, userID, eventID string) (*Favourite, error)
	RemoveFromFavourites(ctx context.Context, userID, eventID string) error
	GetFavouritesByUserID(ctx context.Context, userID string) (*Favourite, error)
}

func (mdb *MongodbRepo) AddToFavourites(ctx context.Context, userID, eventID string) (*Favourite, error) {
	col, err := mdb.GetCollection(ctx, FavouriteDbName, FavouriteColName)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	now := time.Now()
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$set": bson.M{
			"updated_at": now,
			fmt.Sprintf("items.%s", eventID): FavouriteItem{
				EventID: eventID,
				AddedAt: now,
			},
		},
		"$setOnInsert": bson.M{
			"user_id":    userID,
			"created_at": now,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result Favourite
	if err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result); err != nil {
		return nil, fmt.Errorf("error upserting favourite: %v", err)
	}
	return &result, nil
}

func (mdb *MongodbRepo) RemoveFromFavourites(ctx context.Context, userID, eventID string) error {
	col, err := mdb.GetCollection(ctx, FavouriteDbName, FavouriteColName)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$unset": bson.M{
			fmt.Sprintf("items.%s", eventID): "",
		},
		"$set": bson.M{
			"updated_at": time.Now(),
		},
	}

	// Removing an event that was never favourited matches zero items
	// and is a no-op success.
	_, err = col.UpdateOne(ctx, filter, update)
	return err
}

func (mdb *MongodbRepo) GetFavouritesByUserID(ctx context.Context, userID string) (*Favourite, error) {
	col, err := mdb.GetCollection(ctx, FavouriteDbName, FavouriteColName)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	var fav Favourite
	err = col.FindOne(ctx, bson.M{"user_id": userID}).Decode(&fav)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// No favourites document yet reads as an empty set.
		return &Favourite{UserID: userID, Items: map[string]FavouriteItem{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error finding favourites: %v", err)
	}
	if fav.Items == nil {
		fav.Items = map[string]FavouriteItem{}
	}
	return &fav, nil
}
