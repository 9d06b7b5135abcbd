package models

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/joshua-takyi/gatherly/internal/identity"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type EventsRepo interface {
	CreateEvent(ctx context.Context, event *Event) (*Event, error)
	GetEventByID(ctx context.Context, id string) (*Event, error)
	UpdateEvent(ctx context.Context, id string, set map[string]interface{}, unset []string) (*Event, error)
	SoftDeleteEvent(ctx context.Context, id string) error
	Rsvp(ctx context.Context, eventID, userID string) (*Event, error)
	CancelRsvp(ctx context.Context, eventID, userID string) (*Event, error)
	SearchEvents(ctx context.Context, filter EventFilter, page, limit int) ([]*Event, int64, error)
	IncrementViews(ctx context.Context, id string) error
	EnsureEventIndexes(ctx context.Context) error
}

func parseEventID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: invalid event id %q", ErrNotFound, id)
	}
	return oid, nil
}

func (mdb *MongodbRepo) eventsCol(ctx context.Context) (*mongo.Collection, error) {
	return mdb.GetCollection(ctx, EventsDbName, EventsColName)
}

func (mdb *MongodbRepo) EnsureEventIndexes(ctx context.Context) error {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "is_deleted", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetName("deleted_date_idx"),
		},
		{
			Keys:    bson.D{{Key: "is_deleted", Value: 1}, {Key: "attending_count", Value: -1}},
			Options: options.Index().SetName("deleted_popularity_idx"),
		},
		{
			Keys:    bson.D{{Key: "owner", Value: 1}},
			Options: options.Index().SetName("owner_idx"),
		},
		{
			Keys:    bson.D{{Key: "rsvps", Value: 1}},
			Options: options.Index().SetName("rsvps_idx"),
		},
		{
			Keys:    bson.D{{Key: "category", Value: 1}},
			Options: options.Index().SetName("category_idx"),
		},
	}

	_, err = col.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("error creating event indexes: %v", err)
	}
	return nil
}

func (mdb *MongodbRepo) CreateEvent(ctx context.Context, event *Event) (*Event, error) {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	if event.Rsvps == nil {
		event.Rsvps = []identity.Ref{}
	}

	if _, err := col.InsertOne(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to insert event: %v", err)
	}
	return event, nil
}

func (mdb *MongodbRepo) GetEventByID(ctx context.Context, id string) (*Event, error) {
	oid, err := parseEventID(id)
	if err != nil {
		return nil, err
	}
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	var event Event
	err = col.FindOne(ctx, bson.M{"_id": oid, "is_deleted": false}).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %v", err)
	}
	return &event, nil
}

// UpdateEvent applies a partial update: fields present in set are
// written, field names in unset are cleared. Ownership is checked by
// the service before this is called; concurrent owner edits are
// last-writer-wins.
func (mdb *MongodbRepo) UpdateEvent(ctx context.Context, id string, set map[string]interface{}, unset []string) (*Event, error) {
	oid, err := parseEventID(id)
	if err != nil {
		return nil, err
	}
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	update := bson.M{}
	setDoc := bson.M{"updated_at": time.Now()}
	for k, v := range set {
		setDoc[k] = v
	}
	update["$set"] = setDoc
	if len(unset) > 0 {
		unsetDoc := bson.M{}
		for _, k := range unset {
			unsetDoc[k] = ""
		}
		update["$unset"] = unsetDoc
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated Event
	err = col.FindOneAndUpdate(ctx, bson.M{"_id": oid, "is_deleted": false}, update, opts).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %v", err)
	}
	return &updated, nil
}

// SoftDeleteEvent flags the event deleted. Deleting an event that is
// already soft-deleted reports ErrNotFound, same as a missing id, so
// the response does not reveal whether the id ever existed.
func (mdb *MongodbRepo) SoftDeleteEvent(ctx context.Context, id string) error {
	oid, err := parseEventID(id)
	if err != nil {
		return err
	}
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	now := time.Now()
	res, err := col.UpdateOne(ctx,
		bson.M{"_id": oid, "is_deleted": false},
		bson.M{"$set": bson.M{"is_deleted": true, "deleted_at": now, "updated_at": now}},
	)
	if err != nil {
		return fmt.Errorf("failed to delete event: %v", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	return nil
}

// Rsvp adds userID to the membership set with a single conditional
// update: the filter evaluates "not already a member AND current set
// size < capacity" inside MongoDB, so two concurrent joins against the
// last open slot cannot both match. A read-then-write sequence here
// would lose that race.
func (mdb *MongodbRepo) Rsvp(ctx context.Context, eventID, userID string) (*Event, error) {
	oid, err := parseEventID(eventID)
	if err != nil {
		return nil, err
	}
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	now := time.Now()
	filter := bson.M{
		"_id":        oid,
		"is_deleted": false,
		"rsvps":      bson.M{"$ne": userID},
		"$expr": bson.M{
			"$lt": bson.A{
				bson.M{"$size": bson.M{"$ifNull": bson.A{"$rsvps", bson.A{}}}},
				"$capacity",
			},
		},
	}
	update := bson.M{
		"$addToSet": bson.M{"rsvps": userID},
		"$inc":      bson.M{"attending_count": 1},
		"$set":      bson.M{"updated_at": now},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated Event
	err = col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to rsvp: %v", err)
	}

	// The guarded update matched nothing. Disambiguate: gone, already a
	// member (idempotent success), or genuinely full.
	current, getErr := mdb.GetEventByID(ctx, eventID)
	if getErr != nil {
		return nil, getErr
	}
	if current.IsMember(userID) {
		return current, nil
	}
	return nil, fmt.Errorf("%w: capacity %d reached", ErrCapacityExceeded, current.Capacity)
}

// CancelRsvp removes userID from the membership set. Cancelling a
// non-member is a no-op success.
func (mdb *MongodbRepo) CancelRsvp(ctx context.Context, eventID, userID string) (*Event, error) {
	oid, err := parseEventID(eventID)
	if err != nil {
		return nil, err
	}
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	filter := bson.M{
		"_id":        oid,
		"is_deleted": false,
		"rsvps":      userID,
	}
	update := bson.M{
		"$pull": bson.M{"rsvps": userID},
		"$inc":  bson.M{"attending_count": -1},
		"$set":  bson.M{"updated_at": time.Now()},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated Event
	err = col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to cancel rsvp: %v", err)
	}

	// Not a member (or no such event); GetEventByID sorts out which.
	return mdb.GetEventByID(ctx, eventID)
}

// IncrementViews bumps the view counter. Callers treat failure as
// non-fatal; a read must never fail because the counter write did.
func (mdb *MongodbRepo) IncrementViews(ctx context.Context, id string) error {
	oid, err := parseEventID(id)
	if err != nil {
		return err
	}
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}
	_, err = col.UpdateOne(ctx, bson.M{"_id": oid, "is_deleted": false}, bson.M{"$inc": bson.M{"views": 1}})
	return err
}

// buildEventQuery translates an EventFilter into a Mongo filter
// document. is_deleted:false is always present.
func buildEventQuery(filter EventFilter) bson.M {
	query := bson.M{"is_deleted": false}

	if filter.Query != "" {
		quoted := regexp.QuoteMeta(filter.Query)
		query["$or"] = bson.A{
			bson.M{"title": bson.M{"$regex": quoted, "$options": "i"}},
			bson.M{"description": bson.M{"$regex": quoted, "$options": "i"}},
		}
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.EventType != "" {
		query["event_type"] = filter.EventType
	}
	if filter.Location != "" {
		query["location"] = bson.M{"$regex": regexp.QuoteMeta(filter.Location), "$options": "i"}
	}
	if len(filter.Tags) > 0 {
		query["tags"] = bson.M{"$in": filter.Tags}
	}
	if filter.Owner != "" {
		query["owner"] = filter.Owner
	}
	if filter.Attendee != "" {
		query["rsvps"] = filter.Attendee
	}

	dateRange := bson.M{}
	if filter.DateFrom != nil {
		dateRange["$gte"] = *filter.DateFrom
	}
	if filter.DateTo != nil {
		dateRange["$lte"] = *filter.DateTo
	}
	if filter.DateFrom == nil && filter.DateTo == nil && filter.Owner == "" && filter.Attendee == "" {
		// Discovery defaults to upcoming events when no range is given.
		// Dashboard queries (by owner/attendee) see the full history.
		now := time.Now()
		dateRange["$gte"] = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	if len(dateRange) > 0 {
		query["date"] = dateRange
	}

	return query
}

func sortForEvents(sort EventSort) bson.D {
	switch sort {
	case SortByPopularity:
		return bson.D{{Key: "attending_count", Value: -1}, {Key: "date", Value: 1}}
	case SortByRating:
		return bson.D{{Key: "average_rating", Value: -1}, {Key: "review_count", Value: -1}}
	default:
		return bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}}
	}
}

func (mdb *MongodbRepo) SearchEvents(ctx context.Context, filter EventFilter, page, limit int) ([]*Event, int64, error) {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("error getting collection: %v", err)
	}

	query := buildEventQuery(filter)

	total, err := col.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %v", err)
	}

	opts := options.Find().
		SetSort(sortForEvents(filter.Sort)).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cursor, err := col.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find events: %v", err)
	}
	defer cursor.Close(ctx)

	events := []*Event{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, 0, fmt.Errorf("failed to decode events: %v", err)
	}

	return events, total, nil
}
