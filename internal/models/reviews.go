package models

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ReviewsDbName  = "gatherly"
	ReviewsColName = "event_reviews"
)

type Review struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EventID   string             `bson:"event_id" json:"event_id" validate:"required"`
	UserID    string             `bson:"user_id" json:"user_id" validate:"required"`
	Rating    int                `bson:"rating" json:"rating" validate:"required,min=1,max=5"`
	Comment   string             `bson:"comment,omitempty" json:"comment,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

func (r *Review) BeforeCreate() error {
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	return nil
}

func (r *Review) ValidateReview() error {
	if r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}
	if r.EventID == "" {
		return fmt.Errorf("%w: missing event id", ErrValidation)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrValidation)
	}
	return nil
}

func (r *Review) Sanitize() {
	r.Comment = strings.TrimSpace(r.Comment)
	if r.Rating < 1 {
		r.Rating = 1
	} else if r.Rating > 5 {
		r.Rating = 5
	}
}

// RatingSummary is the aggregate the review writer computes and writes
// back onto the owning event. Only these two derived fields are ever
// touched by the review path.
type RatingSummary struct {
	AverageRating float64 `bson:"average_rating"`
	ReviewCount   int     `bson:"review_count"`
}
