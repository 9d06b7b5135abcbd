package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshua-takyi/gatherly/internal/cache"
	"github.com/joshua-takyi/gatherly/internal/helpers"
	"github.com/joshua-takyi/gatherly/internal/identity"
	"github.com/joshua-takyi/gatherly/internal/models"
)

// ReviewService owns reviews and is the sole writer of the event's two
// derived rating fields. The recompute runs after the primary write
// commits; if it fails, the review still stands and the aggregate
// catches up on the next review mutation.
type ReviewService struct {
	reviewsRepo models.ReviewsRepo
	eventsRepo  models.EventsRepo
	cache       cache.Cache
	logger      *slog.Logger
}

func NewReviewService(reviewsRepo models.ReviewsRepo, eventsRepo models.EventsRepo, c cache.Cache, logger *slog.Logger) *ReviewService {
	return &ReviewService{
		reviewsRepo: reviewsRepo,
		eventsRepo:  eventsRepo,
		cache:       c,
		logger:      logger,
	}
}

func (rs *ReviewService) CreateReview(ctx context.Context, review *models.Review, userID string) (*models.Review, error) {
	userID = identity.Canonicalize(userID)
	if userID == "" {
		return nil, models.ErrUnauthenticated
	}
	review.UserID = userID
	review.EventID = helpers.StringTrim(review.EventID)
	review.Sanitize()

	// The event must exist, but soft-deleted events still accept the
	// lookup failure as NotFound; reviews never resurrect an event.
	if _, err := rs.eventsRepo.GetEventByID(ctx, review.EventID); err != nil {
		return nil, err
	}

	now := time.Now()
	review.CreatedAt = now
	review.UpdatedAt = now

	created, err := rs.reviewsRepo.CreateReview(ctx, review)
	if err != nil {
		return nil, err
	}

	rs.recomputeRating(review.EventID)
	return created, nil
}

func (rs *ReviewService) UpdateReview(ctx context.Context, reviewID, userID string, rating int, comment string) (*models.Review, error) {
	userID = identity.Canonicalize(userID)
	if userID == "" {
		return nil, models.ErrUnauthenticated
	}

	current, err := rs.reviewsRepo.GetReviewByID(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID {
		return nil, fmt.Errorf("%w: only the author may edit a review", models.ErrForbidden)
	}
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", models.ErrValidation)
	}

	updated, err := rs.reviewsRepo.UpdateReview(ctx, reviewID, map[string]interface{}{
		"rating":     rating,
		"comment":    comment,
		"updated_at": time.Now(),
	})
	if err != nil {
		return nil, err
	}

	rs.recomputeRating(current.EventID)
	return updated, nil
}

func (rs *ReviewService) DeleteReview(ctx context.Context, reviewID, userID string) error {
	userID = identity.Canonicalize(userID)
	if userID == "" {
		return models.ErrUnauthenticated
	}

	current, err := rs.reviewsRepo.GetReviewByID(ctx, reviewID)
	if err != nil {
		return err
	}
	if current.UserID != userID {
		return fmt.Errorf("%w: only the author may delete a review", models.ErrForbidden)
	}

	if err := rs.reviewsRepo.DeleteReview(ctx, reviewID); err != nil {
		return err
	}

	rs.recomputeRating(current.EventID)
	return nil
}

func (rs *ReviewService) ListByEvent(ctx context.Context, eventID string, page, limit int) ([]*models.Review, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return rs.reviewsRepo.GetReviewsByEvent(ctx, helpers.StringTrim(eventID), page, limit)
}

func (rs *ReviewService) ListByUser(ctx context.Context, userID string) ([]*models.Review, error) {
	userID = identity.Canonicalize(userID)
	if userID == "" {
		return nil, models.ErrUnauthenticated
	}
	return rs.reviewsRepo.GetReviewsByUser(ctx, userID)
}

// recomputeRating refreshes average_rating/review_count on the owning
// event. Runs detached so the review mutation's latency and outcome do
// not depend on the write-back.
func (rs *ReviewService) recomputeRating(eventID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		summary, err := rs.reviewsRepo.SummarizeEventRating(ctx, eventID)
		if err != nil {
			rs.logger.Warn("rating summary failed", "event_id", eventID, "error", err)
			return
		}
		if err := rs.reviewsRepo.WriteRatingSummary(ctx, eventID, summary); err != nil {
			rs.logger.Warn("rating write-back failed", "event_id", eventID, "error", err)
			return
		}
		if err := rs.cache.Delete(ctx, cache.EventKey(eventID)); err != nil {
			rs.logger.Warn("event cache invalidation failed", "event_id", eventID, "error", err)
		}
	}()
}
