package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/joshua-takyi/gatherly/internal/cache"
	"github.com/joshua-takyi/gatherly/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeReviewsRepo struct {
	mu        sync.Mutex
	reviews   map[string]*models.Review
	summaries chan string // event ids whose summary was written back
	written   map[string]*models.RatingSummary
}

func newFakeReviewsRepo() *fakeReviewsRepo {
	return &fakeReviewsRepo{
		reviews:   map[string]*models.Review{},
		summaries: make(chan string, 8),
		written:   map[string]*models.RatingSummary{},
	}
}

func (f *fakeReviewsRepo) CreateReview(_ context.Context, review *models.Review) (*models.Review, error) {
	if err := review.ValidateReview(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if review.ID.IsZero() {
		review.ID = primitive.NewObjectID()
	}
	stored := *review
	f.reviews[review.ID.Hex()] = &stored
	return review, nil
}

func (f *fakeReviewsRepo) GetReviewByID(_ context.Context, id string) (*models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	review, ok := f.reviews[id]
	if !ok {
		return nil, fmt.Errorf("%w: review %s", models.ErrNotFound, id)
	}
	out := *review
	return &out, nil
}

func (f *fakeReviewsRepo) GetReviewsByEvent(_ context.Context, eventID string, page, limit int) ([]*models.Review, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Review{}
	for _, r := range f.reviews {
		if r.EventID == eventID {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeReviewsRepo) GetReviewsByUser(_ context.Context, userID string) ([]*models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Review{}
	for _, r := range f.reviews {
		if r.UserID == userID {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeReviewsRepo) UpdateReview(_ context.Context, id string, set map[string]interface{}) (*models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	review, ok := f.reviews[id]
	if !ok {
		return nil, fmt.Errorf("%w: review %s", models.ErrNotFound, id)
	}
	if rating, ok := set["rating"].(int); ok {
		review.Rating = rating
	}
	if comment, ok := set["comment"].(string); ok {
		review.Comment = comment
	}
	out := *review
	return &out, nil
}

func (f *fakeReviewsRepo) DeleteReview(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reviews[id]; !ok {
		return fmt.Errorf("%w: review %s", models.ErrNotFound, id)
	}
	delete(f.reviews, id)
	return nil
}

func (f *fakeReviewsRepo) SummarizeEventRating(_ context.Context, eventID string) (*models.RatingSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum, count int
	for _, r := range f.reviews {
		if r.EventID == eventID {
			sum += r.Rating
			count++
		}
	}
	if count == 0 {
		return &models.RatingSummary{}, nil
	}
	avg := math.Round(float64(sum)/float64(count)*10) / 10
	return &models.RatingSummary{AverageRating: avg, ReviewCount: count}, nil
}

func (f *fakeReviewsRepo) WriteRatingSummary(_ context.Context, eventID string, summary *models.RatingSummary) error {
	f.mu.Lock()
	f.written[eventID] = summary
	f.mu.Unlock()
	f.summaries <- eventID
	return nil
}

func newTestReviewService(t *testing.T) (*ReviewService, *fakeReviewsRepo, *fakeEventsRepo) {
	t.Helper()
	reviews := newFakeReviewsRepo()
	events := newFakeEventsRepo()
	mem := cache.NewMemory()
	t.Cleanup(mem.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReviewService(reviews, events, mem, logger), reviews, events
}

func seedEvent(t *testing.T, events *fakeEventsRepo) string {
	t.Helper()
	e := validEvent(10)
	created, err := events.CreateEvent(context.Background(), e)
	if err != nil {
		t.Fatal(err)
	}
	return created.ID.Hex()
}

func waitForSummary(t *testing.T, reviews *fakeReviewsRepo, eventID string) *models.RatingSummary {
	t.Helper()
	select {
	case got := <-reviews.summaries:
		if got != eventID {
			t.Fatalf("summary written for %q, want %q", got, eventID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rating summary was never written back")
	}
	reviews.mu.Lock()
	defer reviews.mu.Unlock()
	return reviews.written[eventID]
}

func TestCreateReviewRecomputesRating(t *testing.T) {
	svc, reviews, events := newTestReviewService(t)
	eventID := seedEvent(t, events)

	_, err := svc.CreateReview(context.Background(), &models.Review{EventID: eventID, Rating: 4}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if summary := waitForSummary(t, reviews, eventID); summary.AverageRating != 4 || summary.ReviewCount != 1 {
		t.Errorf("summary = %+v, want avg 4 count 1", summary)
	}

	_, err = svc.CreateReview(context.Background(), &models.Review{EventID: eventID, Rating: 5}, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if summary := waitForSummary(t, reviews, eventID); summary.AverageRating != 4.5 || summary.ReviewCount != 2 {
		t.Errorf("summary = %+v, want avg 4.5 count 2", summary)
	}
}

func TestCreateReviewRequiresLiveEvent(t *testing.T) {
	svc, _, _ := newTestReviewService(t)
	_, err := svc.CreateReview(context.Background(), &models.Review{
		EventID: primitive.NewObjectID().Hex(),
		Rating:  4,
	}, "alice")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("review of a missing event = %v, want ErrNotFound", err)
	}
}

func TestUpdateReviewAuthorOnly(t *testing.T) {
	svc, reviews, events := newTestReviewService(t)
	eventID := seedEvent(t, events)

	created, err := svc.CreateReview(context.Background(), &models.Review{EventID: eventID, Rating: 3}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	waitForSummary(t, reviews, eventID)

	_, err = svc.UpdateReview(context.Background(), created.ID.Hex(), "mallory", 1, "terrible")
	if !errors.Is(err, models.ErrForbidden) {
		t.Errorf("edit by non-author = %v, want ErrForbidden", err)
	}

	_, err = svc.UpdateReview(context.Background(), created.ID.Hex(), "alice", 6, "great")
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("rating 6 = %v, want ErrValidation", err)
	}

	updated, err := svc.UpdateReview(context.Background(), created.ID.Hex(), "alice", 5, "great")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Rating != 5 {
		t.Errorf("Rating = %d, want 5", updated.Rating)
	}
	if summary := waitForSummary(t, reviews, eventID); summary.AverageRating != 5 {
		t.Errorf("summary after edit = %+v, want avg 5", summary)
	}
}

func TestDeleteReviewAuthorOnly(t *testing.T) {
	svc, reviews, events := newTestReviewService(t)
	eventID := seedEvent(t, events)

	created, err := svc.CreateReview(context.Background(), &models.Review{EventID: eventID, Rating: 3}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	waitForSummary(t, reviews, eventID)

	if err := svc.DeleteReview(context.Background(), created.ID.Hex(), "mallory"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("delete by non-author = %v, want ErrForbidden", err)
	}
	if err := svc.DeleteReview(context.Background(), created.ID.Hex(), "alice"); err != nil {
		t.Fatal(err)
	}
	if summary := waitForSummary(t, reviews, eventID); summary.ReviewCount != 0 {
		t.Errorf("summary after delete = %+v, want count 0", summary)
	}
}
