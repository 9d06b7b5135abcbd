package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/joshua-takyi/gatherly/internal/cache"
	"github.com/joshua-takyi/gatherly/internal/helpers"
	"github.com/joshua-takyi/gatherly/internal/identity"
	"github.com/joshua-takyi/gatherly/internal/models"
)

// EventService enforces the Event aggregate's invariants for every
// write path and answers capacity/membership queries. Capacity is
// never checked in application code before a write; the repository's
// conditional update is the single arbiter (two concurrent joins for
// the last slot resolve in the store, not here).
type EventService struct {
	eventsRepo models.EventsRepo
	viewsRepo  models.EventViewsRepo
	cache      cache.Cache
	cacheTTL   time.Duration
	cld        *cloudinary.Cloudinary
	logger     *slog.Logger
}

func NewEventService(eventsRepo models.EventsRepo, viewsRepo models.EventViewsRepo, c cache.Cache, cacheTTL time.Duration, cld *cloudinary.Cloudinary, logger *slog.Logger) *EventService {
	return &EventService{
		eventsRepo: eventsRepo,
		viewsRepo:  viewsRepo,
		cache:      c,
		cacheTTL:   cacheTTL,
		cld:        cld,
		logger:     logger,
	}
}

func (es *EventService) CreateEvent(ctx context.Context, event *models.Event, ownerID string) (*models.Event, error) {
	ownerID = identity.Canonicalize(ownerID)
	if ownerID == "" {
		return nil, models.ErrUnauthenticated
	}

	if err := models.Validate.Struct(event); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if err := event.ValidateCategory(); err != nil {
		return nil, err
	}
	if err := event.ValidateLocality(); err != nil {
		return nil, err
	}

	now := time.Now()
	event.Slug = helpers.GenerateSlug(event.Title)
	event.Owner = identity.NewRef(ownerID)
	event.Rsvps = []identity.Ref{}
	event.AttendingCount = 0
	event.AverageRating = 0
	event.ReviewCount = 0
	event.Views = 0
	event.IsDeleted = false
	event.Tags = helpers.RemoveDuplicates(event.Tags)
	event.CreatedAt = now
	event.UpdatedAt = now

	// A poster supplied as a data URI or local path goes to Cloudinary
	// first; the stored event only ever carries the hosted URL.
	if event.ImageURL != "" && !strings.HasPrefix(event.ImageURL, "https://") {
		uploaded, publicIDs, err := es.uploadPoster(ctx, event.ImageURL)
		if err != nil {
			return nil, fmt.Errorf("%w: poster upload failed: %v", models.ErrValidation, err)
		}
		event.ImageURL = uploaded

		created, err := es.eventsRepo.CreateEvent(ctx, event)
		if err != nil {
			helpers.DeleteImages(ctx, es.cld, publicIDs)
			return nil, err
		}
		es.invalidateLists(ctx)
		return created, nil
	}

	created, err := es.eventsRepo.CreateEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	es.invalidateLists(ctx)
	return created, nil
}

func (es *EventService) uploadPoster(ctx context.Context, image string) (string, []string, error) {
	if es.cld == nil {
		return "", nil, fmt.Errorf("image uploads are not configured")
	}

	type uploadResult struct {
		urls      []string
		publicIDs []string
	}
	resultChan := make(chan uploadResult, 1)
	errorChan := make(chan error, 1)

	go func() {
		urls, publicIDs, err := helpers.UploadImages(ctx, es.cld, []string{image}, helpers.EventsFolder)
		if err != nil {
			errorChan <- err
			return
		}
		resultChan <- uploadResult{urls, publicIDs}
	}()

	select {
	case result := <-resultChan:
		if len(result.urls) == 0 {
			return "", nil, fmt.Errorf("no image was uploaded")
		}
		return result.urls[0], result.publicIDs, nil
	case err := <-errorChan:
		return "", nil, err
	case <-time.After(30 * time.Second):
		return "", nil, fmt.Errorf("image upload timeout")
	}
}

// GetEvent returns a live event and records the view as a side effect.
// The view write is best-effort and detached from the request: its
// failure never fails the read.
func (es *EventService) GetEvent(ctx context.Context, id string, viewer *models.EventView) (*models.Event, error) {
	id = helpers.StringTrim(id)

	if cached, err := es.cache.Get(ctx, cache.EventKey(id)); err == nil {
		var event models.Event
		if err := json.Unmarshal(cached, &event); err == nil {
			es.trackView(&event, viewer)
			return &event, nil
		}
	}

	event, err := es.eventsRepo.GetEventByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(event); err == nil {
		if err := es.cache.Set(ctx, cache.EventKey(id), data, es.cacheTTL); err != nil {
			es.logger.Warn("event cache set failed", "event_id", id, "error", err)
		}
	}

	es.trackView(event, viewer)
	return event, nil
}

func (es *EventService) trackView(event *models.Event, viewer *models.EventView) {
	if viewer == nil || viewer.SessionID == "" {
		return
	}
	viewer.EventID = event.ID.Hex()
	viewer.OwnerID = event.Owner.Canonical()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := es.eventsRepo.IncrementViews(ctx, viewer.EventID); err != nil {
			es.logger.Warn("view counter increment failed", "event_id", viewer.EventID, "error", err)
		}
		if err := es.viewsRepo.TrackEventView(ctx, viewer); err != nil {
			es.logger.Warn("view tracking failed", "event_id", viewer.EventID, "error", err)
		}
	}()
}

// EventPatch carries a partial update. Pointer fields distinguish
// "absent, leave untouched" from "present, set to this value"; Clear
// names the optional fields an explicit null should unset.
type EventPatch struct {
	Title       *string               `json:"title,omitempty"`
	Description *string               `json:"description,omitempty"`
	Category    *string               `json:"category,omitempty"`
	Tags        *[]string             `json:"tags,omitempty"`
	Date        *time.Time            `json:"date,omitempty"`
	StartTime   *string               `json:"start_time,omitempty"`
	EventType   *models.EventType     `json:"event_type,omitempty"`
	Location    *string               `json:"location,omitempty"`
	Online      *models.OnlineDetails `json:"online,omitempty"`
	Capacity    *int                  `json:"capacity,omitempty"`
	ImageURL    *string               `json:"image_url,omitempty"`
	Clear       []string              `json:"clear,omitempty"`
}

var clearableFields = map[string]string{
	"tags":       "tags",
	"start_time": "start_time",
	"image_url":  "image_url",
	"online":     "online",
	"location":   "location",
}

// UpdateEvent applies a partial, owner-only edit. Cross-field locality
// rules are re-validated against the merged result, not just the patch.
func (es *EventService) UpdateEvent(ctx context.Context, id, requesterID string, patch *EventPatch) (*models.Event, error) {
	requesterID = identity.Canonicalize(requesterID)
	if requesterID == "" {
		return nil, models.ErrUnauthenticated
	}

	current, err := es.eventsRepo.GetEventByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsOwner(requesterID) {
		return nil, fmt.Errorf("%w: only the owner may edit an event", models.ErrForbidden)
	}

	merged := *current
	set := map[string]interface{}{}
	var unset []string

	if patch.Title != nil {
		merged.Title = *patch.Title
		set["title"] = *patch.Title
		// The slug follows the title so shared links stay readable.
		merged.Slug = helpers.GenerateSlug(*patch.Title)
		set["slug"] = merged.Slug
	}
	if patch.Description != nil {
		merged.Description = *patch.Description
		set["description"] = *patch.Description
	}
	if patch.Category != nil {
		merged.Category = *patch.Category
		set["category"] = *patch.Category
	}
	if patch.Tags != nil {
		tags := helpers.RemoveDuplicates(*patch.Tags)
		merged.Tags = tags
		set["tags"] = tags
	}
	if patch.Date != nil {
		merged.Date = *patch.Date
		set["date"] = *patch.Date
	}
	if patch.StartTime != nil {
		merged.StartTime = *patch.StartTime
		set["start_time"] = *patch.StartTime
	}
	if patch.EventType != nil {
		merged.EventType = *patch.EventType
		set["event_type"] = *patch.EventType
	}
	if patch.Location != nil {
		merged.Location = *patch.Location
		set["location"] = *patch.Location
	}
	if patch.Online != nil {
		merged.Online = patch.Online
		set["online"] = patch.Online
	}
	if patch.Capacity != nil {
		if *patch.Capacity <= 0 {
			return nil, fmt.Errorf("%w: capacity must be positive", models.ErrValidation)
		}
		// Shrinking below the current membership would break the
		// capacity invariant retroactively.
		if *patch.Capacity < len(current.Rsvps) {
			return nil, fmt.Errorf("%w: capacity %d is below current attendance %d", models.ErrValidation, *patch.Capacity, len(current.Rsvps))
		}
		merged.Capacity = *patch.Capacity
		set["capacity"] = *patch.Capacity
	}
	if patch.ImageURL != nil {
		merged.ImageURL = *patch.ImageURL
		set["image_url"] = *patch.ImageURL
	}

	for _, field := range patch.Clear {
		col, ok := clearableFields[field]
		if !ok {
			return nil, fmt.Errorf("%w: field %q cannot be cleared", models.ErrValidation, field)
		}
		unset = append(unset, col)
		switch col {
		case "tags":
			merged.Tags = nil
		case "start_time":
			merged.StartTime = ""
		case "image_url":
			merged.ImageURL = ""
		case "online":
			merged.Online = nil
		case "location":
			merged.Location = ""
		}
	}

	if len(set) == 0 && len(unset) == 0 {
		return current, nil
	}

	if err := merged.ValidateCategory(); err != nil {
		return nil, err
	}
	if err := merged.ValidateLocality(); err != nil {
		return nil, err
	}

	updated, err := es.eventsRepo.UpdateEvent(ctx, id, set, unset)
	if err != nil {
		return nil, err
	}
	es.invalidateEvent(ctx, id)
	return updated, nil
}

func (es *EventService) DeleteEvent(ctx context.Context, id, requesterID string) error {
	requesterID = identity.Canonicalize(requesterID)
	if requesterID == "" {
		return models.ErrUnauthenticated
	}

	current, err := es.eventsRepo.GetEventByID(ctx, id)
	if err != nil {
		return err
	}
	if !current.IsOwner(requesterID) {
		return fmt.Errorf("%w: only the owner may delete an event", models.ErrForbidden)
	}

	if err := es.eventsRepo.SoftDeleteEvent(ctx, id); err != nil {
		return err
	}
	es.invalidateEvent(ctx, id)
	return nil
}

// Rsvp joins the requester to the event. Joining twice is a success,
// not an error, so client retries stay simple.
func (es *EventService) Rsvp(ctx context.Context, eventID, requesterID string) (*models.Event, error) {
	requesterID = identity.Canonicalize(requesterID)
	if requesterID == "" {
		return nil, models.ErrUnauthenticated
	}

	event, err := es.eventsRepo.Rsvp(ctx, helpers.StringTrim(eventID), requesterID)
	if err != nil {
		return nil, err
	}
	es.invalidateEvent(ctx, eventID)
	return event, nil
}

// CancelRsvp removes the requester from the event. Cancelling when not
// a member is a no-op success.
func (es *EventService) CancelRsvp(ctx context.Context, eventID, requesterID string) (*models.Event, error) {
	requesterID = identity.Canonicalize(requesterID)
	if requesterID == "" {
		return nil, models.ErrUnauthenticated
	}

	event, err := es.eventsRepo.CancelRsvp(ctx, helpers.StringTrim(eventID), requesterID)
	if err != nil {
		return nil, err
	}
	es.invalidateEvent(ctx, eventID)
	return event, nil
}

func (es *EventService) SearchEvents(ctx context.Context, filter models.EventFilter, page, limit int) ([]*models.Event, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	key := cache.EventListKey(fingerprintFilter(filter, page, limit))
	if cached, err := es.cache.Get(ctx, key); err == nil {
		var payload struct {
			Events []*models.Event `json:"events"`
			Total  int64           `json:"total"`
		}
		if err := json.Unmarshal(cached, &payload); err == nil {
			return payload.Events, payload.Total, nil
		}
	}

	events, total, err := es.eventsRepo.SearchEvents(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, err
	}

	payload := struct {
		Events []*models.Event `json:"events"`
		Total  int64           `json:"total"`
	}{events, total}
	if data, err := json.Marshal(payload); err == nil {
		if err := es.cache.Set(ctx, key, data, es.cacheTTL); err != nil {
			es.logger.Warn("event list cache set failed", "error", err)
		}
	}

	return events, total, nil
}

func (es *EventService) ListByOwner(ctx context.Context, ownerID string, page, limit int) ([]*models.Event, int64, error) {
	ownerID = identity.Canonicalize(ownerID)
	if ownerID == "" {
		return nil, 0, models.ErrUnauthenticated
	}
	return es.eventsRepo.SearchEvents(ctx, models.EventFilter{Owner: ownerID}, page, limit)
}

func (es *EventService) ListAttending(ctx context.Context, userID string, page, limit int) ([]*models.Event, int64, error) {
	userID = identity.Canonicalize(userID)
	if userID == "" {
		return nil, 0, models.ErrUnauthenticated
	}
	return es.eventsRepo.SearchEvents(ctx, models.EventFilter{Attendee: userID}, page, limit)
}

// ViewStats is owner-only: it exposes per-session analytics.
func (es *EventService) ViewStats(ctx context.Context, eventID, requesterID string) (*models.EventViewStats, error) {
	requesterID = identity.Canonicalize(requesterID)
	if requesterID == "" {
		return nil, models.ErrUnauthenticated
	}

	event, err := es.eventsRepo.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.IsOwner(requesterID) {
		return nil, fmt.Errorf("%w: only the owner may read view stats", models.ErrForbidden)
	}

	return es.viewsRepo.GetEventViewStats(ctx, event.ID.Hex())
}

func (es *EventService) invalidateEvent(ctx context.Context, id string) {
	if err := es.cache.Delete(ctx, cache.EventKey(helpers.StringTrim(id))); err != nil {
		es.logger.Warn("event cache invalidation failed", "event_id", id, "error", err)
	}
	es.invalidateLists(ctx)
}

func (es *EventService) invalidateLists(ctx context.Context) {
	if err := es.cache.DeletePattern(ctx, cache.EventListKeyPrefix); err != nil {
		es.logger.Warn("event list cache invalidation failed", "error", err)
	}
}

func fingerprintFilter(filter models.EventFilter, page, limit int) string {
	raw, _ := json.Marshal(struct {
		Filter models.EventFilter
		Page   int
		Limit  int
	}{filter, page, limit})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}
